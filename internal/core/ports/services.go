package ports

import (
	"context"

	"relaylink/internal/core/domain"
)

// PublishRequest describes what to publish. Source wins over Constraints;
// with neither set, audio and video are requested.
type PublishRequest struct {
	Source       domain.MediaSource
	Constraints  *domain.MediaConstraints
	OnAudioLevel func(domain.AudioLevel)
}

// SessionService is the host-facing surface of the orchestrator.
type SessionService interface {
	Connect(ctx context.Context, auth domain.AuthParams, opts domain.ConnectOptions) error
	Publish(ctx context.Context, req PublishRequest) (*domain.RtcStream, error)
	Unpublish(ctx context.Context, streamIDs ...domain.StreamID) error
	SendMessage(message string, from ...domain.StreamID) error
	SetMicEnabled(enabled bool, streamIDs ...domain.StreamID)
	SetCameraEnabled(enabled bool, streamIDs ...domain.StreamID)
	LocalStreams() []domain.StreamInfo
	RemoteStreams() []domain.StreamInfo
	Disconnect() error
}
