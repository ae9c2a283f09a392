package ports

import (
	"context"

	"relaylink/internal/core/domain"
)

// SignalingClient is the JSON-RPC channel to the media relay.
type SignalingClient interface {
	Connect(ctx context.Context, auth domain.AuthParams, opts domain.ConnectOptions) error
	Publish(ctx context.Context, sdpOffer string) (*domain.PublishResponse, error)
	Unpublish(ctx context.Context, streamID domain.StreamID) error
	Subscribe(ctx context.Context, streamID domain.StreamID, sdpOffer string) (*domain.SubscribeResponse, error)
	SendIceCandidate(ctx context.Context, streamID domain.StreamID, candidate domain.Candidate, role domain.CandidateRole) error
	Disconnect() error
	// OnEvent registers the single receiver of inbound signaling events.
	// Events are delivered one at a time, in arrival order.
	OnEvent(handler func(domain.SignalEvent))
}
