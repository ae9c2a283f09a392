package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"relaylink/internal/core/domain"
	"relaylink/internal/core/ports"

	"go.uber.org/zap"
)

const defaultChannelLabel = "default"

// OrchestratorConfig tunes the session orchestrator.
type OrchestratorConfig struct {
	Detector DetectorConfig
	// WorkflowTimeout bounds relay-initiated workflows (subscribe, republish) and
	// candidate forwarding, which have no caller context.
	WorkflowTimeout time.Duration
}

func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Detector:        DefaultDetectorConfig(),
		WorkflowTimeout: 30 * time.Second,
	}
}

// SessionOrchestrator drives the lifecycle of every stream a participant publishes
// or receives through the media relay.
type SessionOrchestrator struct {
	signaling ports.SignalingClient
	factory   ports.PeerConnectionFactory
	acquirer  ports.MediaAcquirer
	metrics   ports.SessionMetrics
	logger    *zap.SugaredLogger
	cfg       OrchestratorConfig

	registry *StreamRegistry
	queue    *CandidateQueue
	notifier *Notifier

	// routeMu makes candidate check-and-enqueue atomic with drain-and-activate.
	routeMu sync.Mutex

	baseCtx   context.Context
	cancel    context.CancelFunc
	removed   atomic.Bool
	workflows sync.WaitGroup
}

var _ ports.SessionService = (*SessionOrchestrator)(nil)

func NewSessionOrchestrator(
	signaling ports.SignalingClient,
	factory ports.PeerConnectionFactory,
	acquirer ports.MediaAcquirer,
	metrics ports.SessionMetrics,
	logger *zap.SugaredLogger,
	cfg OrchestratorConfig,
) *SessionOrchestrator {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.WorkflowTimeout <= 0 {
		cfg.WorkflowTimeout = DefaultOrchestratorConfig().WorkflowTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &SessionOrchestrator{
		signaling: signaling,
		factory:   factory,
		acquirer:  acquirer,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		registry:  NewStreamRegistry(),
		queue:     NewCandidateQueue(),
		notifier:  NewNotifier(),
		baseCtx:   ctx,
		cancel:    cancel,
	}
	signaling.OnEvent(o.handleSignal)
	return o
}

// Notifier returns the dispatch table host observers register on.
func (o *SessionOrchestrator) Notifier() *Notifier {
	return o.notifier
}

// Removed reports whether the relay has ended this session.
func (o *SessionOrchestrator) Removed() bool {
	return o.removed.Load()
}

func (o *SessionOrchestrator) Connect(ctx context.Context, auth domain.AuthParams, opts domain.ConnectOptions) error {
	if o.removed.Load() {
		return domain.ErrSessionRemoved
	}
	if err := o.signaling.Connect(ctx, auth, opts); err != nil {
		return err
	}
	o.logger.Infow("session connected", "websocket_url", opts.WebsocketURL)
	return nil
}

// Disconnect closes signaling and releases every stream without notifying observers.
func (o *SessionOrchestrator) Disconnect() error {
	o.releaseAll()
	err := o.signaling.Disconnect()
	if err != nil && !errors.Is(err, domain.ErrNotConnected) {
		return err
	}
	o.logger.Info("session disconnected")
	return nil
}

// SendMessage sends message on the data channel of the first given local stream,
// or of the oldest local stream when none is given. Without a channel it does nothing.
func (o *SessionOrchestrator) SendMessage(message string, from ...domain.StreamID) error {
	var entry *StreamEntry
	if len(from) > 0 && from[0] != "" {
		entry = o.registry.Local(from[0])
	} else if entries := o.registry.Entries(domain.DirectionLocal); len(entries) > 0 {
		entry = entries[0]
	}

	if entry == nil || entry.Channel == nil {
		o.logger.Debugw("no data channel to send on", "stream_ids", from)
		return nil
	}
	return entry.Channel.Send(message)
}

func (o *SessionOrchestrator) SetMicEnabled(enabled bool, streamIDs ...domain.StreamID) {
	o.setTracksEnabled(domain.TrackKindAudio, enabled, streamIDs)
}

func (o *SessionOrchestrator) SetCameraEnabled(enabled bool, streamIDs ...domain.StreamID) {
	o.setTracksEnabled(domain.TrackKindVideo, enabled, streamIDs)
}

func (o *SessionOrchestrator) setTracksEnabled(kind domain.TrackKind, enabled bool, streamIDs []domain.StreamID) {
	var entries []*StreamEntry
	if len(streamIDs) == 0 {
		entries = o.registry.Entries(domain.DirectionLocal)
	} else {
		for _, id := range streamIDs {
			if entry := o.registry.Local(id); entry != nil {
				entries = append(entries, entry)
			}
		}
	}

	for _, entry := range entries {
		for _, track := range domain.TracksOfKind(entry.Source, kind) {
			track.SetEnabled(enabled)
		}
	}
}

func (o *SessionOrchestrator) LocalStreams() []domain.StreamInfo {
	return infos(o.registry.Entries(domain.DirectionLocal))
}

func (o *SessionOrchestrator) RemoteStreams() []domain.StreamInfo {
	return infos(o.registry.Entries(domain.DirectionRemote))
}

func infos(entries []*StreamEntry) []domain.StreamInfo {
	out := make([]domain.StreamInfo, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Info())
	}
	return out
}

// goWorkflow runs a relay-initiated workflow in the background. Nobody awaits
// its result, so failures end up in the log and the metrics.
func (o *SessionOrchestrator) goWorkflow(name string, streamID domain.StreamID, run func(ctx context.Context) error) {
	o.workflows.Add(1)
	go func() {
		defer o.workflows.Done()

		ctx, cancel := context.WithTimeout(o.baseCtx, o.cfg.WorkflowTimeout)
		defer cancel()

		if err := run(ctx); err != nil {
			o.metrics.RecordWorkflowFailure(name, failureReason(err))
			o.logger.Errorw("workflow failed",
				"workflow", name,
				"stream_id", streamID,
				"error", err,
			)
		}
	}()
}

func failureReason(err error) string {
	var rejected *domain.SdpOfferRejectedError
	switch {
	case errors.Is(err, domain.ErrMissingSDP):
		return "missing_sdp"
	case errors.As(err, &rejected):
		return "sdp_rejected"
	case errors.Is(err, domain.ErrSessionRemoved):
		return "removed"
	case errors.Is(err, domain.ErrNotConnected):
		return "not_connected"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
