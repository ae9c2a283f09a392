package services

import (
	"context"
	"fmt"
	"strings"

	"relaylink/internal/core/domain"
	"relaylink/internal/core/ports"
	"relaylink/pkg/tracing"

	"github.com/pion/webrtc/v3"
)

type publishInput struct {
	source       domain.MediaSource
	constraints  domain.MediaConstraints
	ownsSource   bool
	onAudioLevel func(domain.AudioLevel)
}

// Publish sends local media to the relay and returns the new stream.
func (o *SessionOrchestrator) Publish(ctx context.Context, req ports.PublishRequest) (*domain.RtcStream, error) {
	if o.removed.Load() {
		return nil, domain.ErrSessionRemoved
	}

	ctx, span := tracing.TraceSession(ctx, "publish", "")
	defer span.End()

	in := publishInput{source: req.Source, onAudioLevel: req.OnAudioLevel}
	switch {
	case req.Source != nil:
		in.constraints = domain.ConstraintsOf(req.Source)
	case req.Constraints != nil:
		in.constraints = *req.Constraints
	default:
		in.constraints = domain.DefaultConstraints()
	}

	stream, err := o.publish(ctx, in)
	if err != nil {
		tracing.RecordError(ctx, err)
		o.metrics.RecordWorkflowFailure("publish", failureReason(err))
		return nil, err
	}
	tracing.AddSpanAttributes(ctx,
		tracing.StreamIDKey.String(string(stream.StreamID)),
		tracing.MediaKindKey.String(string(stream.MediaKind)),
	)
	return stream, nil
}

func (o *SessionOrchestrator) publish(ctx context.Context, in publishInput) (*domain.RtcStream, error) {
	if in.source == nil {
		source, err := o.acquirer.Acquire(ctx, in.constraints)
		if err != nil {
			return nil, fmt.Errorf("acquire local media: %w", err)
		}
		in.source = source
		in.ownsSource = true
	}
	kind := in.constraints.MediaKind()

	pc, err := o.factory.NewPeerConnection()
	if err != nil {
		if in.ownsSource {
			stopTracks(in.source)
		}
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	entry := &StreamEntry{
		Direction:    domain.DirectionLocal,
		MediaKind:    kind,
		PC:           pc,
		Source:       in.source,
		ownsSource:   in.ownsSource,
		onAudioLevel: in.onAudioLevel,
	}
	handle := o.registry.Begin(entry)

	fail := func(err error) (*domain.RtcStream, error) {
		o.registry.Abort(handle)
		o.release(entry, entry.ownsSource)
		return nil, err
	}

	for _, track := range in.source.Tracks() {
		if err := pc.AddTrack(track, in.source); err != nil {
			return fail(fmt.Errorf("attach %s track %s: %w", track.Kind(), track.ID(), err))
		}
	}

	channel, err := pc.CreateDataChannel(defaultChannelLabel)
	if err != nil {
		return fail(fmt.Errorf("create data channel: %w", err))
	}
	entry.Channel = channel

	if in.onAudioLevel != nil {
		o.attachDetector(entry, in.onAudioLevel)
	}

	offer, err := pc.CreateOffer(ports.OfferOptions{})
	if err != nil {
		return fail(fmt.Errorf("create offer: %w", err))
	}
	if offer.SDP == "" {
		return fail(domain.ErrMissingSDP)
	}
	if err := entry.Negotiation.OfferSent(); err != nil {
		return fail(err)
	}

	resp, err := o.signaling.Publish(ctx, offer.SDP)
	if err != nil {
		return fail(offerRejected("publish offer", err))
	}
	if _, err := o.registry.Confirm(handle, resp.StreamID); err != nil {
		return fail(err)
	}
	streamID := resp.StreamID

	pc.OnICECandidate(func(c domain.Candidate) {
		o.forwardCandidate(streamID, c, domain.CandidateRolePublish)
	})
	pc.OnConnectionStateChange(o.logConnectionState(streamID, domain.DirectionLocal))

	if err := pc.SetLocalDescription(offer); err != nil {
		return fail(offerRejected("apply local description", err))
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: resp.SDPAnswer}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fail(offerRejected("apply remote description", err))
	}
	if err := entry.Negotiation.AnswerApplied(); err != nil {
		return fail(err)
	}
	if err := o.activate(entry); err != nil {
		return fail(err)
	}

	// The relay may have removed the session while the offer was in flight.
	if o.removed.Load() {
		if o.registry.Remove(domain.DirectionLocal, streamID) != nil {
			o.release(entry, true)
		}
		return nil, domain.ErrSessionRemoved
	}

	o.metrics.RecordStreamOpened(domain.DirectionLocal, kind)
	o.logger.Infow("stream published",
		"stream_id", streamID,
		"media_kind", kind,
		"tracks", len(in.source.Tracks()),
	)

	return &domain.RtcStream{
		StreamID:  streamID,
		MediaKind: kind,
		Source:    in.source,
	}, nil
}

// offerRejected marks failures attributed to the session description. Only the
// failure's own message is inspected; any other failure is wrapped with op.
func offerRejected(op string, err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "sdp") {
		return &domain.SdpOfferRejectedError{Message: err.Error(), Cause: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (o *SessionOrchestrator) attachDetector(entry *StreamEntry, onLevel func(domain.AudioLevel)) {
	analysable, ok := entry.Source.(ports.AnalysableSource)
	if !ok || analysable.AudioAnalyser() == nil {
		o.logger.Warnw("source has no audio analyser, audio level detection disabled",
			"source_id", entry.Source.ID(),
		)
		return
	}
	if len(domain.TracksOfKind(entry.Source, domain.TrackKindAudio)) == 0 {
		o.logger.Debugw("source has no audio track, audio level detection disabled",
			"source_id", entry.Source.ID(),
		)
		return
	}

	detector := NewAudioLevelDetector(analysable.AudioAnalyser(), o.cfg.Detector, o.logger.With("source_id", entry.Source.ID()))
	detector.OnLevelChange(func(level domain.AudioLevel) {
		o.metrics.RecordAudioLevelChange(level)
		onLevel(level)
	})
	if err := detector.Start(o.baseCtx); err != nil {
		o.logger.Warnw("failed to start audio level detector", "error", err)
		return
	}
	entry.Detector = detector
}

func (o *SessionOrchestrator) logConnectionState(streamID domain.StreamID, direction domain.Direction) func(webrtc.PeerConnectionState) {
	return func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed {
			o.logger.Warnw("peer connection failed", "stream_id", streamID, "direction", direction)
			return
		}
		o.logger.Debugw("peer connection state changed",
			"stream_id", streamID,
			"direction", direction,
			"state", state.String(),
		)
	}
}

func stopTracks(source domain.MediaSource) {
	if source == nil {
		return
	}
	for _, track := range source.Tracks() {
		track.Stop()
	}
}
