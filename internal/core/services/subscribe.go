package services

import (
	"context"
	"fmt"

	"relaylink/internal/core/domain"
	"relaylink/internal/core/ports"
	"relaylink/pkg/tracing"

	"github.com/pion/webrtc/v3"
)

// subscribe receives a stream the relay offered to this participant.
func (o *SessionOrchestrator) subscribe(ctx context.Context, sig domain.SubscribeSignal) (err error) {
	ctx, span := tracing.TraceSession(ctx, "subscribe", string(sig.StreamID))
	defer span.End()
	defer func() {
		if err != nil {
			tracing.RecordError(ctx, err)
		}
	}()

	streamID, kind := sig.StreamID, sig.MediaKind
	pc, err := o.factory.NewPeerConnection()
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	entry := &StreamEntry{
		Direction:   domain.DirectionRemote,
		MediaKind:   kind,
		PC:          pc,
		Negotiation: NewNegotiation(nil),
	}

	// Everything release reads is set before the entry becomes visible to teardown.
	channel, err := pc.CreateDataChannel(string(streamID))
	if err != nil {
		o.release(entry, false)
		return fmt.Errorf("create data channel: %w", err)
	}
	entry.Channel = channel
	handle := o.registry.Begin(entry)

	// Confirm straight away: the id is known, so candidates that arrive while the
	// offer is in flight are queued against it.
	if _, err := o.registry.Confirm(handle, streamID); err != nil {
		o.registry.Abort(handle)
		o.release(entry, false)
		return err
	}

	fail := func(err error) error {
		o.registry.Abort(handle)
		o.release(entry, false)
		return err
	}

	pc.OnICECandidate(func(c domain.Candidate) {
		o.forwardCandidate(streamID, c, domain.CandidateRoleSubscribe)
	})
	pc.OnTrack(func(track domain.RemoteTrack) {
		o.notifier.Notify(domain.SubscribedEvent{
			Stream: domain.RtcStream{StreamID: streamID, MediaKind: kind, Track: track},
		})
	})
	pc.OnConnectionStateChange(o.logConnectionState(streamID, domain.DirectionRemote))
	channel.OnMessage(func(message string) {
		o.notifier.Notify(domain.MessageReceivedEvent{ChannelID: streamID, Message: message})
	})

	offer, err := pc.CreateOffer(receiveOptions(kind))
	if err != nil {
		return fail(fmt.Errorf("create offer: %w", err))
	}
	if offer.SDP == "" {
		return fail(domain.ErrMissingSDP)
	}
	if err := entry.Negotiation.OfferSent(); err != nil {
		return fail(err)
	}

	resp, err := o.signaling.Subscribe(ctx, streamID, offer.SDP)
	if err != nil {
		return fail(fmt.Errorf("subscribe offer: %w", err))
	}

	if err := pc.SetLocalDescription(offer); err != nil {
		return fail(fmt.Errorf("apply local offer: %w", err))
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: resp.SDPAnswer}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fail(fmt.Errorf("apply remote answer: %w", err))
	}
	if err := entry.Negotiation.AnswerApplied(); err != nil {
		return fail(err)
	}
	if err := o.activate(entry); err != nil {
		return fail(err)
	}

	o.metrics.RecordStreamOpened(domain.DirectionRemote, kind)
	o.logger.Infow("stream subscribed", "stream_id", streamID, "media_kind", kind)
	return nil
}

// receiveOptions asks for audio and video unless the stream is audio only.
func receiveOptions(kind domain.MediaKind) ports.OfferOptions {
	return ports.OfferOptions{
		ReceiveAudio: true,
		ReceiveVideo: kind != domain.MediaKindAudio,
	}
}
