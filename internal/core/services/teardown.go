package services

import (
	"context"
	"fmt"

	"relaylink/internal/core/domain"
	"relaylink/pkg/tracing"
)

// Unpublish stops the given local streams, or all of them when none is given.
// A signaling failure stops the loop; streams already processed stay released.
func (o *SessionOrchestrator) Unpublish(ctx context.Context, streamIDs ...domain.StreamID) error {
	if len(streamIDs) == 0 {
		streamIDs = o.registry.LocalIDs()
	}

	for _, id := range streamIDs {
		spanCtx, span := tracing.TraceSession(ctx, "unpublish", string(id))
		err := o.signaling.Unpublish(spanCtx, id)
		if err != nil {
			tracing.RecordError(spanCtx, err)
			span.End()
			return fmt.Errorf("unpublish %s: %w", id, err)
		}
		o.releaseLocal(id)
		span.End()
	}
	return nil
}

func (o *SessionOrchestrator) releaseLocal(id domain.StreamID) {
	entry := o.registry.Remove(domain.DirectionLocal, id)
	if entry == nil {
		o.retireQueued(id)
		return
	}
	o.release(entry, true)
	o.metrics.RecordStreamClosed(domain.DirectionLocal, entry.MediaKind)
	o.logger.Infow("local stream released", "stream_id", id)
}

func (o *SessionOrchestrator) releaseRemote(id domain.StreamID) {
	entry := o.registry.Remove(domain.DirectionRemote, id)
	if entry == nil {
		o.retireQueued(id)
		return
	}
	o.release(entry, false)
	o.metrics.RecordStreamClosed(domain.DirectionRemote, entry.MediaKind)
	o.logger.Infow("remote stream released", "stream_id", id)
}

func (o *SessionOrchestrator) releaseAll() {
	for _, entry := range o.registry.RemoveAll(domain.DirectionLocal) {
		o.release(entry, true)
		o.metrics.RecordStreamClosed(domain.DirectionLocal, entry.MediaKind)
	}
	for _, entry := range o.registry.RemoveAll(domain.DirectionRemote) {
		o.release(entry, false)
		o.metrics.RecordStreamClosed(domain.DirectionRemote, entry.MediaKind)
	}
}

// release closes everything an entry owns. The entry must already be out of the registry.
func (o *SessionOrchestrator) release(entry *StreamEntry, stopSource bool) {
	entry.Negotiation.Close()
	if entry.Detector != nil {
		entry.Detector.Stop()
	}
	if entry.Channel != nil {
		if err := entry.Channel.Close(); err != nil {
			o.logger.Debugw("data channel close failed", "stream_id", entry.ID, "error", err)
		}
	}
	if entry.PC != nil {
		if err := entry.PC.Close(); err != nil {
			o.logger.Debugw("peer connection close failed", "stream_id", entry.ID, "error", err)
		}
	}
	if stopSource {
		stopTracks(entry.Source)
	}
	if entry.ID != "" {
		o.retireQueued(entry.ID)
	}
}

// retireQueued drops what is queued for a torn-down stream and keeps later
// candidates for it out of the queue.
func (o *SessionOrchestrator) retireQueued(id domain.StreamID) {
	o.routeMu.Lock()
	n := o.queue.Retire(id)
	o.routeMu.Unlock()

	if n > 0 {
		o.logger.Debugw("discarded queued candidates", "stream_id", id, "count", n)
	}
}

func (o *SessionOrchestrator) handleSignal(event domain.SignalEvent) {
	if o.removed.Load() {
		o.logger.Debugw("ignoring signaling event after removal", "event", event.SignalName())
		return
	}

	switch e := event.(type) {
	case domain.IceCandidateSignal:
		o.routeCandidate(e)
	case domain.SubscribeSignal:
		// Candidates for the offered stream may arrive before the workflow registers it.
		o.routeMu.Lock()
		o.queue.Revive(e.StreamID)
		o.routeMu.Unlock()
		o.goWorkflow("subscribe", e.StreamID, func(ctx context.Context) error {
			return o.subscribe(ctx, e)
		})
	case domain.UnsubscribedSignal:
		o.handleUnsubscribed(e)
	case domain.UnpublishedSignal:
		o.releaseLocal(e.StreamID)
		o.notifier.Notify(domain.UnpublishedEvent{StreamID: e.StreamID})
	case domain.RepublishSignal:
		o.handleRepublish(e)
	case domain.ResubscribeSignal:
		o.handleResubscribe(e)
	case domain.RemovedSignal:
		o.handleRemoved()
	default:
		o.logger.Warnw("unhandled signaling event", "event", event.SignalName())
	}
}

func (o *SessionOrchestrator) handleUnsubscribed(e domain.UnsubscribedSignal) {
	o.releaseRemote(e.StreamID)
	o.notifier.Notify(domain.UnsubscribedEvent{StreamID: e.StreamID, MediaKind: e.MediaKind})
}

// handleRepublish publishes again after a relay reset. A stream still held under
// the old id hands its source to the new publish; otherwise nothing is captured.
func (o *SessionOrchestrator) handleRepublish(e domain.RepublishSignal) {
	in := publishInput{constraints: domain.MediaConstraints{Audio: false, Video: false}}

	if e.StreamID != "" {
		if old := o.registry.Remove(domain.DirectionLocal, e.StreamID); old != nil {
			o.release(old, false)
			o.metrics.RecordStreamClosed(domain.DirectionLocal, old.MediaKind)

			in.source = old.Source
			in.constraints = domain.ConstraintsOf(old.Source)
			in.ownsSource = old.ownsSource
			in.onAudioLevel = old.onAudioLevel
		}
	}

	o.goWorkflow("republish", e.StreamID, func(ctx context.Context) error {
		ctx, span := tracing.TraceSession(ctx, "republish", string(e.StreamID))
		defer span.End()

		stream, err := o.publish(ctx, in)
		o.notifier.Notify(domain.RepublishEvent{
			StreamID: e.StreamID,
			Message:  e.Message,
			Stream:   stream,
			Err:      err,
		})
		if err != nil {
			tracing.RecordError(ctx, err)
		}
		return err
	})
}

// handleResubscribe drops a received stream the relay is about to replace.
// Unknown ids are ignored.
func (o *SessionOrchestrator) handleResubscribe(e domain.ResubscribeSignal) {
	entry := o.registry.Remote(e.StreamID)
	if e.StreamID == "" || entry == nil {
		o.logger.Debugw("ignoring resubscribe for unknown stream", "stream_id", e.StreamID)
		return
	}

	o.handleUnsubscribed(domain.UnsubscribedSignal{StreamID: e.StreamID, MediaKind: entry.MediaKind})
	o.notifier.Notify(domain.ResubscribeEvent{StreamID: e.StreamID, Message: e.Message})
}

// handleRemoved ends the session for good.
func (o *SessionOrchestrator) handleRemoved() {
	if !o.removed.CompareAndSwap(false, true) {
		return
	}

	o.releaseAll()
	if err := o.signaling.Disconnect(); err != nil {
		o.logger.Warnw("signaling disconnect after removal failed", "error", err)
	}
	o.cancel()

	o.logger.Info("session removed by relay")
	o.notifier.Notify(domain.RemovedEvent{})
}
