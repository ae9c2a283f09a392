package services

import (
	"context"

	"relaylink/internal/core/domain"
)

// routeCandidate applies a remote candidate to its stream, or queues it until
// the stream has an applied answer.
func (o *SessionOrchestrator) routeCandidate(sig domain.IceCandidateSignal) {
	if sig.StreamID == "" {
		o.logger.Debug("dropping remote candidate without stream id")
		return
	}

	o.routeMu.Lock()
	entry := o.registry.Lookup(sig.StreamID)
	// A torn-down id may still get trickled candidates; queueing them would hand
	// them to whatever negotiation reuses the id. A publish still waiting for its
	// id might be that reuse, so candidates are kept while one is in flight.
	if entry == nil && o.queue.Retired(sig.StreamID) && o.registry.Pending() == 0 {
		o.routeMu.Unlock()
		o.logger.Debugw("dropping remote candidate for closed stream", "stream_id", sig.StreamID)
		return
	}
	if entry == nil || !entry.Negotiation.Is(domain.NegotiationActive) {
		o.queue.Enqueue(sig.StreamID, sig.Candidate)
		o.routeMu.Unlock()
		o.metrics.RecordCandidateQueued()
		o.logger.Debugw("remote candidate queued", "stream_id", sig.StreamID)
		return
	}
	entry.candMu.Lock()
	o.routeMu.Unlock()
	defer entry.candMu.Unlock()

	o.applyCandidate(entry, sig.Candidate)
}

// activate moves entry to Active and applies whatever was queued for it before
// any candidate that arrives afterwards.
func (o *SessionOrchestrator) activate(entry *StreamEntry) error {
	o.routeMu.Lock()
	drained := o.queue.DrainIfPending(entry.ID)
	entry.candMu.Lock()
	err := entry.Negotiation.Activate()
	o.routeMu.Unlock()
	defer entry.candMu.Unlock()

	if err != nil {
		return err
	}
	if len(drained) > 0 {
		o.metrics.RecordCandidatesDrained(len(drained))
		o.logger.Debugw("applying queued candidates", "stream_id", entry.ID, "count", len(drained))
	}
	for _, candidate := range drained {
		o.applyCandidate(entry, candidate)
	}
	return nil
}

func (o *SessionOrchestrator) applyCandidate(entry *StreamEntry, candidate domain.Candidate) {
	if err := entry.PC.AddICECandidate(candidate); err != nil {
		o.logger.Warnw("failed to add remote candidate",
			"stream_id", entry.ID,
			"direction", entry.Direction,
			"error", err,
		)
		return
	}
	o.metrics.RecordCandidateApplied(entry.Direction)
}

// forwardCandidate sends a locally gathered candidate to the relay.
func (o *SessionOrchestrator) forwardCandidate(streamID domain.StreamID, candidate domain.Candidate, role domain.CandidateRole) {
	ctx, cancel := context.WithTimeout(o.baseCtx, o.cfg.WorkflowTimeout)
	defer cancel()

	if err := o.signaling.SendIceCandidate(ctx, streamID, candidate, role); err != nil {
		o.logger.Warnw("failed to forward local candidate",
			"stream_id", streamID,
			"role", role,
			"error", err,
		)
	}
}
