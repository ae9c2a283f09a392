package services

import (
	"sync"
	"time"

	"relaylink/internal/core/domain"
)

// retiredStreamTTL is how long a torn-down stream id keeps refusing late candidates.
const retiredStreamTTL = time.Minute

// CandidateQueue buffers remote candidates that arrive before their stream can take them.
type CandidateQueue struct {
	pending map[domain.StreamID][]domain.Candidate
	retired map[domain.StreamID]time.Time
	mu      sync.Mutex

	now func() time.Time
}

func NewCandidateQueue() *CandidateQueue {
	return &CandidateQueue{
		pending: make(map[domain.StreamID][]domain.Candidate),
		retired: make(map[domain.StreamID]time.Time),
		now:     time.Now,
	}
}

// Enqueue appends a candidate to the stream's buffer, creating it if needed.
func (q *CandidateQueue) Enqueue(streamID domain.StreamID, candidate domain.Candidate) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending[streamID] = append(q.pending[streamID], candidate)
}

// DrainIfPending removes and returns the stream's buffer in arrival order.
// It returns an empty slice when nothing is buffered.
func (q *CandidateQueue) DrainIfPending(streamID domain.StreamID) []domain.Candidate {
	q.mu.Lock()
	defer q.mu.Unlock()

	candidates, exists := q.pending[streamID]
	if !exists {
		return []domain.Candidate{}
	}
	delete(q.pending, streamID)
	return candidates
}

// Retire discards the stream's buffer and remembers the id as torn down, so
// Retired reports it for a while. It returns the number of discarded candidates.
func (q *CandidateQueue) Retire(streamID domain.StreamID) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for id, at := range q.retired {
		if now.Sub(at) > retiredStreamTTL {
			delete(q.retired, id)
		}
	}
	q.retired[streamID] = now

	n := len(q.pending[streamID])
	delete(q.pending, streamID)
	return n
}

// Retired reports whether the stream was torn down recently.
func (q *CandidateQueue) Retired(streamID domain.StreamID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	at, ok := q.retired[streamID]
	if !ok {
		return false
	}
	if q.now().Sub(at) > retiredStreamTTL {
		delete(q.retired, streamID)
		return false
	}
	return true
}

// Revive forgets that the stream was torn down, for a negotiation that reuses the id.
func (q *CandidateQueue) Revive(streamID domain.StreamID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.retired, streamID)
}

// Len returns the number of buffered candidates for the stream.
func (q *CandidateQueue) Len(streamID domain.StreamID) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending[streamID])
}
