package services

import (
	"fmt"
	"sync"
	"time"

	"relaylink/internal/core/domain"
	"relaylink/internal/core/ports"

	"github.com/google/uuid"
)

// StreamHandle correlates a stream entry before the relay has assigned its id.
type StreamHandle string

// StreamEntry owns every resource tied to one stream.
type StreamEntry struct {
	Handle      StreamHandle
	ID          domain.StreamID
	Direction   domain.Direction
	MediaKind   domain.MediaKind
	PC          ports.PeerConnection
	Channel     ports.DataChannel
	Source      domain.MediaSource
	Detector    *AudioLevelDetector
	Negotiation *Negotiation
	CreatedAt   time.Time

	// ownsSource is set when the orchestrator acquired Source itself.
	ownsSource   bool
	onAudioLevel func(domain.AudioLevel)
	// candMu orders candidate application: drained candidates go in before live ones.
	candMu       sync.Mutex
}

func (e *StreamEntry) Info() domain.StreamInfo {
	return domain.StreamInfo{
		StreamID:  e.ID,
		Direction: e.Direction,
		MediaKind: e.MediaKind,
		State:     e.Negotiation.State(),
		CreatedAt: e.CreatedAt,
	}
}

// StreamRegistry maps stream ids to their entries. Entries start pending (known only
// by handle) and become visible to lookups once confirmed with a server id.
type StreamRegistry struct {
	byHandle    map[StreamHandle]*StreamEntry
	local       map[domain.StreamID]*StreamEntry
	remote      map[domain.StreamID]*StreamEntry
	localOrder  []domain.StreamID
	remoteOrder []domain.StreamID
	mu          sync.RWMutex
}

func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{
		byHandle: make(map[StreamHandle]*StreamEntry),
		local:    make(map[domain.StreamID]*StreamEntry),
		remote:   make(map[domain.StreamID]*StreamEntry),
	}
}

// Begin records a pending entry and returns its correlation handle.
func (r *StreamRegistry) Begin(entry *StreamEntry) StreamHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.Handle = StreamHandle(uuid.NewString())
	entry.ID = ""
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Negotiation == nil {
		entry.Negotiation = NewNegotiation(nil)
	}
	r.byHandle[entry.Handle] = entry
	return entry.Handle
}

// Confirm associates a pending entry with its server-issued id.
func (r *StreamRegistry) Confirm(handle StreamHandle, id domain.StreamID) (*StreamEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.byHandle[handle]
	if !exists {
		return nil, fmt.Errorf("stream handle %s: %w", handle, domain.ErrStreamNotFound)
	}
	if entry.ID != "" {
		return nil, fmt.Errorf("stream handle %s already confirmed as %s", handle, entry.ID)
	}
	if id == "" {
		return nil, fmt.Errorf("stream handle %s: empty stream id", handle)
	}

	index, order := r.indexFor(entry.Direction)
	if _, taken := index[id]; taken {
		return nil, fmt.Errorf("%s stream %s already registered", entry.Direction, id)
	}

	entry.ID = id
	index[id] = entry
	*order = append(*order, id)
	return entry, nil
}

// Abort forgets an entry by handle whether or not it was confirmed.
func (r *StreamRegistry) Abort(handle StreamHandle) *StreamEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.byHandle[handle]
	if !exists {
		return nil
	}
	delete(r.byHandle, handle)
	if entry.ID != "" {
		r.unindex(entry)
	}
	return entry
}

// Remove forgets a confirmed entry. It returns nil when no such stream exists.
func (r *StreamRegistry) Remove(direction domain.Direction, id domain.StreamID) *StreamEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	index, _ := r.indexFor(direction)
	entry, exists := index[id]
	if !exists {
		return nil
	}
	delete(r.byHandle, entry.Handle)
	r.unindex(entry)
	return entry
}

// RemoveAll forgets every confirmed entry of a direction, in insertion order.
func (r *StreamRegistry) RemoveAll(direction domain.Direction) []*StreamEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	index, order := r.indexFor(direction)
	removed := make([]*StreamEntry, 0, len(*order))
	for _, id := range *order {
		entry := index[id]
		delete(r.byHandle, entry.Handle)
		delete(index, id)
		removed = append(removed, entry)
	}
	*order = nil
	return removed
}

// Pending returns the number of entries still waiting for a server id.
func (r *StreamRegistry) Pending() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, entry := range r.byHandle {
		if entry.ID == "" {
			n++
		}
	}
	return n
}

func (r *StreamRegistry) Local(id domain.StreamID) *StreamEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.local[id]
}

func (r *StreamRegistry) Remote(id domain.StreamID) *StreamEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.remote[id]
}

// Lookup finds a confirmed entry, checking remote streams before local ones.
func (r *StreamRegistry) Lookup(id domain.StreamID) *StreamEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, exists := r.remote[id]; exists {
		return entry
	}
	return r.local[id]
}

// IDs returns confirmed stream ids of a direction in insertion order.
func (r *StreamRegistry) IDs(direction domain.Direction) []domain.StreamID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, order := r.indexFor(direction)
	ids := make([]domain.StreamID, len(*order))
	copy(ids, *order)
	return ids
}

// Entries returns confirmed entries of a direction in insertion order.
func (r *StreamRegistry) Entries(direction domain.Direction) []*StreamEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	index, order := r.indexFor(direction)
	entries := make([]*StreamEntry, 0, len(*order))
	for _, id := range *order {
		entries = append(entries, index[id])
	}
	return entries
}

// PendingCount returns how many entries are still waiting for an id.
func (r *StreamRegistry) PendingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, entry := range r.byHandle {
		if entry.ID == "" {
			n++
		}
	}
	return n
}

func (r *StreamRegistry) indexFor(direction domain.Direction) (map[domain.StreamID]*StreamEntry, *[]domain.StreamID) {
	if direction == domain.DirectionRemote {
		return r.remote, &r.remoteOrder
	}
	return r.local, &r.localOrder
}

func (r *StreamRegistry) unindex(entry *StreamEntry) {
	index, order := r.indexFor(entry.Direction)
	delete(index, entry.ID)
	for i, id := range *order {
		if id == entry.ID {
			*order = append((*order)[:i], (*order)[i+1:]...)
			break
		}
	}
}

func (r *StreamRegistry) LocalIDs() []domain.StreamID  { return r.IDs(domain.DirectionLocal) }
func (r *StreamRegistry) RemoteIDs() []domain.StreamID { return r.IDs(domain.DirectionRemote) }
