package services

import (
	"sync"

	"relaylink/internal/core/domain"
)

// Observer receives host notifications of one kind.
type Observer func(domain.Event)

// Notifier is a dispatch table holding at most one observer per event kind.
// Notifications without an observer are dropped.
type Notifier struct {
	observers map[domain.EventKind]Observer
	mu        sync.RWMutex
}

func NewNotifier() *Notifier {
	return &Notifier{observers: make(map[domain.EventKind]Observer)}
}

// On registers obs for kind, replacing any previous observer. A nil obs unregisters.
func (n *Notifier) On(kind domain.EventKind, obs Observer) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if obs == nil {
		delete(n.observers, kind)
		return
	}
	n.observers[kind] = obs
}

// Notify delivers event to its observer, if any. It reports whether one was registered.
func (n *Notifier) Notify(event domain.Event) bool {
	n.mu.RLock()
	obs, exists := n.observers[event.Kind()]
	n.mu.RUnlock()

	if !exists {
		return false
	}
	obs(event)
	return true
}

func (n *Notifier) OnSubscribed(fn func(domain.SubscribedEvent)) {
	n.On(domain.EventSubscribed, func(e domain.Event) { fn(e.(domain.SubscribedEvent)) })
}

func (n *Notifier) OnUnsubscribed(fn func(domain.UnsubscribedEvent)) {
	n.On(domain.EventUnsubscribed, func(e domain.Event) { fn(e.(domain.UnsubscribedEvent)) })
}

func (n *Notifier) OnUnpublished(fn func(domain.UnpublishedEvent)) {
	n.On(domain.EventUnpublished, func(e domain.Event) { fn(e.(domain.UnpublishedEvent)) })
}

func (n *Notifier) OnRepublish(fn func(domain.RepublishEvent)) {
	n.On(domain.EventRepublish, func(e domain.Event) { fn(e.(domain.RepublishEvent)) })
}

func (n *Notifier) OnResubscribe(fn func(domain.ResubscribeEvent)) {
	n.On(domain.EventResubscribe, func(e domain.Event) { fn(e.(domain.ResubscribeEvent)) })
}

func (n *Notifier) OnRemoved(fn func(domain.RemovedEvent)) {
	n.On(domain.EventRemoved, func(e domain.Event) { fn(e.(domain.RemovedEvent)) })
}

func (n *Notifier) OnMessageReceived(fn func(domain.MessageReceivedEvent)) {
	n.On(domain.EventMessageReceived, func(e domain.Event) { fn(e.(domain.MessageReceivedEvent)) })
}
