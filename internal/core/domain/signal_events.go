package domain

// SignalEvent is a named event pushed by the signaling service.
type SignalEvent interface {
	SignalName() string
}

// Signaling event names as they appear on the wire.
const (
	SignalIceCandidate = "onIceCandidate"
	SignalSubscribe    = "subscribe"
	SignalUnsubscribed = "unsubscribed"
	SignalUnpublished  = "unpublished"
	SignalRepublish    = "republish"
	SignalResubscribe  = "resubscribe"
	SignalRemoved      = "removed"
)

// IceCandidateSignal carries a remote candidate for a stream.
type IceCandidateSignal struct {
	StreamID  StreamID
	Candidate Candidate
}

// SubscribeSignal asks this participant to receive a stream.
type SubscribeSignal struct {
	StreamID  StreamID
	MediaKind MediaKind
}

// UnsubscribedSignal tells that a received stream is gone.
type UnsubscribedSignal struct {
	StreamID  StreamID
	MediaKind MediaKind
}

// UnpublishedSignal tells that the relay revoked one of our published streams.
type UnpublishedSignal struct {
	StreamID StreamID
}

// RepublishSignal asks to publish a stream again after a media server reset.
type RepublishSignal struct {
	StreamID StreamID
	Message  string
}

// ResubscribeSignal announces that a received stream will be replaced.
type ResubscribeSignal struct {
	StreamID StreamID
	Message  string
}

// RemovedSignal ends the whole session.
type RemovedSignal struct{}

func (IceCandidateSignal) SignalName() string { return SignalIceCandidate }
func (SubscribeSignal) SignalName() string    { return SignalSubscribe }
func (UnsubscribedSignal) SignalName() string { return SignalUnsubscribed }
func (UnpublishedSignal) SignalName() string  { return SignalUnpublished }
func (RepublishSignal) SignalName() string    { return SignalRepublish }
func (ResubscribeSignal) SignalName() string  { return SignalResubscribe }
func (RemovedSignal) SignalName() string      { return SignalRemoved }
