package domain

// EventKind enumerates the notifications the orchestrator delivers to the host.
type EventKind int

const (
	EventSubscribed EventKind = iota
	EventUnsubscribed
	EventUnpublished
	EventRepublish
	EventResubscribe
	EventRemoved
	EventMessageReceived
)

func (k EventKind) String() string {
	switch k {
	case EventSubscribed:
		return "subscribed"
	case EventUnsubscribed:
		return "unsubscribed"
	case EventUnpublished:
		return "unpublished"
	case EventRepublish:
		return "republish"
	case EventResubscribe:
		return "resubscribe"
	case EventRemoved:
		return "removed"
	case EventMessageReceived:
		return "message_received"
	default:
		return "unknown"
	}
}

// Event is a host notification.
type Event interface {
	Kind() EventKind
}

// SubscribedEvent fires when media arrives on a subscribed stream.
type SubscribedEvent struct {
	Stream RtcStream
}

type UnsubscribedEvent struct {
	StreamID  StreamID
	MediaKind MediaKind
}

type UnpublishedEvent struct {
	StreamID StreamID
}

// RepublishEvent reports the outcome of a relay-requested republish.
// Stream is nil when Err is set.
type RepublishEvent struct {
	StreamID StreamID
	Message  string
	Stream   *RtcStream
	Err      error
}

type ResubscribeEvent struct {
	StreamID StreamID
	Message  string
}

type RemovedEvent struct{}

// MessageReceivedEvent carries a data channel message. ChannelID is the stream id.
type MessageReceivedEvent struct {
	ChannelID StreamID
	Message   string
}

func (SubscribedEvent) Kind() EventKind      { return EventSubscribed }
func (UnsubscribedEvent) Kind() EventKind    { return EventUnsubscribed }
func (UnpublishedEvent) Kind() EventKind     { return EventUnpublished }
func (RepublishEvent) Kind() EventKind       { return EventRepublish }
func (ResubscribeEvent) Kind() EventKind     { return EventResubscribe }
func (RemovedEvent) Kind() EventKind         { return EventRemoved }
func (MessageReceivedEvent) Kind() EventKind { return EventMessageReceived }
