package domain

import "time"

// StreamID is the server-issued identifier of a published or subscribed stream.
type StreamID string

// Direction tells whether a stream flows out of (local) or into (remote) this participant.
type Direction string

const (
	DirectionLocal  Direction = "local"
	DirectionRemote Direction = "remote"
)

// MediaKind classifies the payload of a stream. The values match the signaling wire format.
type MediaKind string

const (
	MediaKindAll   MediaKind = "all"
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
	MediaKindData  MediaKind = "data"
)

// HasVideo reports whether a stream of this kind carries video.
func (k MediaKind) HasVideo() bool {
	return k == MediaKindAll || k == MediaKindVideo
}

// HasAudio reports whether a stream of this kind carries audio.
func (k MediaKind) HasAudio() bool {
	return k == MediaKindAll || k == MediaKindAudio
}

// ParseMediaKind maps a wire value to a MediaKind. Unknown values are treated as audio+video.
func ParseMediaKind(s string) MediaKind {
	switch MediaKind(s) {
	case MediaKindAudio, MediaKindVideo, MediaKindData, MediaKindAll:
		return MediaKind(s)
	default:
		return MediaKindAll
	}
}

// NegotiationState is the per-stream offer/answer state.
type NegotiationState string

const (
	NegotiationCreated       NegotiationState = "created"
	NegotiationOfferSent     NegotiationState = "offer_sent"
	NegotiationAnswerApplied NegotiationState = "answer_applied"
	NegotiationActive        NegotiationState = "active"
	NegotiationClosed        NegotiationState = "closed"
)

// RtcStream is what the host application sees of a stream.
// Source is set for local streams, Track for remote ones.
type RtcStream struct {
	StreamID  StreamID
	MediaKind MediaKind
	Source    MediaSource
	Track     RemoteTrack
}

// StreamInfo is a point-in-time description of a registered stream.
type StreamInfo struct {
	StreamID  StreamID         `json:"stream_id"`
	Direction Direction        `json:"direction"`
	MediaKind MediaKind        `json:"media_kind"`
	State     NegotiationState `json:"state"`
	CreatedAt time.Time        `json:"created_at"`
}
