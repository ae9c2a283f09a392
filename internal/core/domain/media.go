package domain

// TrackKind is the media type of a single track.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// MediaTrack is one local capture track.
type MediaTrack interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	// Stop releases the capture device. Calling it more than once is a no-op.
	Stop()
}

// MediaSource groups the tracks that are published together.
type MediaSource interface {
	ID() string
	Tracks() []MediaTrack
}

// RemoteTrack is a track received on a subscribed stream.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() TrackKind
}

// MediaConstraints is a declarative capability request.
type MediaConstraints struct {
	Audio bool `json:"audio"`
	Video bool `json:"video"`
}

// DefaultConstraints asks for both microphone and camera.
func DefaultConstraints() MediaConstraints {
	return MediaConstraints{Audio: true, Video: true}
}

// MediaKind classifies what the constraints ask for.
func (c MediaConstraints) MediaKind() MediaKind {
	switch {
	case c.Audio && c.Video:
		return MediaKindAll
	case c.Audio:
		return MediaKindAudio
	case c.Video:
		return MediaKindVideo
	default:
		return MediaKindData
	}
}

// ConstraintsOf derives the constraints a concrete source satisfies.
func ConstraintsOf(src MediaSource) MediaConstraints {
	var c MediaConstraints
	if src == nil {
		return c
	}
	for _, t := range src.Tracks() {
		switch t.Kind() {
		case TrackKindAudio:
			c.Audio = true
		case TrackKindVideo:
			c.Video = true
		}
	}
	return c
}

// TracksOfKind returns the tracks of src with the given kind.
func TracksOfKind(src MediaSource, kind TrackKind) []MediaTrack {
	if src == nil {
		return nil
	}
	var out []MediaTrack
	for _, t := range src.Tracks() {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}
