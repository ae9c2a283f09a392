package webrtc

import (
	"fmt"
	"strings"

	"github.com/pion/ice/v2"
	"github.com/pion/sdp/v3"
)

// MediaSection summarises one m= line of a session description.
type MediaSection struct {
	Kind      string `json:"kind"`
	Mid       string `json:"mid,omitempty"`
	Direction string `json:"direction"`
}

func (m MediaSection) String() string {
	return fmt.Sprintf("%s(%s):%s", m.Kind, m.Mid, m.Direction)
}

var directions = []string{"sendrecv", "sendonly", "recvonly", "inactive"}

// DescribeSDP lists the media sections of raw. A section without a direction
// attribute defaults to sendrecv.
func DescribeSDP(raw string) ([]MediaSection, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return nil, fmt.Errorf("parse sdp: %w", err)
	}

	sections := make([]MediaSection, 0, len(desc.MediaDescriptions))
	for _, md := range desc.MediaDescriptions {
		section := MediaSection{Kind: md.MediaName.Media, Direction: "sendrecv"}
		if mid, ok := md.Attribute("mid"); ok {
			section.Mid = mid
		}
		for _, dir := range directions {
			if _, ok := md.Attribute(dir); ok {
				section.Direction = dir
				break
			}
		}
		sections = append(sections, section)
	}
	return sections, nil
}

// CandidateType returns the ICE candidate type (host, srflx, prflx, relay) of
// an SDP candidate line, or "unknown" when it cannot be parsed.
func CandidateType(candidate string) string {
	raw := strings.TrimPrefix(strings.TrimSpace(candidate), "candidate:")
	if raw == "" {
		return "end-of-candidates"
	}
	c, err := ice.UnmarshalCandidate(raw)
	if err != nil {
		return "unknown"
	}
	return c.Type().String()
}
