package ports

import (
	"relaylink/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// OfferOptions controls which media an offer asks to receive.
// A publish offer leaves both false so it is send-only.
type OfferOptions struct {
	ReceiveAudio bool
	ReceiveVideo bool
}

// PeerConnectionFactory creates negotiation contexts.
type PeerConnectionFactory interface {
	NewPeerConnection() (PeerConnection, error)
}

// PeerConnection is the engine-side negotiation context for one stream.
type PeerConnection interface {
	AddTrack(track domain.MediaTrack, source domain.MediaSource) error
	CreateDataChannel(label string) (DataChannel, error)
	CreateOffer(opts OfferOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate domain.Candidate) error
	// OnICECandidate fires for every locally gathered candidate.
	OnICECandidate(handler func(domain.Candidate))
	OnTrack(handler func(domain.RemoteTrack))
	OnConnectionStateChange(handler func(webrtc.PeerConnectionState))
	Close() error
}

// DataChannel is the auxiliary message channel of a stream.
type DataChannel interface {
	Label() string
	Send(message string) error
	OnMessage(handler func(message string))
	Close() error
}
