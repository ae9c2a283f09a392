package domain

import "errors"

var (
	ErrMissingSDP       = errors.New("created offer with no SDP")
	ErrStreamNotFound   = errors.New("stream not found")
	ErrSessionRemoved   = errors.New("session removed")
	ErrNotConnected     = errors.New("signaling not connected")
	ErrUnsupportedTrack = errors.New("track cannot be attached to a peer connection")
)

// SdpOfferRejectedError is returned by publish when the relay refused the offered
// session description. Callers may retry with a different offer.
type SdpOfferRejectedError struct {
	Message string
	Cause   error
}

func (e *SdpOfferRejectedError) Error() string {
	return e.Message
}

func (e *SdpOfferRejectedError) Unwrap() error {
	return e.Cause
}
