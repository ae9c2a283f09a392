package signal

import (
	"bytes"
	"encoding/json"
	"fmt"

	"relaylink/internal/core/domain"
)

// Outbound method names.
const (
	methodPublish      = "publishMedia"
	methodUnpublish    = "unpublishMedia"
	methodSubscribe    = "subscribeMedia"
	methodIceCandidate = "onIceCandidate"
	methodKeepAlive    = "onTest"
)

type publishParams struct {
	SDPOffer string `json:"sdpOffer"`
}

type unpublishParams struct {
	StreamID domain.StreamID `json:"streamId"`
}

type subscribeParams struct {
	StreamID domain.StreamID `json:"streamId"`
	SDPOffer string          `json:"sdpOffer"`
}

type iceCandidateParams struct {
	StreamID      domain.StreamID      `json:"streamId"`
	CandidateType domain.CandidateRole `json:"candidateType"`
	Candidate     string               `json:"candidate"`
	SDPMid        string               `json:"sdpMid"`
	SDPMLineIndex uint16               `json:"sdpMLineIndex"`
}

// eventParams covers every inbound notification payload.
type eventParams struct {
	StreamID      domain.StreamID `json:"streamId"`
	MediaType     string          `json:"mediaType"`
	Message       string          `json:"message"`
	Candidate     json.RawMessage `json:"candidate"`
	SDPMid        *string         `json:"sdpMid"`
	SDPMLineIndex *uint16         `json:"sdpMLineIndex"`
}

// decodeEvent maps a relay notification onto a domain event. Unknown methods
// return a nil event and no error.
func decodeEvent(method string, raw *json.RawMessage) (domain.SignalEvent, error) {
	var p eventParams
	if raw != nil && len(*raw) > 0 && !bytes.Equal(*raw, []byte("null")) {
		if err := json.Unmarshal(*raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", method, err)
		}
	}

	switch method {
	case domain.SignalIceCandidate:
		candidate, err := decodeCandidate(p)
		if err != nil {
			return nil, err
		}
		return domain.IceCandidateSignal{StreamID: p.StreamID, Candidate: candidate}, nil
	case domain.SignalSubscribe:
		return domain.SubscribeSignal{StreamID: p.StreamID, MediaKind: domain.ParseMediaKind(p.MediaType)}, nil
	case domain.SignalUnsubscribed:
		return domain.UnsubscribedSignal{StreamID: p.StreamID, MediaKind: domain.ParseMediaKind(p.MediaType)}, nil
	case domain.SignalUnpublished:
		return domain.UnpublishedSignal{StreamID: p.StreamID}, nil
	case domain.SignalRepublish:
		return domain.RepublishSignal{StreamID: p.StreamID, Message: p.Message}, nil
	case domain.SignalResubscribe:
		return domain.ResubscribeSignal{StreamID: p.StreamID, Message: p.Message}, nil
	case domain.SignalRemoved:
		return domain.RemovedSignal{}, nil
	default:
		return nil, nil
	}
}

// decodeCandidate accepts the flat form (candidate string next to sdpMid and
// sdpMLineIndex) as well as a nested candidate object.
func decodeCandidate(p eventParams) (domain.Candidate, error) {
	c := domain.Candidate{SDPMid: p.SDPMid, SDPMLineIndex: p.SDPMLineIndex}

	raw := bytes.TrimSpace(p.Candidate)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '{':
		var nested domain.Candidate
		if err := json.Unmarshal(raw, &nested); err != nil {
			return c, fmt.Errorf("decode nested candidate: %w", err)
		}
		c.Candidate = nested.Candidate
		c.UsernameFragment = nested.UsernameFragment
		if nested.SDPMid != nil {
			c.SDPMid = nested.SDPMid
		}
		if nested.SDPMLineIndex != nil {
			c.SDPMLineIndex = nested.SDPMLineIndex
		}
	default:
		if err := json.Unmarshal(raw, &c.Candidate); err != nil {
			return c, fmt.Errorf("decode candidate: %w", err)
		}
	}
	return c, nil
}
