package domain

// Candidate is a trickled ICE connectivity candidate.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// CandidateRole tags a locally discovered candidate with the workflow that produced it.
type CandidateRole string

const (
	CandidateRolePublish   CandidateRole = "publish"
	CandidateRoleSubscribe CandidateRole = "subscribe"
)

// Complete reports whether the candidate carries both media line identifiers,
// which the relay requires to route it.
func (c Candidate) Complete() bool {
	return c.SDPMid != nil && *c.SDPMid != "" && c.SDPMLineIndex != nil
}
