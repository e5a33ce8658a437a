package sovereign

import "github.com/google/uuid"

// CommandType enumerates operator interventions.
type CommandType string

const (
	CmdKill                   CommandType = "KILL"
	CmdVeto                   CommandType = "VETO"
	CmdPause                  CommandType = "PAUSE"
	CmdResume                 CommandType = "RESUME"
	CmdCloseAll               CommandType = "CLOSE_ALL"
	CmdSetSentimentOverride   CommandType = "SET_SENTIMENT_OVERRIDE"
	CmdClearSentimentOverride CommandType = "CLEAR_SENTIMENT_OVERRIDE"
	CmdVerify                 CommandType = "VERIFY"
)

// critical reports whether the command needs an attested signature on
// top of the pre-shared key.
func (t CommandType) critical() bool {
	return t == CmdKill || t == CmdCloseAll
}

// known reports whether the command type is in the vocabulary.
func (t CommandType) known() bool {
	switch t {
	case CmdKill, CmdVeto, CmdPause, CmdResume, CmdCloseAll,
		CmdSetSentimentOverride, CmdClearSentimentOverride, CmdVerify:
		return true
	default:
		return false
	}
}

// Command is one authenticated operator intervention.
type Command struct {
	ID         uuid.UUID   `json:"id"`
	Type       CommandType `json:"type"`
	Payload    string      `json:"payload,omitempty"`
	UserID     string      `json:"user_id"`
	Source     string      `json:"source"`
	IssuedAtUs int64       `json:"issued_at_us"`

	// Key is the pre-shared key; Signature is the HMAC attestation
	// required for critical commands. Neither is persisted.
	Key       string `json:"key"`
	Signature string `json:"signature,omitempty"`
}

// Ack is the response returned to the operator.
type Ack struct {
	ID        uuid.UUID `json:"id"`
	Accepted  bool      `json:"accepted"`
	Detail    string    `json:"detail,omitempty"`
	LatencyUs int64     `json:"latency_us"`
}
