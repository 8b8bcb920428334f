package protocol

import "encoding/json"

// MsgType identifies an envelope on the wire.
type MsgType string

const (
	MsgPlayerInfo        MsgType = "PLAYER_INFO"
	MsgStakeProposal     MsgType = "STAKE_PROPOSAL"
	MsgStakeAccepted     MsgType = "STAKE_ACCEPTED"
	MsgStakeRejected     MsgType = "STAKE_REJECTED"
	MsgStakeLocked       MsgType = "STAKE_LOCKED"
	MsgReady             MsgType = "READY"
	MsgCountdownStart    MsgType = "COUNTDOWN_START"
	MsgGameStart         MsgType = "GAME_START"
	MsgGameState         MsgType = "GAME_STATE"
	MsgGameEnd           MsgType = "GAME_END"
	MsgSettlementConfirm MsgType = "SETTLEMENT_CONFIRM"
	MsgDisputeRaise      MsgType = "DISPUTE_RAISE"
	MsgCancel            MsgType = "CANCEL"
	MsgError             MsgType = "ERROR"
	MsgHeartbeat         MsgType = "HEARTBEAT"
)

// Envelope is the wire unit relayed between the two peers of a session.
// Payload is either a raw string (zero-argument signals, tx hashes, dispute
// evidence) or a JSON-serialized payload struct.
type Envelope struct {
	Type      MsgType `json:"type"`
	SessionID string  `json:"session_id"`
	Payload   string  `json:"payload,omitempty"`
}

// Encode serializes the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a wire frame into an envelope.
func Decode(raw []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(raw, &e)
	return e, err
}

// NewSignal builds an envelope whose type alone carries the meaning.
func NewSignal(t MsgType, sessionID string) Envelope {
	return Envelope{Type: t, SessionID: sessionID}
}

// NewRaw builds an envelope with an opaque string payload.
func NewRaw(t MsgType, sessionID, payload string) Envelope {
	return Envelope{Type: t, SessionID: sessionID, Payload: payload}
}

// NewJSON builds an envelope with a JSON-serialized payload struct.
func NewJSON(t MsgType, sessionID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, SessionID: sessionID, Payload: string(b)}, nil
}
