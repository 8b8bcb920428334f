package protocol

import "encoding/json"

// PlayerInfoPayload announces the opponent's identity. When sent by the
// relay at match time, Role carries the seat assigned to the recipient.
type PlayerInfoPayload struct {
	Name          string `json:"name"`
	WalletAddress string `json:"wallet_address"`
	Role          string `json:"role,omitempty"`
}

// StakeProposalPayload carries the initial match terms from the host.
type StakeProposalPayload struct {
	GameType        string `json:"game_type"`
	StakeAmount     int64  `json:"stake_amount"`
	DurationSeconds int    `json:"duration_seconds"`
}

// GameStatePayload is the periodic live sync emitted while playing.
type GameStatePayload struct {
	ElapsedMs int64   `json:"elapsed_ms"`
	Score     int64   `json:"score"`
	Cadence   float64 `json:"cadence"`
	Power     float64 `json:"power"`
	Position  float64 `json:"position"` // normalized progress, elapsed / total
}

// GameEndPayload reports the sender's view of the finished match.
type GameEndPayload struct {
	FinalScore         int64  `json:"final_score"`
	OpponentFinalScore int64  `json:"opponent_final_score"`
	WinnerAddress      string `json:"winner_address"` // empty on a draw
	GameHash           string `json:"game_hash"`
}

// SettlementConfirmPayload records the payout transaction.
type SettlementConfirmPayload struct {
	WinnerAddress    string `json:"winner_address"`
	SettlementTxHash string `json:"settlement_tx_hash"`
}

// ParsePayload decodes an envelope's JSON payload into dst.
func ParsePayload(e Envelope, dst any) error {
	return json.Unmarshal([]byte(e.Payload), dst)
}
