package domain

import "time"

// MatchStatus tracks how a recorded match was closed out.
type MatchStatus string

const (
	MatchStatusFinished MatchStatus = "finished"
	MatchStatusSettled  MatchStatus = "settled"
	MatchStatusDisputed MatchStatus = "disputed"
)

// Match is the relay's archived view of one wagered session.
type Match struct {
	ID           int64       `db:"id" json:"id"`
	SessionID    string      `db:"session_id" json:"session_id"`
	GameType     string      `db:"game_type" json:"game_type"`
	HostWallet   string      `db:"host_wallet" json:"host_wallet"`
	GuestWallet  string      `db:"guest_wallet" json:"guest_wallet"`
	Stake        int64       `db:"stake" json:"stake"`
	HostScore    int64       `db:"host_score" json:"host_score"`
	GuestScore   int64       `db:"guest_score" json:"guest_score"`
	Winner       *string     `db:"winner" json:"winner"` // nil on a draw
	OutcomeHash  string      `db:"outcome_hash" json:"outcome_hash"`
	StakeTxHash  string      `db:"stake_tx_hash" json:"stake_tx_hash"`
	SettleTxHash string      `db:"settle_tx_hash" json:"settle_tx_hash,omitempty"`
	Status       MatchStatus `db:"status" json:"status"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
}
