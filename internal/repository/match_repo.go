package repository

import (
	"context"

	"stakematch/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

type MatchRepository struct {
	db *pgxpool.Pool
}

func NewMatchRepository(db *pgxpool.Pool) *MatchRepository {
	return &MatchRepository{db: db}
}

func (r *MatchRepository) Create(ctx context.Context, m *domain.Match) error {
	return r.db.QueryRow(ctx,
		`INSERT INTO matches (session_id, game_type, host_wallet, guest_wallet, stake,
		                      host_score, guest_score, winner, outcome_hash, stake_tx_hash, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id, created_at`,
		m.SessionID,
		m.GameType,
		m.HostWallet,
		m.GuestWallet,
		m.Stake,
		m.HostScore,
		m.GuestScore,
		m.Winner,
		m.OutcomeHash,
		m.StakeTxHash,
		m.Status,
	).Scan(&m.ID, &m.CreatedAt)
}

func (r *MatchRepository) MarkSettled(ctx context.Context, sessionID, settleTxHash string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE matches SET status = $1, settle_tx_hash = $2 WHERE session_id = $3`,
		domain.MatchStatusSettled, settleTxHash, sessionID,
	)
	return err
}

func (r *MatchRepository) MarkDisputed(ctx context.Context, sessionID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE matches SET status = $1 WHERE session_id = $2`,
		domain.MatchStatusDisputed, sessionID,
	)
	return err
}

func (r *MatchRepository) GetByWallet(ctx context.Context, wallet string) ([]*domain.Match, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, session_id, game_type, host_wallet, guest_wallet, stake,
		        host_score, guest_score, winner, outcome_hash, stake_tx_hash,
		        COALESCE(settle_tx_hash, ''), status, created_at
		 FROM matches
		 WHERE host_wallet = $1 OR guest_wallet = $1
		 ORDER BY created_at DESC
		 LIMIT 100`,
		wallet,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*domain.Match
	for rows.Next() {
		m := &domain.Match{}
		if err := rows.Scan(
			&m.ID, &m.SessionID, &m.GameType, &m.HostWallet, &m.GuestWallet, &m.Stake,
			&m.HostScore, &m.GuestScore, &m.Winner, &m.OutcomeHash, &m.StakeTxHash,
			&m.SettleTxHash, &m.Status, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
