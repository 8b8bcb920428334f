// Command smoke drives a complete wagered match between two local players
// through a running relay: queue, stake negotiation, countdown, play,
// game end and settlement. Useful against a dev relay started with the
// same JWT_SECRET.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"stakematch/internal/auth"
	"stakematch/internal/channel"
	"stakematch/internal/logger"
	"stakematch/internal/session"
	"stakematch/internal/settlement"
)

func main() {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		logger.Fatal("JWT_SECRET not set")
	}

	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}
	// prefer IPv4 so the dialer does not resolve to [::1]
	relayURL := "http://127.0.0.1:" + port

	duration := 10
	if v := os.Getenv("SMOKE_DURATION_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			duration = n
		}
	}

	// with a gateway configured the host escrows and settles for real;
	// without one the flow runs on synthetic tx hashes
	var gateway *settlement.Client
	if url := os.Getenv("CHAIN_GATEWAY_URL"); url != "" {
		gateway = settlement.NewClient(url, os.Getenv("CHAIN_API_KEY"))
	}

	var wg sync.WaitGroup
	results := make(chan string, 2)

	players := []struct {
		name   string
		wallet string
		pace   int64 // score gained per tick
	}{
		{"smokeA", "0xSMOKEAAAA", 3},
		{"smokeB", "0xSMOKEBBBB", 2},
	}

	for _, p := range players {
		wg.Add(1)
		go func(name, wallet string, pace int64) {
			defer wg.Done()
			if err := runPlayer(relayURL, []byte(secret), name, wallet, pace, duration, gateway); err != nil {
				results <- fmt.Sprintf("%s: FAILED: %v", name, err)
				return
			}
			results <- fmt.Sprintf("%s: settled", name)
		}(p.name, p.wallet, p.pace)
	}

	wg.Wait()
	close(results)
	for r := range results {
		logger.Info("smoke result", "outcome", r)
	}
}

func runPlayer(relayURL string, secret []byte, name, wallet string, pace int64, duration int, gateway *settlement.Client) error {
	token, err := auth.GenerateToken(secret, auth.Identity{Name: name, WalletAddress: wallet}, time.Hour)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(duration+60)*time.Second)
	defer cancel()

	ch, err := channel.Dial(ctx, relayURL, token)
	if err != nil {
		return err
	}
	defer ch.Close()

	mm := channel.NewMatchClient(relayURL, token)
	ctrl := session.NewController(ch, mm)
	defer ctrl.Destroy()

	cfg := session.Config{
		GameType:        "sprint",
		Mode:            session.ModeWagered,
		StakeAmount:     10,
		DurationSeconds: duration,
	}
	if err := ctrl.JoinQueue(ctx, name, wallet, cfg); err != nil {
		return err
	}

	var score int64
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out in phase %s", ctrl.Snapshot().Phase)
		case <-ticker.C:
		}

		s := ctrl.Snapshot()
		switch s.Phase {
		case session.PhaseStakePending:
			if !s.Local.ApprovedStake {
				if err := ctrl.AcceptStake(); err != nil {
					return err
				}
			}
			// the host escrows once both sides have approved
			if s.Role == session.RoleHost && s.Local.ApprovedStake && s.Opponent.ApprovedStake && s.StakeTxHash == "" {
				txHash := "smoke-stake-" + s.ID
				if gateway != nil {
					txHash, err = gateway.LockStake(ctx, settlement.LockStakeRequest{
						SessionID:   s.ID,
						HostWallet:  s.Local.WalletAddress,
						GuestWallet: s.Opponent.WalletAddress,
						Stake:       s.Config.StakeAmount,
					})
					if err != nil {
						return fmt.Errorf("lock stake: %w", err)
					}
				}
				if err := ctrl.ConfirmStakeLocked(txHash); err != nil {
					return err
				}
			}

		case session.PhaseStakeLocked:
			if !s.Local.Ready {
				if err := ctrl.SetReady(); err != nil {
					return err
				}
			}

		case session.PhasePlaying:
			score += pace
			ctrl.UpdateLocalMetrics(85+float64(pace), 210+float64(score%40), score)

		case session.PhaseGameOver:
			if s.Role == session.RoleHost && s.SettleTxHash == "" {
				txHash := "smoke-settle-" + s.ID
				if gateway != nil {
					winner := ""
					if s.Winner != nil {
						winner = *s.Winner
					}
					txHash, err = gateway.Settle(ctx, settlement.SettleRequest{
						SessionID:     s.ID,
						WinnerAddress: winner,
						OutcomeHash:   s.OutcomeHash,
					})
					if err != nil {
						return fmt.Errorf("settle: %w", err)
					}
				}
				if err := ctrl.ConfirmSettlement(txHash); err != nil {
					return err
				}
			}

		case session.PhaseSettled:
			logger.Info("match settled",
				"player", name,
				"local", s.LocalScore,
				"opponent", s.OpponentScore,
				"winner", winnerLabel(s),
				"hash", s.OutcomeHash)
			return nil

		case session.PhaseCancelled, session.PhaseDisputed:
			return fmt.Errorf("session ended in %s: %s", s.Phase, s.ErrorMessage)
		}
	}
}

func winnerLabel(s session.Session) string {
	if s.Winner == nil {
		return "draw"
	}
	return *s.Winner
}
