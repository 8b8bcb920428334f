package integration

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"stakematch/internal/auth"
	"stakematch/internal/channel"
	"stakematch/internal/relay"
	"stakematch/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

var e2eSecret = []byte("e2e-test-secret")

func startRelay(t *testing.T) *httptest.Server {
	t.Helper()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	hub := relay.NewHub(nil)
	relay.RegisterRoutes(r, hub, relay.Options{JWTSecret: e2eSecret, MinStake: 1, MaxStake: 1000})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newPlayer(t *testing.T, srv *httptest.Server, name, wallet string) *session.Controller {
	t.Helper()

	token, err := auth.GenerateToken(e2eSecret, auth.Identity{Name: name, WalletAddress: wallet}, time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := channel.Dial(ctx, srv.URL, token)
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })

	mm := channel.NewMatchClient(srv.URL, token)
	c := session.NewController(ch, mm, session.WithIntervals(
		50*time.Millisecond, // countdown
		10*time.Millisecond, // score sync
		40*time.Millisecond, // heartbeat
	))
	t.Cleanup(c.Destroy)
	return c
}

func waitPhase(t *testing.T, c *session.Controller, want session.Phase) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.Snapshot().Phase == want
	}, 5*time.Second, 10*time.Millisecond, "never reached %s (now %s)", want, c.Snapshot().Phase)
}

func TestFullMatchLifecycle(t *testing.T) {
	srv := startRelay(t)

	a := newPlayer(t, srv, "alice", "0xALICE")
	b := newPlayer(t, srv, "bob", "0xBOB")

	cfg := session.Config{GameType: "sprint", Mode: session.ModeWagered, StakeAmount: 10, DurationSeconds: 1}
	ctx := context.Background()
	require.NoError(t, a.JoinQueue(ctx, "alice", "0xALICE", cfg))
	require.NoError(t, b.JoinQueue(ctx, "bob", "0xBOB", cfg))

	waitPhase(t, a, session.PhaseStakePending)
	waitPhase(t, b, session.PhaseStakePending)

	sa, sb := a.Snapshot(), b.Snapshot()
	require.NotEmpty(t, sa.ID)
	require.Equal(t, sa.ID, sb.ID, "both peers must share the session id")
	require.NotEqual(t, sa.Role, sb.Role)

	host, guest := a, b
	if sb.Role == session.RoleHost {
		host, guest = b, a
	}

	require.NoError(t, host.AcceptStake())
	require.NoError(t, guest.AcceptStake())
	require.NoError(t, host.ConfirmStakeLocked("0xSTAKETX"))

	waitPhase(t, host, session.PhaseStakeLocked)
	waitPhase(t, guest, session.PhaseStakeLocked)
	require.Equal(t, "0xSTAKETX", guest.Snapshot().StakeTxHash, "lock tx must propagate")

	require.NoError(t, host.SetReady())
	require.NoError(t, guest.SetReady())

	waitPhase(t, host, session.PhasePlaying)
	waitPhase(t, guest, session.PhasePlaying)
	require.NotZero(t, host.Snapshot().GameStartTime)
	require.NotZero(t, guest.Snapshot().GameStartTime)

	host.UpdateLocalMetrics(92, 260, 30)
	guest.UpdateLocalMetrics(85, 210, 20)

	waitPhase(t, host, session.PhaseGameOver)
	waitPhase(t, guest, session.PhaseGameOver)

	hostWallet := host.Snapshot().Local.WalletAddress
	for _, c := range []*session.Controller{host, guest} {
		s := c.Snapshot()
		require.NotNil(t, s.Winner)
		require.Equal(t, hostWallet, *s.Winner)
		require.Len(t, s.OutcomeHash, 64)
		require.NotZero(t, s.DisputeDeadline)
	}
	require.Equal(t, int64(20), host.Snapshot().OpponentScore)
	require.Equal(t, int64(30), guest.Snapshot().OpponentScore)

	require.NoError(t, host.ConfirmSettlement("0xSETTLETX"))
	waitPhase(t, host, session.PhaseSettled)
	waitPhase(t, guest, session.PhaseSettled)
	require.Equal(t, "0xSETTLETX", guest.Snapshot().SettleTxHash)
}

func TestCancelPropagatesToPeer(t *testing.T) {
	srv := startRelay(t)

	a := newPlayer(t, srv, "alice", "0xALICE")
	b := newPlayer(t, srv, "bob", "0xBOB")

	cfg := session.Config{GameType: "sprint", Mode: session.ModeWagered, StakeAmount: 10, DurationSeconds: 60}
	ctx := context.Background()
	require.NoError(t, a.JoinQueue(ctx, "alice", "0xALICE", cfg))
	require.NoError(t, b.JoinQueue(ctx, "bob", "0xBOB", cfg))

	waitPhase(t, a, session.PhaseStakePending)
	waitPhase(t, b, session.PhaseStakePending)

	require.NoError(t, a.CancelSession("changed my mind"))
	require.Equal(t, session.PhaseCancelled, a.Snapshot().Phase)

	waitPhase(t, b, session.PhaseCancelled)
	require.Equal(t, "cancelled by opponent", b.Snapshot().ErrorMessage)
}

func TestDisputeAfterFinish(t *testing.T) {
	srv := startRelay(t)

	a := newPlayer(t, srv, "alice", "0xALICE")
	b := newPlayer(t, srv, "bob", "0xBOB")

	cfg := session.Config{GameType: "sprint", Mode: session.ModeWagered, StakeAmount: 10, DurationSeconds: 1}
	ctx := context.Background()
	require.NoError(t, a.JoinQueue(ctx, "alice", "0xALICE", cfg))
	require.NoError(t, b.JoinQueue(ctx, "bob", "0xBOB", cfg))

	waitPhase(t, a, session.PhaseStakePending)
	waitPhase(t, b, session.PhaseStakePending)

	host, guest := a, b
	if b.Snapshot().Role == session.RoleHost {
		host, guest = b, a
	}

	require.NoError(t, host.AcceptStake())
	require.NoError(t, guest.AcceptStake())
	require.NoError(t, host.ConfirmStakeLocked("0xSTAKETX"))
	waitPhase(t, guest, session.PhaseStakeLocked)
	require.NoError(t, host.SetReady())
	require.NoError(t, guest.SetReady())

	waitPhase(t, host, session.PhaseGameOver)
	waitPhase(t, guest, session.PhaseGameOver)

	require.NoError(t, guest.RaiseDispute("scores do not match my log"))
	require.Equal(t, session.PhaseDisputed, guest.Snapshot().Phase)

	waitPhase(t, host, session.PhaseDisputed)
}
