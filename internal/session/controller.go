package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"stakematch/internal/logger"
	"stakematch/internal/protocol"
)

const (
	defaultCountdownDelay    = 3000 * time.Millisecond
	defaultSyncInterval      = 100 * time.Millisecond
	defaultHeartbeatInterval = 5000 * time.Millisecond
	defaultDisputeWindow     = 5 * time.Minute
)

var (
	// ErrNoSession is returned by operations that require an active session.
	ErrNoSession = errors.New("no active session")

	// ErrInvalidPhase marks an operation that is not legal in the current
	// phase. State is left unchanged.
	ErrInvalidPhase = errors.New("operation not valid in current phase")

	// ErrDisputeWindowClosed is the policy rejection for disputes raised
	// past the deadline.
	ErrDisputeWindowClosed = errors.New("dispute window closed")
)

func phaseErr(op string, p Phase) error {
	return fmt.Errorf("%s in phase %q: %w", op, p, ErrInvalidPhase)
}

// Channel carries envelopes to and from the opponent through the relay.
// Implementations must not invoke the listener synchronously from Send.
type Channel interface {
	Send(protocol.Envelope) error
	SetListener(func(protocol.Envelope))
}

// Matchmaker is the queue service front door. All requests are
// fire-and-forget; the matched session arrives later as inbound envelopes.
type Matchmaker interface {
	JoinQueue(ctx context.Context, gameType string, mode Mode, stake int64, durationSeconds int) error
	LeaveQueue(ctx context.Context) error
	AcceptMatch(ctx context.Context, sessionID string) error
	DeclineMatch(ctx context.Context, sessionID string) error
}

// Controller owns one Session and runs its protocol state machine. All
// mutation is serialized behind the mutex; the three background timers and
// the inbound dispatch re-check the phase at every wake so a stale timer
// never acts on a session that has moved on.
type Controller struct {
	ch  Channel
	mm  Matchmaker
	log *slog.Logger

	mu sync.RWMutex
	s  Session

	cadence float64
	power   float64

	countdown   *time.Timer
	playingDone chan struct{}

	countdownDelay    time.Duration
	syncInterval      time.Duration
	heartbeatInterval time.Duration
	disputeWindow     time.Duration

	now func() time.Time
}

// Option tunes a Controller. Intervals default to the protocol values
// (3 s countdown, 100 ms score sync, 5 s heartbeat, 5 min dispute window).
type Option func(*Controller)

func WithIntervals(countdown, scoreSync, heartbeat time.Duration) Option {
	return func(c *Controller) {
		c.countdownDelay = countdown
		c.syncInterval = scoreSync
		c.heartbeatInterval = heartbeat
	}
}

func WithDisputeWindow(d time.Duration) Option {
	return func(c *Controller) { c.disputeWindow = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController wires the controller as the channel's single listener.
func NewController(ch Channel, mm Matchmaker, opts ...Option) *Controller {
	c := &Controller{
		ch:                ch,
		mm:                mm,
		log:               logger.With("component", "session"),
		countdownDelay:    defaultCountdownDelay,
		syncInterval:      defaultSyncInterval,
		heartbeatInterval: defaultHeartbeatInterval,
		disputeWindow:     defaultDisputeWindow,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if ch != nil {
		ch.SetListener(c.HandleEnvelope)
	}
	return c
}

// Snapshot returns a copy of the current session state.
func (c *Controller) Snapshot() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.s
	if c.s.Winner != nil {
		w := *c.s.Winner
		s.Winner = &w
	}
	return s
}

// JoinQueue discards any prior session, builds a placeholder for the new
// one and registers with the matchmaking service. The session id stays
// empty until the relay delivers the match.
func (c *Controller) JoinQueue(ctx context.Context, name, wallet string, cfg Config) error {
	c.mu.Lock()
	c.stopTimersLocked()
	c.s = Session{
		Phase:  PhaseQueued,
		Local:  Player{Name: name, WalletAddress: wallet},
		Config: cfg,
	}
	c.cadence, c.power = 0, 0
	c.mu.Unlock()

	c.log.Info("joined queue", "game_type", cfg.GameType, "mode", cfg.Mode, "stake", cfg.StakeAmount)

	if c.mm == nil {
		return nil
	}
	if err := c.mm.JoinQueue(ctx, cfg.GameType, cfg.Mode, cfg.StakeAmount, cfg.DurationSeconds); err != nil {
		c.mu.Lock()
		c.s.ErrorMessage = err.Error()
		c.mu.Unlock()
		return fmt.Errorf("join queue: %w", err)
	}
	return nil
}

// LeaveQueue withdraws an unmatched placeholder session.
func (c *Controller) LeaveQueue(ctx context.Context) error {
	c.mu.Lock()
	if c.s.Phase == PhaseQueued {
		c.s.Phase = PhaseCancelled
		c.s.ErrorMessage = "left queue"
	}
	c.mu.Unlock()

	if c.mm == nil {
		return nil
	}
	return c.mm.LeaveQueue(ctx)
}

// AcceptMatch acknowledges a delivered match offer with the matchmaker.
func (c *Controller) AcceptMatch(ctx context.Context) error {
	c.mu.RLock()
	id := c.s.ID
	c.mu.RUnlock()

	if id == "" {
		return ErrNoSession
	}
	if c.mm == nil {
		return nil
	}
	return c.mm.AcceptMatch(ctx, id)
}

// DeclineMatch declines a delivered match offer and cancels the session.
func (c *Controller) DeclineMatch(ctx context.Context) error {
	c.mu.Lock()
	id := c.s.ID
	if id == "" {
		c.mu.Unlock()
		return ErrNoSession
	}
	if !c.s.Phase.Terminal() {
		c.cancelLocked("match declined")
	}
	c.mu.Unlock()

	if c.mm == nil {
		return nil
	}
	return c.mm.DeclineMatch(ctx, id)
}

// AcceptStake approves the proposed terms.
func (c *Controller) AcceptStake() error {
	c.mu.Lock()
	if c.s.Phase != PhaseStakePending {
		p := c.s.Phase
		c.mu.Unlock()
		return phaseErr("accept stake", p)
	}
	c.s.Local.ApprovedStake = true
	env := protocol.NewSignal(protocol.MsgStakeAccepted, c.s.ID)
	c.mu.Unlock()

	return c.send(env)
}

// RejectStake declines the proposed terms and cancels the session.
func (c *Controller) RejectStake() error {
	c.mu.Lock()
	if c.s.Phase != PhaseStakePending {
		p := c.s.Phase
		c.mu.Unlock()
		return phaseErr("reject stake", p)
	}
	env := protocol.NewSignal(protocol.MsgStakeRejected, c.s.ID)
	c.cancelLocked("stake rejected")
	c.mu.Unlock()

	return c.send(env)
}

// ConfirmStakeLocked records the on-chain lock transaction and announces it.
func (c *Controller) ConfirmStakeLocked(txHash string) error {
	c.mu.Lock()
	if c.s.Phase != PhaseStakePending && c.s.Phase != PhaseStakeLocked {
		p := c.s.Phase
		c.mu.Unlock()
		return phaseErr("confirm stake locked", p)
	}
	if c.s.StakeTxHash == "" {
		c.s.StakeTxHash = txHash
	}
	c.s.Local.ApprovedStake = true
	c.s.Phase = PhaseStakeLocked
	env := protocol.NewRaw(protocol.MsgStakeLocked, c.s.ID, txHash)
	c.mu.Unlock()

	c.log.Info("stake locked", "tx", txHash)
	return c.send(env)
}

// SetReady signals readiness. When the host sees both sides ready it
// starts the countdown.
func (c *Controller) SetReady() error {
	c.mu.Lock()
	if c.s.Phase != PhaseStakeLocked {
		p := c.s.Phase
		c.mu.Unlock()
		return phaseErr("set ready", p)
	}
	c.s.Local.Ready = true
	out := []protocol.Envelope{protocol.NewSignal(protocol.MsgReady, c.s.ID)}
	if c.s.Role == RoleHost && c.s.Opponent.Ready {
		out = append(out, c.startCountdownLocked()...)
	}
	c.mu.Unlock()

	return c.send(out...)
}

// UpdateLocalMetrics feeds the latest sample from the metrics source.
// The local score never decreases.
func (c *Controller) UpdateLocalMetrics(cadence, power float64, score int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.s.Phase.Terminal() {
		return
	}
	c.cadence = cadence
	c.power = power
	if score > c.s.LocalScore {
		c.s.LocalScore = score
	}
}

// ConfirmSettlement records the payout transaction and closes the session.
func (c *Controller) ConfirmSettlement(txHash string) error {
	c.mu.Lock()
	if c.s.Phase != PhaseGameOver {
		p := c.s.Phase
		c.mu.Unlock()
		return phaseErr("confirm settlement", p)
	}
	c.s.SettleTxHash = txHash
	c.s.Phase = PhaseSettled
	payload := protocol.SettlementConfirmPayload{
		WinnerAddress:    derefWallet(c.s.Winner),
		SettlementTxHash: txHash,
	}
	env, err := protocol.NewJSON(protocol.MsgSettlementConfirm, c.s.ID, payload)
	c.mu.Unlock()

	if err != nil {
		return err
	}
	c.log.Info("settlement confirmed", "tx", txHash)
	return c.send(env)
}

// RaiseDispute contests the outcome. Past the deadline this is a policy
// rejection with no state change.
func (c *Controller) RaiseDispute(evidence string) error {
	c.mu.Lock()
	if c.s.Phase != PhaseGameOver {
		p := c.s.Phase
		c.mu.Unlock()
		return phaseErr("raise dispute", p)
	}
	if c.now().UnixMilli() > c.s.DisputeDeadline {
		c.mu.Unlock()
		c.log.Warn("dispute rejected, window closed")
		return ErrDisputeWindowClosed
	}
	c.s.Phase = PhaseDisputed
	env := protocol.NewRaw(protocol.MsgDisputeRaise, c.s.ID, evidence)
	c.mu.Unlock()

	c.log.Warn("dispute raised")
	return c.send(env)
}

// CancelSession aborts the session from any non-terminal phase. Cancelling
// an already-terminal session is a no-op.
func (c *Controller) CancelSession(reason string) error {
	c.mu.Lock()
	if c.s.Phase == PhaseNone {
		c.mu.Unlock()
		return ErrNoSession
	}
	if c.s.Phase.Terminal() {
		c.mu.Unlock()
		return nil
	}
	env := protocol.NewSignal(protocol.MsgCancel, c.s.ID)
	c.cancelLocked(reason)
	c.mu.Unlock()

	return c.send(env)
}

// Destroy stops every timer and clears the session unconditionally.
func (c *Controller) Destroy() {
	c.mu.Lock()
	c.stopTimersLocked()
	c.s = Session{}
	c.cadence, c.power = 0, 0
	c.mu.Unlock()
}

// HandleEnvelope dispatches one inbound envelope by type. Malformed or
// out-of-phase envelopes are logged and dropped; dispatch never fails.
func (c *Controller) HandleEnvelope(env protocol.Envelope) {
	c.mu.Lock()
	if c.s.ID != "" && env.SessionID != "" && env.SessionID != c.s.ID {
		c.mu.Unlock()
		c.log.Warn("envelope for foreign session dropped", "type", env.Type, "session_id", env.SessionID)
		return
	}

	var out []protocol.Envelope
	switch env.Type {
	case protocol.MsgPlayerInfo:
		c.onPlayerInfo(env)
	case protocol.MsgStakeProposal:
		c.onStakeProposal(env)
	case protocol.MsgStakeAccepted:
		c.onStakeAccepted()
	case protocol.MsgStakeRejected:
		c.onStakeRejected()
	case protocol.MsgStakeLocked:
		c.onStakeLocked(env)
	case protocol.MsgReady:
		out = c.onReady()
	case protocol.MsgCountdownStart:
		c.onCountdownStart()
	case protocol.MsgGameStart:
		c.onGameStart()
	case protocol.MsgGameState:
		c.onGameState(env)
	case protocol.MsgGameEnd:
		c.onGameEnd(env)
	case protocol.MsgSettlementConfirm:
		c.onSettlementConfirm(env)
	case protocol.MsgDisputeRaise:
		c.onDisputeRaise()
	case protocol.MsgCancel:
		c.onCancel()
	case protocol.MsgError:
		c.s.ErrorMessage = env.Payload
	case protocol.MsgHeartbeat:
		// liveness only; silent-disconnect detection lives in the relay
	default:
		c.log.Warn("unknown envelope dropped", "type", env.Type)
	}
	c.mu.Unlock()

	if len(out) > 0 {
		_ = c.send(out...)
	}
}

func (c *Controller) onPlayerInfo(env protocol.Envelope) {
	var p protocol.PlayerInfoPayload
	if err := protocol.ParsePayload(env, &p); err != nil {
		c.log.Warn("bad player info payload", "err", err)
		return
	}
	if c.s.ID == "" {
		c.s.ID = env.SessionID
	}
	c.s.Opponent.Name = p.Name
	c.s.Opponent.WalletAddress = p.WalletAddress
	if c.s.Role == "" && p.Role != "" {
		c.s.Role = Role(p.Role)
	}
	c.log.Info("matched", "session_id", c.s.ID, "role", c.s.Role, "opponent", p.Name)
}

func (c *Controller) onStakeProposal(env protocol.Envelope) {
	if c.s.Phase != PhaseQueued {
		// duplicate delivery after adoption
		return
	}
	var p protocol.StakeProposalPayload
	if err := protocol.ParsePayload(env, &p); err != nil {
		c.log.Warn("bad stake proposal payload", "err", err)
		return
	}
	if c.s.ID == "" {
		c.s.ID = env.SessionID
	}
	c.s.Config.GameType = p.GameType
	c.s.Config.StakeAmount = p.StakeAmount
	c.s.Config.DurationSeconds = p.DurationSeconds
	c.s.Phase = PhaseStakePending
	c.log.Info("stake proposed", "stake", p.StakeAmount, "duration_s", p.DurationSeconds)
}

func (c *Controller) onStakeAccepted() {
	if c.s.Phase.Terminal() {
		return
	}
	c.s.Opponent.ApprovedStake = true
}

func (c *Controller) onStakeRejected() {
	if c.s.Phase.Terminal() {
		return
	}
	c.cancelLocked("stake rejected by opponent")
}

func (c *Controller) onStakeLocked(env protocol.Envelope) {
	switch c.s.Phase {
	case PhaseQueued, PhaseStakePending, PhaseStakeLocked, PhaseCountdown:
	default:
		return
	}
	if c.s.StakeTxHash == "" {
		c.s.StakeTxHash = env.Payload
	}
	c.s.Opponent.ApprovedStake = true
	if c.s.Phase == PhaseQueued || c.s.Phase == PhaseStakePending {
		c.s.Phase = PhaseStakeLocked
	}
}

func (c *Controller) onReady() []protocol.Envelope {
	if c.s.Phase.Terminal() || c.s.Phase == PhaseGameOver {
		return nil
	}
	c.s.Opponent.Ready = true
	if c.s.Role == RoleHost && c.s.Local.Ready && c.s.Phase == PhaseStakeLocked {
		return c.startCountdownLocked()
	}
	return nil
}

func (c *Controller) onCountdownStart() {
	if c.s.Phase != PhaseStakeLocked {
		return
	}
	c.s.Phase = PhaseCountdown
	c.scheduleCountdownLocked()
}

func (c *Controller) onGameStart() {
	switch c.s.Phase {
	case PhaseCountdown:
	case PhaseStakeLocked:
		// start arrived before the countdown announcement
	default:
		return
	}
	c.stopCountdownLocked()
	c.enterPlayingLocked()
}

func (c *Controller) onGameState(env protocol.Envelope) {
	if c.s.Phase != PhasePlaying {
		return
	}
	var p protocol.GameStatePayload
	if err := protocol.ParsePayload(env, &p); err != nil {
		c.log.Warn("bad game state payload", "err", err)
		return
	}
	// last value wins
	c.s.OpponentScore = p.Score
}

func (c *Controller) onGameEnd(env protocol.Envelope) {
	if c.s.Phase != PhasePlaying {
		return
	}
	var p protocol.GameEndPayload
	if err := protocol.ParsePayload(env, &p); err != nil {
		c.log.Warn("bad game end payload", "err", err)
		return
	}
	c.stopPlayingLocked()
	c.s.OpponentScore = p.FinalScore
	if p.WinnerAddress != "" {
		w := p.WinnerAddress
		c.s.Winner = &w
	} else {
		c.s.Winner = nil
	}
	c.s.OutcomeHash = OutcomeHash(c.s.ID,
		c.s.Local.WalletAddress, c.s.Opponent.WalletAddress,
		c.s.LocalScore, c.s.OpponentScore, c.s.GameStartTime)
	c.s.Phase = PhaseGameOver
	if c.s.DisputeDeadline == 0 {
		c.s.DisputeDeadline = c.now().Add(c.disputeWindow).UnixMilli()
	}
	c.log.Info("game over (remote)", "local", c.s.LocalScore, "opponent", c.s.OpponentScore)
}

func (c *Controller) onSettlementConfirm(env protocol.Envelope) {
	if c.s.Phase != PhaseGameOver {
		return
	}
	var p protocol.SettlementConfirmPayload
	if err := protocol.ParsePayload(env, &p); err != nil {
		c.log.Warn("bad settlement payload", "err", err)
		return
	}
	c.s.SettleTxHash = p.SettlementTxHash
	c.s.Phase = PhaseSettled
}

func (c *Controller) onDisputeRaise() {
	if c.s.Phase != PhaseGameOver {
		return
	}
	if c.now().UnixMilli() > c.s.DisputeDeadline {
		c.log.Warn("remote dispute past deadline dropped")
		return
	}
	c.s.Phase = PhaseDisputed
}

func (c *Controller) onCancel() {
	if c.s.Phase == PhaseNone || c.s.Phase.Terminal() {
		return
	}
	c.cancelLocked("cancelled by opponent")
}

// startCountdownLocked arms the one-shot countdown and returns the
// broadcast announcing it. Host only; requires both sides ready.
func (c *Controller) startCountdownLocked() []protocol.Envelope {
	if c.s.Phase != PhaseStakeLocked || !c.s.Local.Ready || !c.s.Opponent.Ready {
		return nil
	}
	c.s.Phase = PhaseCountdown
	c.scheduleCountdownLocked()
	c.log.Info("countdown started", "delay", c.countdownDelay)
	return []protocol.Envelope{protocol.NewSignal(protocol.MsgCountdownStart, c.s.ID)}
}

func (c *Controller) scheduleCountdownLocked() {
	if c.countdown != nil {
		c.countdown.Stop()
	}
	c.countdown = time.AfterFunc(c.countdownDelay, func() {
		c.mu.Lock()
		if c.s.Phase != PhaseCountdown {
			// stale wake, the session has moved on
			c.mu.Unlock()
			return
		}
		out := c.enterPlayingLocked()
		c.mu.Unlock()
		_ = c.send(out...)
	})
}

// enterPlayingLocked transitions into PLAYING, stamps the start time once
// and launches the score sync and heartbeat loops. The host additionally
// broadcasts GAME_START.
func (c *Controller) enterPlayingLocked() []protocol.Envelope {
	c.s.Phase = PhasePlaying
	if c.s.GameStartTime == 0 {
		c.s.GameStartTime = c.now().UnixMilli()
	}
	done := make(chan struct{})
	c.playingDone = done
	go c.scoreSyncLoop(done)
	go c.heartbeatLoop(done)

	c.log.Info("playing", "session_id", c.s.ID, "start_ms", c.s.GameStartTime)

	if c.s.Role == RoleHost {
		return []protocol.Envelope{protocol.NewSignal(protocol.MsgGameStart, c.s.ID)}
	}
	return nil
}

// finishLocked determines the winner, computes the outcome hash, opens the
// dispute window and returns the GAME_END broadcast.
func (c *Controller) finishLocked() []protocol.Envelope {
	c.stopPlayingLocked()
	c.s.Winner = winnerOf(c.s.Local.WalletAddress, c.s.Opponent.WalletAddress, c.s.LocalScore, c.s.OpponentScore)
	c.s.OutcomeHash = OutcomeHash(c.s.ID,
		c.s.Local.WalletAddress, c.s.Opponent.WalletAddress,
		c.s.LocalScore, c.s.OpponentScore, c.s.GameStartTime)
	c.s.Phase = PhaseGameOver
	if c.s.DisputeDeadline == 0 {
		c.s.DisputeDeadline = c.now().Add(c.disputeWindow).UnixMilli()
	}

	c.log.Info("game over", "local", c.s.LocalScore, "opponent", c.s.OpponentScore, "winner", derefWallet(c.s.Winner))

	payload := protocol.GameEndPayload{
		FinalScore:         c.s.LocalScore,
		OpponentFinalScore: c.s.OpponentScore,
		WinnerAddress:      derefWallet(c.s.Winner),
		GameHash:           c.s.OutcomeHash,
	}
	env, err := protocol.NewJSON(protocol.MsgGameEnd, c.s.ID, payload)
	if err != nil {
		c.log.Error("marshal game end", "err", err)
		return nil
	}
	return []protocol.Envelope{env}
}

func (c *Controller) scoreSyncLoop(done <-chan struct{}) {
	ticker := time.NewTicker(c.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.s.Phase != PhasePlaying {
				c.mu.Unlock()
				return
			}
			elapsed := c.now().UnixMilli() - c.s.GameStartTime
			total := int64(c.s.Config.DurationSeconds) * 1000
			if total > 0 && elapsed >= total {
				out := c.finishLocked()
				c.mu.Unlock()
				_ = c.send(out...)
				return
			}
			payload := protocol.GameStatePayload{
				ElapsedMs: elapsed,
				Score:     c.s.LocalScore,
				Cadence:   c.cadence,
				Power:     c.power,
				Position:  position(elapsed, total),
			}
			env, err := protocol.NewJSON(protocol.MsgGameState, c.s.ID, payload)
			c.mu.Unlock()
			if err != nil {
				c.log.Error("marshal game state", "err", err)
				continue
			}
			_ = c.send(env)
		}
	}
}

func (c *Controller) heartbeatLoop(done <-chan struct{}) {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.s.Phase != PhasePlaying {
				c.mu.Unlock()
				return
			}
			env := protocol.NewSignal(protocol.MsgHeartbeat, c.s.ID)
			c.mu.Unlock()
			_ = c.send(env)
		}
	}
}

func (c *Controller) cancelLocked(reason string) {
	c.stopTimersLocked()
	c.s.Phase = PhaseCancelled
	c.s.ErrorMessage = reason
	c.log.Info("session cancelled", "reason", reason)
}

func (c *Controller) stopTimersLocked() {
	c.stopCountdownLocked()
	c.stopPlayingLocked()
}

func (c *Controller) stopCountdownLocked() {
	if c.countdown != nil {
		c.countdown.Stop()
		c.countdown = nil
	}
}

func (c *Controller) stopPlayingLocked() {
	if c.playingDone != nil {
		close(c.playingDone)
		c.playingDone = nil
	}
}

func (c *Controller) send(envs ...protocol.Envelope) error {
	for _, env := range envs {
		if err := c.ch.Send(env); err != nil {
			c.log.Error("send failed", "type", env.Type, "err", err)
			return fmt.Errorf("send %s: %w", env.Type, err)
		}
	}
	return nil
}

func winnerOf(localWallet, opponentWallet string, localScore, opponentScore int64) *string {
	switch {
	case localScore > opponentScore:
		return &localWallet
	case opponentScore > localScore:
		return &opponentWallet
	default:
		return nil
	}
}

func position(elapsed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(elapsed) / float64(total)
}

func derefWallet(w *string) string {
	if w == nil {
		return ""
	}
	return *w
}
