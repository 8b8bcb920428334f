package relay

import (
	"context"
	"sync"
	"time"

	"stakematch/internal/domain"
	"stakematch/internal/logger"
	"stakematch/internal/protocol"
	"stakematch/internal/repository"

	"github.com/google/uuid"
)

// QueueTerms are the match terms a player joins the queue with. Peers are
// only paired on identical terms; the first joiner's terms become the
// proposal and the first joiner becomes the host.
type QueueTerms struct {
	GameType        string `json:"game_type"`
	Mode            string `json:"mode"`
	Stake           int64  `json:"stake"`
	DurationSeconds int    `json:"duration_seconds"`
}

type queueKey struct {
	gameType string
	mode     string
	stake    int64
}

type pairing struct {
	ID        string
	Terms     QueueTerms
	Host      *Client
	Guest     *Client
	recorded  bool
	createdAt time.Time
}

func (p *pairing) peerOf(c *Client) *Client {
	if p.Host == c {
		return p.Guest
	}
	if p.Guest == c {
		return p.Host
	}
	return nil
}

type waitEntry struct {
	client *Client
	terms  QueueTerms
}

// Hub owns every live connection and pairing. It forwards envelopes
// between the two peers of a session without interpreting game payloads;
// the only frames it inspects are the terminal ones it archives.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*Client // wallet → connection
	waiting  map[queueKey]*waitEntry
	sessions map[string]*pairing
	byWallet map[string]string // wallet → session id

	repo *repository.MatchRepository // optional archive
}

func NewHub(repo *repository.MatchRepository) *Hub {
	return &Hub{
		conns:    make(map[string]*Client),
		waiting:  make(map[queueKey]*waitEntry),
		sessions: make(map[string]*pairing),
		byWallet: make(map[string]string),
		repo:     repo,
	}
}

// RegisterConn adopts a freshly upgraded connection. A reconnect replaces
// the previous connection for the same wallet.
func (h *Hub) RegisterConn(c *Client) {
	h.mu.Lock()
	if old, ok := h.conns[c.Identity.WalletAddress]; ok && old != c {
		old.close()
	}
	h.conns[c.Identity.WalletAddress] = c
	h.mu.Unlock()

	ConnectionsTotal.Inc()
	logger.Info("relay: connected", "wallet", c.Identity.WalletAddress, "name", c.Identity.Name)
}

// JoinQueue places the wallet's connection into the waiting slot for its
// terms, pairing immediately when a compatible peer is already waiting.
func (h *Hub) JoinQueue(wallet string, terms QueueTerms) error {
	h.mu.Lock()

	c, ok := h.conns[wallet]
	if !ok {
		h.mu.Unlock()
		return ErrNotConnected
	}

	key := queueKey{gameType: terms.GameType, mode: terms.Mode, stake: terms.Stake}

	waiting := h.waiting[key]
	if waiting != nil && waiting.client.Identity.WalletAddress == wallet {
		// rejoin with same terms refreshes the slot
		h.waiting[key] = &waitEntry{client: c, terms: terms}
		h.mu.Unlock()
		return nil
	}

	if waiting == nil {
		h.waiting[key] = &waitEntry{client: c, terms: terms}
		h.mu.Unlock()
		QueueJoins.Inc()
		logger.Info("relay: waiting for opponent", "wallet", wallet, "game_type", terms.GameType, "stake", terms.Stake)
		return nil
	}

	// pair: the earlier waiter hosts and its terms become the proposal
	delete(h.waiting, key)
	p := &pairing{
		ID:        uuid.NewString(),
		Terms:     waiting.terms,
		Host:      waiting.client,
		Guest:     c,
		createdAt: time.Now(),
	}
	h.sessions[p.ID] = p
	h.byWallet[p.Host.Identity.WalletAddress] = p.ID
	h.byWallet[p.Guest.Identity.WalletAddress] = p.ID
	h.mu.Unlock()

	QueueJoins.Inc()
	MatchesStarted.Inc()
	logger.Info("relay: paired", "session_id", p.ID,
		"host", p.Host.Identity.WalletAddress, "guest", p.Guest.Identity.WalletAddress)

	h.announce(p)
	return nil
}

// announce delivers the match offer: each peer learns its seat and its
// opponent's identity, then both receive the host's terms as the proposal.
func (h *Hub) announce(p *pairing) {
	hostInfo, err := protocol.NewJSON(protocol.MsgPlayerInfo, p.ID, protocol.PlayerInfoPayload{
		Name:          p.Guest.Identity.Name,
		WalletAddress: p.Guest.Identity.WalletAddress,
		Role:          "HOST",
	})
	if err == nil {
		p.Host.Enqueue(hostInfo)
	}

	guestInfo, err := protocol.NewJSON(protocol.MsgPlayerInfo, p.ID, protocol.PlayerInfoPayload{
		Name:          p.Host.Identity.Name,
		WalletAddress: p.Host.Identity.WalletAddress,
		Role:          "GUEST",
	})
	if err == nil {
		p.Guest.Enqueue(guestInfo)
	}

	proposal, err := protocol.NewJSON(protocol.MsgStakeProposal, p.ID, protocol.StakeProposalPayload{
		GameType:        p.Terms.GameType,
		StakeAmount:     p.Terms.Stake,
		DurationSeconds: p.Terms.DurationSeconds,
	})
	if err == nil {
		p.Host.Enqueue(proposal)
		p.Guest.Enqueue(proposal)
	}
}

// LeaveQueue clears any waiting slot held by the wallet.
func (h *Hub) LeaveQueue(wallet string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for key, entry := range h.waiting {
		if entry.client.Identity.WalletAddress == wallet {
			delete(h.waiting, key)
		}
	}
}

// AcceptMatch is the matchmaking acknowledgment; pairing already happened,
// so there is nothing to do beyond validating the claim.
func (h *Hub) AcceptMatch(wallet, sessionID string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.byWallet[wallet] != sessionID {
		return ErrUnknownSession
	}
	return nil
}

// DeclineMatch tears the pairing down and notifies both peers.
func (h *Hub) DeclineMatch(wallet, sessionID string) error {
	h.mu.Lock()
	p, ok := h.sessions[sessionID]
	if !ok || h.byWallet[wallet] != sessionID {
		h.mu.Unlock()
		return ErrUnknownSession
	}
	h.dropSessionLocked(p)
	h.mu.Unlock()

	cancel := protocol.NewSignal(protocol.MsgCancel, sessionID)
	p.Host.Enqueue(cancel)
	p.Guest.Enqueue(cancel)
	return nil
}

// Route forwards one envelope from a session peer to the other peer.
func (h *Hub) Route(c *Client, env protocol.Envelope) {
	h.mu.RLock()
	p, ok := h.sessions[env.SessionID]
	h.mu.RUnlock()

	if !ok {
		logger.Warn("relay: envelope for unknown session dropped",
			"wallet", c.Identity.WalletAddress, "type", env.Type, "session_id", env.SessionID)
		return
	}

	peer := p.peerOf(c)
	if peer == nil {
		logger.Warn("relay: sender not a session peer", "wallet", c.Identity.WalletAddress, "session_id", env.SessionID)
		return
	}

	peer.Enqueue(env)
	EnvelopesRelayed.WithLabelValues(string(env.Type)).Inc()

	switch env.Type {
	case protocol.MsgGameEnd:
		h.recordOutcome(p, c, env)
	case protocol.MsgSettlementConfirm:
		h.recordSettlement(p, env)
	case protocol.MsgDisputeRaise:
		h.recordDispute(p)
	case protocol.MsgCancel:
		h.mu.Lock()
		h.dropSessionLocked(p)
		h.mu.Unlock()
	}
}

// OnDisconnect clears the wallet's queue slot and cancels any live session
// toward the surviving peer.
func (h *Hub) OnDisconnect(c *Client) {
	wallet := c.Identity.WalletAddress

	h.mu.Lock()
	if cur, ok := h.conns[wallet]; ok && cur == c {
		delete(h.conns, wallet)
	}
	for key, entry := range h.waiting {
		if entry.client == c {
			delete(h.waiting, key)
		}
	}

	var peer *Client
	var sessionID string
	if id, ok := h.byWallet[wallet]; ok {
		if p, ok := h.sessions[id]; ok {
			peer = p.peerOf(c)
			sessionID = p.ID
			h.dropSessionLocked(p)
		}
	}
	h.mu.Unlock()

	logger.Info("relay: disconnected", "wallet", wallet)

	if peer != nil {
		peer.Enqueue(protocol.NewSignal(protocol.MsgCancel, sessionID))
	}
}

// History returns the wallet's archived matches, newest first. Without an
// archive it returns an empty list.
func (h *Hub) History(ctx context.Context, wallet string) ([]*domain.Match, error) {
	if h.repo == nil {
		return nil, nil
	}
	return h.repo.GetByWallet(ctx, wallet)
}

// StartCleanup reaps pairings whose lifetime exceeded an hour; a wagered
// session that old is abandoned.
func (h *Hub) StartCleanup() {
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()

		for range ticker.C {
			h.cleanupStale()
		}
	}()
}

func (h *Hub) cleanupStale() {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	for _, p := range h.sessions {
		if now.Sub(p.createdAt) > time.Hour {
			h.dropSessionLocked(p)
			logger.Info("relay: reaped stale session", "session_id", p.ID)
		}
	}
}

func (h *Hub) dropSessionLocked(p *pairing) {
	delete(h.sessions, p.ID)
	if h.byWallet[p.Host.Identity.WalletAddress] == p.ID {
		delete(h.byWallet, p.Host.Identity.WalletAddress)
	}
	if h.byWallet[p.Guest.Identity.WalletAddress] == p.ID {
		delete(h.byWallet, p.Guest.Identity.WalletAddress)
	}
}

// recordOutcome archives the first GAME_END seen for a session, reoriented
// to the host's perspective.
func (h *Hub) recordOutcome(p *pairing, sender *Client, env protocol.Envelope) {
	var payload protocol.GameEndPayload
	if err := protocol.ParsePayload(env, &payload); err != nil {
		logger.Warn("relay: unreadable game end payload", "session_id", p.ID, "err", err)
		return
	}

	h.mu.Lock()
	if p.recorded {
		h.mu.Unlock()
		return
	}
	p.recorded = true
	h.mu.Unlock()

	MatchesFinished.Inc()

	if h.repo == nil {
		return
	}

	hostScore, guestScore := payload.FinalScore, payload.OpponentFinalScore
	if sender == p.Guest {
		hostScore, guestScore = guestScore, hostScore
	}

	var winner *string
	if payload.WinnerAddress != "" {
		w := payload.WinnerAddress
		winner = &w
	}

	m := &domain.Match{
		SessionID:   p.ID,
		GameType:    p.Terms.GameType,
		HostWallet:  p.Host.Identity.WalletAddress,
		GuestWallet: p.Guest.Identity.WalletAddress,
		Stake:       p.Terms.Stake,
		HostScore:   hostScore,
		GuestScore:  guestScore,
		Winner:      winner,
		OutcomeHash: payload.GameHash,
		Status:      domain.MatchStatusFinished,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.repo.Create(ctx, m); err != nil {
			logger.Error("relay: archive match failed", "session_id", p.ID, "err", err)
		}
	}()
}

func (h *Hub) recordSettlement(p *pairing, env protocol.Envelope) {
	MatchesSettled.Inc()

	if h.repo == nil {
		return
	}

	var payload protocol.SettlementConfirmPayload
	if err := protocol.ParsePayload(env, &payload); err != nil {
		logger.Warn("relay: unreadable settlement payload", "session_id", p.ID, "err", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.repo.MarkSettled(ctx, p.ID, payload.SettlementTxHash); err != nil {
			logger.Error("relay: mark settled failed", "session_id", p.ID, "err", err)
		}
	}()
}

func (h *Hub) recordDispute(p *pairing) {
	MatchesDisputed.Inc()

	if h.repo == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.repo.MarkDisputed(ctx, p.ID); err != nil {
			logger.Error("relay: mark disputed failed", "session_id", p.ID, "err", err)
		}
	}()
}
