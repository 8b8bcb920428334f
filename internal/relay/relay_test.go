package relay

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stakematch/internal/auth"
	"stakematch/internal/protocol"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var relaySecret = []byte("relay-test-secret")

func newRelayServer(t *testing.T) *httptest.Server {
	t.Helper()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	hub := NewHub(nil)
	RegisterRoutes(r, hub, Options{JWTSecret: relaySecret, MinStake: 1, MaxStake: 1000})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func mintToken(t *testing.T, name, wallet string) string {
	t.Helper()
	token, err := auth.GenerateToken(relaySecret, auth.Identity{Name: name, WalletAddress: wallet}, time.Hour)
	require.NoError(t, err)
	return token
}

func dialWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func joinQueue(t *testing.T, srv *httptest.Server, token string, terms QueueTerms) *http.Response {
	t.Helper()

	body, err := json.Marshal(terms)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/queue/join", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	env, err := protocol.Decode(raw)
	require.NoError(t, err)
	return env
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, env protocol.Envelope) {
	t.Helper()

	raw, err := env.Encode()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func TestWSRejectsMissingAndBadToken(t *testing.T) {
	srv := newRelayServer(t)

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/ws?token=garbage")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestQueueJoinValidation(t *testing.T) {
	srv := newRelayServer(t)
	token := mintToken(t, "alice", "0xALICE")

	// stake outside bounds
	resp := joinQueue(t, srv, token, QueueTerms{GameType: "sprint", Mode: "WAGERED", Stake: 99999, DurationSeconds: 60})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// free mode skips the stake bounds
	dialWS(t, srv, token)
	resp = joinQueue(t, srv, token, QueueTerms{GameType: "sprint", Mode: "FREE", Stake: 0, DurationSeconds: 60})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// no websocket connection for this wallet
	other := mintToken(t, "bob", "0xBOB")
	resp = joinQueue(t, srv, other, QueueTerms{GameType: "sprint", Mode: "WAGERED", Stake: 10, DurationSeconds: 60})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPairingAnnouncesSeatsAndProposal(t *testing.T) {
	srv := newRelayServer(t)

	aliceToken := mintToken(t, "alice", "0xALICE")
	bobToken := mintToken(t, "bob", "0xBOB")
	alice := dialWS(t, srv, aliceToken)
	bob := dialWS(t, srv, bobToken)

	terms := QueueTerms{GameType: "sprint", Mode: "WAGERED", Stake: 10, DurationSeconds: 60}
	require.Equal(t, http.StatusOK, joinQueue(t, srv, aliceToken, terms).StatusCode)
	require.Equal(t, http.StatusOK, joinQueue(t, srv, bobToken, terms).StatusCode)

	// first joiner hosts
	aliceInfo := readEnvelope(t, alice)
	require.Equal(t, protocol.MsgPlayerInfo, aliceInfo.Type)
	var p protocol.PlayerInfoPayload
	require.NoError(t, protocol.ParsePayload(aliceInfo, &p))
	require.Equal(t, "HOST", p.Role)
	require.Equal(t, "0xBOB", p.WalletAddress)

	bobInfo := readEnvelope(t, bob)
	require.Equal(t, protocol.MsgPlayerInfo, bobInfo.Type)
	require.NoError(t, protocol.ParsePayload(bobInfo, &p))
	require.Equal(t, "GUEST", p.Role)
	require.Equal(t, "0xALICE", p.WalletAddress)

	require.Equal(t, aliceInfo.SessionID, bobInfo.SessionID)
	require.NotEmpty(t, aliceInfo.SessionID)

	// both receive the host's terms as the proposal
	for _, conn := range []*websocket.Conn{alice, bob} {
		proposal := readEnvelope(t, conn)
		require.Equal(t, protocol.MsgStakeProposal, proposal.Type)
		require.Equal(t, aliceInfo.SessionID, proposal.SessionID)

		var sp protocol.StakeProposalPayload
		require.NoError(t, protocol.ParsePayload(proposal, &sp))
		require.Equal(t, "sprint", sp.GameType)
		require.Equal(t, int64(10), sp.StakeAmount)
		require.Equal(t, 60, sp.DurationSeconds)
	}
}

func TestMismatchedTermsDoNotPair(t *testing.T) {
	srv := newRelayServer(t)

	aliceToken := mintToken(t, "alice", "0xALICE")
	bobToken := mintToken(t, "bob", "0xBOB")
	alice := dialWS(t, srv, aliceToken)
	dialWS(t, srv, bobToken)

	require.Equal(t, http.StatusOK, joinQueue(t, srv, aliceToken,
		QueueTerms{GameType: "sprint", Mode: "WAGERED", Stake: 10, DurationSeconds: 60}).StatusCode)
	require.Equal(t, http.StatusOK, joinQueue(t, srv, bobToken,
		QueueTerms{GameType: "sprint", Mode: "WAGERED", Stake: 50, DurationSeconds: 60}).StatusCode)

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := alice.ReadMessage()
	require.Error(t, err, "different stakes must not pair")
}

func TestEnvelopeForwarding(t *testing.T) {
	srv := newRelayServer(t)

	aliceToken := mintToken(t, "alice", "0xALICE")
	bobToken := mintToken(t, "bob", "0xBOB")
	alice := dialWS(t, srv, aliceToken)
	bob := dialWS(t, srv, bobToken)

	terms := QueueTerms{GameType: "sprint", Mode: "WAGERED", Stake: 10, DurationSeconds: 60}
	joinQueue(t, srv, aliceToken, terms)
	joinQueue(t, srv, bobToken, terms)

	sessionID := readEnvelope(t, alice).SessionID
	readEnvelope(t, alice) // proposal
	readEnvelope(t, bob)
	readEnvelope(t, bob)

	// relayed without payload interpretation
	writeEnvelope(t, alice, protocol.NewRaw(protocol.MsgStakeLocked, sessionID, "0xTX"))
	got := readEnvelope(t, bob)
	require.Equal(t, protocol.MsgStakeLocked, got.Type)
	require.Equal(t, sessionID, got.SessionID)
	require.Equal(t, "0xTX", got.Payload)

	// and the other direction
	writeEnvelope(t, bob, protocol.NewSignal(protocol.MsgReady, sessionID))
	got = readEnvelope(t, alice)
	require.Equal(t, protocol.MsgReady, got.Type)
}

func TestDisconnectCancelsPeer(t *testing.T) {
	srv := newRelayServer(t)

	aliceToken := mintToken(t, "alice", "0xALICE")
	bobToken := mintToken(t, "bob", "0xBOB")
	alice := dialWS(t, srv, aliceToken)
	bob := dialWS(t, srv, bobToken)

	terms := QueueTerms{GameType: "sprint", Mode: "WAGERED", Stake: 10, DurationSeconds: 60}
	joinQueue(t, srv, aliceToken, terms)
	joinQueue(t, srv, bobToken, terms)

	sessionID := readEnvelope(t, alice).SessionID
	readEnvelope(t, alice)
	readEnvelope(t, bob)
	readEnvelope(t, bob)

	require.NoError(t, bob.Close())

	got := readEnvelope(t, alice)
	require.Equal(t, protocol.MsgCancel, got.Type)
	require.Equal(t, sessionID, got.SessionID)
}

func TestDeclineTearsDownPairing(t *testing.T) {
	srv := newRelayServer(t)

	aliceToken := mintToken(t, "alice", "0xALICE")
	bobToken := mintToken(t, "bob", "0xBOB")
	alice := dialWS(t, srv, aliceToken)
	bob := dialWS(t, srv, bobToken)

	terms := QueueTerms{GameType: "sprint", Mode: "WAGERED", Stake: 10, DurationSeconds: 60}
	joinQueue(t, srv, aliceToken, terms)
	joinQueue(t, srv, bobToken, terms)

	sessionID := readEnvelope(t, alice).SessionID
	readEnvelope(t, alice)
	readEnvelope(t, bob)
	readEnvelope(t, bob)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/matches/"+sessionID+"/decline", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+bobToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, conn := range []*websocket.Conn{alice, bob} {
		got := readEnvelope(t, conn)
		require.Equal(t, protocol.MsgCancel, got.Type)
		require.Equal(t, sessionID, got.SessionID)
	}
}

func TestAcceptValidatesClaim(t *testing.T) {
	srv := newRelayServer(t)

	aliceToken := mintToken(t, "alice", "0xALICE")
	bobToken := mintToken(t, "bob", "0xBOB")
	alice := dialWS(t, srv, aliceToken)
	dialWS(t, srv, bobToken)

	terms := QueueTerms{GameType: "sprint", Mode: "WAGERED", Stake: 10, DurationSeconds: 60}
	joinQueue(t, srv, aliceToken, terms)
	joinQueue(t, srv, bobToken, terms)
	sessionID := readEnvelope(t, alice).SessionID

	accept := func(token, id string) int {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/matches/"+id+"/accept", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	require.Equal(t, http.StatusOK, accept(aliceToken, sessionID))
	require.Equal(t, http.StatusNotFound, accept(aliceToken, "not-a-session"))

	stranger := mintToken(t, "carol", "0xCAROL")
	require.Equal(t, http.StatusNotFound, accept(stranger, sessionID))
}

func TestMatchHistoryWithoutArchive(t *testing.T) {
	srv := newRelayServer(t)
	token := mintToken(t, "alice", "0xALICE")

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/matches", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Matches []json.RawMessage `json:"matches"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Empty(t, body.Matches)
}
