package settlement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockStake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/stakes", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req LockStakeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "sess-1", req.SessionID)
		require.Equal(t, int64(25), req.Stake)

		json.NewEncoder(w).Encode(map[string]string{"tx_hash": "0xLOCK"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	tx, err := c.LockStake(context.Background(), LockStakeRequest{
		SessionID:   "sess-1",
		HostWallet:  "0xHOST",
		GuestWallet: "0xGUEST",
		Stake:       25,
	})
	require.NoError(t, err)
	require.Equal(t, "0xLOCK", tx)
}

func TestSettleDrawSendsEmptyWinner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/settlements", r.URL.Path)

		var req SettleRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Empty(t, req.WinnerAddress)
		require.NotEmpty(t, req.OutcomeHash)

		json.NewEncoder(w).Encode(map[string]string{"tx_hash": "0xREFUND"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	tx, err := c.Settle(context.Background(), SettleRequest{
		SessionID:   "sess-1",
		OutcomeHash: "abc123",
	})
	require.NoError(t, err)
	require.Equal(t, "0xREFUND", tx)
}

func TestGetTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/transactions/0xFOUND":
			json.NewEncoder(w).Encode(Transaction{Hash: "0xFOUND", Confirmed: true, Value: 50})
		case "/v1/transactions/0xMISSING":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")

	tx, err := c.GetTransaction(context.Background(), "0xFOUND")
	require.NoError(t, err)
	require.NotNil(t, tx)
	require.True(t, tx.Confirmed)
	require.Equal(t, int64(50), tx.Value)

	tx, err = c.GetTransaction(context.Background(), "0xMISSING")
	require.NoError(t, err)
	require.Nil(t, tx, "unseen transactions are not an error")

	_, err = c.GetTransaction(context.Background(), "0xBOOM")
	require.Error(t, err)
}

func TestGatewayErrorSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "insufficient escrow balance", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.Settle(context.Background(), SettleRequest{SessionID: "sess-1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "insufficient escrow balance")
}
