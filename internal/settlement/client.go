package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the chain gateway that locks stakes and pays out
// finished matches. The session core never imports this package; callers
// feed its transaction hashes back through the controller.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Transaction is the gateway's view of an on-chain transaction.
type Transaction struct {
	Hash      string `json:"hash"`
	From      string `json:"from"`
	To        string `json:"to"`
	Value     int64  `json:"value"`
	Confirmed bool   `json:"confirmed"`
	Memo      string `json:"memo"`
}

// LockStakeRequest escrows both players' stakes for a session.
type LockStakeRequest struct {
	SessionID   string `json:"session_id"`
	HostWallet  string `json:"host_wallet"`
	GuestWallet string `json:"guest_wallet"`
	Stake       int64  `json:"stake"`
}

// SettleRequest releases the escrow to the winner. An empty winner address
// refunds both sides (draw).
type SettleRequest struct {
	SessionID     string `json:"session_id"`
	WinnerAddress string `json:"winner_address"`
	OutcomeHash   string `json:"outcome_hash"`
}

type txResponse struct {
	TxHash string `json:"tx_hash"`
}

// LockStake submits the escrow transaction and returns its hash.
func (c *Client) LockStake(ctx context.Context, req LockStakeRequest) (string, error) {
	var resp txResponse
	if err := c.post(ctx, "/v1/stakes", req, &resp); err != nil {
		return "", err
	}
	return resp.TxHash, nil
}

// Settle submits the payout transaction and returns its hash.
func (c *Client) Settle(ctx context.Context, req SettleRequest) (string, error) {
	var resp txResponse
	if err := c.post(ctx, "/v1/settlements", req, &resp); err != nil {
		return "", err
	}
	return resp.TxHash, nil
}

// GetTransaction looks up a transaction by hash. Returns (nil, nil) when
// the gateway has not seen it yet.
func (c *Client) GetTransaction(ctx context.Context, hash string) (*Transaction, error) {
	url := fmt.Sprintf("%s/v1/transactions/%s", c.baseURL, hash)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gateway error: %s - %s", resp.Status, string(body))
	}

	var tx Transaction
	if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// WaitForTransaction polls until the transaction appears on chain or the
// timeout elapses.
func (c *Client) WaitForTransaction(ctx context.Context, hash string, timeout time.Duration) (*Transaction, error) {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		tx, err := c.GetTransaction(ctx, hash)
		if err != nil {
			return nil, err
		}
		if tx != nil && tx.Confirmed {
			return tx, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	return nil, fmt.Errorf("transaction %s not confirmed within %s", hash, timeout)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gateway error: %s - %s", resp.Status, string(raw))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
