package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"stakematch/internal/session"
)

// MatchClient is the HTTP front door of the relay's matchmaking queue.
// Every call is fire-and-forget; the matched session arrives later over
// the websocket channel.
var _ session.Matchmaker = (*MatchClient)(nil)

type MatchClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewMatchClient(baseURL, token string) *MatchClient {
	return &MatchClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (m *MatchClient) JoinQueue(ctx context.Context, gameType string, mode session.Mode, stake int64, durationSeconds int) error {
	body := map[string]any{
		"game_type":        gameType,
		"mode":             string(mode),
		"stake":            stake,
		"duration_seconds": durationSeconds,
	}
	return m.post(ctx, "/queue/join", body)
}

func (m *MatchClient) LeaveQueue(ctx context.Context) error {
	return m.post(ctx, "/queue/leave", nil)
}

func (m *MatchClient) AcceptMatch(ctx context.Context, sessionID string) error {
	return m.post(ctx, "/matches/"+sessionID+"/accept", nil)
}

func (m *MatchClient) DeclineMatch(ctx context.Context, sessionID string) error {
	return m.post(ctx, "/matches/"+sessionID+"/decline", nil)
}

func (m *MatchClient) post(ctx context.Context, path string, body any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.token)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("relay error: %s - %s", resp.Status, string(raw))
	}
	return nil
}
