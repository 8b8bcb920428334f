package channel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"stakematch/internal/logger"
	"stakematch/internal/protocol"
	"stakematch/internal/session"

	"github.com/gorilla/websocket"
)

var _ session.Channel = (*WSChannel)(nil)

const writeWait = 10 * time.Second

// WSChannel is the websocket message channel between a player and the
// relay. Envelopes that arrive before a listener is registered are
// buffered and replayed on registration; the protocol assumes no delivery
// guarantee, but dropping the match announcement on startup would be rude.
type WSChannel struct {
	conn *websocket.Conn

	wmu sync.Mutex // serializes writes

	lmu      sync.Mutex
	listener func(protocol.Envelope)
	pending  []protocol.Envelope

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the relay and starts the read loop. baseURL is the
// relay's http(s) endpoint; token authenticates the wallet.
func Dial(ctx context.Context, baseURL, token string) (*WSChannel, error) {
	wsURL := strings.Replace(baseURL, "http", "ws", 1) + "/ws?token=" + token

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	ch := &WSChannel{
		conn: conn,
		done: make(chan struct{}),
	}
	go ch.readLoop()
	return ch, nil
}

// Send writes one envelope to the relay.
func (ch *WSChannel) Send(env protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	ch.wmu.Lock()
	defer ch.wmu.Unlock()

	ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ch.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

// SetListener registers the single inbound callback and replays anything
// buffered before registration.
func (ch *WSChannel) SetListener(fn func(protocol.Envelope)) {
	ch.lmu.Lock()
	ch.listener = fn
	pending := ch.pending
	ch.pending = nil
	ch.lmu.Unlock()

	for _, env := range pending {
		fn(env)
	}
}

// Close tears the connection down; the read loop exits on the closed conn.
func (ch *WSChannel) Close() error {
	var err error
	ch.closeOnce.Do(func() {
		close(ch.done)
		err = ch.conn.Close()
	})
	return err
}

func (ch *WSChannel) readLoop() {
	for {
		_, msg, err := ch.conn.ReadMessage()
		if err != nil {
			select {
			case <-ch.done:
			default:
				logger.Debug("channel: read closed", "err", err)
			}
			return
		}

		env, err := protocol.Decode(msg)
		if err != nil {
			logger.Warn("channel: malformed frame dropped", "err", err)
			continue
		}

		ch.lmu.Lock()
		fn := ch.listener
		if fn == nil {
			ch.pending = append(ch.pending, env)
			ch.lmu.Unlock()
			continue
		}
		ch.lmu.Unlock()

		fn(env)
	}
}
