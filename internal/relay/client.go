package relay

import (
	"sync"
	"time"

	"stakematch/internal/auth"
	"stakematch/internal/logger"
	"stakematch/internal/protocol"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 25 * time.Second

	maxFrameSize = 4096
)

// Client is one authenticated websocket connection to the relay.
type Client struct {
	Identity auth.Identity

	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(id auth.Identity, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		Identity: id,
		conn:     conn,
		send:     make(chan []byte, 256),
		hub:      hub,
		done:     make(chan struct{}),
	}
}

// Run pumps the connection until it drops.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

// Enqueue hands an envelope to the connection's writer. A peer that cannot
// drain its buffer loses frames rather than stalling the relay.
func (c *Client) Enqueue(env protocol.Envelope) {
	data, err := env.Encode()
	if err != nil {
		logger.Error("relay: encode envelope", "type", env.Type, "err", err)
		return
	}

	select {
	case c.send <- data:
	case <-c.done:
	default:
		logger.Warn("relay: send buffer full, dropping frame", "wallet", c.Identity.WalletAddress, "type", env.Type)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.close()
		c.hub.OnDisconnect(c)
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			logger.Debug("relay: read closed", "wallet", c.Identity.WalletAddress, "err", err)
			return
		}

		env, err := protocol.Decode(msg)
		if err != nil {
			logger.Warn("relay: malformed frame dropped", "wallet", c.Identity.WalletAddress, "err", err)
			continue
		}
		c.hub.Route(c, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("relay: write failed", "wallet", c.Identity.WalletAddress, "err", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
