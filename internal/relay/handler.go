package relay

import (
	"net/http"
	"os"
	"strings"
	"time"

	"stakematch/internal/auth"
	"stakematch/internal/domain"
	"stakematch/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const ctxWalletKey = "wallet"
const ctxNameKey = "player_name"

// Options bounds what the relay accepts on queue joins.
type Options struct {
	JWTSecret []byte
	MinStake  int64
	MaxStake  int64
}

// RegisterRoutes mounts the relay surface on a gin engine.
func RegisterRoutes(r *gin.Engine, hub *Hub, opts Options) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ws", HandleWS(hub, opts.JWTSecret))

	authed := r.Group("/", authMiddleware(opts.JWTSecret))
	authed.POST("/queue/join", RateLimit(30, time.Minute), handleQueueJoin(hub, opts))
	authed.POST("/queue/leave", handleQueueLeave(hub))
	authed.POST("/matches/:id/accept", handleMatchAccept(hub))
	authed.POST("/matches/:id/decline", handleMatchDecline(hub))
	authed.GET("/matches", handleMatchHistory(hub))
}

// HandleWS upgrades an authenticated connection and starts its pumps.
func HandleWS(hub *Hub, secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
			return
		}

		identity, err := auth.ParseToken(secret, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		allowedOrigin := os.Getenv("ALLOWED_ORIGIN")
		upgrader := websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" {
					return true
				}
				return r.Header.Get("Origin") == allowedOrigin
			},
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("relay: upgrade failed", "err", err)
			return
		}

		client := NewClient(identity, conn, hub)
		hub.RegisterConn(client)
		go client.Run()
	}
}

func authMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token required"})
			return
		}

		identity, err := auth.ParseToken(secret, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ctxWalletKey, identity.WalletAddress)
		c.Set(ctxNameKey, identity.Name)
		c.Next()
	}
}

func handleQueueJoin(hub *Hub, opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		var terms QueueTerms
		if err := c.ShouldBindJSON(&terms); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid terms"})
			return
		}

		if terms.GameType == "" || terms.DurationSeconds <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "game_type and duration_seconds required"})
			return
		}
		if terms.Mode != "FREE" && (terms.Stake < opts.MinStake || terms.Stake > opts.MaxStake) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "stake out of bounds"})
			return
		}

		if err := hub.JoinQueue(c.GetString(ctxWalletKey), terms); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "queued"})
	}
}

func handleQueueLeave(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		hub.LeaveQueue(c.GetString(ctxWalletKey))
		c.JSON(http.StatusOK, gin.H{"status": "left"})
	}
}

func handleMatchAccept(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := hub.AcceptMatch(c.GetString(ctxWalletKey), c.Param("id")); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "accepted"})
	}
}

func handleMatchDecline(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := hub.DeclineMatch(c.GetString(ctxWalletKey), c.Param("id")); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "declined"})
	}
}

func handleMatchHistory(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		matches, err := hub.History(c.Request.Context(), c.GetString(ctxWalletKey))
		if err != nil {
			logger.Error("relay: match history", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "archive unavailable"})
			return
		}
		if matches == nil {
			matches = []*domain.Match{}
		}
		c.JSON(http.StatusOK, gin.H{"matches": matches})
	}
}
