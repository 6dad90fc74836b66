// Package httpapi exposes the WebSocket upgrade endpoint behind a gin
// router, reusing the teacher's pre-auth anonymous client-token cookie.
// Grounded on dkeye-Voice's internal/adapters/http/router.go
// (ClientTokenMiddleware, gin-contrib/sessions wiring, /api/ws/signal
// route), generalized from the SFU signaling endpoint to the
// Envelope-over-WebSocket transport of spec §4.9.
package httpapi

import (
	"context"
	"net/http"

	"github.com/dkeye/Voice/internal/call"
	"github.com/dkeye/Voice/internal/config"
	"github.com/dkeye/Voice/internal/router"
	"github.com/dkeye/Voice/internal/session"
	"github.com/dkeye/Voice/internal/transport"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func genClientToken() string { return uuid.NewString() }

// ClientTokenMiddleware stamps an anonymous, pre-auth client token on
// every request so the server can correlate handshake attempts to a
// browser session before authenticate succeeds (spec §4.9).
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Deps bundles everything the WebSocket upgrade handler needs to start
// a new ConnectionLifecycle.
type Deps struct {
	Router   *router.Router
	Registry *session.Registry
	Calls    *call.Coordinator
	Conn     transport.Config
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("VoiceSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	api := r.Group("/api")
	api.GET("/ws", func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error().Err(err).Str("module", "httpapi").Msg("websocket upgrade failed")
			return
		}
		log.Info().Str("module", "httpapi").Str("client_token", c.GetString("client_token")).Msg("websocket connected")
		conn := transport.NewConnection(ws, deps.Router, deps.Registry, deps.Calls, deps.Conn)
		conn.Run(ctx)
	})

	return r
}
