// Package transport implements ConnectionLifecycle (spec §4.9): accepts
// one WebSocket, runs the CryptoEnvelope handshake under a 5s budget,
// then pumps decrypted frames through MessageRouter until the socket
// closes, cascading cleanup into HeartbeatSupervisor, SessionRegistry,
// and CallCoordinator. Grounded on dkeye-Voice's
// internal/adapters/signal/io.go (writePump/readPump goroutine pair
// selecting on ctx.Done()/send channel) and internal/app/registry.go
// (Bind/Unbind-on-close pattern), generalized from a raw-JSON room
// protocol to the AEAD-wrapped Envelope protocol of spec §4.1/§4.3.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/Voice/internal/call"
	"github.com/dkeye/Voice/internal/crypto"
	"github.com/dkeye/Voice/internal/domain"
	"github.com/dkeye/Voice/internal/heartbeat"
	"github.com/dkeye/Voice/internal/router"
	"github.com/dkeye/Voice/internal/session"
	"github.com/dkeye/Voice/internal/wire"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// HandshakeBudget bounds how long a newly accepted socket has to
// complete the CryptoEnvelope handshake before being dropped
// (spec §4.9).
const HandshakeBudget = 5 * time.Second

const (
	writeDeadline  = 5 * time.Second
	sendQueueDepth = 32
	rateLimit      = 50
	rateInterval   = 10 * time.Second
)

// Socket is the minimal transport surface Connection drives. gorilla's
// *websocket.Conn satisfies it directly.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Connection owns one authenticated transport session end to end.
type Connection struct {
	ws       Socket
	envelope *crypto.Envelope
	router   *router.Router
	registry *session.Registry
	calls    *call.Coordinator
	limiter  *RateLimiter
	hb       *heartbeat.Task

	handshakeBudget time.Duration
	pingPeriod      time.Duration
	pongTimeout     time.Duration

	userID domain.UserID
	send   chan wire.Frame
	cancel context.CancelFunc
}

// Config bundles the timing knobs a Connection needs beyond its
// collaborators (spec §4.9, operator-configurable per config.Config).
type Config struct {
	HandshakeBudget time.Duration
	PingPeriod      time.Duration
	PongTimeout     time.Duration
}

func NewConnection(ws Socket, r *router.Router, registry *session.Registry, calls *call.Coordinator, cfg Config) *Connection {
	budget := cfg.HandshakeBudget
	if budget <= 0 {
		budget = HandshakeBudget
	}
	return &Connection{
		ws:              ws,
		router:          r,
		registry:        registry,
		calls:           calls,
		limiter:         NewRateLimiter(rateLimit, rateInterval),
		send:            make(chan wire.Frame, sendQueueDepth),
		handshakeBudget: budget,
		pingPeriod:      cfg.PingPeriod,
		pongTimeout:     cfg.PongTimeout,
	}
}

func (c *Connection) UserID() domain.UserID { return c.userID }

// Run drives the connection for its whole lifetime: handshake, then the
// read/write pumps, until the socket closes or ctx is canceled.
func (c *Connection) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer c.teardown()

	if err := c.handshake(ctx); err != nil {
		log.Warn().Err(err).Str("module", "transport").Msg("handshake failed")
		return
	}

	c.hb = heartbeat.Start(ctx, c, "conn", c.pingPeriod, c.pongTimeout)
	go c.writePump(ctx)
	c.readPump(ctx)
}

// handshake performs the plaintext X25519 exchange described in spec
// §4.1 before any AEAD framing is possible. Both hello frames ride the
// ordinary Envelope shape with msg_type "handshake", unencrypted.
func (c *Connection) handshake(ctx context.Context) error {
	env, err := crypto.NewServerEnvelope()
	if err != nil {
		return fmt.Errorf("transport: new envelope: %w", err)
	}
	c.envelope = env

	hello := env.ServerHello()
	helloPayload, err := json.Marshal(hello)
	if err != nil {
		return err
	}
	serverMsg, err := wire.Reply(wire.MsgHandshake, json.RawMessage(helloPayload))
	if err != nil {
		return err
	}
	raw, err := wire.Marshal(serverMsg)
	if err != nil {
		return err
	}
	if err := c.writeRaw(raw); err != nil {
		return fmt.Errorf("transport: write server hello: %w", err)
	}

	deadline := time.Now().Add(c.handshakeBudget)
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}

	type clientHelloResult struct {
		frame []byte
		err   error
	}
	resultCh := make(chan clientHelloResult, 1)
	go func() {
		_, data, err := c.ws.ReadMessage()
		resultCh <- clientHelloResult{frame: data, err: err}
	}()

	select {
	case <-time.After(c.handshakeBudget):
		return fmt.Errorf("transport: handshake timed out")
	case <-ctx.Done():
		return ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return fmt.Errorf("transport: read client hello: %w", res.err)
		}
		clientEnv, err := wire.Unmarshal(wire.Frame(res.frame))
		if err != nil || clientEnv.MsgType != wire.MsgHandshake {
			return fmt.Errorf("transport: expected handshake frame")
		}
		var clientHello crypto.HandshakeFrame
		if err := json.Unmarshal(clientEnv.Payload, &clientHello); err != nil {
			return fmt.Errorf("transport: malformed client hello: %w", err)
		}
		return c.envelope.CompleteHandshake(clientHello.ClientPublicKey)
	}
}

func (c *Connection) writeRaw(data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Connection) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			sealed, err := c.envelope.Seal(frame)
			if err != nil {
				log.Error().Err(err).Str("module", "transport").Msg("seal outbound frame")
				continue
			}
			if err := c.writeRaw(sealed); err != nil {
				log.Warn().Err(err).Str("module", "transport").Msg("write error")
				return
			}
		}
	}
}

func (c *Connection) readPump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		plaintext, err := c.envelope.Open(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "transport").Msg("decrypt inbound frame")
			continue
		}

		env, err := wire.Unmarshal(wire.Frame(plaintext))
		if err == nil && env.MsgType == wire.MsgPong {
			c.hb.Pong()
			continue
		}

		if c.userID != "" && !c.limiter.Allow(c.userID) {
			continue
		}

		reply := c.router.Dispatch(ctx, wire.Frame(plaintext))

		if err == nil && reply.Success && bindsSession(env.MsgType) {
			c.bindUserID(ctx, reply)
		}

		c.enqueueReply(reply)
	}
}

// bindsSession reports whether a successful reply to msgType should
// (re-)register this connection's user_id in SessionRegistry. Signup and
// authenticate establish the session for the first time; refresh_token
// re-binds it so a connection that only ever refreshed (never calling
// authenticate on this socket) is still reachable (spec §4.4, §8
// scenario 1).
func bindsSession(msgType wire.MsgType) bool {
	switch msgType {
	case wire.MsgSignup, wire.MsgAuthenticate, wire.MsgRefreshToken:
		return true
	default:
		return false
	}
}

// bindUserID registers this connection in SessionRegistry once signup,
// authenticate, or refresh_token succeeds, displacing any previous
// session for the same user (spec §4.4).
func (c *Connection) bindUserID(ctx context.Context, reply wire.Envelope) {
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(reply.Payload, &body); err != nil || body.UserID == "" {
		return
	}
	uid := domain.UserID(body.UserID)
	c.userID = uid
	previous := c.registry.Register(uid, c)
	if previous == nil || previous == session.Conn(c) {
		return
	}
	c.calls.EndForSessionReplaced(ctx, uid)
	env := wire.ReplyError(wire.MsgSessionReplaced, domain.ErrSessionReplaced, "session replaced by a new connection")
	if frame, err := wire.Marshal(env); err == nil {
		_ = previous.Send(frame)
	}
	previous.Close("SESSION_REPLACED")
}

func (c *Connection) enqueueReply(env wire.Envelope) {
	raw, err := wire.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "transport").Msg("marshal reply")
		return
	}
	select {
	case c.send <- raw:
	default:
		log.Warn().Str("module", "transport").Msg("send queue full, dropping reply")
	}
}

// Send implements session.Conn: enqueue a plaintext frame for sealing
// and delivery on the write pump.
func (c *Connection) Send(f wire.Frame) error {
	select {
	case c.send <- f:
		return nil
	default:
		return fmt.Errorf("transport: send queue full")
	}
}

// Close implements session.Conn: tear the connection down with reason
// for logging only, cleanup cascade runs via teardown regardless.
func (c *Connection) Close(reason string) {
	log.Info().Str("module", "transport").Str("user_id", string(c.userID)).Str("reason", reason).Msg("closing connection")
	if c.cancel != nil {
		c.cancel()
	}
}

// SendPing implements heartbeat.Pinger.
func (c *Connection) SendPing() error {
	env, err := wire.Push(wire.MsgPing, map[string]bool{})
	if err != nil {
		return err
	}
	raw, err := wire.Marshal(env)
	if err != nil {
		return err
	}
	return c.Send(raw)
}

// Drop implements heartbeat.Pinger.
func (c *Connection) Drop(reason string) { c.Close(reason) }

func (c *Connection) teardown() {
	if c.hb != nil {
		c.hb.Stop()
	}
	if c.userID != "" {
		c.registry.Unregister(c.userID, c)
		c.calls.EndForDisconnect(context.Background(), c.userID)
	}
	_ = c.ws.Close()
}
