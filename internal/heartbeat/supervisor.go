// Package heartbeat implements HeartbeatSupervisor (spec §4.8): one
// ping/pong liveness task per connection, dropping the connection if a
// pong doesn't arrive within the timeout. Grounded on dkeye-Voice's
// internal/adapters/signal/io.go (per-connection goroutine selecting on
// ctx.Done() and an outbound channel), generalized from a write-pump
// loop to a dedicated ping/pong liveness timer.
package heartbeat

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// PingPeriod is how often the supervisor sends a ping frame.
	PingPeriod = 10 * time.Second
	// PongTimeout is how long the supervisor waits for a pong before
	// declaring the connection dead.
	PongTimeout = 15 * time.Second
)

// Pinger is the minimal surface a connection exposes to its supervisor.
type Pinger interface {
	SendPing() error
	Drop(reason string)
}

// Task supervises one connection's liveness for as long as ctx is live.
type Task struct {
	conn        Pinger
	label       string
	pingPeriod  time.Duration
	pongTimeout time.Duration
	cancel      context.CancelFunc
	pongSeen    chan struct{}
}

// Start spawns the supervising goroutine. Callers must call Stop on
// connection teardown. A zero pingPeriod or pongTimeout falls back to
// the package defaults.
func Start(ctx context.Context, conn Pinger, label string, pingPeriod, pongTimeout time.Duration) *Task {
	if pingPeriod <= 0 {
		pingPeriod = PingPeriod
	}
	if pongTimeout <= 0 {
		pongTimeout = PongTimeout
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		conn:        conn,
		label:       label,
		pingPeriod:  pingPeriod,
		pongTimeout: pongTimeout,
		cancel:      cancel,
		pongSeen:    make(chan struct{}, 1),
	}
	go t.run(ctx)
	return t
}

// Pong must be called by the connection's read loop whenever a pong
// frame arrives.
func (t *Task) Pong() {
	select {
	case t.pongSeen <- struct{}{}:
	default:
	}
}

func (t *Task) run(ctx context.Context) {
	ticker := time.NewTicker(t.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.conn.SendPing(); err != nil {
				log.Debug().Err(err).Str("module", "heartbeat").Str("conn", t.label).Msg("ping send failed")
				t.conn.Drop("ping send failed")
				return
			}
			select {
			case <-t.pongSeen:
				// liveness confirmed for this period
			case <-time.After(t.pongTimeout):
				log.Info().Str("module", "heartbeat").Str("conn", t.label).Msg("pong timeout")
				t.conn.Drop("pong timeout")
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// Stop cancels the supervising goroutine.
func (t *Task) Stop() { t.cancel() }
