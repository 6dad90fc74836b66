package heartbeat

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	pings   atomic.Int32
	dropped chan string
}

func newFakePinger() *fakePinger { return &fakePinger{dropped: make(chan string, 1)} }

func (f *fakePinger) SendPing() error   { f.pings.Add(1); return nil }
func (f *fakePinger) Drop(reason string) { f.dropped <- reason }

func TestPongWithinTimeoutKeepsAlive(t *testing.T) {
	p := newFakePinger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	task := Start(ctx, p, "test", 10*time.Millisecond, 40*time.Millisecond)
	defer task.Stop()

	deadline := time.After(200 * time.Millisecond)
	for {
		task.Pong()
		select {
		case <-p.dropped:
			t.Fatal("connection dropped unexpectedly")
		case <-deadline:
			require.Greater(t, p.pings.Load(), int32(0))
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestMissingPongDrops(t *testing.T) {
	// Short periods so the real supervisor loop times out quickly.
	p := newFakePinger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	task := Start(ctx, p, "test", 10*time.Millisecond, 20*time.Millisecond)
	defer task.Stop()

	select {
	case reason := <-p.dropped:
		require.Equal(t, "pong timeout", reason)
		require.GreaterOrEqual(t, p.pings.Load(), int32(1))
	case <-time.After(time.Second):
		t.Fatal("expected drop")
	}
}
