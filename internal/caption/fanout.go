// Package caption implements CaptionFanOut (spec §4.7): feeds one
// participant's media into a pluggable Transcriber, timestamps and
// persists the resulting text deltas, and best-effort broadcasts them to
// both call participants within a bounded deadline. Grounded on
// dkeye-Voice's internal/app/sfu/relay.go (cancel-context read loop) and
// internal/app/sfu/relay_manager.go (fan-out-to-many-receivers pattern),
// generalized from relaying RTP packets to relaying transcript deltas,
// using sourcegraph/conc for the bounded concurrent broadcast in place of
// relay_manager's hand-rolled goroutine-per-receiver loop.
package caption

import (
	"context"
	"time"

	"github.com/dkeye/Voice/internal/domain"
	"github.com/dkeye/Voice/internal/session"
	"github.com/dkeye/Voice/internal/wire"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

// BroadcastDeadline bounds how long CaptionFanOut waits for a single
// delta to reach both participants before giving up on the slow one
// (spec §4.7 "best effort, 200ms").
const BroadcastDeadline = 200 * time.Millisecond

// Delta is one transcribed text fragment for a speaker.
type Delta struct {
	Speaker domain.UserID
	Text    string
	Source  domain.ModelPreference
}

// Transcriber is the pluggable captioning backend (spec §4.7 "lip" or
// "audio" model). Implementations push Deltas onto the returned channel
// as media arrives; closing the channel signals the transcriber is done.
type Transcriber interface {
	Start(ctx context.Context) (<-chan Delta, error)
	Stop()
}

// Sink is the subset of session.Conn CaptionFanOut needs to push a frame.
type Sink interface {
	Send(f wire.Frame) error
}

// Persister records a finished transcript line against a call.
type Persister interface {
	AppendTranscriptLine(ctx context.Context, callID domain.CallID, line domain.TranscriptLine) error
}

// FanOut owns one Transcriber for the lifetime of a call and relays its
// output to both participants.
type FanOut struct {
	callID      domain.CallID
	transcriber Transcriber
	persist     Persister
	registry    *session.Registry
	cancel      context.CancelFunc
}

func New(callID domain.CallID, t Transcriber, persist Persister, registry *session.Registry) *FanOut {
	return &FanOut{callID: callID, transcriber: t, persist: persist, registry: registry}
}

// Start begins relaying transcriber output until ctx is canceled or Stop
// is called. The relay loop runs in a goroutine of its own; Start returns
// once the transcriber has started.
func (f *FanOut) Start(ctx context.Context, caller, callee domain.UserID) error {
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	deltas, err := f.transcriber.Start(ctx)
	if err != nil {
		cancel()
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deltas:
				if !ok {
					return
				}
				f.handleDelta(ctx, d, caller, callee)
			}
		}
	}()
	return nil
}

func (f *FanOut) handleDelta(ctx context.Context, d Delta, caller, callee domain.UserID) {
	line := domain.TranscriptLine{
		Speaker:   d.Speaker,
		Text:      d.Text,
		Source:    d.Source,
		Timestamp: time.Now().UTC(),
	}
	if err := f.persist.AppendTranscriptLine(ctx, f.callID, line); err != nil {
		log.Error().Err(err).Str("module", "caption").Str("call_id", string(f.callID)).Msg("persist transcript line")
	}

	env, err := wire.Push(wire.MsgLipReadingPrediction, line)
	if err != nil {
		log.Error().Err(err).Str("module", "caption").Msg("marshal delta")
		return
	}
	frame, err := wire.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "caption").Msg("marshal envelope")
		return
	}

	deadline, cancel := context.WithTimeout(ctx, BroadcastDeadline)
	defer cancel()

	p := pool.New().WithContext(deadline)
	for _, uid := range []domain.UserID{caller, callee} {
		uid := uid
		p.Go(func(ctx context.Context) error {
			conn, ok := f.registry.Lookup(uid)
			if !ok {
				return nil
			}
			done := make(chan error, 1)
			go func() { done <- conn.Send(frame) }()
			select {
			case err := <-done:
				if err != nil {
					log.Warn().Err(err).Str("module", "caption").Str("user_id", string(uid)).Msg("dropped caption delta")
				}
				return nil
			case <-ctx.Done():
				log.Warn().Str("module", "caption").Str("user_id", string(uid)).Msg("caption delta deadline exceeded")
				return nil
			}
		})
	}
	_ = p.Wait()
}

// Stop tears the transcriber down. Safe to call once per FanOut.
func (f *FanOut) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.transcriber.Stop()
}
