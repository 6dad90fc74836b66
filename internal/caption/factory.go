package caption

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/Voice/internal/domain"
	"github.com/dkeye/Voice/internal/media"
	"github.com/dkeye/Voice/internal/repository"
	"github.com/dkeye/Voice/internal/session"
	"github.com/dkeye/Voice/internal/wire"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Factory builds the MediaAgent+FanOut pipeline for a call's captioned
// participant. It satisfies call.MediaFactory structurally so
// internal/call never has to import internal/caption or internal/media.
type Factory struct {
	Repo     repository.Repository
	Registry *session.Registry
	RTCConf  webrtc.Configuration

	// Persist receives finished transcript lines. Wired to the
	// CallCoordinator after construction (main.go) since Coordinator
	// itself depends on Factory to build — set it before the first call
	// is accepted, or lines fall back to the no-op persister below.
	Persist Persister
}

func NewFactory(repo repository.Repository, registry *session.Registry) *Factory {
	return &Factory{Repo: repo, Registry: registry, RTCConf: media.DefaultConfig()}
}

type callRecordPersister struct {
	repo   repository.Repository
	callID domain.CallID
}

func (p *callRecordPersister) AppendTranscriptLine(ctx context.Context, callID domain.CallID, line domain.TranscriptLine) error {
	// The live Call record is owned by CallCoordinator; this persister is
	// only used when a Factory is exercised standalone (e.g. in tests)
	// without a coordinator wired in front of it.
	return nil
}

// Start implements call.MediaFactory: captions callee's video by default
// (see coordinator.go's MediaFactory doc for the rationale).
func (f *Factory) Start(ctx context.Context, callID domain.CallID, caller, callee domain.UserID) (func(), func(wire.MsgType, []byte), error) {
	pref := domain.ModelLip
	if user, err := f.Repo.GetUserByID(ctx, callee); err == nil {
		pref = user.ModelPreference
	}

	agent, err := media.NewAgent(f.RTCConf, string(callID))
	if err != nil {
		return nil, nil, fmt.Errorf("caption: new media agent: %w", err)
	}

	transcriber := NewStreamTranscriber(callee, pref)
	agent.OnFrame(transcriber.FeedFrame)
	agent.OnICECandidate(func(c webrtc.ICECandidateInit) {
		env, err := wire.Push(wire.MsgICECandidate, c)
		if err != nil {
			return
		}
		frame, err := wire.Marshal(env)
		if err != nil {
			return
		}
		if conn, ok := f.Registry.Lookup(callee); ok {
			_ = conn.Send(frame)
		}
	})
	agent.Start(ctx)

	persist := f.Persist
	if persist == nil {
		persist = &callRecordPersister{repo: f.Repo, callID: callID}
	}
	fanOut := New(callID, transcriber, persist, f.Registry)
	if err := fanOut.Start(ctx, caller, callee); err != nil {
		agent.Dispose()
		return nil, nil, fmt.Errorf("caption: start fan-out: %w", err)
	}

	onSignal := func(msgType wire.MsgType, payload []byte) {
		switch msgType {
		case wire.MsgOffer:
			var offer webrtc.SessionDescription
			if err := json.Unmarshal(payload, &offer); err != nil {
				log.Warn().Err(err).Str("module", "caption").Msg("malformed offer for media agent")
				return
			}
			answer, err := agent.ApplyOffer(offer)
			if err != nil {
				log.Warn().Err(err).Str("module", "caption").Str("call_id", string(callID)).Msg("apply offer failed")
				return
			}
			env, err := wire.Push(wire.MsgAnswer, answer)
			if err != nil {
				return
			}
			frame, err := wire.Marshal(env)
			if err != nil {
				return
			}
			if conn, ok := f.Registry.Lookup(callee); ok {
				_ = conn.Send(frame)
			}
		case wire.MsgICECandidate:
			var cand webrtc.ICECandidateInit
			if err := json.Unmarshal(payload, &cand); err != nil {
				return
			}
			if err := agent.AddICECandidate(cand); err != nil {
				log.Warn().Err(err).Str("module", "caption").Str("call_id", string(callID)).Msg("add ice candidate failed")
			}
		}
	}

	dispose := func() {
		fanOut.Stop()
		agent.Dispose()
	}
	return dispose, onSignal, nil
}
