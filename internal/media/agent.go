// Package media wraps pion/webrtc/v4 behind the MediaAgent abstraction
// (spec §4.6): the server's own peer connection to one call participant,
// used only to receive that participant's video for captioning. The two
// call participants themselves negotiate and exchange RTP directly
// (peer-to-peer); the server never relays media between them, only the
// opaque offer/answer/ice_candidate signaling payloads (spec §4.5
// Non-goals). Grounded on dkeye-Voice's
// internal/adapters/rtc/connection.go (WebRTCConnection: OnICECandidate/
// OnTrack/OnClosed callbacks, ApplyOfferAndCreateAnswer, AddICECandidate),
// narrowed from a relay endpoint to a receive-only captioning sink.
package media

import (
	"context"
	"fmt"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// FrameHandler receives one decoded-track RTP packet at a time, tagged
// with its media kind (audio/video), for a Transcriber to consume.
type FrameHandler func(kind webrtc.RTPCodecType, pkt *rtp.Packet)

func DefaultConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// Agent is the server's one-way receiving peer connection for a single
// call participant (spec §4.6).
type Agent struct {
	pc       *webrtc.PeerConnection
	callID   string
	onICE    func(webrtc.ICECandidateInit)
	onFrame  FrameHandler
	onClosed func()
	cancel   context.CancelFunc
}

// NewAgent constructs a fresh, receive-only peer connection for callID.
func NewAgent(cfg webrtc.Configuration, callID string) (*Agent, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("media: new peer connection: %w", err)
	}
	return &Agent{pc: pc, callID: callID}, nil
}

// OnFrame registers the callback invoked for every incoming RTP packet.
func (a *Agent) OnFrame(fn FrameHandler) { a.onFrame = fn }

// OnICECandidate registers the callback invoked as local candidates are
// gathered, to be relayed to the participant as ice_candidate frames.
func (a *Agent) OnICECandidate(fn func(webrtc.ICECandidateInit)) { a.onICE = fn }

// OnClosed registers the callback invoked once the underlying connection
// has torn down, whether cleanly or due to failure.
func (a *Agent) OnClosed(fn func()) { a.onClosed = fn }

// Start wires the peer connection's event callbacks. Must be called
// before ApplyOffer.
func (a *Agent) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil && a.onICE != nil {
			a.onICE(c.ToJSON())
		}
	})

	a.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("module", "media").Str("call_id", a.callID).Str("state", s.String()).Msg("peer connection state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			cancel()
			if a.onClosed != nil {
				a.onClosed()
			}
		}
	})

	a.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := track.Kind()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			pkt, _, err := track.ReadRTP()
			if err != nil {
				return
			}
			if a.onFrame != nil {
				a.onFrame(kind, pkt)
			}
		}
	})
}

// ApplyOffer applies the participant's SDP offer and returns the answer
// to relay back (spec §4.6 "offer/answer primitives").
func (a *Agent) ApplyOffer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := a.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("media: set remote description: %w", err)
	}
	answer, err := a.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("media: create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(a.pc)
	if err := a.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("media: set local description: %w", err)
	}
	<-gatherComplete
	return a.pc.LocalDescription(), nil
}

// AddICECandidate feeds a remote candidate relayed from the participant.
func (a *Agent) AddICECandidate(c webrtc.ICECandidateInit) error {
	return a.pc.AddICECandidate(c)
}

// Dispose tears the peer connection down. Safe to call more than once.
func (a *Agent) Dispose() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.pc != nil {
		if err := a.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "media").Str("call_id", a.callID).Msg("close error")
		}
	}
}
