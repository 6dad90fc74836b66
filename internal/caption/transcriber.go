package caption

import (
	"context"

	"github.com/dkeye/Voice/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// StreamTranscriber adapts one MediaAgent's incoming RTP into text
// Deltas for the model named by pref ("lip" reads video, "audio" reads
// the audio track). Real model inference is out of this module's scope
// (spec §4.7 Non-goals: no on-device ML); this stub demonstrates the
// seam a real lip/audio model plugs into.
type StreamTranscriber struct {
	speaker domain.UserID
	pref    domain.ModelPreference
	frames  <-chan frameEvent
	deltas  chan Delta
}

type frameEvent struct {
	kind webrtc.RTPCodecType
	pkt  *rtp.Packet
}

func NewStreamTranscriber(speaker domain.UserID, pref domain.ModelPreference) *StreamTranscriber {
	return &StreamTranscriber{speaker: speaker, pref: pref, deltas: make(chan Delta, 16)}
}

// FeedFrame is the media.FrameHandler this transcriber registers with
// its MediaAgent.
func (s *StreamTranscriber) FeedFrame(kind webrtc.RTPCodecType, pkt *rtp.Packet) {
	wants := webrtc.RTPCodecTypeVideo
	if s.pref == domain.ModelAudio {
		wants = webrtc.RTPCodecTypeAudio
	}
	if kind != wants {
		return
	}
	// A real model would accumulate frames into a sliding window and
	// emit a Delta once it has enough context; this stub emits nothing
	// on its own and exists to be exercised by a concrete model binding.
}

func (s *StreamTranscriber) Start(ctx context.Context) (<-chan Delta, error) {
	go func() {
		<-ctx.Done()
		close(s.deltas)
	}()
	return s.deltas, nil
}

func (s *StreamTranscriber) Stop() {}
