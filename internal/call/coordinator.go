// Package call implements CallCoordinator (spec §4.5): the per-call actor
// that drives the Inviting -> Accepted -> Active -> Ended state machine
// for a single two-party call, relays opaque offer/answer/ice_candidate
// signaling between the two participants, rings with a 30s timeout, and
// tears down its MediaAgent/CaptionFanOut on end. Grounded on
// dkeye-Voice's internal/app/orchestrator.go and internal/app/registry.go
// (mutex-guarded map keyed by id, cancel-context timers), narrowed from
// an N-party Room/SFU orchestrator to a 2-party call actor per the
// signaling-only relay design (spec §4.5 Non-goals: no multi-party calls,
// no server-side media mixing).
package call

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dkeye/Voice/internal/domain"
	"github.com/dkeye/Voice/internal/repository"
	"github.com/dkeye/Voice/internal/session"
	"github.com/dkeye/Voice/internal/wire"
	"github.com/rs/zerolog/log"
)

// RingTimeout bounds how long an Inviting call waits for the callee to
// respond before it transitions to Ended/TIMEOUT (spec §4.5).
const RingTimeout = 30 * time.Second

// AppError is a call-operation failure carrying a stable wire error code.
type AppError struct {
	Code    domain.ErrorCode
	Message string
}

func (e *AppError) Error() string { return e.Message }

func appErr(code domain.ErrorCode, msg string) *AppError { return &AppError{Code: code, Message: msg} }

// MediaFactory builds and disposes the server-side captioning pipeline
// for one call. Coordinator depends on it only through this seam so it
// never imports internal/media or internal/caption directly.
type MediaFactory interface {
	// Start spins up MediaAgent + CaptionFanOut for the given call and
	// participants. The caption target is always callee: the server's
	// MediaAgent negotiates its own receive-only peer connection against
	// whichever offer/ice_candidate frames callee sends, piggybacked off
	// the ordinary signaling relay via the returned onSignal func (spec
	// §9 open question, decided in DESIGN.md: caption the callee's video
	// by default since the caller is the one placing the call and the
	// callee is conventionally the one being lip-read). dispose tears the
	// pipeline down; it is invoked once on Ended.
	Start(ctx context.Context, callID domain.CallID, caller, callee domain.UserID) (dispose func(), onSignal func(msgType wire.MsgType, payload []byte), err error)
}

// call is the coordinator's internal bookkeeping for one in-flight call.
type call struct {
	mu        sync.Mutex
	record    *domain.Call
	ringer    *time.Timer
	dispose   func()
	onSignal  func(msgType wire.MsgType, payload []byte)
	cancel    context.CancelFunc
}

// Coordinator owns every in-flight call, keyed by CallID, plus a
// secondary index from participant to their current CallID so a user's
// availability can be checked in O(1).
type Coordinator struct {
	mu        sync.Mutex
	byID      map[domain.CallID]*call
	byUser    map[domain.UserID]domain.CallID
	registry  *session.Registry
	repo      repository.Repository
	media     MediaFactory
	ringAfter time.Duration
}

// NewCoordinator builds a Coordinator. A zero ringTimeout falls back to
// RingTimeout.
func NewCoordinator(registry *session.Registry, repo repository.Repository, media MediaFactory, ringTimeout time.Duration) *Coordinator {
	if ringTimeout <= 0 {
		ringTimeout = RingTimeout
	}
	return &Coordinator{
		byID:      make(map[domain.CallID]*call),
		byUser:    make(map[domain.UserID]domain.CallID),
		registry:  registry,
		repo:      repo,
		media:     media,
		ringAfter: ringTimeout,
	}
}

func (c *Coordinator) send(ctx context.Context, userID domain.UserID, msgType wire.MsgType, payload any) {
	c.sendFrom(ctx, userID, "", msgType, payload)
}

// sendFrom pushes msgType/payload to userID, stamping the envelope's
// user_id with from when set so the recipient can tell who sent it
// (spec §4.5: the coordinator rewrites the forwarded frame's sender to
// the original sender's user_id).
func (c *Coordinator) sendFrom(ctx context.Context, userID, from domain.UserID, msgType wire.MsgType, payload any) {
	conn, ok := c.registry.Lookup(userID)
	if !ok {
		return
	}
	env, err := wire.Push(msgType, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "call").Msg("marshal push payload")
		return
	}
	if from != "" {
		env.UserID = string(from)
	}
	frame, err := wire.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "call").Msg("marshal push envelope")
		return
	}
	if err := conn.Send(frame); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("user_id", string(userID)).Msg("push delivery failed")
	}
}

// Invite starts a new call from caller to callee (spec §4.5 "call_invite").
func (c *Coordinator) Invite(ctx context.Context, caller, callee domain.UserID) (domain.CallID, error) {
	if caller == callee {
		return "", appErr(domain.ErrSelfInvite, "cannot call yourself")
	}
	if !c.registry.Online(callee) {
		return "", appErr(domain.ErrTargetNotAvailable, "callee is not connected")
	}

	c.mu.Lock()
	if _, busy := c.byUser[caller]; busy {
		c.mu.Unlock()
		return "", appErr(domain.ErrAlreadyInviting, "caller already has a call in flight")
	}
	if _, busy := c.byUser[callee]; busy {
		c.mu.Unlock()
		return "", appErr(domain.ErrTargetBusy, "callee is already on a call")
	}

	id := domain.NewCallID()
	st := &call{record: &domain.Call{
		ID:        id,
		CallerID:  caller,
		CalleeID:  callee,
		State:     domain.CallInviting,
		StartedAt: time.Now().UTC(),
	}}
	c.byID[id] = st
	c.byUser[caller] = id
	c.byUser[callee] = id
	c.mu.Unlock()

	st.ringer = time.AfterFunc(c.ringAfter, func() {
		c.timeout(context.Background(), id)
	})

	c.send(ctx, callee, wire.MsgCallInvite, map[string]string{
		"call_id": string(id),
		"from":    string(caller),
	})
	return id, nil
}

func (c *Coordinator) lookup(id domain.CallID) (*call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.byID[id]
	return st, ok
}

// Accept transitions an Inviting call to Active (spec §4.5 "call_accept").
func (c *Coordinator) Accept(ctx context.Context, id domain.CallID, by domain.UserID) error {
	st, ok := c.lookup(id)
	if !ok {
		return appErr(domain.ErrNoSuchCall, "no such call")
	}
	st.mu.Lock()
	if st.record.CalleeID != by || st.record.State != domain.CallInviting {
		st.mu.Unlock()
		return appErr(domain.ErrNoSuchCall, "call not in invitable state")
	}
	st.record.State = domain.CallAccepted
	if st.ringer != nil {
		st.ringer.Stop()
	}
	callCtx, cancel := context.WithCancel(context.Background())
	st.cancel = cancel
	caller, callee := st.record.CallerID, st.record.CalleeID
	st.mu.Unlock()

	if c.media != nil {
		dispose, onSignal, err := c.media.Start(callCtx, id, caller, callee)
		if err != nil {
			log.Error().Err(err).Str("module", "call").Str("call_id", string(id)).Msg("start media pipeline")
		} else {
			st.mu.Lock()
			st.dispose = dispose
			st.onSignal = onSignal
			st.mu.Unlock()
		}
	}

	st.mu.Lock()
	st.record.State = domain.CallActive
	st.mu.Unlock()

	c.send(ctx, caller, wire.MsgCallAccept, map[string]string{"call_id": string(id)})
	return nil
}

// Reject ends an Inviting call without ever becoming Active
// (spec §4.5 "call_reject").
func (c *Coordinator) Reject(ctx context.Context, id domain.CallID, by domain.UserID) error {
	st, ok := c.lookup(id)
	if !ok {
		return appErr(domain.ErrNoSuchCall, "no such call")
	}
	st.mu.Lock()
	if st.record.CalleeID != by || st.record.State != domain.CallInviting {
		st.mu.Unlock()
		return appErr(domain.ErrNoSuchCall, "call not in invitable state")
	}
	st.mu.Unlock()
	c.end(ctx, id, domain.EndReasonRejected)
	return nil
}

// End terminates a call at the request of one of its participants
// (spec §4.5 "call_end").
func (c *Coordinator) End(ctx context.Context, id domain.CallID, by domain.UserID) error {
	st, ok := c.lookup(id)
	if !ok {
		return appErr(domain.ErrNoSuchCall, "no such call")
	}
	st.mu.Lock()
	if st.record.CallerID != by && st.record.CalleeID != by {
		st.mu.Unlock()
		return appErr(domain.ErrNoSuchCall, "not a participant")
	}
	st.mu.Unlock()
	c.end(ctx, id, domain.EndReasonHangup)
	return nil
}

func (c *Coordinator) timeout(ctx context.Context, id domain.CallID) {
	st, ok := c.lookup(id)
	if !ok {
		return
	}
	st.mu.Lock()
	stillInviting := st.record.State == domain.CallInviting
	st.mu.Unlock()
	if stillInviting {
		c.end(ctx, id, domain.EndReasonTimeout)
	}
}

// EndForDisconnect ends whatever call userID is party to, if any, with
// PEER_DISCONNECTED (spec §4.5 "peer disconnect"). No-op if userID has
// no active call.
func (c *Coordinator) EndForDisconnect(ctx context.Context, userID domain.UserID) {
	c.mu.Lock()
	id, ok := c.byUser[userID]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.end(ctx, id, domain.EndReasonPeerDisconnect)
}

// EndForSessionReplaced ends userID's active call because a new
// connection displaced their old one (spec §4.4 "session displacement").
func (c *Coordinator) EndForSessionReplaced(ctx context.Context, userID domain.UserID) {
	c.mu.Lock()
	id, ok := c.byUser[userID]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.end(ctx, id, domain.EndReasonSessionReplaced)
}

func (c *Coordinator) end(ctx context.Context, id domain.CallID, reason domain.EndReason) {
	st, ok := c.lookup(id)
	if !ok {
		return
	}

	st.mu.Lock()
	if st.record.State == domain.CallEnded {
		st.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	st.record.State = domain.CallEnded
	st.record.EndedAt = &now
	st.record.EndReason = reason
	if st.ringer != nil {
		st.ringer.Stop()
	}
	if st.cancel != nil {
		st.cancel()
	}
	dispose := st.dispose
	recordCopy := *st.record
	caller, callee := st.record.CallerID, st.record.CalleeID
	st.mu.Unlock()

	if dispose != nil {
		dispose()
	}

	c.mu.Lock()
	delete(c.byID, id)
	if c.byUser[caller] == id {
		delete(c.byUser, caller)
	}
	if c.byUser[callee] == id {
		delete(c.byUser, callee)
	}
	c.mu.Unlock()

	if err := c.repo.SaveCall(ctx, &recordCopy); err != nil {
		log.Error().Err(err).Str("module", "call").Str("call_id", string(id)).Msg("persist call record")
	}

	payload := map[string]string{"call_id": string(id), "reason": string(reason)}
	c.send(ctx, caller, wire.MsgCallEnd, payload)
	c.send(ctx, callee, wire.MsgCallEnd, payload)
}

// AppendTranscriptLine satisfies caption.Persister: it appends to the
// live in-flight Call record so the final SaveCall on Ended carries the
// full transcript (spec §4.7 "append-only, monotonic per speaker").
func (c *Coordinator) AppendTranscriptLine(ctx context.Context, id domain.CallID, line domain.TranscriptLine) error {
	st, ok := c.lookup(id)
	if !ok {
		return appErr(domain.ErrNoSuchCall, "no such call")
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.record.Transcript = append(st.record.Transcript, line)
	return nil
}

// Relay forwards an opaque signaling payload (offer/answer/ice_candidate/
// video_state) from the sender to the other participant, rewriting the
// forwarded frame's user_id to from so the recipient can authenticate
// the sender (spec §4.5 "relay").
func (c *Coordinator) Relay(ctx context.Context, id domain.CallID, from domain.UserID, msgType wire.MsgType, payload any) error {
	st, ok := c.lookup(id)
	if !ok {
		return appErr(domain.ErrNoSuchCall, "no such call")
	}
	st.mu.Lock()
	caller, callee := st.record.CallerID, st.record.CalleeID
	active := st.record.State == domain.CallActive || st.record.State == domain.CallAccepted
	st.mu.Unlock()
	if !active {
		return appErr(domain.ErrNoSuchCall, "call not active")
	}
	var to domain.UserID
	switch from {
	case caller:
		to = callee
	case callee:
		to = caller
	default:
		return appErr(domain.ErrNoSuchCall, "not a participant")
	}
	c.sendFrom(ctx, to, from, msgType, payload)

	if from == callee && (msgType == wire.MsgOffer || msgType == wire.MsgICECandidate) {
		st.mu.Lock()
		onSignal := st.onSignal
		st.mu.Unlock()
		if onSignal != nil {
			if raw, err := json.Marshal(payload); err == nil {
				onSignal(msgType, raw)
			}
		}
	}
	return nil
}
