// Package router implements MessageRouter (spec §4.3): decodes the
// plaintext envelope, enforces the auth-required msg_type gate via
// TokenService, dispatches to a registered handler, and wraps the result
// back into a reply envelope. Grounded on dkeye-Voice's
// internal/adapters/signal/io.go (handleSignal: decode a {Type string}
// header then switch on it) and internal/adapters/signal/signal.go
// (sendJSON reply helper), generalized from an ad-hoc map[string]any
// reply to the structured Envelope of spec §6 and from a hardcoded
// switch to a handler-table dispatch.
package router

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Voice/internal/domain"
	"github.com/dkeye/Voice/internal/token"
	"github.com/dkeye/Voice/internal/wire"
	"github.com/rs/zerolog/log"
)

// Request is what a Handler receives for one dispatched frame.
type Request struct {
	UserID  domain.UserID
	Payload json.RawMessage
	Raw     wire.Envelope
}

// HandlerFunc processes one authenticated or pre-auth request and
// returns the payload to echo back, or an error (ideally *AppError, so
// the router can map it to a stable error_code).
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

// AppError carries a stable wire error code (spec §7) out of a handler.
type AppError struct {
	Code    domain.ErrorCode
	Message string
}

func (e *AppError) Error() string { return e.Message }

// Verifier is the subset of token.Service the router needs for the
// auth gate (spec §4.3 item 2).
type Verifier interface {
	VerifyAccess(tokenStr string, expectedUserID domain.UserID) error
}

// Router dispatches decoded frames to registered handlers.
type Router struct {
	handlers map[wire.MsgType]HandlerFunc
	tokens   Verifier
}

func New(tokens Verifier) *Router {
	return &Router{handlers: make(map[wire.MsgType]HandlerFunc), tokens: tokens}
}

// Handle registers the handler for msgType. Panics on duplicate
// registration, which can only be a wiring bug.
func (r *Router) Handle(msgType wire.MsgType, h HandlerFunc) {
	if _, exists := r.handlers[msgType]; exists {
		panic("router: duplicate handler for " + string(msgType))
	}
	r.handlers[msgType] = h
}

// Dispatch decodes one plaintext frame, authenticates it if required,
// runs the matching handler, and returns the reply frame to send back.
// Unrecognized msg_type and auth failures never mutate state
// (spec §8 invariant 2).
func (r *Router) Dispatch(ctx context.Context, frame wire.Frame) wire.Envelope {
	env, err := wire.Unmarshal(frame)
	if err != nil {
		return wire.ReplyError("", domain.ErrSchema, "malformed envelope")
	}

	if !wire.Recognized(env.MsgType) {
		return wire.ReplyError(env.MsgType, domain.ErrUnknownMsgType, "unrecognized msg_type")
	}

	var userID domain.UserID
	if wire.RequiresAuth(env.MsgType) {
		if env.JWT == "" || env.UserID == "" {
			return wire.ReplyError(env.MsgType, domain.ErrMissingJWT, "jwt and user_id required")
		}
		userID = domain.UserID(env.UserID)
		if verr := r.tokens.VerifyAccess(env.JWT, userID); verr != nil {
			return wire.ReplyError(env.MsgType, reasonToCode(verr), "token verification failed")
		}
	} else {
		userID = domain.UserID(env.UserID)
	}

	h, ok := r.handlers[env.MsgType]
	if !ok {
		return wire.ReplyError(env.MsgType, domain.ErrUnknownMsgType, "no handler registered")
	}

	payload, err := h(ctx, &Request{UserID: userID, Payload: env.Payload, Raw: env})
	if err != nil {
		code, msg := classify(err)
		return wire.ReplyError(env.MsgType, code, msg)
	}

	reply, err := wire.Reply(env.MsgType, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "router").Str("msg_type", string(env.MsgType)).Msg("marshal reply payload")
		return wire.ReplyError(env.MsgType, domain.ErrSchema, "failed to marshal reply")
	}
	return reply
}

func classify(err error) (domain.ErrorCode, string) {
	if ae, ok := err.(*AppError); ok {
		return ae.Code, ae.Message
	}
	return domain.ErrStorageError, err.Error()
}

func reasonToCode(err error) domain.ErrorCode {
	if verr, ok := err.(*token.VerificationError); ok {
		return domain.ErrorCode(verr.Reason)
	}
	return domain.ErrInvalidSignature
}
