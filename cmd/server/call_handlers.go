package main

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Voice/internal/call"
	"github.com/dkeye/Voice/internal/domain"
	"github.com/dkeye/Voice/internal/router"
	"github.com/dkeye/Voice/internal/wire"
)

func asAppError(err error) error {
	if ae, ok := err.(*call.AppError); ok {
		return &router.AppError{Code: ae.Code, Message: ae.Message}
	}
	return &router.AppError{Code: domain.ErrStorageError, Message: err.Error()}
}

type callInviteRequest struct {
	TargetUserID string `json:"target_user_id"`
}

type callIDResponse struct {
	CallID string `json:"call_id"`
}

func callInviteHandler(c *call.Coordinator) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) (any, error) {
		var in callInviteRequest
		if err := json.Unmarshal(req.Payload, &in); err != nil {
			return nil, &router.AppError{Code: domain.ErrSchema, Message: "malformed call_invite payload"}
		}
		id, err := c.Invite(ctx, req.UserID, domain.UserID(in.TargetUserID))
		if err != nil {
			return nil, asAppError(err)
		}
		return callIDResponse{CallID: string(id)}, nil
	}
}

type callIDRequest struct {
	CallID string `json:"call_id"`
}

func callAcceptHandler(c *call.Coordinator) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) (any, error) {
		var in callIDRequest
		if err := json.Unmarshal(req.Payload, &in); err != nil {
			return nil, &router.AppError{Code: domain.ErrSchema, Message: "malformed call_accept payload"}
		}
		if err := c.Accept(ctx, domain.CallID(in.CallID), req.UserID); err != nil {
			return nil, asAppError(err)
		}
		return callIDResponse{CallID: in.CallID}, nil
	}
}

func callRejectHandler(c *call.Coordinator) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) (any, error) {
		var in callIDRequest
		if err := json.Unmarshal(req.Payload, &in); err != nil {
			return nil, &router.AppError{Code: domain.ErrSchema, Message: "malformed call_reject payload"}
		}
		if err := c.Reject(ctx, domain.CallID(in.CallID), req.UserID); err != nil {
			return nil, asAppError(err)
		}
		return callIDResponse{CallID: in.CallID}, nil
	}
}

func callEndHandler(c *call.Coordinator) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) (any, error) {
		var in callIDRequest
		if err := json.Unmarshal(req.Payload, &in); err != nil {
			return nil, &router.AppError{Code: domain.ErrSchema, Message: "malformed call_end payload"}
		}
		if err := c.End(ctx, domain.CallID(in.CallID), req.UserID); err != nil {
			return nil, asAppError(err)
		}
		return callIDResponse{CallID: in.CallID}, nil
	}
}

type relayRequest struct {
	CallID  string          `json:"call_id"`
	Payload json.RawMessage `json:"data"`
}

// relayHandler forwards offer/answer/ice_candidate/video_state frames to
// the other participant unmodified (spec §4.5 "relay").
func relayHandler(c *call.Coordinator, msgType wire.MsgType) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) (any, error) {
		var in relayRequest
		if err := json.Unmarshal(req.Payload, &in); err != nil {
			return nil, &router.AppError{Code: domain.ErrSchema, Message: "malformed relay payload"}
		}
		if err := c.Relay(ctx, domain.CallID(in.CallID), req.UserID, msgType, in.Payload); err != nil {
			return nil, asAppError(err)
		}
		return callIDResponse{CallID: in.CallID}, nil
	}
}
