package domain

import (
	"time"

	"github.com/google/uuid"
)

type CallID string

func NewCallID() CallID { return CallID(uuid.NewString()) }

// CallState is the CallCoordinator's state machine position (spec §4.5).
type CallState int

const (
	CallInviting CallState = iota
	CallAccepted
	CallActive
	CallEnded
)

func (s CallState) String() string {
	switch s {
	case CallInviting:
		return "inviting"
	case CallAccepted:
		return "accepted"
	case CallActive:
		return "active"
	case CallEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// CallKind classifies a persisted record from one participant's point of
// view (see Call.Kind).
type CallKind string

const (
	CallIncoming CallKind = "incoming"
	CallOutgoing CallKind = "outgoing"
	CallMissed   CallKind = "missed"
)

// EndReason explains why a call transitioned to CallEnded.
type EndReason string

const (
	EndReasonHangup          EndReason = "HANGUP"
	EndReasonTimeout         EndReason = "TIMEOUT"
	EndReasonRejected        EndReason = "REJECTED"
	EndReasonPeerDisconnect  EndReason = "PEER_DISCONNECTED"
	EndReasonSessionReplaced EndReason = "SESSION_REPLACED"
)

// TranscriptLine is one caption delta, append-only per call.
type TranscriptLine struct {
	Speaker   UserID
	Text      string
	Source    ModelPreference
	Timestamp time.Time
}

// Call is the shared record of a two-party signaling session. CallCoordinator
// holds the strong reference; Session lookups are weak (id only).
type Call struct {
	ID         CallID
	CallerID   UserID
	CalleeID   UserID
	State      CallState
	StartedAt  time.Time
	EndedAt    *time.Time
	EndReason  EndReason
	Transcript []TranscriptLine
}

// Kind reports how this call should be filed in history for viewerID.
func (c *Call) Kind(viewerID UserID) CallKind {
	if viewerID == c.CalleeID && (c.EndReason == EndReasonTimeout || c.EndReason == EndReasonRejected) {
		return CallMissed
	}
	if viewerID == c.CallerID {
		return CallOutgoing
	}
	return CallIncoming
}
