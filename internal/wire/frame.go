// Package wire defines the plaintext message envelope and recognized
// msg_type set shared by every component that touches a decoded frame
// (spec §4.3, §6). It imports no internal package other than domain (plus
// google/uuid for message ids) so every layer
// above it (session, router, call, caption, transport) can import it
// without creating cycles.
package wire

import (
	"encoding/json"
	"time"

	"github.com/dkeye/Voice/internal/domain"
	"github.com/google/uuid"
)

// Frame is a raw byte payload moving across a Connection, either the
// AEAD wire envelope (pre-decrypt) or the decrypted JSON document.
type Frame []byte

// MsgType enumerates the recognized msg_type values (spec §6).
type MsgType string

const (
	MsgHandshake            MsgType = "handshake"
	MsgPing                 MsgType = "ping"
	MsgPong                 MsgType = "pong"
	MsgSignup               MsgType = "signup"
	MsgAuthenticate         MsgType = "authenticate"
	MsgRefreshToken         MsgType = "refresh_token"
	MsgLogout               MsgType = "logout"
	MsgGetContacts          MsgType = "get_contacts"
	MsgAddContact           MsgType = "add_contact"
	MsgFetchCallHistory     MsgType = "fetch_call_history"
	MsgSetModelPreference   MsgType = "set_model_preference"
	MsgCallInvite           MsgType = "call_invite"
	MsgCallAccept           MsgType = "call_accept"
	MsgCallReject           MsgType = "call_reject"
	MsgCallEnd              MsgType = "call_end"
	MsgOffer                MsgType = "offer"
	MsgAnswer               MsgType = "answer"
	MsgICECandidate         MsgType = "ice_candidate"
	MsgVideoState           MsgType = "video_state"
	MsgLipReadingPrediction MsgType = "lip_reading_prediction"
	MsgSessionReplaced      MsgType = "session_replaced"
)

// recognized is the full closed set named in spec §6. A frame whose
// msg_type is not present here is rejected without state change
// (spec §8 invariant 2).
var recognized = map[MsgType]bool{
	MsgHandshake: true, MsgPing: true, MsgPong: true, MsgSignup: true,
	MsgAuthenticate: true, MsgRefreshToken: true, MsgLogout: true,
	MsgGetContacts: true, MsgAddContact: true, MsgFetchCallHistory: true,
	MsgSetModelPreference: true, MsgCallInvite: true, MsgCallAccept: true,
	MsgCallReject: true, MsgCallEnd: true, MsgOffer: true, MsgAnswer: true,
	MsgICECandidate: true, MsgVideoState: true, MsgLipReadingPrediction: true,
	MsgSessionReplaced: true,
}

func Recognized(t MsgType) bool { return recognized[t] }

// noAuthRequired lists the msg_types the router must accept without a
// verified access token (spec §4.3 item 2).
var noAuthRequired = map[MsgType]bool{
	MsgHandshake: true, MsgAuthenticate: true, MsgSignup: true,
	MsgPing: true, MsgRefreshToken: true,
}

func RequiresAuth(t MsgType) bool { return !noAuthRequired[t] }

// Envelope is the plaintext message envelope of spec §6.
type Envelope struct {
	MessageID    string          `json:"message_id"`
	Timestamp    time.Time       `json:"timestamp"`
	MsgType      MsgType         `json:"msg_type"`
	Success      bool            `json:"success"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	JWT          string          `json:"jwt,omitempty"`
	UserID       string          `json:"user_id,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

func NewMessageID() string { return uuid.NewString() }

// Reply builds a single-frame response echoing msgType with a fresh
// message_id (spec §4.3 item 3).
func Reply(msgType MsgType, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		MessageID: NewMessageID(),
		Timestamp: time.Now().UTC(),
		MsgType:   msgType,
		Success:   true,
		Payload:   raw,
	}, nil
}

// ReplyError builds a single-frame error response (spec §7).
func ReplyError(msgType MsgType, code domain.ErrorCode, message string) Envelope {
	return Envelope{
		MessageID:    NewMessageID(),
		Timestamp:    time.Now().UTC(),
		MsgType:      msgType,
		Success:      false,
		ErrorCode:    string(code),
		ErrorMessage: message,
	}
}

// Push builds a server-initiated frame not correlated to any
// message_id (spec §4.3: "streaming messages ... are separate frames").
func Push(msgType MsgType, payload any) (Envelope, error) {
	return Reply(msgType, payload)
}

// Marshal serializes an Envelope to its plaintext JSON wire form, ready
// to be sealed by a crypto.Envelope before transmission.
func Marshal(env Envelope) (Frame, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return Frame(b), nil
}

// Unmarshal parses a plaintext JSON frame into an Envelope.
func Unmarshal(f Frame) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(f, &env)
	return env, err
}
