// Package handlers implements the request/response operations of spec
// §4.3/§6 that are not part of the call-signaling flow: account
// lifecycle, contacts, call history, and model preference. Each method
// matches router.HandlerFunc's signature so it can be registered
// directly with a Router; this package imports router, and router does
// not import this package. Grounded on dmitrijs2005-gophkeeper's
// internal/server/services/user.go (password hashing + repository calls
// wrapped in one service method per operation).
package handlers

import (
	"context"
	"encoding/json"
	"strings"
	"unicode"

	"github.com/dkeye/Voice/internal/domain"
	"github.com/dkeye/Voice/internal/repository"
	"github.com/dkeye/Voice/internal/router"
	"github.com/dkeye/Voice/internal/token"
	"golang.org/x/crypto/bcrypt"
)

// bcryptCost matches tomtom215-cartographus's internal/auth/basic.go.
const bcryptCost = 12

type Handlers struct {
	Repo   repository.Repository
	Tokens *token.Service
}

func New(repo repository.Repository, tokens *token.Service) *Handlers {
	return &Handlers{Repo: repo, Tokens: tokens}
}

func appErr(code domain.ErrorCode, msg string) *router.AppError {
	return &router.AppError{Code: code, Message: msg}
}

// validatePassword enforces the minimum strength rule of spec §4.3
// ("signup"): at least MinPasswordLen characters, drawn from at least
// two character classes.
func validatePassword(pw string) error {
	if len(pw) < domain.MinPasswordLen {
		return appErr(domain.ErrWeakPassword, "password too short")
	}
	var classes int
	var hasUpper, hasLower, hasDigit, hasOther bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasOther = true
		}
	}
	for _, b := range []bool{hasUpper, hasLower, hasDigit, hasOther} {
		if b {
			classes++
		}
	}
	if classes < 2 {
		return appErr(domain.ErrWeakPassword, "password must mix character classes")
	}
	return nil
}

type signupRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type authResponse struct {
	UserID  string `json:"user_id"`
	Access  string `json:"access_token"`
	Refresh string `json:"refresh_token"`
}

// Signup implements spec §4.3 "signup".
func (h *Handlers) Signup(ctx context.Context, req *router.Request) (any, error) {
	var in signupRequest
	if err := json.Unmarshal(req.Payload, &in); err != nil {
		return nil, appErr(domain.ErrSchema, "malformed signup payload")
	}
	in.Username = strings.TrimSpace(in.Username)
	if err := domain.ValidateUsername(in.Username); err != nil {
		return nil, appErr(domain.ErrInvalidUsername, err.Error())
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	if _, err := h.Repo.GetUserByUsername(ctx, in.Username); err == nil {
		return nil, appErr(domain.ErrUsernameTaken, "username already taken")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcryptCost)
	if err != nil {
		return nil, appErr(domain.ErrStorageError, "failed to hash password")
	}
	user, err := domain.NewUser(in.Username, in.Name, hash)
	if err != nil {
		return nil, appErr(domain.ErrInvalidUsername, err.Error())
	}
	if err := h.Repo.CreateUser(ctx, user); err != nil {
		return nil, appErr(domain.ErrStorageError, "failed to create user")
	}

	pair, err := h.Tokens.Issue(ctx, user.ID)
	if err != nil {
		return nil, appErr(domain.ErrStorageError, "failed to issue tokens")
	}
	return authResponse{UserID: string(user.ID), Access: pair.Access, Refresh: pair.Refresh}, nil
}

type authenticateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Authenticate implements spec §4.3 "authenticate".
func (h *Handlers) Authenticate(ctx context.Context, req *router.Request) (any, error) {
	var in authenticateRequest
	if err := json.Unmarshal(req.Payload, &in); err != nil {
		return nil, appErr(domain.ErrSchema, "malformed authenticate payload")
	}
	user, err := h.Repo.GetUserByUsername(ctx, in.Username)
	if err != nil {
		return nil, appErr(domain.ErrInvalidCredentials, "invalid username or password")
	}
	if bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(in.Password)) != nil {
		return nil, appErr(domain.ErrInvalidCredentials, "invalid username or password")
	}
	pair, err := h.Tokens.Issue(ctx, user.ID)
	if err != nil {
		return nil, appErr(domain.ErrStorageError, "failed to issue tokens")
	}
	return authResponse{UserID: string(user.ID), Access: pair.Access, Refresh: pair.Refresh}, nil
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Access   string `json:"access_token"`
	Refresh  string `json:"refresh_token"`
}

// RefreshToken implements spec §4.3 "refresh_token". Returns username
// and name alongside the rotated pair (spec names
// {user_id, username, name, access_token}; refresh_token is additionally
// included per the rotate-and-revoke policy decided for §9 "refresh
// rotation", see DESIGN.md).
func (h *Handlers) RefreshToken(ctx context.Context, req *router.Request) (any, error) {
	var in refreshRequest
	if err := json.Unmarshal(req.Payload, &in); err != nil {
		return nil, appErr(domain.ErrSchema, "malformed refresh_token payload")
	}
	userID, pair, err := h.Tokens.Rotate(ctx, in.RefreshToken)
	if err != nil {
		return nil, mapTokenErr(err)
	}
	user, err := h.Repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, appErr(domain.ErrStorageError, "failed to load user")
	}
	return refreshResponse{
		UserID:   string(userID),
		Username: user.Username,
		Name:     user.Name,
		Access:   pair.Access,
		Refresh:  pair.Refresh,
	}, nil
}

// Logout implements spec §4.3 "logout": revoke every outstanding
// refresh token for the caller.
func (h *Handlers) Logout(ctx context.Context, req *router.Request) (any, error) {
	if err := h.Tokens.RevokeAll(ctx, req.UserID); err != nil {
		return nil, appErr(domain.ErrStorageError, "failed to revoke tokens")
	}
	return map[string]bool{"ok": true}, nil
}

type contactResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// GetContacts implements spec §4.3 "get_contacts".
func (h *Handlers) GetContacts(ctx context.Context, req *router.Request) (any, error) {
	contacts, err := h.Repo.ListContacts(ctx, req.UserID)
	if err != nil {
		return nil, appErr(domain.ErrStorageError, "failed to list contacts")
	}
	out := make([]contactResponse, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, contactResponse{ID: string(c.ContactID), Username: c.Username, Name: c.Name})
	}
	return out, nil
}

type addContactRequest struct {
	Username string `json:"username"`
}

// AddContact implements spec §4.3 "add_contact".
func (h *Handlers) AddContact(ctx context.Context, req *router.Request) (any, error) {
	var in addContactRequest
	if err := json.Unmarshal(req.Payload, &in); err != nil {
		return nil, appErr(domain.ErrSchema, "malformed add_contact payload")
	}
	target, err := h.Repo.GetUserByUsername(ctx, in.Username)
	if err != nil {
		return nil, appErr(domain.ErrInvalidUsername, "no such user")
	}
	if target.ID == req.UserID {
		return nil, appErr(domain.ErrSelfContact, "cannot add yourself as a contact")
	}
	existing, err := h.Repo.ListContacts(ctx, req.UserID)
	if err == nil {
		for _, c := range existing {
			if c.ContactID == target.ID {
				return nil, appErr(domain.ErrDuplicateContact, "already a contact")
			}
		}
	}
	if err := h.Repo.AddContact(ctx, domain.Contact{
		OwnerID:   req.UserID,
		ContactID: target.ID,
		Username:  target.Username,
		Name:      target.Name,
	}); err != nil {
		return nil, appErr(domain.ErrStorageError, "failed to add contact")
	}
	return contactResponse{ID: string(target.ID), Username: target.Username, Name: target.Name}, nil
}

type callHistoryRequest struct {
	Limit int `json:"limit"`
}

type callHistoryEntry struct {
	CallID    string `json:"call_id"`
	PeerID    string `json:"peer_id"`
	Kind      string `json:"kind"`
	StartedAt string `json:"started_at"`
	EndReason string `json:"end_reason"`
}

// FetchCallHistory implements spec §4.3 "fetch_call_history".
func (h *Handlers) FetchCallHistory(ctx context.Context, req *router.Request) (any, error) {
	var in callHistoryRequest
	_ = json.Unmarshal(req.Payload, &in)
	if in.Limit <= 0 {
		in.Limit = 50
	}
	calls, err := h.Repo.ListCalls(ctx, req.UserID, in.Limit)
	if err != nil {
		return nil, appErr(domain.ErrCallHistoryError, "failed to list call history")
	}
	out := make([]callHistoryEntry, 0, len(calls))
	for _, c := range calls {
		peer := c.CalleeID
		if req.UserID == c.CalleeID {
			peer = c.CallerID
		}
		out = append(out, callHistoryEntry{
			CallID:    string(c.ID),
			PeerID:    string(peer),
			Kind:      string(c.Kind(req.UserID)),
			StartedAt: c.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
			EndReason: string(c.EndReason),
		})
	}
	return out, nil
}

type setModelPreferenceRequest struct {
	ModelPreference domain.ModelPreference `json:"model_preference"`
}

// SetModelPreference implements spec §4.3 "set_model_preference" and
// echoes the confirmed preference back to the caller (spec §6,
// supplemented feature: original_source's set_model_preference
// confirmation echo).
func (h *Handlers) SetModelPreference(ctx context.Context, req *router.Request) (any, error) {
	var in setModelPreferenceRequest
	if err := json.Unmarshal(req.Payload, &in); err != nil {
		return nil, appErr(domain.ErrSchema, "malformed set_model_preference payload")
	}
	if !in.ModelPreference.Valid() {
		return nil, appErr(domain.ErrSchema, "unknown model_preference value")
	}
	if err := h.Repo.SetModelPreference(ctx, req.UserID, in.ModelPreference); err != nil {
		return nil, appErr(domain.ErrStorageError, "failed to set model preference")
	}
	return setModelPreferenceRequest{ModelPreference: in.ModelPreference}, nil
}

func mapTokenErr(err error) *router.AppError {
	if verr, ok := err.(*token.VerificationError); ok {
		return appErr(domain.ErrorCode(verr.Reason), "refresh token verification failed")
	}
	return appErr(domain.ErrStorageError, err.Error())
}
