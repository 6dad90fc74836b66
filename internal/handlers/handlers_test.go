package handlers

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"testing"
	"time"

	"github.com/dkeye/Voice/internal/domain"
	"github.com/dkeye/Voice/internal/repository"
	"github.com/dkeye/Voice/internal/router"
	"github.com/dkeye/Voice/internal/token"
	"github.com/stretchr/testify/require"
)

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	repo := repository.NewInMemory()
	tokens := token.NewService(key, repo, 15*time.Minute, 7*24*time.Hour)
	return New(repo, tokens)
}

func marshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestSignupAndAuthenticate(t *testing.T) {
	h := newTestHandlers(t)
	ctx := context.Background()

	resp, err := h.Signup(ctx, &router.Request{Payload: marshal(t, signupRequest{
		Username: "ada", Name: "Ada Lovelace", Password: "Str0ngPass!",
	})})
	require.NoError(t, err)
	ar := resp.(authResponse)
	require.NotEmpty(t, ar.Access)

	resp2, err := h.Authenticate(ctx, &router.Request{Payload: marshal(t, authenticateRequest{
		Username: "ada", Password: "Str0ngPass!",
	})})
	require.NoError(t, err)
	require.Equal(t, ar.UserID, resp2.(authResponse).UserID)
}

func TestSignupWeakPasswordRejected(t *testing.T) {
	h := newTestHandlers(t)
	_, err := h.Signup(context.Background(), &router.Request{Payload: marshal(t, signupRequest{
		Username: "bob", Name: "Bob", Password: "allsmall",
	})})
	require.Error(t, err)
	ae, ok := err.(*router.AppError)
	require.True(t, ok)
	require.Equal(t, domain.ErrWeakPassword, ae.Code)
}

func TestSignupDuplicateUsernameRejected(t *testing.T) {
	h := newTestHandlers(t)
	ctx := context.Background()
	_, err := h.Signup(ctx, &router.Request{Payload: marshal(t, signupRequest{
		Username: "ada", Name: "Ada", Password: "Str0ngPass!",
	})})
	require.NoError(t, err)

	_, err = h.Signup(ctx, &router.Request{Payload: marshal(t, signupRequest{
		Username: "ada", Name: "Ada2", Password: "Str0ngPass!",
	})})
	require.Error(t, err)
	ae, ok := err.(*router.AppError)
	require.True(t, ok)
	require.Equal(t, domain.ErrUsernameTaken, ae.Code)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	h := newTestHandlers(t)
	ctx := context.Background()
	_, err := h.Signup(ctx, &router.Request{Payload: marshal(t, signupRequest{
		Username: "ada", Name: "Ada", Password: "Str0ngPass!",
	})})
	require.NoError(t, err)

	_, err = h.Authenticate(ctx, &router.Request{Payload: marshal(t, authenticateRequest{
		Username: "ada", Password: "wrong",
	})})
	require.Error(t, err)
	ae, ok := err.(*router.AppError)
	require.True(t, ok)
	require.Equal(t, domain.ErrInvalidCredentials, ae.Code)
}

func TestAddContactSelfRejected(t *testing.T) {
	h := newTestHandlers(t)
	ctx := context.Background()
	resp, err := h.Signup(ctx, &router.Request{Payload: marshal(t, signupRequest{
		Username: "ada", Name: "Ada", Password: "Str0ngPass!",
	})})
	require.NoError(t, err)
	uid := domain.UserID(resp.(authResponse).UserID)

	_, err = h.AddContact(ctx, &router.Request{
		UserID:  uid,
		Payload: marshal(t, addContactRequest{Username: "ada"}),
	})
	require.Error(t, err)
	ae, ok := err.(*router.AppError)
	require.True(t, ok)
	require.Equal(t, domain.ErrSelfContact, ae.Code)
}

func TestAddContactDuplicateRejected(t *testing.T) {
	h := newTestHandlers(t)
	ctx := context.Background()
	r1, _ := h.Signup(ctx, &router.Request{Payload: marshal(t, signupRequest{Username: "ada", Name: "Ada", Password: "Str0ngPass!"})})
	r2, _ := h.Signup(ctx, &router.Request{Payload: marshal(t, signupRequest{Username: "bob", Name: "Bob", Password: "Str0ngPass!"})})
	adaID := domain.UserID(r1.(authResponse).UserID)
	_ = r2

	_, err := h.AddContact(ctx, &router.Request{UserID: adaID, Payload: marshal(t, addContactRequest{Username: "bob"})})
	require.NoError(t, err)

	_, err = h.AddContact(ctx, &router.Request{UserID: adaID, Payload: marshal(t, addContactRequest{Username: "bob"})})
	require.Error(t, err)
	ae, ok := err.(*router.AppError)
	require.True(t, ok)
	require.Equal(t, domain.ErrDuplicateContact, ae.Code)
}

func TestSetModelPreferenceEchoesConfirmation(t *testing.T) {
	h := newTestHandlers(t)
	ctx := context.Background()
	resp, _ := h.Signup(ctx, &router.Request{Payload: marshal(t, signupRequest{Username: "ada", Name: "Ada", Password: "Str0ngPass!"})})
	uid := domain.UserID(resp.(authResponse).UserID)

	out, err := h.SetModelPreference(ctx, &router.Request{
		UserID:  uid,
		Payload: marshal(t, setModelPreferenceRequest{ModelPreference: domain.ModelAudio}),
	})
	require.NoError(t, err)
	require.Equal(t, domain.ModelAudio, out.(setModelPreferenceRequest).ModelPreference)
}
