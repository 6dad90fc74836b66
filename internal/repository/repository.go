// Package repository declares the storage contract used by the rest of
// the module. The real store (spec §1, "Repository (external)") lives
// outside this subsystem; InMemory below exists only so the module
// builds and tests standalone.
package repository

import (
	"context"
	"errors"

	"github.com/dkeye/Voice/internal/domain"
)

var (
	ErrNotFound      = errors.New("repository: not found")
	ErrAlreadyExists = errors.New("repository: already exists")
)

// Repository is the single persistence seam named in spec §1/§6: users,
// contacts, refresh-token revocation state, and call records with their
// transcripts.
type Repository interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUserByID(ctx context.Context, id domain.UserID) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	SetModelPreference(ctx context.Context, id domain.UserID, pref domain.ModelPreference) error

	AddContact(ctx context.Context, c domain.Contact) error
	ListContacts(ctx context.Context, owner domain.UserID) ([]domain.Contact, error)

	// PutRefreshToken and RevokeRefreshToken must be usable as an atomic
	// read-modify-write pair so a jti is never valid twice (spec §5).
	PutRefreshToken(ctx context.Context, t domain.RefreshToken) error
	GetRefreshToken(ctx context.Context, jti string) (*domain.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, jti string) error
	RevokeAllRefreshTokens(ctx context.Context, userID domain.UserID) error

	SaveCall(ctx context.Context, c *domain.Call) error
	ListCalls(ctx context.Context, userID domain.UserID, limit int) ([]*domain.Call, error)
}
