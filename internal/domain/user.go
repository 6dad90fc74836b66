// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxUsernameLen = 36
	MinPasswordLen = 8
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

type UserID string

// ModelPreference selects which Transcriber backend captions a user's calls.
type ModelPreference string

const (
	ModelLip   ModelPreference = "lip"
	ModelAudio ModelPreference = "audio"
)

func (m ModelPreference) Valid() bool {
	return m == ModelLip || m == ModelAudio
}

// User is the durable account record. ID is immutable once assigned;
// username uniqueness is enforced by the Repository at creation time.
type User struct {
	ID              UserID `json:"id"`
	Username        string `json:"username"`
	Name            string `json:"name"`
	PasswordHash    []byte `json:"-"`
	ModelPreference ModelPreference `json:"model_preference"`
}

// NewUser validates username and assigns a fresh opaque ID.
func NewUser(username, name string, passwordHash []byte) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	return &User{
		ID:              UserID(uuid.NewString()),
		Username:        username,
		Name:            name,
		PasswordHash:    passwordHash,
		ModelPreference: ModelLip,
	}, nil
}

func ValidateUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}

// Contact is a directed edge from owner to contact; self-edges are
// rejected by the handler before reaching the Repository.
type Contact struct {
	OwnerID   UserID `json:"-"`
	ContactID UserID `json:"id"`
	Username  string `json:"username"`
	Name      string `json:"name"`
}
