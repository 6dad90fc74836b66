// Package token implements TokenService (spec §4.2): issuing, verifying,
// and rotating bearer credentials. Grounded on
// dmitrijs2005-gophkeeper's internal/server/auth/jwt.go (claims struct
// embedding jwt.RegisteredClaims, golang-jwt/jwt/v5 sign/parse calls),
// generalized from HS256/single-token to RS256 access+refresh pairs with
// rotation, per spec.
package token

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Voice/internal/domain"
	"github.com/dkeye/Voice/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

// Claims carries the payload described in spec §4.2.
type Claims struct {
	jwt.RegisteredClaims
	UserID domain.UserID `json:"user_id"`
	Type   TokenType     `json:"type"`
}

// Reason is a typed verification failure kind (spec §4.2 "Error kinds").
type Reason string

const (
	ReasonOK               Reason = ""
	ReasonInvalidSignature Reason = Reason(domain.ErrInvalidSignature)
	ReasonExpired          Reason = Reason(domain.ErrTokenExpired)
	ReasonWrongType        Reason = Reason(domain.ErrWrongType)
	ReasonRevoked          Reason = Reason(domain.ErrTokenRevoked)
	ReasonUserMismatch     Reason = Reason(domain.ErrUserMismatch)
)

var ErrVerification = errors.New("token: verification failed")

// VerificationError wraps a Reason so callers can map it to a wire error_code.
type VerificationError struct {
	Reason Reason
}

func (e *VerificationError) Error() string { return fmt.Sprintf("token: %s", e.Reason) }
func (e *VerificationError) Is(target error) bool { return target == ErrVerification }

type Pair struct {
	Access  string
	Refresh string
}

// Service issues and verifies RS256-signed access/refresh tokens and
// tracks refresh-token revocation through the Repository.
type Service struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	repo       repository.Repository
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewService(priv *rsa.PrivateKey, repo repository.Repository, accessTTL, refreshTTL time.Duration) *Service {
	return &Service{
		privateKey: priv,
		publicKey:  &priv.PublicKey,
		repo:       repo,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

func (s *Service) sign(userID domain.UserID, typ TokenType, jti string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
		UserID: userID,
		Type:   typ,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return tok.SignedString(s.privateKey)
}

// Issue mints a fresh access/refresh pair and records the refresh jti as
// valid (spec §4.2 "issue").
func (s *Service) Issue(ctx context.Context, userID domain.UserID) (Pair, error) {
	access, err := s.sign(userID, TypeAccess, "", s.accessTTL)
	if err != nil {
		return Pair{}, err
	}
	jti := uuid.NewString()
	refresh, err := s.sign(userID, TypeRefresh, jti, s.refreshTTL)
	if err != nil {
		return Pair{}, err
	}
	now := time.Now()
	if err := s.repo.PutRefreshToken(ctx, domain.RefreshToken{
		JTI:       jti,
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.refreshTTL),
	}); err != nil {
		return Pair{}, err
	}
	return Pair{Access: access, Refresh: refresh}, nil
}

func (s *Service) parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.publicKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return claims, &VerificationError{Reason: ReasonExpired}
		}
		return nil, &VerificationError{Reason: ReasonInvalidSignature}
	}
	return claims, nil
}

// VerifyAccess checks signature, type, expiry, and user-id match
// (spec §4.2 "verify_access").
func (s *Service) VerifyAccess(tokenStr string, expectedUserID domain.UserID) error {
	claims, err := s.parse(tokenStr)
	if err != nil {
		return err
	}
	if claims.Type != TypeAccess {
		return &VerificationError{Reason: ReasonWrongType}
	}
	if claims.UserID != expectedUserID {
		return &VerificationError{Reason: ReasonUserMismatch}
	}
	return nil
}

// Rotate exchanges a presented refresh token for a fresh pair,
// atomically revoking the old jti (spec §4.2 "rotate", §8 invariant 5).
func (s *Service) Rotate(ctx context.Context, refreshTokenStr string) (domain.UserID, Pair, error) {
	claims, err := s.parse(refreshTokenStr)
	if err != nil {
		return "", Pair{}, err
	}
	if claims.Type != TypeRefresh {
		return "", Pair{}, &VerificationError{Reason: ReasonWrongType}
	}
	stored, err := s.repo.GetRefreshToken(ctx, claims.ID)
	if err != nil {
		return "", Pair{}, &VerificationError{Reason: ReasonRevoked}
	}
	if stored.Revoked {
		return "", Pair{}, &VerificationError{Reason: ReasonRevoked}
	}
	if time.Now().After(stored.ExpiresAt) {
		return "", Pair{}, &VerificationError{Reason: ReasonExpired}
	}

	// Revoke-then-issue: a failure after revocation still leaves the old
	// jti unusable, which is the safe direction to fail in.
	if err := s.repo.RevokeRefreshToken(ctx, claims.ID); err != nil {
		return "", Pair{}, err
	}
	pair, err := s.Issue(ctx, claims.UserID)
	if err != nil {
		return "", Pair{}, err
	}
	return claims.UserID, pair, nil
}

// RevokeAll invalidates every refresh token belonging to userID (logout,
// spec §4.2 "revoke_all").
func (s *Service) RevokeAll(ctx context.Context, userID domain.UserID) error {
	return s.repo.RevokeAllRefreshTokens(ctx, userID)
}
