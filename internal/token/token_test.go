package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/dkeye/Voice/internal/domain"
	"github.com/dkeye/Voice/internal/repository"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	repo := repository.NewInMemory()
	return NewService(key, repo, 15*time.Minute, 7*24*time.Hour)
}

func TestIssueAndVerifyAccess(t *testing.T) {
	svc := newTestService(t)
	uid := domain.UserID("U_ADA")

	pair, err := svc.Issue(context.Background(), uid)
	require.NoError(t, err)
	require.NoError(t, svc.VerifyAccess(pair.Access, uid))
}

func TestVerifyAccessUserMismatch(t *testing.T) {
	svc := newTestService(t)
	pair, err := svc.Issue(context.Background(), domain.UserID("U_ADA"))
	require.NoError(t, err)

	err = svc.VerifyAccess(pair.Access, domain.UserID("U_BOB"))
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, ReasonUserMismatch, verr.Reason)
}

func TestRotateRevokesPreviousJTI(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	uid := domain.UserID("U_ADA")

	pair, err := svc.Issue(ctx, uid)
	require.NoError(t, err)

	gotUID, newPair, err := svc.Rotate(ctx, pair.Refresh)
	require.NoError(t, err)
	require.Equal(t, uid, gotUID)
	require.NotEmpty(t, newPair.Access)

	// replay of the original refresh token must now be REVOKED.
	_, _, err = svc.Rotate(ctx, pair.Refresh)
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, ReasonRevoked, verr.Reason)

	// the access token issued before rotation remains valid until its own exp.
	require.NoError(t, svc.VerifyAccess(pair.Access, uid))
}

func TestRotateWrongTokenType(t *testing.T) {
	svc := newTestService(t)
	pair, err := svc.Issue(context.Background(), domain.UserID("U_ADA"))
	require.NoError(t, err)

	_, _, err = svc.Rotate(context.Background(), pair.Access)
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, ReasonWrongType, verr.Reason)
}

func TestRevokeAllBlocksRotate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	uid := domain.UserID("U_ADA")

	pair, err := svc.Issue(ctx, uid)
	require.NoError(t, err)
	require.NoError(t, svc.RevokeAll(ctx, uid))

	_, _, err = svc.Rotate(ctx, pair.Refresh)
	require.Error(t, err)
}
