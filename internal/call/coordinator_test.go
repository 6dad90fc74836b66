package call

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/Voice/internal/domain"
	"github.com/dkeye/Voice/internal/repository"
	"github.com/dkeye/Voice/internal/session"
	"github.com/dkeye/Voice/internal/wire"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	uid  domain.UserID
	recv chan wire.Envelope
}

func newFakeConn(uid domain.UserID) *fakeConn {
	return &fakeConn{uid: uid, recv: make(chan wire.Envelope, 16)}
}

func (f *fakeConn) UserID() domain.UserID { return f.uid }
func (f *fakeConn) Send(fr wire.Frame) error {
	env, err := wire.Unmarshal(fr)
	if err != nil {
		return err
	}
	f.recv <- env
	return nil
}
func (f *fakeConn) Close(reason string) {}

type noopMedia struct{}

func (noopMedia) Start(ctx context.Context, id domain.CallID, caller, callee domain.UserID) (func(), func(wire.MsgType, []byte), error) {
	return func() {}, nil, nil
}

func setup(t *testing.T) (*Coordinator, *session.Registry, *fakeConn, *fakeConn) {
	t.Helper()
	reg := session.NewRegistry()
	repo := repository.NewInMemory()
	c := NewCoordinator(reg, repo, noopMedia{}, 0)
	c.ringAfter = 50 * time.Millisecond

	caller := newFakeConn("U_A")
	callee := newFakeConn("U_B")
	reg.Register("U_A", caller)
	reg.Register("U_B", callee)
	return c, reg, caller, callee
}

func waitFor(t *testing.T, ch chan wire.Envelope, msgType wire.MsgType) wire.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		require.Equal(t, msgType, env.MsgType)
		return env
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", msgType)
	}
	return wire.Envelope{}
}

func TestInviteAcceptActiveRelay(t *testing.T) {
	c, _, caller, callee := setup(t)
	ctx := context.Background()

	id, err := c.Invite(ctx, "U_A", "U_B")
	require.NoError(t, err)
	waitFor(t, callee.recv, wire.MsgCallInvite)

	require.NoError(t, c.Accept(ctx, id, "U_B"))
	waitFor(t, caller.recv, wire.MsgCallAccept)

	require.NoError(t, c.Relay(ctx, id, "U_A", wire.MsgOffer, map[string]string{"sdp": "x"}))
	offer := waitFor(t, callee.recv, wire.MsgOffer)
	require.Equal(t, "U_A", offer.UserID)

	require.NoError(t, c.End(ctx, id, "U_A"))
	waitFor(t, caller.recv, wire.MsgCallEnd)
	waitFor(t, callee.recv, wire.MsgCallEnd)
}

func TestInviteTargetBusy(t *testing.T) {
	c, reg, _, _ := setup(t)
	ctx := context.Background()
	third := newFakeConn("U_C")
	reg.Register("U_C", third)

	_, err := c.Invite(ctx, "U_A", "U_B")
	require.NoError(t, err)

	_, err = c.Invite(ctx, "U_C", "U_B")
	require.Error(t, err)
	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, domain.ErrTargetBusy, appErr.Code)
}

func TestInviteTargetNotAvailable(t *testing.T) {
	c, _, _, _ := setup(t)
	_, err := c.Invite(context.Background(), "U_A", "U_NOBODY")
	require.Error(t, err)
	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, domain.ErrTargetNotAvailable, appErr.Code)
}

func TestSelfInviteRejected(t *testing.T) {
	c, _, _, _ := setup(t)
	_, err := c.Invite(context.Background(), "U_A", "U_A")
	require.Error(t, err)
	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, domain.ErrSelfInvite, appErr.Code)
}

func TestRingTimeoutEndsAsMissed(t *testing.T) {
	c, _, caller, callee := setup(t)
	ctx := context.Background()

	_, err := c.Invite(ctx, "U_A", "U_B")
	require.NoError(t, err)
	waitFor(t, callee.recv, wire.MsgCallInvite)
	env := waitFor(t, caller.recv, wire.MsgCallEnd)
	require.Contains(t, string(env.Payload), "TIMEOUT")

	calls, err := c.repo.ListCalls(ctx, "U_B", 1)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	require.Equal(t, domain.CallMissed, calls[0].Kind("U_B"))
}

func TestRejectEndsBeforeActive(t *testing.T) {
	c, _, caller, callee := setup(t)
	ctx := context.Background()

	id, err := c.Invite(ctx, "U_A", "U_B")
	require.NoError(t, err)
	waitFor(t, callee.recv, wire.MsgCallInvite)

	require.NoError(t, c.Reject(ctx, id, "U_B"))
	waitFor(t, caller.recv, wire.MsgCallEnd)
}

func TestEndForDisconnectUsesPeerDisconnectedReason(t *testing.T) {
	c, _, caller, callee := setup(t)
	ctx := context.Background()

	id, err := c.Invite(ctx, "U_A", "U_B")
	require.NoError(t, err)
	waitFor(t, callee.recv, wire.MsgCallInvite)
	require.NoError(t, c.Accept(ctx, id, "U_B"))
	waitFor(t, caller.recv, wire.MsgCallAccept)

	c.EndForDisconnect(ctx, "U_A")
	env := waitFor(t, callee.recv, wire.MsgCallEnd)
	require.Contains(t, string(env.Payload), "PEER_DISCONNECTED")
}
