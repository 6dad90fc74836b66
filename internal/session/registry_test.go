package session

import (
	"testing"

	"github.com/dkeye/Voice/internal/domain"
	"github.com/dkeye/Voice/internal/wire"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	uid    domain.UserID
	closed string
	sent   []wire.Frame
}

func (f *fakeConn) UserID() domain.UserID    { return f.uid }
func (f *fakeConn) Send(fr wire.Frame) error { f.sent = append(f.sent, fr); return nil }
func (f *fakeConn) Close(reason string)      { f.closed = reason }

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	uid := domain.UserID("U_ADA")
	c := &fakeConn{uid: uid}

	prev := r.Register(uid, c)
	require.Nil(t, prev)

	got, ok := r.Lookup(uid)
	require.True(t, ok)
	require.Equal(t, c, got)
}

func TestRegisterDisplacesPrevious(t *testing.T) {
	r := NewRegistry()
	uid := domain.UserID("U_ADA")
	first := &fakeConn{uid: uid}
	second := &fakeConn{uid: uid}

	require.Nil(t, r.Register(uid, first))
	prev := r.Register(uid, second)
	require.Equal(t, first, prev)

	got, ok := r.Lookup(uid)
	require.True(t, ok)
	require.Equal(t, second, got)
}

func TestUnregisterStaleIsNoop(t *testing.T) {
	r := NewRegistry()
	uid := domain.UserID("U_ADA")
	first := &fakeConn{uid: uid}
	second := &fakeConn{uid: uid}

	r.Register(uid, first)
	r.Register(uid, second)

	// first was displaced; its Unregister must not evict second.
	r.Unregister(uid, first)
	got, ok := r.Lookup(uid)
	require.True(t, ok)
	require.Equal(t, second, got)
}

func TestUnregisterRemovesCurrent(t *testing.T) {
	r := NewRegistry()
	uid := domain.UserID("U_ADA")
	c := &fakeConn{uid: uid}
	r.Register(uid, c)
	r.Unregister(uid, c)
	require.False(t, r.Online(uid))
}
