package transport

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Voice/internal/call"
	"github.com/dkeye/Voice/internal/crypto"
	"github.com/dkeye/Voice/internal/domain"
	"github.com/dkeye/Voice/internal/repository"
	"github.com/dkeye/Voice/internal/router"
	"github.com/dkeye/Voice/internal/session"
	"github.com/dkeye/Voice/internal/wire"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// fakeSocket is an in-process Socket backed by two byte-slice channels,
// standing in for a *websocket.Conn so Connection.Run can be exercised
// without a real network round trip.
type fakeSocket struct {
	toServer   chan []byte
	fromServer chan []byte
	closeOnce  sync.Once
	closed     chan struct{}
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		toServer:   make(chan []byte, 16),
		fromServer: make(chan []byte, 16),
		closed:     make(chan struct{}),
	}
}

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case b := <-f.toServer:
		return 1, b, nil
	case <-f.closed:
		return 0, nil, io.EOF
	}
}

func (f *fakeSocket) WriteMessage(_ int, data []byte) error {
	select {
	case f.fromServer <- data:
		return nil
	case <-f.closed:
		return io.EOF
	}
}

func (f *fakeSocket) SetWriteDeadline(t time.Time) error { return nil }

func (f *fakeSocket) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// testClient mirrors the client half of the spec §4.1 handshake and
// frame codec so this test can drive a Connection end to end.
type testClient struct {
	priv, pub [32]byte
	aead      cipher.AEAD
}

func newTestClient(t *testing.T, hello crypto.HandshakeFrame) *testClient {
	t.Helper()
	c := &testClient{}
	_, err := io.ReadFull(rand.Reader, c.priv[:])
	require.NoError(t, err)
	curve25519.ScalarBaseMult(&c.pub, &c.priv)

	serverPub, err := base64.StdEncoding.DecodeString(hello.ServerPublicKey)
	require.NoError(t, err)
	var serverPubArr [32]byte
	copy(serverPubArr[:], serverPub)

	shared, err := curve25519.X25519(c.priv[:], serverPubArr[:])
	require.NoError(t, err)

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, shared, []byte(hello.Salt), []byte("handshake data"))
	_, err = io.ReadFull(kdf, key)
	require.NoError(t, err)

	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	aead, err := cipher.NewGCM(block)
	require.NoError(t, err)
	c.aead = aead
	return c
}

func (c *testClient) publicKeyB64() string {
	return base64.StdEncoding.EncodeToString(c.pub[:])
}

type wireFrame struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
	Tag        string `json:"tag"`
}

func (c *testClient) seal(plaintext []byte) []byte {
	nonce := make([]byte, 12)
	_, _ = io.ReadFull(rand.Reader, nonce)
	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	tagStart := len(sealed) - c.aead.Overhead()
	b, _ := json.Marshal(wireFrame{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed[:tagStart]),
		Tag:        base64.StdEncoding.EncodeToString(sealed[tagStart:]),
	})
	return b
}

func (c *testClient) open(frame []byte) []byte {
	var wf wireFrame
	_ = json.Unmarshal(frame, &wf)
	nonce, _ := base64.StdEncoding.DecodeString(wf.Nonce)
	ciphertext, _ := base64.StdEncoding.DecodeString(wf.Ciphertext)
	tag, _ := base64.StdEncoding.DecodeString(wf.Tag)
	sealed := append(ciphertext, tag...)
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil
	}
	return plaintext
}

func TestConnectionHandshakeAndAuthenticatedRoundTrip(t *testing.T) {
	sock := newFakeSocket()
	fakeVerifier := &fakeVerifierAlwaysOK{}
	r := router.New(fakeVerifier)
	var gotContacts bool
	r.Handle(wire.MsgAuthenticate, func(ctx context.Context, req *router.Request) (any, error) {
		return map[string]string{"user_id": "U_ADA"}, nil
	})
	r.Handle(wire.MsgGetContacts, func(ctx context.Context, req *router.Request) (any, error) {
		gotContacts = true
		return []string{}, nil
	})

	registry := session.NewRegistry()
	coord := call.NewCoordinator(registry, repository.NewInMemory(), nil, 0)
	conn := NewConnection(sock, r, registry, coord, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Run(ctx)

	serverHelloRaw := <-sock.fromServer
	serverHelloEnv, err := wire.Unmarshal(wire.Frame(serverHelloRaw))
	require.NoError(t, err)
	var hello crypto.HandshakeFrame
	require.NoError(t, json.Unmarshal(serverHelloEnv.Payload, &hello))

	client := newTestClient(t, hello)
	clientHelloPayload, _ := json.Marshal(crypto.HandshakeFrame{ClientPublicKey: client.publicKeyB64()})
	clientHelloEnv, err := wire.Reply(wire.MsgHandshake, json.RawMessage(clientHelloPayload))
	require.NoError(t, err)
	clientHelloRaw, err := wire.Marshal(clientHelloEnv)
	require.NoError(t, err)
	sock.toServer <- clientHelloRaw

	authEnv := wire.Envelope{MsgType: wire.MsgAuthenticate, MessageID: "m1"}
	authRaw, err := wire.Marshal(authEnv)
	require.NoError(t, err)
	sock.toServer <- client.seal(authRaw)

	authReplyFrame := <-sock.fromServer
	authReplyPlain := client.open(authReplyFrame)
	require.NotNil(t, authReplyPlain)
	var authReplyEnv wire.Envelope
	require.NoError(t, json.Unmarshal(authReplyPlain, &authReplyEnv))
	require.True(t, authReplyEnv.Success)

	contactsEnv := wire.Envelope{MsgType: wire.MsgGetContacts, JWT: "tok", UserID: "U_ADA"}
	contactsRaw, err := wire.Marshal(contactsEnv)
	require.NoError(t, err)
	sock.toServer <- client.seal(contactsRaw)

	contactsReplyFrame := <-sock.fromServer
	contactsReplyPlain := client.open(contactsReplyFrame)
	require.NotNil(t, contactsReplyPlain)
	var contactsReplyEnv wire.Envelope
	require.NoError(t, json.Unmarshal(contactsReplyPlain, &contactsReplyEnv))
	require.True(t, contactsReplyEnv.Success)
	require.True(t, gotContacts)

	require.True(t, registry.Online(domain.UserID("U_ADA")))
}

type fakeVerifierAlwaysOK struct{}

func (f *fakeVerifierAlwaysOK) VerifyAccess(tokenStr string, expectedUserID domain.UserID) error {
	return nil
}
