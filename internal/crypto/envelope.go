// Package crypto implements the per-connection security envelope from
// spec §4.1: an X25519 handshake deriving a symmetric key via
// HKDF-SHA-256, and an AES-256-GCM frame codec over that key. Grounded
// on the HKDF/AES-GCM derivation pattern in tomtom215-cartographus's
// internal/auth/token_encryption.go, adapted from a static master key to
// a per-connection ephemeral X25519 shared secret.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	SaltLen        = 16
	NonceLen       = 12
	hkdfContext    = "handshake data"
	keyLen         = 32
)

var (
	ErrHandshakeIncomplete = errors.New("crypto: handshake not complete")
	ErrDecryptFailed       = errors.New("crypto: decrypt failed")
	ErrMalformedHandshake  = errors.New("crypto: malformed handshake")
)

// HandshakeFrame is the plaintext frame exchanged before any AEAD
// wrapping is possible (spec §4.1).
type HandshakeFrame struct {
	ServerPublicKey string `json:"server_public_key,omitempty"`
	ClientPublicKey string `json:"client_public_key,omitempty"`
	Salt            string `json:"salt,omitempty"`
}

// wireFrame is the AEAD envelope written on the wire after handshake.
type wireFrame struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
	Tag        string `json:"tag"`
}

// Envelope holds per-connection handshake and AEAD state. It is owned
// exclusively by one Connection (spec §3 ownership rules).
type Envelope struct {
	privateKey [32]byte
	PublicKey  [32]byte
	salt       [SaltLen]byte
	aead       cipher.AEAD
	ready      bool
}

// NewServerEnvelope generates a fresh ephemeral keypair and salt for a
// new connection. Call ServerHello to obtain the plaintext frame to send.
func NewServerEnvelope() (*Envelope, error) {
	e := &Envelope{}
	if _, err := io.ReadFull(rand.Reader, e.privateKey[:]); err != nil {
		return nil, fmt.Errorf("crypto: generate private key: %w", err)
	}
	curve25519.ScalarBaseMult(&e.PublicKey, &e.privateKey)
	if _, err := io.ReadFull(rand.Reader, e.salt[:]); err != nil {
		return nil, fmt.Errorf("crypto: generate salt: %w", err)
	}
	return e, nil
}

// ServerHello returns the plaintext handshake frame to send to the client.
func (e *Envelope) ServerHello() HandshakeFrame {
	return HandshakeFrame{
		ServerPublicKey: base64.StdEncoding.EncodeToString(e.PublicKey[:]),
		Salt:            base64.StdEncoding.EncodeToString(e.salt[:]),
	}
}

// CompleteHandshake consumes the client's public key, derives the shared
// symmetric key via X25519 + HKDF-SHA-256, and makes the envelope ready
// to wrap/unwrap frames.
func (e *Envelope) CompleteHandshake(clientPublicKeyB64 string) error {
	clientPub, err := base64.StdEncoding.DecodeString(clientPublicKeyB64)
	if err != nil || len(clientPub) != 32 {
		return ErrMalformedHandshake
	}

	var clientPubArr [32]byte
	copy(clientPubArr[:], clientPub)

	shared, err := curve25519.X25519(e.privateKey[:], clientPubArr[:])
	if err != nil {
		return fmt.Errorf("crypto: x25519: %w", err)
	}

	// The HKDF salt is the base64 text of the random salt bytes, not the
	// raw bytes themselves: both ends only ever see the salt as the
	// base64 string carried in the handshake frame, and derive from
	// that string's own UTF-8 bytes rather than decoding it back to
	// binary first.
	saltText := base64.StdEncoding.EncodeToString(e.salt[:])
	key := make([]byte, keyLen)
	kdf := hkdf.New(sha256.New, shared, []byte(saltText), []byte(hkdfContext))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return fmt.Errorf("crypto: hkdf: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("crypto: aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("crypto: gcm: %w", err)
	}
	e.aead = aead
	e.ready = true
	return nil
}

// Ready reports whether the handshake completed and frames may be
// wrapped/unwrapped.
func (e *Envelope) Ready() bool { return e.ready }

// Seal wraps plaintext into the wire envelope format of spec §4.1/§6.
func (e *Envelope) Seal(plaintext []byte) ([]byte, error) {
	if !e.ready {
		return nil, ErrHandshakeIncomplete
	}
	nonce := make([]byte, NonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	sealed := e.aead.Seal(nil, nonce, plaintext, nil)
	tagStart := len(sealed) - e.aead.Overhead()
	wf := wireFrame{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed[:tagStart]),
		Tag:        base64.StdEncoding.EncodeToString(sealed[tagStart:]),
	}
	return json.Marshal(wf)
}

// Open unwraps a wire envelope frame, verifying the AEAD tag.
func (e *Envelope) Open(frame []byte) ([]byte, error) {
	if !e.ready {
		return nil, ErrHandshakeIncomplete
	}
	var wf wireFrame
	if err := json.Unmarshal(frame, &wf); err != nil {
		return nil, fmt.Errorf("crypto: malformed frame: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(wf.Nonce)
	if err != nil || len(nonce) != NonceLen {
		return nil, ErrDecryptFailed
	}
	ciphertext, err := base64.StdEncoding.DecodeString(wf.Ciphertext)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	tag, err := base64.StdEncoding.DecodeString(wf.Tag)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	sealed := append(ciphertext, tag...)
	plaintext, err := e.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
