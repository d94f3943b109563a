// Package sealing is the client-side envelope for score packs: an x25519
// shared secret, expanded per nonce with HKDF-SHA256, keys a ChaCha20
// keystream over one 32-byte block. The orchestration core never imports it;
// scorectl and the in-process cluster do.
package sealing

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// BlockSize is the size of every sealed payload.
const BlockSize = 32

// MaxSlots is the number of u8 scores a block carries.
const MaxSlots = 8

var hkdfSalt = []byte("sealed-scores")

// KeyPair is an x25519 key pair.
type KeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateKeyPair creates a fresh x25519 key pair.
func GenerateKeyPair(randReader io.Reader) (KeyPair, error) {
	if randReader == nil {
		randReader = rand.Reader
	}
	var kp KeyPair
	if _, err := io.ReadFull(randReader, kp.Private[:]); err != nil {
		return kp, fmt.Errorf("read key material: %w", err)
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return kp, fmt.Errorf("derive public key: %w", err)
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// KeyPairFromPrivate rebuilds a pair from a stored private scalar.
func KeyPairFromPrivate(private [32]byte) (KeyPair, error) {
	pub, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("derive public key: %w", err)
	}
	kp := KeyPair{Private: private}
	copy(kp.Public[:], pub)
	return kp, nil
}

// Session holds the shared secret between one local private key and one peer.
type Session struct {
	shared []byte
}

// NewSession performs the x25519 exchange. Low-order peer keys are rejected.
func NewSession(private, peerPublic [32]byte) (*Session, error) {
	shared, err := curve25519.X25519(private[:], peerPublic[:])
	if err != nil {
		return nil, fmt.Errorf("x25519: %w", err)
	}
	return &Session{shared: shared}, nil
}

// Seal encrypts one block under the key derived for nonce.
func (s *Session) Seal(nonce [16]byte, plaintext [BlockSize]byte) ([BlockSize]byte, error) {
	return s.xor(nonce, plaintext)
}

// Open reverses Seal.
func (s *Session) Open(nonce [16]byte, ciphertext [BlockSize]byte) ([BlockSize]byte, error) {
	return s.xor(nonce, ciphertext)
}

func (s *Session) xor(nonce [16]byte, in [BlockSize]byte) ([BlockSize]byte, error) {
	var out [BlockSize]byte
	key := make([]byte, chacha20.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, s.shared, hkdfSalt, nonce[:]), key); err != nil {
		return out, fmt.Errorf("derive block key: %w", err)
	}
	// Each nonce derives its own key; the stream nonce is fixed.
	stream, err := chacha20.NewUnauthenticatedCipher(key, make([]byte, chacha20.NonceSize))
	if err != nil {
		return out, fmt.Errorf("init cipher: %w", err)
	}
	stream.XORKeyStream(out[:], in[:])
	return out, nil
}

// PackScores writes score i into byte i of a block. Unused slots stay zero.
func PackScores(scores []uint8) ([BlockSize]byte, error) {
	var block [BlockSize]byte
	if len(scores) == 0 || len(scores) > MaxSlots {
		return block, fmt.Errorf("expected 1..%d scores, got %d", MaxSlots, len(scores))
	}
	copy(block[:], scores)
	return block, nil
}

// UnpackSlots reads the eight score slots of a plaintext block.
func UnpackSlots(block [BlockSize]byte) [MaxSlots]uint8 {
	var slots [MaxSlots]uint8
	copy(slots[:], block[:MaxSlots])
	return slots
}
