package attest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	KeyVersionV1 = "v1"

	// SignatureSize is the length of an r || s signature over P-256.
	SignatureSize = 64
)

var (
	hkdfSalt = []byte("sealed-scores-cluster")
)

// DeriveP256PrivateKey deterministically derives a cluster signing key from a
// seed. Different key versions yield unrelated keys.
func DeriveP256PrivateKey(seed []byte, keyVersion string) (*ecdsa.PrivateKey, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("signing seed is required")
	}
	keyVersion = strings.TrimSpace(keyVersion)
	if keyVersion == "" {
		return nil, fmt.Errorf("keyVersion is required")
	}

	info := []byte("cluster-signer-" + keyVersion)
	reader := hkdf.New(sha256.New, seed, hkdfSalt, info)

	okm := make([]byte, 32)
	if _, err := io.ReadFull(reader, okm); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	curve := elliptic.P256()
	n := curve.Params().N

	// Map OKM into [1, n-1].
	d := new(big.Int).SetBytes(okm)
	nMinusOne := new(big.Int).Sub(n, big.NewInt(1))
	d.Mod(d, nMinusOne)
	d.Add(d, big.NewInt(1))

	priv := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve},
		D:         d,
	}
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(d.Bytes())
	if priv.PublicKey.X == nil || priv.PublicKey.Y == nil || !curve.IsOnCurve(priv.PublicKey.X, priv.PublicKey.Y) {
		return nil, fmt.Errorf("derived key is not on curve")
	}
	return priv, nil
}

// SignHashP256 signs hash and returns a fixed-width r || s signature.
func SignHashP256(randReader io.Reader, privateKey *ecdsa.PrivateKey, hash []byte) ([]byte, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("privateKey is required")
	}
	if randReader == nil {
		randReader = rand.Reader
	}
	if len(hash) == 0 {
		return nil, fmt.Errorf("hash is required")
	}

	r, s, err := ecdsa.Sign(randReader, privateKey, hash)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	signature := make([]byte, SignatureSize)
	rBytes := r.Bytes()
	sBytes := s.Bytes()
	copy(signature[32-len(rBytes):32], rBytes)
	copy(signature[64-len(sBytes):64], sBytes)
	return signature, nil
}

// VerifyHashP256 checks an r || s signature over hash.
func VerifyHashP256(publicKey *ecdsa.PublicKey, hash, signature []byte) bool {
	if publicKey == nil || len(signature) != SignatureSize || len(hash) == 0 {
		return false
	}
	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:])
	return ecdsa.Verify(publicKey, hash, r, s)
}

// EncodePublicKey returns the compressed SEC1 point as hex.
func EncodePublicKey(publicKey *ecdsa.PublicKey) string {
	return hex.EncodeToString(elliptic.MarshalCompressed(elliptic.P256(), publicKey.X, publicKey.Y))
}

// ParsePublicKey decodes a compressed SEC1 P-256 point in hex.
func ParsePublicKey(raw string) (*ecdsa.PublicKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("public key is required")
	}
	data, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("public key must be hex: %w", err)
	}

	if len(data) != 33 {
		return nil, fmt.Errorf("public key must be 33 bytes, got %d", len(data))
	}
	curve := elliptic.P256()
	x, y := elliptic.UnmarshalCompressed(curve, data)
	if x == nil {
		return nil, fmt.Errorf("public key is not a P-256 point")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}
