// Package attest binds cluster outputs to a cluster identity and a specific
// job through a domain-separated hash and a P-256 signature.
package attest

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// DomainPrefix separates callback signatures from any other use of the key.
const DomainPrefix = "sealed-scores/callback/v1"

// CompDefOffset derives the computation definition id for a circuit name:
// the first four bytes, little-endian, of SHA256("comp_def:" || name).
func CompDefOffset(name string) uint32 {
	sum := sha256.Sum256([]byte("comp_def:" + name))
	return binary.LittleEndian.Uint32(sum[:4])
}

// CallbackDomain is everything a callback signature commits to.
type CallbackDomain struct {
	ClusterID     string
	CompDefOffset uint32
	Offset        uint64
	Nonce         [16]byte
	Ciphertexts   [][32]byte
}

// Validate rejects domains that cannot be hashed unambiguously.
func (d CallbackDomain) Validate() error {
	if d.ClusterID == "" {
		return fmt.Errorf("cluster_id is required")
	}
	if len(d.Ciphertexts) == 0 {
		return fmt.Errorf("at least one ciphertext is required")
	}
	if len(d.Ciphertexts) > math.MaxUint16 {
		return fmt.Errorf("too many ciphertexts: %d", len(d.Ciphertexts))
	}
	return nil
}

// ComputeDomainHash computes
// SHA256(prefix || 0 || clusterId || 0 || compDef(LE u32) || offset(BE u64) || nonce || n(BE u16) || ciphertexts...).
func (d CallbackDomain) ComputeDomainHash() ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	h := sha256.New()

	h.Write([]byte(DomainPrefix))
	h.Write([]byte{0})

	h.Write([]byte(d.ClusterID))
	h.Write([]byte{0})

	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], d.CompDefOffset)
	h.Write(buf[:4])

	binary.BigEndian.PutUint64(buf[:], d.Offset)
	h.Write(buf[:])

	h.Write(d.Nonce[:])

	binary.BigEndian.PutUint16(buf[:2], uint16(len(d.Ciphertexts)))
	h.Write(buf[:2])

	for _, ct := range d.Ciphertexts {
		h.Write(ct[:])
	}
	return h.Sum(nil), nil
}

// Signer produces callback proofs. Only clusters (and the in-process fake) sign.
type Signer struct {
	ClusterID string
	Key       *ecdsa.PrivateKey
	Rand      io.Reader
}

// Sign hashes d under the signer's cluster id and signs it.
func (s Signer) Sign(d CallbackDomain) ([]byte, error) {
	d.ClusterID = s.ClusterID
	hash, err := d.ComputeDomainHash()
	if err != nil {
		return nil, err
	}
	return SignHashP256(s.Rand, s.Key, hash)
}

// Verifier checks callback proofs against one expected cluster identity.
type Verifier struct {
	ClusterID string
	Key       *ecdsa.PublicKey
}

// Verify fails when the domain names another cluster, is malformed, or the
// proof is not a valid signature by the expected key.
func (v Verifier) Verify(d CallbackDomain, proof []byte) error {
	if v.Key == nil || v.ClusterID == "" {
		return fmt.Errorf("verifier has no cluster identity")
	}
	if d.ClusterID != v.ClusterID {
		return fmt.Errorf("output from cluster %q, expected %q", d.ClusterID, v.ClusterID)
	}
	hash, err := d.ComputeDomainHash()
	if err != nil {
		return err
	}
	if !VerifyHashP256(v.Key, hash, proof) {
		return fmt.Errorf("signature does not verify")
	}
	return nil
}
