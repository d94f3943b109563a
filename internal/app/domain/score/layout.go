package score

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// ResultSize is the length of a persisted Result:
// owner(32) | encrypted_result(32) | nonce(16) | processed_at(8) | version(1).
const ResultSize = 32 + 32 + 16 + 8 + 1

// MarshalBinary encodes r in the persisted layout. processed_at is a signed
// little-endian count of seconds.
func (r Result) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ResultSize)
	copy(buf[0:32], r.Owner[:])
	copy(buf[32:64], r.EncryptedResult[:])
	copy(buf[64:80], r.Nonce[:])
	binary.LittleEndian.PutUint64(buf[80:88], uint64(r.ProcessedAt.Unix()))
	buf[88] = r.Version
	return buf, nil
}

// UnmarshalBinary decodes the persisted layout.
func (r *Result) UnmarshalBinary(data []byte) error {
	if len(data) != ResultSize {
		return fmt.Errorf("result layout must be %d bytes, got %d", ResultSize, len(data))
	}
	copy(r.Owner[:], data[0:32])
	copy(r.EncryptedResult[:], data[32:64])
	copy(r.Nonce[:], data[64:80])
	r.ProcessedAt = time.Unix(int64(binary.LittleEndian.Uint64(data[80:88])), 0).UTC()
	r.Version = data[88]
	return nil
}

// Pack serialises a request bound to its offset:
// offset(BE 8) | ciphertext | ephemeral_pubkey | nonce | count | owner.
func (r EncryptedRequest) Pack(offset uint64) []byte {
	buf := make([]byte, 0, 8+32+32+16+1+32)
	buf = binary.BigEndian.AppendUint64(buf, offset)
	buf = append(buf, r.Ciphertext[:]...)
	buf = append(buf, r.EphemeralPubKey[:]...)
	buf = append(buf, r.Nonce[:]...)
	buf = append(buf, r.Count)
	buf = append(buf, r.Owner[:]...)
	return buf
}

// Digest is the SHA-256 of Pack(offset); jobs keep it in place of the request.
func (r EncryptedRequest) Digest(offset uint64) Block {
	return Block(sha256.Sum256(r.Pack(offset)))
}
