package score

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Block is a fixed 32-byte value: ciphertexts, x25519 keys, digests.
type Block [32]byte

func (b Block) String() string { return hex.EncodeToString(b[:]) }

func (b Block) IsZero() bool { return b == Block{} }

func (b Block) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b *Block) UnmarshalText(text []byte) error {
	decoded, err := decodeFixedHex(string(text), len(b))
	if err != nil {
		return err
	}
	copy(b[:], decoded)
	return nil
}

// ParseBlock decodes 32 bytes of hex, with or without a 0x prefix.
func ParseBlock(raw string) (Block, error) {
	var b Block
	err := b.UnmarshalText([]byte(raw))
	return b, err
}

// Owner identifies the party a result belongs to.
type Owner [32]byte

func (o Owner) String() string { return hex.EncodeToString(o[:]) }

func (o Owner) IsZero() bool { return o == Owner{} }

func (o Owner) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Owner) UnmarshalText(text []byte) error {
	decoded, err := decodeFixedHex(string(text), len(o))
	if err != nil {
		return err
	}
	copy(o[:], decoded)
	return nil
}

// ParseOwner decodes a 32-byte hex owner identity.
func ParseOwner(raw string) (Owner, error) {
	var o Owner
	err := o.UnmarshalText([]byte(raw))
	return o, err
}

// Nonce is a u128 held as 16 little-endian bytes. Its text form is decimal.
type Nonce [16]byte

var maxNonce = new(big.Int).Lsh(big.NewInt(1), 128)

// NonceFromUint64 widens v into a nonce.
func NonceFromUint64(v uint64) Nonce {
	var n Nonce
	binary.LittleEndian.PutUint64(n[:8], v)
	return n
}

// ParseNonce parses a base-10 u128.
func ParseNonce(raw string) (Nonce, error) {
	var n Nonce
	raw = strings.TrimSpace(raw)
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 || v.Cmp(maxNonce) >= 0 {
		return n, fmt.Errorf("nonce %q is not a u128", raw)
	}
	be := v.FillBytes(make([]byte, 16))
	for i := range be {
		n[i] = be[15-i]
	}
	return n, nil
}

// Big returns the nonce as an unsigned integer.
func (n Nonce) Big() *big.Int {
	be := make([]byte, 16)
	for i := range n {
		be[15-i] = n[i]
	}
	return new(big.Int).SetBytes(be)
}

func (n Nonce) String() string { return n.Big().String() }

func (n Nonce) MarshalText() ([]byte, error) { return []byte(n.String()), nil }

func (n *Nonce) UnmarshalText(text []byte) error {
	parsed, err := ParseNonce(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// MarshalJSON emits a quoted decimal so values above 2^53 survive JS clients.
func (n Nonce) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.String())
}

// UnmarshalJSON accepts a quoted decimal or a bare JSON number.
func (n *Nonce) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}
	return n.UnmarshalText([]byte(raw))
}

func decodeFixedHex(raw string, size int) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "0x")
	trimmed = strings.TrimPrefix(trimmed, "0X")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("must be hex: %w", err)
	}
	if len(decoded) != size {
		return nil, fmt.Errorf("must be %d bytes, got %d", size, len(decoded))
	}
	return decoded, nil
}
