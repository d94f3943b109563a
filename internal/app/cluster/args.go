package cluster

import (
	"fmt"

	"github.com/R3E-Network/sealed_scores/internal/app/domain/score"
)

// ArgKind tags how the cluster must interpret an argument.
type ArgKind string

const (
	ArgX25519Pubkey  ArgKind = "x25519_pubkey"
	ArgPlaintextU128 ArgKind = "plaintext_u128"
	ArgEncryptedU8   ArgKind = "encrypted_u8"
	ArgPlaintextU8   ArgKind = "plaintext_u8"
)

// Argument is one positional circuit argument.
type Argument struct {
	Kind ArgKind `json:"kind"`
	Data []byte  `json:"data"`
}

// ArgBuilder accumulates arguments in circuit parameter order.
type ArgBuilder struct {
	args []Argument
}

func NewArgBuilder() *ArgBuilder {
	return &ArgBuilder{}
}

func (b *ArgBuilder) X25519Pubkey(key score.Block) *ArgBuilder {
	return b.add(ArgX25519Pubkey, key[:])
}

func (b *ArgBuilder) PlaintextU128(n score.Nonce) *ArgBuilder {
	return b.add(ArgPlaintextU128, n[:])
}

func (b *ArgBuilder) EncryptedU8(ct score.Block) *ArgBuilder {
	return b.add(ArgEncryptedU8, ct[:])
}

func (b *ArgBuilder) PlaintextU8(v uint8) *ArgBuilder {
	return b.add(ArgPlaintextU8, []byte{v})
}

func (b *ArgBuilder) add(kind ArgKind, data []byte) *ArgBuilder {
	b.args = append(b.args, Argument{Kind: kind, Data: append([]byte(nil), data...)})
	return b
}

// Build returns a copy of the accumulated arguments.
func (b *ArgBuilder) Build() []Argument {
	out := make([]Argument, len(b.args))
	copy(out, b.args)
	return out
}

// ScoreArgs builds the process_scores argument list:
// x25519 pubkey, plaintext u128 nonce, encrypted u8 pack, plaintext u8 count.
func ScoreArgs(req score.EncryptedRequest) []Argument {
	return NewArgBuilder().
		X25519Pubkey(req.EphemeralPubKey).
		PlaintextU128(req.Nonce).
		EncryptedU8(req.Ciphertext).
		PlaintextU8(req.Count).
		Build()
}

// ParseScoreArgs reverses ScoreArgs. Owner is not carried and stays zero.
func ParseScoreArgs(args []Argument) (score.EncryptedRequest, error) {
	var req score.EncryptedRequest
	want := []struct {
		kind ArgKind
		size int
	}{
		{ArgX25519Pubkey, 32},
		{ArgPlaintextU128, 16},
		{ArgEncryptedU8, 32},
		{ArgPlaintextU8, 1},
	}
	if len(args) != len(want) {
		return req, fmt.Errorf("expected %d arguments, got %d", len(want), len(args))
	}
	for i, w := range want {
		if args[i].Kind != w.kind {
			return req, fmt.Errorf("argument %d: expected %s, got %s", i, w.kind, args[i].Kind)
		}
		if len(args[i].Data) != w.size {
			return req, fmt.Errorf("argument %d: expected %d bytes, got %d", i, w.size, len(args[i].Data))
		}
	}
	copy(req.EphemeralPubKey[:], args[0].Data)
	copy(req.Nonce[:], args[1].Data)
	copy(req.Ciphertext[:], args[2].Data)
	req.Count = args[3].Data[0]
	return req, nil
}
