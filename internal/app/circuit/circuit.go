// Package circuit describes the confidential computation the cluster runs.
// The orchestration core only refers to it by name and parameter layout; the
// arithmetic itself runs inside the cluster (or the in-process fake).
package circuit

import "github.com/R3E-Network/sealed_scores/internal/app/domain/score"

// ProcessScores is the computation definition name registered with the cluster.
const ProcessScores = "process_scores"

// Output is the plaintext returned by the circuit before the cluster seals it.
type Output struct {
	Sum   uint8
	Count uint8
}

// Bytes packs the output into the first two slots of a block; the rest is zero.
func (o Output) Bytes() [score.MaxScores]byte {
	var out [score.MaxScores]byte
	out[0] = o.Sum
	out[1] = o.Count
	return out
}

// Circuit evaluates a decrypted score pack.
type Circuit interface {
	Name() string
	Evaluate(slots [score.MaxScores]uint8, count uint8) Output
}

// SumCount adds all eight slots with u8 wrapping and echoes count.
// Unused slots are expected to be zero; they are summed regardless.
type SumCount struct{}

var _ Circuit = SumCount{}

func (SumCount) Name() string { return ProcessScores }

func (SumCount) Evaluate(slots [score.MaxScores]uint8, count uint8) Output {
	var sum uint8
	for _, v := range slots {
		sum += v
	}
	return Output{Sum: sum, Count: count}
}

// Func adapts a plain function into a Circuit.
type Func struct {
	ID string
	Fn func(slots [score.MaxScores]uint8, count uint8) Output
}

func (f Func) Name() string { return f.ID }

func (f Func) Evaluate(slots [score.MaxScores]uint8, count uint8) Output {
	return f.Fn(slots, count)
}
