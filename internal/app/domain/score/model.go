package score

import (
	"time"
)

// MaxScores is the number of packed u8 slots a ciphertext block carries.
const MaxScores = 8

// ResultVersion is written into every persisted Result.
const ResultVersion uint8 = 1

// EncryptedRequest is a client submission. The ciphertext is opaque to the
// service; only the cluster can open it.
type EncryptedRequest struct {
	Ciphertext      Block `json:"ciphertext"`
	EphemeralPubKey Block `json:"ephemeral_pubkey"`
	Nonce           Nonce `json:"nonce"`
	Count           uint8 `json:"count"`
	Owner           Owner `json:"owner"`
}

// JobStatus is the lifecycle state of a computation job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusCompleted JobStatus = "completed"
	StatusAborted   JobStatus = "aborted"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// CanTransition reports whether moving from s to next is a legal step.
// Only pending jobs move, and only into a terminal state.
func (s JobStatus) CanTransition(next JobStatus) bool {
	return s == StatusPending && next.IsTerminal()
}

// Valid reports whether s is one of the known states.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusAborted:
		return true
	}
	return false
}

// Job tracks one dispatched computation, keyed by its caller-chosen offset.
type Job struct {
	Offset        uint64    `json:"offset"`
	Status        JobStatus `json:"status"`
	Owner         Owner     `json:"owner"`
	Count         uint8     `json:"count"`
	InputNonce    Nonce     `json:"input_nonce"`
	RequestDigest Block     `json:"request_digest"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	FinishedAt    time.Time `json:"finished_at,omitempty"`
}

// SignedOutput is what the cluster delivers for a job.
type SignedOutput struct {
	Ciphertexts []Block `json:"ciphertexts"`
	Nonce       Nonce   `json:"nonce"`
	Proof       []byte  `json:"proof"`
	ClusterID   string  `json:"cluster_id"`
}

// Result is the latest verified output stored for an owner.
type Result struct {
	Owner           Owner     `json:"owner"`
	EncryptedResult Block     `json:"encrypted_result"`
	Nonce           Nonce     `json:"nonce"`
	ProcessedAt     time.Time `json:"processed_at"`
	Version         uint8     `json:"version"`
}

// EventName is the logical name subscribers match on.
const EventName = "ScoresProcessedEvent"

// Event announces a stored result.
type Event struct {
	ID              string    `json:"id"`
	Sequence        uint64    `json:"sequence"`
	Offset          uint64    `json:"offset"`
	Owner           Owner     `json:"owner"`
	EncryptedResult Block     `json:"encrypted_result"`
	Nonce           Nonce     `json:"nonce"`
	ProcessedAt     time.Time `json:"processed_at"`
}
