// Package cluster models the external confidential-compute cluster as a
// capability: submit a computation, and later receive its single callback.
package cluster

import (
	"context"
	"crypto/ecdsa"
	"errors"

	"github.com/R3E-Network/sealed_scores/internal/app/domain/score"
)

// ErrCallbacksPushed is returned by AwaitCallback on clusters that deliver
// callbacks by calling the HTTP API instead of through the client.
var ErrCallbacksPushed = errors.New("cluster pushes callbacks over HTTP")

// Identity is what the service trusts about a cluster.
type Identity struct {
	ID            string
	SigningKey    *ecdsa.PublicKey
	EncryptionKey score.Block
	Circuit       string
	CompDefOffset uint32
}

// Configured reports whether callbacks can be verified against this identity.
func (i Identity) Configured() bool {
	return i.ID != "" && i.SigningKey != nil
}

// Computation is one dispatched job.
type Computation struct {
	Offset        uint64     `json:"offset"`
	CompDefOffset uint32     `json:"comp_def_offset"`
	Circuit       string     `json:"circuit"`
	Args          []Argument `json:"args"`
	CallbackURL   string     `json:"callback_url,omitempty"`
}

// Callback is the output delivered for an offset.
type Callback struct {
	Offset uint64             `json:"offset"`
	Output score.SignedOutput `json:"output"`
}

// Cluster is the capability the service depends on.
type Cluster interface {
	// Identity returns the trusted identity, or false when none is configured.
	Identity() (Identity, bool)
	// SubmitJob hands a computation to the cluster. It must not block on the
	// computation itself.
	SubmitJob(ctx context.Context, comp Computation) error
	// AwaitCallback blocks until the next callback arrives or ctx ends.
	AwaitCallback(ctx context.Context) (Callback, error)
}
