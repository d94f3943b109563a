// Package fake is an in-process cluster. It opens submissions with its own
// x25519 key, runs the circuit, seals the output back to the submitter, and
// signs the callback. Modes simulate misbehaving clusters.
package fake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/R3E-Network/sealed_scores/internal/app/circuit"
	"github.com/R3E-Network/sealed_scores/internal/app/cluster"
	"github.com/R3E-Network/sealed_scores/internal/app/domain/score"
	"github.com/R3E-Network/sealed_scores/internal/crypto/attest"
	"github.com/R3E-Network/sealed_scores/internal/crypto/sealing"
	"github.com/R3E-Network/sealed_scores/pkg/logger"
)

// Mode selects how the fake answers a submission.
type Mode string

const (
	// ModeValid delivers one correctly signed callback.
	ModeValid Mode = "valid"
	// ModeInvalidProof delivers a callback whose signature does not verify.
	ModeInvalidProof Mode = "invalid"
	// ModeForeignCluster signs under another cluster id.
	ModeForeignCluster Mode = "foreign"
	// ModeDuplicate delivers the same valid callback twice.
	ModeDuplicate Mode = "duplicate"
	// ModeSilent accepts the job and never answers.
	ModeSilent Mode = "silent"
	// ModeRejectSubmit fails SubmitJob synchronously.
	ModeRejectSubmit Mode = "reject"
)

// ErrRejected is returned by SubmitJob in ModeRejectSubmit.
var ErrRejected = errors.New("fake cluster rejected the computation")

// Options configures a fake cluster. Seed derives both keys deterministically.
type Options struct {
	ClusterID string
	Seed      []byte
	Circuit   circuit.Circuit
	Mode      Mode
	Delay     time.Duration
	Buffer    int
	Log       *logger.Logger
}

// Cluster is the in-process implementation of cluster.Cluster.
type Cluster struct {
	mu        sync.Mutex
	mode      Mode
	delay     time.Duration
	submitted []cluster.Computation

	identity   cluster.Identity
	signer     attest.Signer
	encryption sealing.KeyPair
	circuit    circuit.Circuit
	callbacks  chan cluster.Callback
	log        *logger.Logger
}

var _ cluster.Cluster = (*Cluster)(nil)

// New builds a fake cluster.
func New(opts Options) (*Cluster, error) {
	if opts.ClusterID == "" {
		opts.ClusterID = "fake-cluster"
	}
	if len(opts.Seed) == 0 {
		opts.Seed = []byte(opts.ClusterID)
	}
	if opts.Circuit == nil {
		opts.Circuit = circuit.SumCount{}
	}
	if opts.Mode == "" {
		opts.Mode = ModeValid
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.Log == nil {
		opts.Log = logger.NewDefault("fake-cluster")
	}

	signingKey, err := attest.DeriveP256PrivateKey(opts.Seed, attest.KeyVersionV1)
	if err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	encryptionSeed, err := attest.DeriveP256PrivateKey(opts.Seed, "x25519")
	if err != nil {
		return nil, fmt.Errorf("derive encryption seed: %w", err)
	}
	var private [32]byte
	encryptionSeed.D.FillBytes(private[:])
	encryption, err := sealing.KeyPairFromPrivate(private)
	if err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}

	return &Cluster{
		mode:       opts.Mode,
		delay:      opts.Delay,
		signer:     attest.Signer{ClusterID: opts.ClusterID, Key: signingKey},
		encryption: encryption,
		circuit:    opts.Circuit,
		callbacks:  make(chan cluster.Callback, opts.Buffer),
		log:        opts.Log,
		identity: cluster.Identity{
			ID:            opts.ClusterID,
			SigningKey:    &signingKey.PublicKey,
			EncryptionKey: score.Block(encryption.Public),
			Circuit:       opts.Circuit.Name(),
			CompDefOffset: attest.CompDefOffset(opts.Circuit.Name()),
		},
	}, nil
}

func (c *Cluster) Identity() (cluster.Identity, bool) {
	return c.identity, true
}

// SetMode changes how subsequent submissions are answered.
func (c *Cluster) SetMode(mode Mode) {
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
}

// SetDelay changes how long subsequent callbacks wait before delivery.
func (c *Cluster) SetDelay(delay time.Duration) {
	c.mu.Lock()
	c.delay = delay
	c.mu.Unlock()
}

// Submitted returns the computations received so far.
func (c *Cluster) Submitted() []cluster.Computation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]cluster.Computation, len(c.submitted))
	copy(out, c.submitted)
	return out
}

// SubmitJob records comp and schedules its callback according to the mode.
func (c *Cluster) SubmitJob(ctx context.Context, comp cluster.Computation) error {
	c.mu.Lock()
	mode, delay := c.mode, c.delay
	if mode == ModeRejectSubmit {
		c.mu.Unlock()
		return ErrRejected
	}
	c.submitted = append(c.submitted, comp)
	c.mu.Unlock()

	if mode == ModeSilent {
		return nil
	}

	cb, err := c.Compute(comp, mode)
	if err != nil {
		return err
	}
	deliveries := 1
	if mode == ModeDuplicate {
		deliveries = 2
	}

	schedule := func() {
		for i := 0; i < deliveries; i++ {
			c.Deliver(cb)
		}
	}
	if delay > 0 {
		time.AfterFunc(delay, schedule)
	} else {
		schedule()
	}
	c.log.WithField("offset", comp.Offset).WithField("mode", string(mode)).Debug("fake computation scheduled")
	return nil
}

// Compute runs the circuit for comp and builds the callback the given mode
// would deliver, without delivering it.
func (c *Cluster) Compute(comp cluster.Computation, mode Mode) (cluster.Callback, error) {
	req, err := cluster.ParseScoreArgs(comp.Args)
	if err != nil {
		return cluster.Callback{}, fmt.Errorf("parse arguments: %w", err)
	}
	session, err := sealing.NewSession(c.encryption.Private, req.EphemeralPubKey)
	if err != nil {
		return cluster.Callback{}, fmt.Errorf("open session: %w", err)
	}
	plain, err := session.Open(req.Nonce, req.Ciphertext)
	if err != nil {
		return cluster.Callback{}, fmt.Errorf("open input: %w", err)
	}

	out := c.circuit.Evaluate(sealing.UnpackSlots(plain), req.Count)
	var block [sealing.BlockSize]byte
	packed := out.Bytes()
	copy(block[:], packed[:])

	outNonce := NextNonce(req.Nonce)
	sealed, err := session.Seal(outNonce, block)
	if err != nil {
		return cluster.Callback{}, fmt.Errorf("seal output: %w", err)
	}

	signer := c.signer
	if mode == ModeForeignCluster {
		signer.ClusterID = c.signer.ClusterID + "-foreign"
	}
	domain := attest.CallbackDomain{
		CompDefOffset: comp.CompDefOffset,
		Offset:        comp.Offset,
		Nonce:         outNonce,
		Ciphertexts:   [][32]byte{sealed},
	}
	proof, err := signer.Sign(domain)
	if err != nil {
		return cluster.Callback{}, fmt.Errorf("sign output: %w", err)
	}
	if mode == ModeInvalidProof {
		proof[0] ^= 0xff
	}

	return cluster.Callback{
		Offset: comp.Offset,
		Output: score.SignedOutput{
			Ciphertexts: []score.Block{sealed},
			Nonce:       outNonce,
			Proof:       proof,
			ClusterID:   signer.ClusterID,
		},
	}, nil
}

// Deliver queues a callback as if the cluster had produced it. It drops the
// callback when the buffer is full.
func (c *Cluster) Deliver(cb cluster.Callback) {
	select {
	case c.callbacks <- cb:
	default:
		c.log.WithField("offset", cb.Offset).Warn("fake cluster callback buffer full, dropping callback")
	}
}

func (c *Cluster) AwaitCallback(ctx context.Context) (cluster.Callback, error) {
	select {
	case <-ctx.Done():
		return cluster.Callback{}, ctx.Err()
	case cb := <-c.callbacks:
		return cb, nil
	}
}

// NextNonce returns n+1 modulo 2^128; the fake seals outputs under it.
func NextNonce(n score.Nonce) score.Nonce {
	for i := range n {
		n[i]++
		if n[i] != 0 {
			break
		}
	}
	return n
}
