package scores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/R3E-Network/sealed_scores/internal/app/cluster"
	"github.com/R3E-Network/sealed_scores/internal/app/domain/score"
	"github.com/R3E-Network/sealed_scores/internal/app/metrics"
	"github.com/R3E-Network/sealed_scores/internal/crypto/attest"
	svcerrors "github.com/R3E-Network/sealed_scores/internal/errors"
)

// AbortReasonVerification is recorded on jobs whose output did not verify.
const AbortReasonVerification = "verification failed"

// HandleCallback verifies the cluster output for offset. On success the job
// completes and the owner's result is replaced in one store step, and only
// then is the event emitted. A failed verification aborts the job and leaves
// the result untouched. Callbacks for unknown or finished jobs change nothing.
func (s *Service) HandleCallback(ctx context.Context, offset uint64, out score.SignedOutput) (score.Event, error) {
	job, err := s.jobs.GetJob(ctx, offset)
	if err != nil {
		metrics.RecordCallback(outcome(err, ""), 0)
		return score.Event{}, err
	}
	if job.Status.IsTerminal() {
		metrics.RecordCallback(string(score.CodeJobTerminal), 0)
		return score.Event{}, score.ErrJobTerminal.
			WithDetails("offset", offset).
			WithDetails("status", string(job.Status))
	}

	identity, err := requireClusterIdentity(s.cluster)
	if err != nil {
		metrics.RecordCallback(outcome(err, ""), 0)
		return score.Event{}, err
	}

	if verr := verifyOutput(identity, offset, out); verr != nil {
		return score.Event{}, s.abortUnverified(ctx, offset, verr)
	}

	now := s.clock()
	res := score.Result{
		Owner:           job.Owner,
		EncryptedResult: out.Ciphertexts[0],
		Nonce:           out.Nonce,
		ProcessedAt:     now.UTC().Truncate(time.Second),
		Version:         score.ResultVersion,
	}
	completed, err := s.jobs.CompleteJob(ctx, offset, res)
	if err != nil {
		metrics.RecordCallback(outcome(err, ""), 0)
		return score.Event{}, err
	}
	metrics.RecordCallback("completed", now.Sub(job.CreatedAt))

	evt := s.emit(ctx, completed, res)
	s.log.WithField("offset", offset).
		WithField("owner", res.Owner.String()).
		WithField("sequence", evt.Sequence).
		Info("score job completed")
	return evt, nil
}

func (s *Service) abortUnverified(ctx context.Context, offset uint64, cause error) error {
	if _, err := s.jobs.AbortJob(ctx, offset, AbortReasonVerification); err != nil {
		metrics.RecordCallback(outcome(err, ""), 0)
		if errors.Is(err, score.ErrJobTerminal) || errors.Is(err, score.ErrJobNotFound) {
			return err
		}
		return svcerrors.Internal("abort unverified job", err)
	}
	metrics.RecordCallback("aborted", 0)
	s.log.WithError(cause).WithField("offset", offset).Warn("cluster output rejected")
	return score.ErrAbortedComputation.WithDetails("offset", offset).Wrap(cause)
}

// verifyOutput checks that out was signed by the configured cluster for this
// offset and computation definition.
func verifyOutput(identity cluster.Identity, offset uint64, out score.SignedOutput) error {
	if len(out.Ciphertexts) == 0 {
		return fmt.Errorf("output carries no ciphertext")
	}
	cts := make([][32]byte, len(out.Ciphertexts))
	for i, ct := range out.Ciphertexts {
		cts[i] = ct
	}
	domain := attest.CallbackDomain{
		ClusterID:     out.ClusterID,
		CompDefOffset: identity.CompDefOffset,
		Offset:        offset,
		Nonce:         out.Nonce,
		Ciphertexts:   cts,
	}
	verifier := attest.Verifier{ClusterID: identity.ID, Key: identity.SigningKey}
	return verifier.Verify(domain, out.Proof)
}
