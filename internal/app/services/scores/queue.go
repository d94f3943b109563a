package scores

import (
	"context"

	"github.com/R3E-Network/sealed_scores/internal/app/cluster"
	"github.com/R3E-Network/sealed_scores/internal/app/domain/score"
)

// AbortReasonDispatch is recorded on jobs the cluster refused to accept.
const AbortReasonDispatch = "dispatch failed"

// dispatch hands one computation to the cluster. Exactly one callback is
// expected for the offset; nothing is retried or polled. A synchronous
// failure aborts the job so the offset cannot linger as pending.
func (s *Service) dispatch(ctx context.Context, identity cluster.Identity, offset uint64, req score.EncryptedRequest) error {
	comp := cluster.Computation{
		Offset:        offset,
		CompDefOffset: identity.CompDefOffset,
		Circuit:       identity.Circuit,
		Args:          cluster.ScoreArgs(req),
		CallbackURL:   s.callbackURL(offset),
	}

	if err := s.cluster.SubmitJob(ctx, comp); err != nil {
		s.log.WithError(err).WithField("offset", offset).Warn("cluster rejected computation")
		if _, abortErr := s.jobs.AbortJob(ctx, offset, AbortReasonDispatch); abortErr != nil {
			s.log.WithError(abortErr).WithField("offset", offset).Error("abort after dispatch failure")
		}
		return score.ErrDispatchFailed.WithDetails("offset", offset).Wrap(err)
	}
	return nil
}
