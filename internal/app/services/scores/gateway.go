package scores

import (
	"context"
	"fmt"

	"github.com/R3E-Network/sealed_scores/internal/app/cluster"
	"github.com/R3E-Network/sealed_scores/internal/app/domain/score"
	svcerrors "github.com/R3E-Network/sealed_scores/internal/errors"
)

type callerKey struct{}

// WithCaller records the authenticated submitter on ctx.
func WithCaller(ctx context.Context, owner score.Owner) context.Context {
	return context.WithValue(ctx, callerKey{}, owner)
}

// CallerFromContext returns the authenticated submitter, if any.
func CallerFromContext(ctx context.Context) (score.Owner, bool) {
	owner, ok := ctx.Value(callerKey{}).(score.Owner)
	return owner, ok
}

// Submission preconditions. Submit evaluates them in the order listed and
// stops at the first failure.

func requireClusterIdentity(c cluster.Cluster) (cluster.Identity, error) {
	if c == nil {
		return cluster.Identity{}, score.ErrClusterNotSet
	}
	identity, ok := c.Identity()
	if !ok || !identity.Configured() {
		return cluster.Identity{}, score.ErrClusterNotSet
	}
	return identity, nil
}

func requireScoreCount(count uint8) error {
	if count < 1 || count > score.MaxScores {
		return score.ErrInvalidScoreCount.WithDetails("count", count)
	}
	return nil
}

func requireOwner(owner score.Owner) error {
	if owner.IsZero() {
		return svcerrors.InvalidInput("owner", "must not be the zero identity")
	}
	return nil
}

func requireCaller(ctx context.Context, owner score.Owner) error {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return nil
	}
	if caller != owner {
		return score.ErrOwnerMismatch.
			WithDetails("owner", owner.String()).
			WithDetails("caller", caller.String()).
			Wrap(fmt.Errorf("caller %s submitted for %s", caller, owner))
	}
	return nil
}
