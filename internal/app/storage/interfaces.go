package storage

import (
	"context"
	"time"

	"github.com/R3E-Network/sealed_scores/internal/app/domain/score"
)

// JobStore persists computation jobs. Terminal transitions are guarded: only
// a pending job moves, and it moves once.
type JobStore interface {
	// CreateJob stores a new pending job. Any existing job with the same
	// offset yields score.ErrDuplicateOffset. Offsets of completed and aborted
	// jobs stay reserved.
	CreateJob(ctx context.Context, job score.Job) (score.Job, error)
	GetJob(ctx context.Context, offset uint64) (score.Job, error)
	ListJobsByOwner(ctx context.Context, owner score.Owner, limit int) ([]score.Job, error)
	// ListPendingJobs returns pending jobs created before the cutoff, oldest first.
	ListPendingJobs(ctx context.Context, createdBefore time.Time) ([]score.Job, error)

	// CompleteJob marks a pending job completed and writes res in the same
	// atomic step. score.ErrJobTerminal when the job already left pending.
	CompleteJob(ctx context.Context, offset uint64, res score.Result) (score.Job, error)
	// AbortJob marks a pending job aborted. score.ErrJobTerminal when the job
	// already left pending.
	AbortJob(ctx context.Context, offset uint64, reason string) (score.Job, error)
}

// ResultStore persists the latest verified result per owner.
type ResultStore interface {
	// PutResult overwrites the owner's slot.
	PutResult(ctx context.Context, res score.Result) error
	// GetResult returns score.ErrResultNotFound when the owner has no result.
	GetResult(ctx context.Context, owner score.Owner) (score.Result, error)
}
