package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/sealed_scores/internal/app/domain/score"
	"github.com/R3E-Network/sealed_scores/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
// Job transitions and result writes share one lock.
type Store struct {
	mu      sync.RWMutex
	jobs    map[uint64]score.Job
	results map[score.Owner]score.Result
	now     func() time.Time
}

var _ storage.JobStore = (*Store)(nil)
var _ storage.ResultStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		jobs:    make(map[uint64]score.Job),
		results: make(map[score.Owner]score.Result),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// JobStore implementation -----------------------------------------------------

func (s *Store) CreateJob(_ context.Context, job score.Job) (score.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Offset]; exists {
		return score.Job{}, score.ErrDuplicateOffset.WithDetails("offset", job.Offset)
	}

	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	job.Status = score.StatusPending
	job.FinishedAt = time.Time{}

	s.jobs[job.Offset] = job
	return job, nil
}

func (s *Store) GetJob(_ context.Context, offset uint64) (score.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[offset]
	if !ok {
		return score.Job{}, score.ErrJobNotFound.WithDetails("offset", offset)
	}
	return job, nil
}

func (s *Store) ListJobsByOwner(_ context.Context, owner score.Owner, limit int) ([]score.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]score.Job, 0)
	for _, job := range s.jobs {
		if job.Owner == owner {
			result = append(result, job)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].Offset > result[j].Offset
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListPendingJobs(_ context.Context, createdBefore time.Time) ([]score.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]score.Job, 0)
	for _, job := range s.jobs {
		if job.Status == score.StatusPending && job.CreatedAt.Before(createdBefore) {
			result = append(result, job)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) CompleteJob(_ context.Context, offset uint64, res score.Result) (score.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.transitionLocked(offset, score.StatusCompleted, "")
	if err != nil {
		return score.Job{}, err
	}
	s.results[res.Owner] = res
	return job, nil
}

func (s *Store) AbortJob(_ context.Context, offset uint64, reason string) (score.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.transitionLocked(offset, score.StatusAborted, reason)
}

func (s *Store) transitionLocked(offset uint64, next score.JobStatus, reason string) (score.Job, error) {
	job, ok := s.jobs[offset]
	if !ok {
		return score.Job{}, score.ErrJobNotFound.WithDetails("offset", offset)
	}
	if !job.Status.CanTransition(next) {
		return score.Job{}, score.ErrJobTerminal.
			WithDetails("offset", offset).
			WithDetails("status", string(job.Status))
	}

	now := s.now()
	job.Status = next
	job.Reason = reason
	job.UpdatedAt = now
	job.FinishedAt = now
	s.jobs[offset] = job
	return job, nil
}

// ResultStore implementation --------------------------------------------------

func (s *Store) PutResult(_ context.Context, res score.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[res.Owner] = res
	return nil
}

func (s *Store) GetResult(_ context.Context, owner score.Owner) (score.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.results[owner]
	if !ok {
		return score.Result{}, score.ErrResultNotFound.WithDetails("owner", owner.String())
	}
	return res, nil
}
