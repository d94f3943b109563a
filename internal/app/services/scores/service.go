// Package scores orchestrates confidential score jobs: it accepts sealed
// submissions, dispatches them to the compute cluster, verifies the signed
// callback, persists the owner's result and announces it.
package scores

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/sealed_scores/internal/app/cluster"
	"github.com/R3E-Network/sealed_scores/internal/app/domain/score"
	"github.com/R3E-Network/sealed_scores/internal/app/metrics"
	"github.com/R3E-Network/sealed_scores/internal/app/notify"
	"github.com/R3E-Network/sealed_scores/internal/app/storage"
	svcerrors "github.com/R3E-Network/sealed_scores/internal/errors"
	"github.com/R3E-Network/sealed_scores/pkg/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// SubmitRequest is one submission: the caller-chosen offset plus the sealed
// request it names.
type SubmitRequest struct {
	Offset uint64 `json:"offset"`
	score.EncryptedRequest
}

// ClusterInfo is the public part of the configured cluster identity.
type ClusterInfo struct {
	ClusterID     string      `json:"cluster_id"`
	Circuit       string      `json:"circuit"`
	CompDefOffset uint32      `json:"comp_def_offset"`
	EncryptionKey score.Block `json:"encryption_key"`
}

// Service implements submission, callback verification and result lookup.
type Service struct {
	jobs     storage.JobStore
	results  storage.ResultStore
	cluster  cluster.Cluster
	notifier notify.Notifier
	log      *logger.Logger

	mu           sync.RWMutex
	now          func() time.Time
	callbackBase string

	emitMu   sync.Mutex
	sequence uint64
}

// New constructs a scores service. A nil notifier discards events.
func New(jobs storage.JobStore, results storage.ResultStore, c cluster.Cluster, notifier notify.Notifier, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("scores")
	}
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Service{
		jobs:     jobs,
		results:  results,
		cluster:  c,
		notifier: notifier,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithCallbackBase sets the public base URL advertised to remote clusters.
func (s *Service) WithCallbackBase(base string) {
	s.mu.Lock()
	s.callbackBase = strings.TrimRight(base, "/")
	s.mu.Unlock()
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) {
	if now == nil {
		return
	}
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Service) clock() time.Time {
	s.mu.RLock()
	now := s.now
	s.mu.RUnlock()
	return now()
}

// Submit validates req, records a pending job and dispatches it.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (score.Job, error) {
	job, err := s.submit(ctx, req)
	metrics.RecordSubmission(outcome(err, "accepted"))
	return job, err
}

func (s *Service) submit(ctx context.Context, req SubmitRequest) (score.Job, error) {
	identity, err := requireClusterIdentity(s.cluster)
	if err != nil {
		return score.Job{}, err
	}
	if err := requireScoreCount(req.Count); err != nil {
		return score.Job{}, err
	}
	if err := requireOwner(req.Owner); err != nil {
		return score.Job{}, err
	}
	if err := requireCaller(ctx, req.Owner); err != nil {
		return score.Job{}, err
	}

	job, err := s.jobs.CreateJob(ctx, score.Job{
		Offset:        req.Offset,
		Owner:         req.Owner,
		Count:         req.Count,
		InputNonce:    req.Nonce,
		RequestDigest: req.Digest(req.Offset),
		CreatedAt:     s.clock(),
	})
	if err != nil {
		return score.Job{}, err
	}

	if err := s.dispatch(ctx, identity, req.Offset, req.EncryptedRequest); err != nil {
		return score.Job{}, err
	}

	s.log.WithField("offset", job.Offset).
		WithField("owner", job.Owner.String()).
		WithField("count", job.Count).
		Info("score job dispatched")
	return job, nil
}

// GetJob returns the job recorded for offset.
func (s *Service) GetJob(ctx context.Context, offset uint64) (score.Job, error) {
	return s.jobs.GetJob(ctx, offset)
}

// ListOwnerJobs returns the owner's most recent jobs.
func (s *Service) ListOwnerJobs(ctx context.Context, owner score.Owner, limit int) ([]score.Job, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.jobs.ListJobsByOwner(ctx, owner, limit)
}

// GetResult returns the owner's latest verified result.
func (s *Service) GetResult(ctx context.Context, owner score.Owner) (score.Result, error) {
	if err := requireOwner(owner); err != nil {
		return score.Result{}, err
	}
	return s.results.GetResult(ctx, owner)
}

// ClusterInfo describes the cluster clients encrypt to.
func (s *Service) ClusterInfo() (ClusterInfo, error) {
	identity, err := requireClusterIdentity(s.cluster)
	if err != nil {
		return ClusterInfo{}, err
	}
	return ClusterInfo{
		ClusterID:     identity.ID,
		Circuit:       identity.Circuit,
		CompDefOffset: identity.CompDefOffset,
		EncryptionKey: identity.EncryptionKey,
	}, nil
}

// PendingJobs lists jobs still awaiting a callback that were created before cutoff.
func (s *Service) PendingJobs(ctx context.Context, cutoff time.Time) ([]score.Job, error) {
	return s.jobs.ListPendingJobs(ctx, cutoff)
}

// emit assigns the next sequence and hands the event to the notifier. Sinks
// see events in sequence order. Delivery failures never undo the store write.
func (s *Service) emit(ctx context.Context, job score.Job, res score.Result) score.Event {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.sequence++
	evt := score.Event{
		ID:              uuid.NewString(),
		Sequence:        s.sequence,
		Offset:          job.Offset,
		Owner:           res.Owner,
		EncryptedResult: res.EncryptedResult,
		Nonce:           res.Nonce,
		ProcessedAt:     res.ProcessedAt,
	}
	if err := s.notifier.Notify(ctx, evt); err != nil {
		metrics.RecordNotifyFailure()
		s.log.WithError(err).
			WithField("offset", job.Offset).
			WithField("sequence", evt.Sequence).
			Warn("result event delivery failed")
	}
	return evt
}

func (s *Service) callbackURL(offset uint64) string {
	s.mu.RLock()
	base := s.callbackBase
	s.mu.RUnlock()
	if base == "" {
		return ""
	}
	return base + "/v1/callbacks/" + strconv.FormatUint(offset, 10)
}

// outcome maps an error to a metrics label.
func outcome(err error, success string) string {
	if err == nil {
		return success
	}
	if se := svcerrors.GetServiceError(err); se != nil {
		return string(se.Code)
	}
	return "error"
}
