package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/sealed_scores/internal/app/domain/score"
	"github.com/R3E-Network/sealed_scores/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ storage.JobStore = (*Store)(nil)
var _ storage.ResultStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{
		db:  sqlx.NewDb(db, "postgres"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

const jobColumns = `job_offset, status, owner, score_count, input_nonce, request_digest, reason, created_at, updated_at, finished_at`

// jobRow carries offsets as text: NUMERIC(20,0) holds the full u64 range,
// which database/sql cannot bind as uint64.
type jobRow struct {
	Offset        string       `db:"job_offset"`
	Status        string       `db:"status"`
	Owner         []byte       `db:"owner"`
	Count         int16        `db:"score_count"`
	InputNonce    []byte       `db:"input_nonce"`
	RequestDigest []byte       `db:"request_digest"`
	Reason        string       `db:"reason"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
	FinishedAt    sql.NullTime `db:"finished_at"`
}

func (r jobRow) toJob() (score.Job, error) {
	offset, err := strconv.ParseUint(r.Offset, 10, 64)
	if err != nil {
		return score.Job{}, fmt.Errorf("decode job offset %q: %w", r.Offset, err)
	}
	status := score.JobStatus(r.Status)
	if !status.Valid() {
		return score.Job{}, fmt.Errorf("decode job %d: unknown status %q", offset, r.Status)
	}
	if len(r.Owner) != 32 || len(r.InputNonce) != 16 || len(r.RequestDigest) != 32 {
		return score.Job{}, fmt.Errorf("decode job %d: malformed binary column", offset)
	}

	job := score.Job{
		Offset:    offset,
		Status:    status,
		Count:     uint8(r.Count),
		Reason:    r.Reason,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	copy(job.Owner[:], r.Owner)
	copy(job.InputNonce[:], r.InputNonce)
	copy(job.RequestDigest[:], r.RequestDigest)
	if r.FinishedAt.Valid {
		job.FinishedAt = r.FinishedAt.Time.UTC()
	}
	return job, nil
}

func formatOffset(offset uint64) string {
	return strconv.FormatUint(offset, 10)
}

// --- JobStore ---------------------------------------------------------------

func (s *Store) CreateJob(ctx context.Context, job score.Job) (score.Job, error) {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	job.UpdatedAt = job.CreatedAt
	job.Status = score.StatusPending
	job.FinishedAt = time.Time{}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO score_jobs (job_offset, status, owner, score_count, input_nonce, request_digest, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (job_offset) DO NOTHING
	`, formatOffset(job.Offset), string(job.Status), job.Owner[:], int16(job.Count), job.InputNonce[:], job.RequestDigest[:], job.Reason, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return score.Job{}, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return score.Job{}, fmt.Errorf("create job %d: rows affected: %w", job.Offset, err)
	}
	if rows == 0 {
		return score.Job{}, score.ErrDuplicateOffset.WithDetails("offset", job.Offset)
	}
	return job, nil
}

func (s *Store) GetJob(ctx context.Context, offset uint64) (score.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM score_jobs WHERE job_offset = $1`, formatOffset(offset))
	if errors.Is(err, sql.ErrNoRows) {
		return score.Job{}, score.ErrJobNotFound.WithDetails("offset", offset)
	}
	if err != nil {
		return score.Job{}, err
	}
	return row.toJob()
}

func (s *Store) ListJobsByOwner(ctx context.Context, owner score.Owner, limit int) ([]score.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+jobColumns+`
		FROM score_jobs
		WHERE owner = $1
		ORDER BY created_at DESC, job_offset DESC
		LIMIT $2
	`, owner[:], limit); err != nil {
		return nil, err
	}
	return toJobs(rows)
}

func (s *Store) ListPendingJobs(ctx context.Context, createdBefore time.Time) ([]score.Job, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+jobColumns+`
		FROM score_jobs
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
	`, createdBefore); err != nil {
		return nil, err
	}
	return toJobs(rows)
}

func toJobs(rows []jobRow) ([]score.Job, error) {
	out := make([]score.Job, 0, len(rows))
	for _, row := range rows {
		job, err := row.toJob()
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

// CompleteJob performs the guarded update and the result upsert in one
// transaction.
func (s *Store) CompleteJob(ctx context.Context, offset uint64, res score.Result) (score.Job, error) {
	record, err := res.MarshalBinary()
	if err != nil {
		return score.Job{}, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return score.Job{}, err
	}
	defer func() { _ = tx.Rollback() }()

	job, err := s.transition(ctx, tx, offset, score.StatusCompleted, "")
	if err != nil {
		return score.Job{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO score_results (owner, record, processed_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner) DO UPDATE
		SET record = EXCLUDED.record, processed_at = EXCLUDED.processed_at, updated_at = EXCLUDED.updated_at
	`, res.Owner[:], record, res.ProcessedAt.Unix(), job.UpdatedAt); err != nil {
		return score.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return score.Job{}, err
	}
	return job, nil
}

func (s *Store) AbortJob(ctx context.Context, offset uint64, reason string) (score.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return score.Job{}, err
	}
	defer func() { _ = tx.Rollback() }()

	job, err := s.transition(ctx, tx, offset, score.StatusAborted, reason)
	if err != nil {
		return score.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return score.Job{}, err
	}
	return job, nil
}

// transition moves a pending job to next. A miss is classified by a follow-up
// read so callers can tell unknown offsets from terminal jobs.
func (s *Store) transition(ctx context.Context, tx *sqlx.Tx, offset uint64, next score.JobStatus, reason string) (score.Job, error) {
	now := s.now()
	var row jobRow
	err := tx.GetContext(ctx, &row, `
		UPDATE score_jobs
		SET status = $2, reason = $3, updated_at = $4, finished_at = $4
		WHERE job_offset = $1 AND status = 'pending'
		RETURNING `+jobColumns,
		formatOffset(offset), string(next), reason, now)
	if err == nil {
		return row.toJob()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return score.Job{}, err
	}

	var status string
	err = tx.GetContext(ctx, &status, `SELECT status FROM score_jobs WHERE job_offset = $1`, formatOffset(offset))
	if errors.Is(err, sql.ErrNoRows) {
		return score.Job{}, score.ErrJobNotFound.WithDetails("offset", offset)
	}
	if err != nil {
		return score.Job{}, err
	}
	return score.Job{}, score.ErrJobTerminal.WithDetails("offset", offset).WithDetails("status", status)
}

// --- ResultStore ------------------------------------------------------------

func (s *Store) PutResult(ctx context.Context, res score.Result) error {
	record, err := res.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO score_results (owner, record, processed_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner) DO UPDATE
		SET record = EXCLUDED.record, processed_at = EXCLUDED.processed_at, updated_at = EXCLUDED.updated_at
	`, res.Owner[:], record, res.ProcessedAt.Unix(), s.now())
	return err
}

func (s *Store) GetResult(ctx context.Context, owner score.Owner) (score.Result, error) {
	var record []byte
	err := s.db.GetContext(ctx, &record, `SELECT record FROM score_results WHERE owner = $1`, owner[:])
	if errors.Is(err, sql.ErrNoRows) {
		return score.Result{}, score.ErrResultNotFound.WithDetails("owner", owner.String())
	}
	if err != nil {
		return score.Result{}, err
	}
	var res score.Result
	if err := res.UnmarshalBinary(record); err != nil {
		return score.Result{}, err
	}
	return res, nil
}
