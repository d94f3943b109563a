package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/sealed_scores/internal/app/domain/score"
	"github.com/R3E-Network/sealed_scores/internal/platform/migrations"
)

var fixedNow = time.Unix(1_700_000_000, 0).UTC()

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := New(db)
	store.now = func() time.Time { return fixedNow }
	return store, mock
}

func jobRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"job_offset", "status", "owner", "score_count", "input_nonce", "request_digest", "reason", "created_at", "updated_at", "finished_at"})
}

func TestCreateJob(t *testing.T) {
	store, mock := newMockStore(t)
	owner := score.Owner{1}

	mock.ExpectExec("INSERT INTO score_jobs").
		WithArgs("18446744073709551615", "pending", owner[:], int16(3), sqlmock.AnyArg(), sqlmock.AnyArg(), "", fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO score_jobs").WillReturnResult(sqlmock.NewResult(0, 0))

	job, err := store.CreateJob(context.Background(), score.Job{Offset: ^uint64(0), Owner: owner, Count: 3})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if job.Status != score.StatusPending || !job.CreatedAt.Equal(fixedNow) {
		t.Fatalf("unexpected job %+v", job)
	}

	if _, err := store.CreateJob(context.Background(), score.Job{Offset: 1, Owner: owner, Count: 3}); !errors.Is(err, score.ErrDuplicateOffset) {
		t.Fatalf("expected duplicate offset, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateJobRowsAffectedError(t *testing.T) {
	store, mock := newMockStore(t)
	driverErr := errors.New("rows affected unsupported")
	mock.ExpectExec("INSERT INTO score_jobs").WillReturnResult(sqlmock.NewErrorResult(driverErr))

	_, err := store.CreateJob(context.Background(), score.Job{Offset: 5, Owner: score.Owner{1}, Count: 1})
	if !errors.Is(err, driverErr) {
		t.Fatalf("expected driver error, got %v", err)
	}
	if errors.Is(err, score.ErrDuplicateOffset) {
		t.Fatalf("driver failure reported as duplicate offset: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetJob(t *testing.T) {
	store, mock := newMockStore(t)
	owner := score.Owner{2}

	mock.ExpectQuery("SELECT .* FROM score_jobs WHERE job_offset").
		WithArgs("7").
		WillReturnRows(jobRows().AddRow("7", "completed", owner[:], int64(3), make([]byte, 16), make([]byte, 32), "", fixedNow, fixedNow, fixedNow))
	mock.ExpectQuery("SELECT .* FROM score_jobs WHERE job_offset").
		WithArgs("8").
		WillReturnError(sql.ErrNoRows)

	job, err := store.GetJob(context.Background(), 7)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Offset != 7 || job.Status != score.StatusCompleted || job.Owner != owner || job.FinishedAt.IsZero() {
		t.Fatalf("unexpected job %+v", job)
	}

	if _, err := store.GetJob(context.Background(), 8); !errors.Is(err, score.ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCompleteJobWritesResultInTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	owner := score.Owner{3}
	res := score.Result{Owner: owner, EncryptedResult: score.Block{9}, ProcessedAt: fixedNow, Version: score.ResultVersion}
	record, _ := res.MarshalBinary()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE score_jobs").
		WithArgs("7", "completed", "", fixedNow).
		WillReturnRows(jobRows().AddRow("7", "completed", owner[:], int64(3), make([]byte, 16), make([]byte, 32), "", fixedNow, fixedNow, fixedNow))
	mock.ExpectExec("INSERT INTO score_results").
		WithArgs(owner[:], record, fixedNow.Unix(), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	job, err := store.CompleteJob(context.Background(), 7, res)
	if err != nil {
		t.Fatalf("complete job: %v", err)
	}
	if job.Status != score.StatusCompleted {
		t.Fatalf("unexpected job %+v", job)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCompleteJobTerminalRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE score_jobs").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT status FROM score_jobs").
		WithArgs("7").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))
	mock.ExpectRollback()

	_, err := store.CompleteJob(context.Background(), 7, score.Result{Owner: score.Owner{3}})
	if !errors.Is(err, score.ErrJobTerminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAbortJobUnknownOffset(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE score_jobs").
		WithArgs("9", "aborted", "verification failed", fixedNow).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT status FROM score_jobs").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	if _, err := store.AbortJob(context.Background(), 9, "verification failed"); !errors.Is(err, score.ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResults(t *testing.T) {
	store, mock := newMockStore(t)
	owner := score.Owner{4}
	res := score.Result{Owner: owner, EncryptedResult: score.Block{1}, Nonce: score.NonceFromUint64(2), ProcessedAt: fixedNow, Version: score.ResultVersion}
	record, _ := res.MarshalBinary()

	mock.ExpectExec("INSERT INTO score_results").
		WithArgs(owner[:], record, fixedNow.Unix(), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT record FROM score_results").
		WithArgs(owner[:]).
		WillReturnRows(sqlmock.NewRows([]string{"record"}).AddRow(record))
	mock.ExpectQuery("SELECT record FROM score_results").
		WillReturnError(sql.ErrNoRows)

	if err := store.PutResult(context.Background(), res); err != nil {
		t.Fatalf("put result: %v", err)
	}
	got, err := store.GetResult(context.Background(), owner)
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if got != res {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, res)
	}
	if _, err := store.GetResult(context.Background(), score.Owner{5}); !errors.Is(err, score.ErrResultNotFound) {
		t.Fatalf("expected result not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListPendingJobs(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := fixedNow.Add(-time.Minute)

	mock.ExpectQuery("SELECT .* FROM score_jobs\\s+WHERE status = 'pending'").
		WithArgs(cutoff).
		WillReturnRows(jobRows().
			AddRow("1", "pending", make([]byte, 32), int64(1), make([]byte, 16), make([]byte, 32), "", fixedNow, fixedNow, nil).
			AddRow("2", "pending", make([]byte, 32), int64(2), make([]byte, 16), make([]byte, 32), "", fixedNow, fixedNow, nil))

	jobs, err := store.ListPendingJobs(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(jobs) != 2 || jobs[1].Count != 2 || !jobs[0].FinishedAt.IsZero() {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	store := New(db)

	offset := uint64(time.Now().UnixNano())
	owner := score.Owner{0xee}
	if _, err := store.CreateJob(ctx, score.Job{Offset: offset, Owner: owner, Count: 3}); err != nil {
		t.Fatalf("create job: %v", err)
	}
	res := score.Result{Owner: owner, EncryptedResult: score.Block{1}, ProcessedAt: time.Now().UTC().Truncate(time.Second), Version: score.ResultVersion}
	if _, err := store.CompleteJob(ctx, offset, res); err != nil {
		t.Fatalf("complete job: %v", err)
	}
	if _, err := store.CompleteJob(ctx, offset, res); !errors.Is(err, score.ErrJobTerminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	got, err := store.GetResult(ctx, owner)
	if err != nil || got.EncryptedResult != res.EncryptedResult {
		t.Fatalf("get result: %+v %v", got, err)
	}
}
