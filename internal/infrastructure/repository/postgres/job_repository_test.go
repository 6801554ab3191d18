package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/conversation-archive/internal/core/domain"
)

func TestJobRepositoryClaimBatchReturnsClaimedJobs(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewJobRepository(db, JobRepositoryOptions{Lease: time.Minute})
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "kind", "payload", "status", "attempts",
		"not_before", "lease_expires_at", "last_error", "created_at", "updated_at",
	}).
		AddRow("j-1", domain.JobKindEmbedMessage, []byte(`{}`), string(domain.JobRunning), 0, now, now.Add(time.Minute), nil, now, now).
		AddRow("j-2", domain.JobKindEmbedMessage, []byte(`{}`), string(domain.JobRunning), 2, now, now.Add(time.Minute), "timeout", now, now)

	mock.ExpectQuery("UPDATE jobs").
		WithArgs(domain.JobKindEmbedMessage, string(domain.JobPending), 8, string(domain.JobRunning), float64(60)).
		WillReturnRows(rows)

	jobs, err := repo.ClaimBatch(context.Background(), domain.JobKindEmbedMessage, 8)
	if err != nil {
		t.Fatalf("ClaimBatch() error = %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].Status != domain.JobRunning || jobs[0].LeaseExpiresAt.IsZero() {
		t.Fatalf("claimed job must be running with a lease, got %+v", jobs[0])
	}
	if jobs[1].Attempts != 2 || jobs[1].LastError != "timeout" {
		t.Fatalf("claimed job must carry attempts and last error, got %+v", jobs[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobRepositoryClaimBatchWrapsStoreError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewJobRepository(db, JobRepositoryOptions{})
	mock.ExpectQuery("UPDATE jobs").WillReturnError(errors.New("connection refused"))

	_, err = repo.ClaimBatch(context.Background(), domain.JobKindEmbedMessage, 8)
	if !domain.IsKind(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}

func TestJobRepositoryCompleteRequiresRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewJobRepository(db, JobRepositoryOptions{})
	mock.ExpectExec("UPDATE jobs").
		WithArgs("missing", string(domain.JobCompleted)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.Complete(context.Background(), "missing"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobRepositoryFailTerminal(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewJobRepository(db, JobRepositoryOptions{})
	mock.ExpectExec("UPDATE jobs").
		WithArgs("j-1", string(domain.JobFailed), "bad payload").
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := domain.Job{ID: "j-1", Attempts: 4}
	if err := repo.Fail(context.Background(), job, "bad payload", false); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobRepositoryFailRetrySchedulesBackoff(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewJobRepository(db, JobRepositoryOptions{BackoffBase: 10 * time.Second, BackoffMax: 10 * time.Minute})

	// Third attempt: 10s doubled twice is 40s.
	mock.ExpectExec("UPDATE jobs").
		WithArgs("j-1", string(domain.JobPending), "timeout", float64(40)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := domain.Job{ID: "j-1", Attempts: 2}
	if err := repo.Fail(context.Background(), job, "timeout", true); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobRepositoryReclaimExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewJobRepository(db, JobRepositoryOptions{})
	mock.ExpectExec("UPDATE jobs").
		WithArgs(string(domain.JobPending), string(domain.JobRunning)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := repo.ReclaimExpired(context.Background())
	if err != nil {
		t.Fatalf("ReclaimExpired() error = %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 reclaimed jobs, got %d", count)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRetryBackoff(t *testing.T) {
	base := 10 * time.Second
	max := 10 * time.Minute

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 10 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{4, 80 * time.Second},
		{7, 10 * time.Minute},
		{100, 10 * time.Minute},
	}
	for _, tt := range tests {
		if got := RetryBackoff(base, max, tt.attempts); got != tt.want {
			t.Fatalf("RetryBackoff(attempts=%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}

	prev := time.Duration(0)
	for attempts := 1; attempts <= 20; attempts++ {
		got := RetryBackoff(base, max, attempts)
		if got < prev {
			t.Fatalf("backoff must never shrink: attempt %d gave %v after %v", attempts, got, prev)
		}
		prev = got
	}
}
