package postgres

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/V4T54L/msgtap/internal/adapter/metrics"
	"github.com/V4T54L/msgtap/internal/domain"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveIdentityCaches(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewIdentityRepository(db, discardLogger(), time.Minute, metrics.NewPipelineMetrics(prometheus.NewRegistry()))

	mock.ExpectQuery(regexp.QuoteMeta(identityQuery)).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"username", "display_name"}).AddRow("bob", nil))

	for i := 0; i < 3; i++ {
		got, err := repo.ResolveIdentity(context.Background(), "u1")
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if got.Username != "bob" || got.DisplayName != "" {
			t.Fatalf("call %d: got %+v", i, got)
		}
	}
}

func TestResolveIdentityMissesAndErrors(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewIdentityRepository(db, discardLogger(), time.Minute, nil)

	mock.ExpectQuery(regexp.QuoteMeta(identityQuery)).WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(identityQuery)).WithArgs("u2").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectQuery(regexp.QuoteMeta(identityQuery)).WithArgs("u2").
		WillReturnRows(sqlmock.NewRows([]string{"username", "display_name"}).AddRow("amy", "Amy"))

	// Negative results are cached: only one query for ghost.
	for i := 0; i < 2; i++ {
		if _, err := repo.ResolveIdentity(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("ghost lookup %d: %v", i, err)
		}
	}

	// Errors are not cached: the retry hits the database again.
	if _, err := repo.ResolveIdentity(context.Background(), "u2"); err == nil {
		t.Fatal("expected database error")
	}
	got, err := repo.ResolveIdentity(context.Background(), "u2")
	if err != nil || got.DisplayName != "Amy" {
		t.Fatalf("retry = (%+v, %v)", got, err)
	}
}

func TestResolveIdentityExpiry(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewIdentityRepository(db, discardLogger(), time.Minute, nil)
	now := time.Unix(1000, 0)
	repo.cache.now = func() time.Time { return now }

	rows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"username", "display_name"}).AddRow("bob", "Bob")
	}
	mock.ExpectQuery(regexp.QuoteMeta(identityQuery)).WithArgs("u1").WillReturnRows(rows())
	mock.ExpectQuery(regexp.QuoteMeta(identityQuery)).WithArgs("u1").WillReturnRows(rows())

	if _, err := repo.ResolveIdentity(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := repo.ResolveIdentity(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
}

func TestResolveMany(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewIdentityRepository(db, discardLogger(), time.Minute, nil)

	mock.ExpectQuery(regexp.QuoteMeta(identityBatchQuery)).
		WithArgs(pq.Array([]string{"u1", "u2", "ghost"})).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "username", "display_name"}).
			AddRow("u1", "bob", "Bob").
			AddRow("u2", "amy", nil))

	got, err := repo.ResolveMany(context.Background(), []string{"u1", "u2", "u1", "", "ghost"})
	if err != nil {
		t.Fatalf("ResolveMany() error = %v", err)
	}
	if len(got) != 2 || got["u1"].DisplayName != "Bob" || got["u2"].Username != "amy" {
		t.Fatalf("got %+v", got)
	}

	// Everything is cached now, including the miss.
	if _, err := repo.ResolveIdentity(context.Background(), "u2"); err != nil {
		t.Errorf("cached u2: %v", err)
	}
	if _, err := repo.ResolveIdentity(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("cached ghost: %v", err)
	}
	if again, err := repo.ResolveMany(context.Background(), []string{"u1", "ghost"}); err != nil || len(again) != 1 {
		t.Errorf("second ResolveMany = (%v, %v)", again, err)
	}
}

func TestAPIKeyRepository(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAPIKeyRepository(db, discardLogger(), time.Minute, nil)

	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("good").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("bad").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	for i := 0; i < 2; i++ {
		if ok, err := repo.IsValid(context.Background(), "good"); err != nil || !ok {
			t.Fatalf("good key = (%v, %v)", ok, err)
		}
		if ok, err := repo.IsValid(context.Background(), "bad"); err != nil || ok {
			t.Fatalf("bad key = (%v, %v)", ok, err)
		}
	}
}
