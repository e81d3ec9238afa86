package admin

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/fenwick-labs/etlq/internal/domain"
	"github.com/fenwick-labs/etlq/internal/platform/dbctx"
	"github.com/fenwick-labs/etlq/internal/platform/logger"
	"github.com/fenwick-labs/etlq/internal/stages"
	"github.com/fenwick-labs/etlq/internal/store"
)

type fakeStore struct {
	jobs           map[uuid.UUID]*domain.Job
	cancelResult   domain.CancelResult
	retryErr       error
	cleanupDeleted int64
	createErr      error
	lastCreate     struct {
		kind       domain.Kind
		priority   int
		maxRetries int
	}
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: map[uuid.UUID]*domain.Job{}}
}

func (f *fakeStore) Create(_ dbctx.Context, kind domain.Kind, input datatypes.JSON, priority int, scheduledAt *time.Time, maxRetries int) (*domain.Job, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	j := &domain.Job{ID: uuid.New(), Kind: kind, Input: input, Priority: priority, ScheduledAt: scheduledAt, MaxRetries: maxRetries, Status: domain.StatusPending}
	f.jobs[j.ID] = j
	f.lastCreate.kind = kind
	f.lastCreate.priority = priority
	f.lastCreate.maxRetries = maxRetries
	return j, nil
}

func (f *fakeStore) ClaimOne(dbctx.Context, string, time.Time, time.Duration) (*domain.Job, error) {
	return nil, nil
}
func (f *fakeStore) Heartbeat(dbctx.Context, uuid.UUID, string, time.Time, time.Duration) (bool, error) {
	return true, nil
}
func (f *fakeStore) Complete(dbctx.Context, uuid.UUID, string, datatypes.JSON, time.Time) error {
	return nil
}
func (f *fakeStore) Fail(dbctx.Context, uuid.UUID, string, string, time.Time, time.Duration, bool) (bool, error) {
	return false, nil
}
func (f *fakeStore) ReleaseLease(dbctx.Context, uuid.UUID, string, time.Time) error { return nil }

func (f *fakeStore) RequestCancel(_ dbctx.Context, jobID uuid.UUID) (domain.CancelResult, error) {
	if _, ok := f.jobs[jobID]; !ok {
		return "", errNotFoundStub
	}
	return f.cancelResult, nil
}
func (f *fakeStore) IsCancelRequested(dbctx.Context, uuid.UUID) (bool, error) { return false, nil }
func (f *fakeStore) ListZombies(dbctx.Context, time.Time, time.Duration) ([]*domain.Job, error) {
	return nil, nil
}
func (f *fakeStore) RecoverZombie(dbctx.Context, uuid.UUID, time.Time) (domain.RecoveryOutcome, error) {
	return domain.RecoveryNoop, nil
}
func (f *fakeStore) CleanupOld(dbctx.Context, time.Time) (int64, error) { return f.cleanupDeleted, nil }
func (f *fakeStore) Stats(dbctx.Context) (map[domain.Status]int64, error) {
	out := map[domain.Status]int64{}
	for _, j := range f.jobs {
		out[j.Status]++
	}
	return out, nil
}
func (f *fakeStore) GetByID(_ dbctx.Context, jobID uuid.UUID) (*domain.Job, error) {
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, errNotFoundStub
	}
	return j, nil
}
func (f *fakeStore) List(dbctx.Context, domain.Status, domain.Kind, int, int) ([]*domain.Job, error) {
	var out []*domain.Job
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out, nil
}
func (f *fakeStore) Retry(dbctx.Context, uuid.UUID) error { return f.retryErr }

func (f *fakeStore) PersistDocument(dbctx.Context, stages.DocMeta, []string) (string, error) {
	return "", nil
}

var _ store.Store = (*fakeStore)(nil)

var errNotFoundStub = &stubError{"not found"}

type stubError struct{ msg string }

func (e *stubError) Error() string { return e.msg }

func testSurface(t *testing.T, fs *fakeStore) Surface {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return New(fs, log, nil)
}

func TestAdmin_EnqueueDefaultsMaxRetries(t *testing.T) {
	fs := newFakeStore()
	s := testSurface(t, fs)
	id, err := s.Enqueue(context.Background(), domain.KindChunk, datatypes.JSON([]byte(`{}`)), 0, nil, -1)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id == uuid.Nil {
		t.Fatalf("expected a non-nil job id")
	}
	if fs.lastCreate.maxRetries != defaultMaxRetries {
		t.Fatalf("expected default max_retries=%d, got %d", defaultMaxRetries, fs.lastCreate.maxRetries)
	}
}

func TestAdmin_CancelAndStatus(t *testing.T) {
	fs := newFakeStore()
	s := testSurface(t, fs)
	id, err := s.Enqueue(context.Background(), domain.KindEmbed, datatypes.JSON([]byte(`{}`)), 5, nil, 2)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	fs.cancelResult = domain.CancelOK
	result, err := s.Cancel(context.Background(), id)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if result != domain.CancelOK {
		t.Fatalf("expected cancel ok, got %v", result)
	}
	job, err := s.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if job.ID != id {
		t.Fatalf("status returned wrong job")
	}
}

func TestAdmin_Cleanup(t *testing.T) {
	fs := newFakeStore()
	fs.cleanupDeleted = 7
	s := testSurface(t, fs)
	n, err := s.Cleanup(context.Background(), 30)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 7 {
		t.Fatalf("expected 7 deleted, got %d", n)
	}
}

func TestAdmin_StatsWithoutMetrics(t *testing.T) {
	fs := newFakeStore()
	s := testSurface(t, fs)
	if _, err := s.Enqueue(context.Background(), domain.KindParse, datatypes.JSON([]byte(`{}`)), 0, nil, 1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.ByStatus[domain.StatusPending] != 1 {
		t.Fatalf("expected one pending job in stats, got %+v", stats.ByStatus)
	}
	if stats.Claims != 0 || stats.RunningNow != 0 {
		t.Fatalf("expected zero-value metrics when Surface has no registry, got %+v", stats)
	}
}

func TestAdmin_RetryPropagatesError(t *testing.T) {
	fs := newFakeStore()
	fs.retryErr = errNotFoundStub
	s := testSurface(t, fs)
	if err := s.Retry(context.Background(), uuid.New()); err == nil {
		t.Fatalf("expected retry error to propagate")
	}
}
