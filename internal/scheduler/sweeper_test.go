package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/pkg/schema"
)

var now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, s store.Store, id string, status schema.ExecutionStatus, age time.Duration) {
	t.Helper()
	updated := now.Add(-age)
	rec := schema.NewExecutionRecord("prd", schema.RecordOptions{ID: id, StepsTotal: 1, Now: updated})
	rec.Status = status
	rec.UpdatedAt = updated
	require.NoError(t, s.Set(context.Background(), rec))
}

func newSweeper(t *testing.T, s store.Store, cfg Config) *Sweeper {
	t.Helper()
	sw, err := NewSweeper(s, cfg, nil)
	require.NoError(t, err)
	sw.now = func() time.Time { return now }
	return sw
}

func remaining(t *testing.T, s store.Store) []string {
	t.Helper()
	recs, err := s.List(context.Background(), store.Filter{})
	require.NoError(t, err)
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestSweep_DeletesExpiredTerminal(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "old-completed", schema.StatusCompleted, 48*time.Hour)
	seed(t, s, "old-cancelled", schema.StatusCancelled, 25*time.Hour)
	seed(t, s, "old-error", schema.StatusError, 30*time.Hour)
	seed(t, s, "old-halted", schema.StatusHalted, 48*time.Hour)
	seed(t, s, "old-paused", schema.StatusPaused, 48*time.Hour)
	seed(t, s, "fresh-completed", schema.StatusCompleted, time.Hour)

	n, err := newSweeper(t, s, Config{}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.ElementsMatch(t, []string{"old-halted", "old-paused", "fresh-completed"}, remaining(t, s))
}

func TestSweep_CustomRetention(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "a", schema.StatusCompleted, 2*time.Hour)
	seed(t, s, "b", schema.StatusCompleted, 30*time.Minute)

	n, err := newSweeper(t, s, Config{Retention: time.Hour}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"b"}, remaining(t, s))
}

func TestSweep_BatchSize(t *testing.T) {
	s := store.NewMemoryStore()
	for _, id := range []string{"a", "b", "c"} {
		seed(t, s, id, schema.StatusCompleted, 48*time.Hour)
	}
	sw := newSweeper(t, s, Config{BatchSize: 2})

	n, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, remaining(t, s))
}

type failingStore struct {
	store.Store
	listErr   error
	deleteErr map[string]error
}

func (f *failingStore) List(ctx context.Context, filter store.Filter) ([]*schema.ExecutionRecord, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.Store.List(ctx, filter)
}

func (f *failingStore) Delete(ctx context.Context, id string) error {
	if err := f.deleteErr[id]; err != nil {
		return err
	}
	return f.Store.Delete(ctx, id)
}

func TestSweep_ListError(t *testing.T) {
	s := &failingStore{Store: store.NewMemoryStore(), listErr: errors.New("db locked")}
	_, err := newSweeper(t, s, Config{}).Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db locked")
}

func TestSweep_DeleteErrorSkipped(t *testing.T) {
	mem := store.NewMemoryStore()
	seed(t, mem, "stuck", schema.StatusCompleted, 48*time.Hour)
	seed(t, mem, "gone", schema.StatusCompleted, 48*time.Hour)
	s := &failingStore{Store: mem, deleteErr: map[string]error{"stuck": errors.New("locked")}}

	n, err := newSweeper(t, s, Config{}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"stuck"}, remaining(t, mem))
}

func TestSweep_LibSQLStore(t *testing.T) {
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "sweep.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	seed(t, s, "old", schema.StatusError, 72*time.Hour)
	seed(t, s, "new", schema.StatusError, time.Minute)

	n, err := newSweeper(t, s, Config{}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"new"}, remaining(t, s))
}

func TestNewSweeper_InvalidSchedule(t *testing.T) {
	_, err := NewSweeper(store.NewMemoryStore(), Config{Schedule: "not a cron"}, nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestNextRun(t *testing.T) {
	sw := newSweeper(t, store.NewMemoryStore(), Config{Schedule: "30 3 * * *"})
	next := sw.NextRun(now)
	assert.Equal(t, time.Date(2026, 5, 5, 3, 30, 0, 0, time.UTC), next)

	def := newSweeper(t, store.NewMemoryStore(), Config{})
	assert.Equal(t, time.Date(2026, 5, 4, 13, 0, 0, 0, time.UTC), def.NextRun(now))
}

type countingStore struct {
	store.Store
	mu    sync.Mutex
	lists int
}

func (c *countingStore) List(ctx context.Context, f store.Filter) ([]*schema.ExecutionRecord, error) {
	c.mu.Lock()
	c.lists++
	c.mu.Unlock()
	return c.Store.List(ctx, f)
}

func (c *countingStore) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lists
}

func TestStartStop(t *testing.T) {
	s := &countingStore{Store: store.NewMemoryStore()}
	seed(t, s, "old", schema.StatusCompleted, 48*time.Hour)
	sw := newSweeper(t, s, Config{})

	require.NoError(t, sw.Start(context.Background()))
	require.Error(t, sw.Start(context.Background()), "double start")

	require.Eventually(t, func() bool { return s.count() >= 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, sw.Stop())
	require.NoError(t, sw.Stop(), "stop is idempotent")
	assert.Empty(t, remaining(t, s))
}
