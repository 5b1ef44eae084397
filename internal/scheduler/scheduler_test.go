package scheduler

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/follower-audit/internal/clock/system"
	"github.com/JakeFAU/follower-audit/internal/crawler"
	"github.com/JakeFAU/follower-audit/internal/storage/memory"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeProcessor blocks each crawl until released or canceled.
type fakeProcessor struct {
	mu       sync.Mutex
	started  []crawler.WorkItem
	pools    []int
	rejected []crawler.Task
	release  chan struct{}
	kind     crawler.OutcomeKind
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{release: make(chan struct{}), kind: crawler.OutcomeCompleted}
}

func (p *fakeProcessor) Process(ctx context.Context, item crawler.WorkItem, pool crawler.CredentialPicker) crawler.Outcome {
	p.mu.Lock()
	p.started = append(p.started, item)
	p.pools = append(p.pools, pool.Len())
	p.mu.Unlock()
	select {
	case <-p.release:
		return crawler.Outcome{Kind: p.kind}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return crawler.Outcome{Kind: crawler.OutcomeUnknown, Err: ctx.Err()}
		}
		return crawler.Outcome{Kind: crawler.OutcomeCanceled, Err: ctx.Err()}
	}
}

func (p *fakeProcessor) Reject(_ context.Context, task crawler.Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejected = append(p.rejected, task)
	return nil
}

func (p *fakeProcessor) startedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.started)
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return "work-" + strconv.Itoa(g.n), nil
}

type failingSource struct{ calls int }

func (f *failingSource) ListPendingRequests(context.Context) ([]crawler.UserRequests, error) {
	f.calls++
	return nil, errors.New("db down")
}

var cred = crawler.Credential{Token: "tok", Secret: "sec"}

func submit(t *testing.T, store *memory.RequestStore, user, id, handle string, age time.Duration) {
	t.Helper()
	require.NoError(t, store.SubmitRequest(context.Background(), user, user+"-name", crawler.Request{
		ID:          id,
		Handle:      handle,
		SubmittedAt: base.Add(-age),
	}))
}

func newTestScheduler(store *memory.RequestStore, proc *fakeProcessor, cfg Config) *Scheduler {
	return New(store, store, proc, &seqIDs{}, system.NewManual(base), cfg, zap.NewNop())
}

// drain releases every blocked crawl and waits for the goroutines to report.
func drain(s *Scheduler, proc *fakeProcessor) {
	close(proc.release)
	s.wg.Wait()
	for len(s.completions) > 0 {
		s.complete(<-s.completions)
	}
}

func TestCycleAdmitsOldestRequestPerUser(t *testing.T) {
	store := memory.NewRequestStore()
	store.AddUser("u1", "alice", cred)
	submit(t, store, "u1", "r-new", "newer", time.Minute)
	submit(t, store, "u1", "r-old", "older", time.Hour)
	submit(t, store, "u2", "r2", "@other", 30*time.Minute)
	proc := newFakeProcessor()
	s := newTestScheduler(store, proc, Config{MaxConcurrent: 10})

	s.cycle(context.Background())

	require.Len(t, s.active, 2)
	assert.Equal(t, "r-old", s.active["u1"].Request.ID)
	assert.Equal(t, "r2", s.active["u2"].Request.ID)
	assert.Equal(t, base, s.active["u1"].AdmittedAt)

	drain(s, proc)
	assert.Empty(t, s.active)
	assert.Equal(t, []int{1, 1}, proc.pools, "every crawl shares the cycle's credential pool")
}

func TestCycleRespectsCapacityOldestFirst(t *testing.T) {
	store := memory.NewRequestStore()
	store.AddUser("u0", "seed", cred)
	for i, age := range []time.Duration{time.Minute, 3 * time.Hour, time.Hour, 2 * time.Hour} {
		user := "u" + strconv.Itoa(i+1)
		submit(t, store, user, "r"+strconv.Itoa(i+1), "target", age)
	}
	proc := newFakeProcessor()
	s := newTestScheduler(store, proc, Config{MaxConcurrent: 2})

	s.cycle(context.Background())

	require.Len(t, s.active, 2)
	assert.Contains(t, s.active, "u2")
	assert.Contains(t, s.active, "u4")

	// A full active set admits nothing more.
	s.cycle(context.Background())
	assert.Len(t, s.active, 2)
	drain(s, proc)
}

func TestCycleTiesBrokenByUserID(t *testing.T) {
	store := memory.NewRequestStore()
	store.AddUser("seed", "seed", cred)
	submit(t, store, "b", "rb", "target", time.Hour)
	submit(t, store, "a", "ra", "target", time.Hour)
	proc := newFakeProcessor()
	s := newTestScheduler(store, proc, Config{MaxConcurrent: 1})

	s.cycle(context.Background())
	require.Len(t, s.active, 1)
	assert.Contains(t, s.active, "a")
	drain(s, proc)
}

func TestCycleSkipsActiveUsers(t *testing.T) {
	store := memory.NewRequestStore()
	store.AddUser("u1", "alice", cred)
	submit(t, store, "u1", "r1", "first", 2*time.Hour)
	submit(t, store, "u1", "r2", "second", time.Hour)
	proc := newFakeProcessor()
	s := newTestScheduler(store, proc, Config{MaxConcurrent: 10})

	s.cycle(context.Background())
	first := s.active["u1"]
	s.cycle(context.Background())

	require.Len(t, s.active, 1)
	assert.Equal(t, first, s.active["u1"], "an active user is never admitted twice")
	require.Eventually(t, func() bool { return proc.startedCount() == 1 }, time.Second, time.Millisecond)
	drain(s, proc)
}

func TestCycleRejectsMalformedHandles(t *testing.T) {
	store := memory.NewRequestStore()
	store.AddUser("u1", "alice", cred)
	submit(t, store, "u1", "bad-space", "two words", 3*time.Hour)
	submit(t, store, "u1", "bad-bang", "hey!", 2*time.Hour)
	submit(t, store, "u1", "good", "target", time.Hour)
	submit(t, store, "u2", "bad-hash", "#tag", time.Hour)
	proc := newFakeProcessor()
	s := newTestScheduler(store, proc, Config{MaxConcurrent: 10})

	s.cycle(context.Background())

	require.Len(t, s.active, 1)
	assert.Equal(t, "good", s.active["u1"].Request.ID)
	var rejected []string
	for _, task := range proc.rejected {
		rejected = append(rejected, task.Request.ID)
	}
	assert.ElementsMatch(t, []string{"bad-space", "bad-bang", "bad-hash"}, rejected)
	drain(s, proc)
}

func TestCycleSourceErrorIsContained(t *testing.T) {
	src := &failingSource{}
	proc := newFakeProcessor()
	s := New(src, nil, proc, &seqIDs{}, system.NewManual(base), Config{}, nil)

	s.cycle(context.Background())
	s.cycle(context.Background())

	assert.Equal(t, 2, src.calls)
	assert.Empty(t, s.active)
}

func TestCycleWithoutCredentialsAdmitsNothing(t *testing.T) {
	store := memory.NewRequestStore()
	submit(t, store, "u1", "r1", "target", time.Hour)
	proc := newFakeProcessor()
	s := newTestScheduler(store, proc, Config{})

	s.cycle(context.Background())
	assert.Empty(t, s.active)

	s.cfg.StaticCredentials = []crawler.Credential{cred}
	s.cycle(context.Background())
	assert.Len(t, s.active, 1)
	drain(s, proc)
}

func TestCompleteIgnoresStaleWorkItems(t *testing.T) {
	s := New(&failingSource{}, nil, newFakeProcessor(), &seqIDs{}, system.NewManual(base), Config{}, nil)
	s.active["u1"] = crawler.WorkItem{ID: "w2", UserID: "u1"}

	s.complete(completion{item: crawler.WorkItem{ID: "w1", UserID: "u1"}})
	assert.Contains(t, s.active, "u1")

	s.complete(completion{item: crawler.WorkItem{ID: "w2", UserID: "u1"}})
	assert.Empty(t, s.active)
}

func TestRunAdmitsAndCompletes(t *testing.T) {
	store := memory.NewRequestStore()
	store.AddUser("u1", "alice", cred)
	submit(t, store, "u1", "r1", "target", time.Hour)
	proc := newFakeProcessor()
	s := newTestScheduler(store, proc, Config{PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		items, err := s.Active(ctx)
		return err == nil && len(items) == 1 && items[0].Request.ID == "r1"
	}, time.Second, 5*time.Millisecond)

	// The fake processor does not write status, so mark it here the way the
	// worker would before the next cycle picks the request up again.
	require.NoError(t, store.MarkRequestStatus(ctx, crawler.RequestRef{UserID: "u1", RequestID: "r1"}, crawler.StatusCompleted))
	close(proc.release)

	require.Eventually(t, func() bool {
		items, err := s.Active(ctx)
		return err == nil && len(items) == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, proc.startedCount())

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after context cancel")
	}
	_, err := s.Active(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestRunCancelsInFlightCrawlsOnShutdown(t *testing.T) {
	store := memory.NewRequestStore()
	store.AddUser("u1", "alice", cred)
	submit(t, store, "u1", "r1", "target", time.Hour)
	proc := newFakeProcessor()
	s := newTestScheduler(store, proc, Config{PollInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return proc.startedCount() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not wait out the canceled crawl")
	}
	req, err := store.GetRequest(context.Background(), crawler.RequestRef{UserID: "u1", RequestID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusPending, req.Status, "a canceled crawl leaves the request pending")
}

func TestCrawlTimeoutEvictsStuckCrawl(t *testing.T) {
	store := memory.NewRequestStore()
	store.AddUser("u1", "alice", cred)
	submit(t, store, "u1", "r1", "target", time.Hour)
	proc := newFakeProcessor()
	s := newTestScheduler(store, proc, Config{PollInterval: time.Hour, CrawlTimeout: 10 * time.Millisecond})

	s.cycle(context.Background())
	require.Len(t, s.active, 1)

	select {
	case c := <-s.completions:
		assert.Equal(t, crawler.OutcomeUnknown, c.outcome.Kind)
		s.complete(c)
	case <-time.After(time.Second):
		t.Fatal("stuck crawl was not evicted")
	}
	assert.Empty(t, s.active)
}
