package crawler

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
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// rotatingPool walks its credentials in order so rotation is observable.
type rotatingPool struct {
	mu    sync.Mutex
	creds []Credential
	next  int
}

func newRotatingPool(n int) *rotatingPool {
	p := &rotatingPool{}
	for i := range n {
		p.creds = append(p.creds, Credential{Token: "tok-" + strconv.Itoa(i), Secret: "sec"})
	}
	return p
}

func (p *rotatingPool) Next() (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.creds) == 0 {
		return Credential{}, ErrEmptyPool
	}
	c := p.creds[p.next%len(p.creds)]
	p.next++
	return c, nil
}

func (p *rotatingPool) NextExcept(prev Credential) (Credential, error) {
	c, err := p.Next()
	if err != nil || len(p.creds) == 1 || c.Token != prev.Token {
		return c, err
	}
	return p.Next()
}

func (p *rotatingPool) Len() int { return len(p.creds) }

// fakeAPI serves scripted follower pages and profile lookups.
type fakeAPI struct {
	mu sync.Mutex

	pages       map[string]PageResult
	profile     func(id string) Profile
	followerErr []error
	lookupErr   []error

	followerCalls []string
	lookupCalls   [][]string
	lookupCreds   []string
}

func (f *fakeAPI) FollowerIDs(_ context.Context, _ Credential, _ string, cursor string) (PageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followerCalls = append(f.followerCalls, cursor)
	if len(f.followerErr) > 0 {
		err := f.followerErr[0]
		f.followerErr = f.followerErr[1:]
		if err != nil {
			return PageResult{}, err
		}
	}
	page, ok := f.pages[cursor]
	if !ok {
		return PageResult{}, &ProviderError{Endpoint: EndpointFollowerIDs, HTTPStatus: 404, Code: 34, Kind: ErrTargetUnavailable}
	}
	return page, nil
}

func (f *fakeAPI) LookupProfiles(_ context.Context, cred Credential, ids []string) ([]Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookupCalls = append(f.lookupCalls, ids)
	f.lookupCreds = append(f.lookupCreds, cred.Token)
	if len(f.lookupErr) > 0 {
		err := f.lookupErr[0]
		f.lookupErr = f.lookupErr[1:]
		if err != nil {
			return nil, err
		}
	}
	profiles := make([]Profile, 0, len(ids))
	for _, id := range ids {
		profiles = append(profiles, f.profile(id))
	}
	return profiles, nil
}

// activeBelow makes followers with a numeric id under n active quality users
// and everyone else inactive.
func activeBelow(n int) func(id string) Profile {
	return func(id string) Profile {
		p := healthyProfile()
		p.ID = id
		if i, _ := strconv.Atoi(id); i >= n {
			p.LastPostAt = nil
		}
		return p
	}
}

func fastPolicy() RetryPolicy {
	return NewRetryPolicy(RetryConfig{
		BaseDelay:            time.Millisecond,
		RateLimitDelay:       2 * time.Millisecond,
		MaxTransientAttempts: 3,
	})
}

func newTestOrchestrator(api FollowerAPI) *Orchestrator {
	return NewOrchestrator(api, fastPolicy(), fixedClock{now: testNow}, Config{LookupBatchSize: MaxLookupBatch}, zap.NewNop())
}

func twoPages() map[string]PageResult {
	ids := makeIDs(150)
	return map[string]PageResult{
		StartCursor: {IDs: ids[:100], NextCursor: "1500"},
		"1500":      {IDs: ids[100:], NextCursor: EndCursor},
	}
}

func testInput(pool CredentialPicker) CrawlInput {
	return CrawlInput{
		WorkID: "work-1",
		Handle: "@target",
		Ref:    RequestRef{UserID: "u1", RequestID: "r1"},
		Pool:   pool,
	}
}

func TestOrchestratorCrawlsAllPages(t *testing.T) {
	api := &fakeAPI{pages: twoPages(), profile: activeBelow(120)}
	o := newTestOrchestrator(api)

	tally, err := o.Crawl(context.Background(), testInput(newRotatingPool(2)))
	require.NoError(t, err)

	assert.Equal(t, Tally{MonthlyActive: 120, MonthlyInactive: 30, MonthlyActiveQuality: 120}, tally)
	assert.Equal(t, []string{StartCursor, "1500"}, api.followerCalls)
	require.Len(t, api.lookupCalls, 2)
	assert.Len(t, api.lookupCalls[0], 100)
	assert.Len(t, api.lookupCalls[1], 50)
	assert.Equal(t, "80.00", tally.Percentages().FormatActive())
}

func TestOrchestratorSmallBatches(t *testing.T) {
	api := &fakeAPI{pages: twoPages(), profile: activeBelow(150)}
	o := NewOrchestrator(api, fastPolicy(), fixedClock{now: testNow}, Config{LookupBatchSize: 40}, nil)

	tally, err := o.Crawl(context.Background(), testInput(newRotatingPool(1)))
	require.NoError(t, err)

	assert.Equal(t, uint64(150), tally.Total())
	// 100 -> 40+40+20, 50 -> 40+10
	assert.Len(t, api.lookupCalls, 5)
}

func TestOrchestratorRateLimitedBatchCountedOnce(t *testing.T) {
	rl := &ProviderError{Endpoint: EndpointLookupProfiles, Code: 88, HTTPStatus: 429, Kind: ErrRateLimited}
	api := &fakeAPI{
		pages:     twoPages(),
		profile:   activeBelow(150),
		lookupErr: []error{rl, rl, rl},
	}
	o := newTestOrchestrator(api)

	tally, err := o.Crawl(context.Background(), testInput(newRotatingPool(3)))
	require.NoError(t, err)

	assert.Equal(t, uint64(150), tally.MonthlyActive)
	assert.Equal(t, uint64(150), tally.Total())
	require.Len(t, api.lookupCalls, 5)
	for i := 0; i < 4; i++ {
		assert.Equal(t, api.lookupCalls[0], api.lookupCalls[i], "retries repeat the same batch")
	}
	for i := 1; i < 4; i++ {
		assert.NotEqual(t, api.lookupCreds[i-1], api.lookupCreds[i], "each retry rotates the credential")
	}
}

func TestOrchestratorTargetUnavailable(t *testing.T) {
	api := &fakeAPI{pages: map[string]PageResult{}, profile: activeBelow(0)}
	o := newTestOrchestrator(api)

	tally, err := o.Crawl(context.Background(), testInput(newRotatingPool(2)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTargetUnavailable)
	assert.Equal(t, Tally{}, tally)
	assert.Len(t, api.followerCalls, 1, "unavailable targets are not retried")

	var crawlErr *CrawlError
	require.ErrorAs(t, err, &crawlErr)
	assert.Equal(t, "target", crawlErr.Handle)
	assert.Equal(t, RequestRef{UserID: "u1", RequestID: "r1"}, crawlErr.Ref)
}

func TestOrchestratorTransientExhausted(t *testing.T) {
	api := &fakeAPI{
		pages:       twoPages(),
		profile:     activeBelow(150),
		followerErr: []error{ErrTransient, ErrTransient, ErrTransient, ErrTransient},
	}
	o := newTestOrchestrator(api)

	_, err := o.Crawl(context.Background(), testInput(newRotatingPool(2)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Len(t, api.followerCalls, 3)
}

func TestOrchestratorTransientRecovers(t *testing.T) {
	api := &fakeAPI{
		pages:       twoPages(),
		profile:     activeBelow(150),
		followerErr: []error{nil, ErrTransient},
	}
	o := newTestOrchestrator(api)

	tally, err := o.Crawl(context.Background(), testInput(newRotatingPool(2)))
	require.NoError(t, err)
	assert.Equal(t, uint64(150), tally.Total())
	assert.Equal(t, []string{StartCursor, "1500", "1500"}, api.followerCalls, "the cursor does not advance on failure")
}

func TestOrchestratorCursorLoop(t *testing.T) {
	api := &fakeAPI{
		pages: map[string]PageResult{
			StartCursor: {IDs: makeIDs(2), NextCursor: "7"},
			"7":         {IDs: makeIDs(2), NextCursor: "7"},
		},
		profile: activeBelow(2),
	}
	o := newTestOrchestrator(api)

	_, err := o.Crawl(context.Background(), testInput(newRotatingPool(1)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.Len(t, api.followerCalls, 2)
}

func TestOrchestratorEmptyPool(t *testing.T) {
	api := &fakeAPI{pages: twoPages(), profile: activeBelow(150)}
	o := newTestOrchestrator(api)

	_, err := o.Crawl(context.Background(), testInput(newRotatingPool(0)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyPool)
	assert.Empty(t, api.followerCalls)
}

func TestOrchestratorUnknownErrorIsTerminal(t *testing.T) {
	boom := errors.New("boom")
	api := &fakeAPI{pages: twoPages(), profile: activeBelow(150), lookupErr: []error{boom}}
	o := newTestOrchestrator(api)

	_, err := o.Crawl(context.Background(), testInput(newRotatingPool(2)))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, api.lookupCalls, 1)
}

func TestOrchestratorStopsOnCancel(t *testing.T) {
	rl := &ProviderError{Kind: ErrRateLimited}
	api := &fakeAPI{
		pages:     twoPages(),
		profile:   activeBelow(150),
		lookupErr: []error{rl, rl, rl, rl, rl, rl, rl, rl},
	}
	slow := NewRetryPolicy(RetryConfig{BaseDelay: time.Minute, RateLimitDelay: time.Minute})
	o := NewOrchestrator(api, slow, fixedClock{now: testNow}, Config{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := o.Crawl(ctx, testInput(newRotatingPool(2)))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, api.lookupCalls, 1)
}

func TestOrchestratorEmptyFollowerList(t *testing.T) {
	api := &fakeAPI{
		pages:   map[string]PageResult{StartCursor: {NextCursor: EndCursor}},
		profile: activeBelow(0),
	}
	o := newTestOrchestrator(api)

	tally, err := o.Crawl(context.Background(), testInput(newRotatingPool(1)))
	require.NoError(t, err)
	assert.Equal(t, Tally{}, tally)
	assert.Empty(t, api.lookupCalls)
	assert.Equal(t, "0.00", tally.Percentages().FormatActive())
}
