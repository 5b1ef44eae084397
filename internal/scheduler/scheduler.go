// Package scheduler admits pending audit requests into concurrent crawls under
// a fixed capacity.
package scheduler

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/follower-audit/internal/crawler"
	"github.com/JakeFAU/follower-audit/internal/credentials"
	"github.com/JakeFAU/follower-audit/internal/metrics"
)

// Defaults applied by New when the config leaves a field unset.
const (
	DefaultMaxConcurrent = 25
	DefaultPollInterval  = 30 * time.Second
)

// ErrStopped is returned by Active once Run has exited.
var ErrStopped = errors.New("scheduler stopped")

// Config controls admission.
type Config struct {
	MaxConcurrent int
	PollInterval  time.Duration
	// CrawlTimeout evicts crawls that run longer; zero disables it.
	CrawlTimeout      time.Duration
	StaticCredentials []crawler.Credential
}

// Processor runs one admitted crawl to a delivered outcome, and rejects
// malformed requests before admission.
type Processor interface {
	Process(ctx context.Context, item crawler.WorkItem, pool crawler.CredentialPicker) crawler.Outcome
	Reject(ctx context.Context, task crawler.Task) error
}

type completion struct {
	item    crawler.WorkItem
	outcome crawler.Outcome
}

// Scheduler owns the active set. Only the Run goroutine reads or writes it;
// crawls report back over the completions channel.
type Scheduler struct {
	source    crawler.TaskSource
	creds     crawler.CredentialSource
	processor Processor
	ids       crawler.IDGenerator
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger

	active      map[string]crawler.WorkItem
	completions chan completion
	snapshots   chan chan []crawler.WorkItem
	done        chan struct{}
	wg          sync.WaitGroup
}

// New creates a Scheduler. creds may be nil when every credential arrives with
// the pending users or the static config.
func New(
	source crawler.TaskSource,
	creds crawler.CredentialSource,
	processor Processor,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		source:      source,
		creds:       creds,
		processor:   processor,
		ids:         ids,
		clock:       clock,
		cfg:         cfg,
		logger:      logger,
		active:      make(map[string]crawler.WorkItem),
		completions: make(chan completion, cfg.MaxConcurrent),
		snapshots:   make(chan chan []crawler.WorkItem),
		done:        make(chan struct{}),
	}
}

// Run drives admission cycles until ctx is done, then cancels and awaits the
// in-flight crawls. The first cycle runs immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.done)
	s.logger.Info("scheduler started",
		zap.Int("max_concurrent", s.cfg.MaxConcurrent),
		zap.Duration("poll_interval", s.cfg.PollInterval),
		zap.Duration("crawl_timeout", s.cfg.CrawlTimeout),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", zap.Int("in_flight", len(s.active)))
			s.wg.Wait()
			metrics.SetActiveCrawls(0)
			return nil
		case c := <-s.completions:
			s.complete(c)
		case reply := <-s.snapshots:
			reply <- s.snapshot()
		case <-timer.C:
			s.cycle(ctx)
			timer.Reset(s.cfg.PollInterval)
		}
	}
}

// Active returns a snapshot of the in-flight work items, oldest first.
func (s *Scheduler) Active(ctx context.Context) ([]crawler.WorkItem, error) {
	reply := make(chan []crawler.WorkItem, 1)
	select {
	case s.snapshots <- reply:
	case <-s.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, fmt.Errorf("active snapshot: %w", ctx.Err())
	}
	select {
	case items := <-reply:
		return items, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("active snapshot: %w", ctx.Err())
	}
}

func (s *Scheduler) cycle(ctx context.Context) {
	users, err := s.source.ListPendingRequests(ctx)
	if err != nil {
		s.logger.Error("list pending requests failed",
			zap.Error(fmt.Errorf("%w: %w", crawler.ErrSourceFetch, err)))
		metrics.ObserveAdmissionCycle("source_error", 0)
		return
	}

	candidates := s.candidates(ctx, users)
	free := s.cfg.MaxConcurrent - len(s.active)
	switch {
	case len(candidates) == 0:
		metrics.ObserveAdmissionCycle("idle", 0)
		return
	case free <= 0:
		s.logger.Debug("at capacity", zap.Int("waiting", len(candidates)))
		metrics.ObserveAdmissionCycle("saturated", 0)
		return
	}

	pool := s.pool(ctx, users)
	if pool.Len() == 0 {
		s.logger.Warn("no credentials available, skipping admission", zap.Int("waiting", len(candidates)))
		metrics.ObserveAdmissionCycle("no_credentials", 0)
		return
	}

	admitted := 0
	for _, task := range candidates {
		if admitted == free {
			break
		}
		if s.admit(ctx, task, pool) {
			admitted++
		}
	}
	metrics.ObserveAdmissionCycle("admitted", admitted)
	metrics.SetActiveCrawls(len(s.active))
	s.logger.Info("admission cycle",
		zap.Int("candidates", len(candidates)),
		zap.Int("admitted", admitted),
		zap.Int("active", len(s.active)),
	)
}

// candidates picks the oldest valid pending request of every idle user and
// rejects malformed pending requests along the way. The result is sorted
// oldest first, ties broken by user ID.
func (s *Scheduler) candidates(ctx context.Context, users []crawler.UserRequests) []crawler.Task {
	var out []crawler.Task
	for _, u := range users {
		pending := make([]crawler.Request, 0, len(u.Requests))
		for _, r := range u.Requests {
			if r.Status == crawler.StatusPending {
				pending = append(pending, r)
			}
		}
		slices.SortStableFunc(pending, func(a, b crawler.Request) int {
			return a.SubmittedAt.Compare(b.SubmittedAt)
		})

		var picked *crawler.Request
		for i, r := range pending {
			if !crawler.ValidHandle(r.Handle) {
				s.reject(ctx, crawler.Task{UserID: u.UserID, Username: u.Username, Request: r})
				continue
			}
			if picked == nil {
				picked = &pending[i]
			}
		}
		if picked == nil {
			continue
		}
		if _, busy := s.active[u.UserID]; busy {
			continue
		}
		out = append(out, crawler.Task{UserID: u.UserID, Username: u.Username, Request: *picked})
	}
	slices.SortFunc(out, func(a, b crawler.Task) int {
		if c := a.Request.SubmittedAt.Compare(b.Request.SubmittedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	return out
}

func (s *Scheduler) reject(ctx context.Context, task crawler.Task) {
	if err := s.processor.Reject(ctx, task); err != nil {
		s.logger.Error("reject malformed request failed",
			zap.String("user_id", task.UserID),
			zap.String("request_id", task.Request.ID),
			zap.Error(err),
		)
	}
}

// pool snapshots the credentials usable for crawls admitted this cycle.
func (s *Scheduler) pool(ctx context.Context, users []crawler.UserRequests) *credentials.Pool {
	groups := [][]crawler.Credential{s.cfg.StaticCredentials}
	if s.creds != nil {
		registered, err := s.creds.ListCredentials(ctx)
		if err != nil {
			s.logger.Warn("list credentials failed", zap.Error(err))
		}
		groups = append(groups, registered)
	}
	for _, u := range users {
		groups = append(groups, u.Credentials)
	}
	return credentials.Merge(groups...)
}

func (s *Scheduler) admit(ctx context.Context, task crawler.Task, pool crawler.CredentialPicker) bool {
	id, err := s.ids.NewID()
	if err != nil {
		s.logger.Error("generate work id failed", zap.String("user_id", task.UserID), zap.Error(err))
		return false
	}
	item := crawler.WorkItem{
		ID:         id,
		UserID:     task.UserID,
		Username:   task.Username,
		Request:    task.Request,
		AdmittedAt: s.clock.Now(),
	}
	s.active[item.UserID] = item

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		crawlCtx := ctx
		if s.cfg.CrawlTimeout > 0 {
			var cancel context.CancelFunc
			crawlCtx, cancel = context.WithTimeout(ctx, s.cfg.CrawlTimeout)
			defer cancel()
		}
		outcome := s.processor.Process(crawlCtx, item, pool)
		s.completions <- completion{item: item, outcome: outcome}
	}()

	s.logger.Debug("admitted",
		zap.String("work_id", item.ID),
		zap.String("user_id", item.UserID),
		zap.String("request_id", item.Request.ID),
		zap.String("handle", item.Request.Handle),
	)
	return true
}

func (s *Scheduler) complete(c completion) {
	cur, ok := s.active[c.item.UserID]
	if !ok || cur.ID != c.item.ID {
		s.logger.Warn("completion for unknown work item", zap.String("work_id", c.item.ID))
		return
	}
	delete(s.active, c.item.UserID)
	metrics.SetActiveCrawls(len(s.active))
	s.logger.Debug("work item finished",
		zap.String("work_id", c.item.ID),
		zap.String("outcome", string(c.outcome.Kind)),
		zap.Duration("duration", c.outcome.Duration),
	)
}

func (s *Scheduler) snapshot() []crawler.WorkItem {
	items := make([]crawler.WorkItem, 0, len(s.active))
	for _, item := range s.active {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b crawler.WorkItem) int {
		if c := a.AdmittedAt.Compare(b.AdmittedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	return items
}
