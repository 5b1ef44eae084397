// Package worker runs admitted crawls to their outcome and delivers the result:
// terminal status, user notice and archived report.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/follower-audit/internal/crawler"
	"github.com/JakeFAU/follower-audit/internal/metrics"
)

// Config controls Worker behavior.
type Config struct {
	ReportPrefix string
	ContentType  string
	// DeliveryTimeout bounds status writes and notices made after the crawl
	// context has ended.
	DeliveryTimeout time.Duration
}

// Worker executes crawls and routes their outcomes.
type Worker struct {
	crawler   crawler.Crawler
	sink      crawler.ResultSink
	notifier  crawler.Notifier
	formatter crawler.MessageFormatter
	reports   crawler.ReportStore
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. notifier, formatter and reports may be nil.
func New(
	c crawler.Crawler,
	sink crawler.ResultSink,
	notifier crawler.Notifier,
	formatter crawler.MessageFormatter,
	reports crawler.ReportStore,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 30 * time.Second
	}
	return &Worker{
		crawler:   c,
		sink:      sink,
		notifier:  notifier,
		formatter: formatter,
		reports:   reports,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Process crawls the item's target with pool and delivers the outcome before
// returning it, so the request is terminal by the time the caller sees it.
func (w *Worker) Process(ctx context.Context, item crawler.WorkItem, pool crawler.CredentialPicker) crawler.Outcome {
	task := item.Task()
	logger := w.logger.With(
		zap.String("work_id", item.ID),
		zap.String("user_id", item.UserID),
		zap.String("request_id", item.Request.ID),
		zap.String("handle", item.Request.Handle),
	)

	if !crawler.ValidHandle(item.Request.Handle) {
		outcome := crawler.Outcome{Kind: crawler.OutcomeMalformedTarget, Err: crawler.ErrMalformedTarget}
		w.deliver(ctx, task, item.ID, outcome, logger)
		return outcome
	}

	start := w.clock.Now()
	logger.Info("crawl started", zap.Int("credentials", pool.Len()))
	tally, err := w.crawler.Crawl(ctx, crawler.CrawlInput{
		WorkID: item.ID,
		Handle: item.Request.Handle,
		Ref:    task.Ref(),
		Pool:   pool,
	})
	outcome := Classify(tally, err)
	outcome.Duration = w.clock.Now().Sub(start)

	w.deliver(ctx, task, item.ID, outcome, logger)
	return outcome
}

// Reject marks a malformed request failed-parse and notifies the requester.
func (w *Worker) Reject(ctx context.Context, task crawler.Task) error {
	logger := w.logger.With(
		zap.String("user_id", task.UserID),
		zap.String("request_id", task.Request.ID),
		zap.String("handle", task.Request.Handle),
	)
	outcome := crawler.Outcome{Kind: crawler.OutcomeMalformedTarget, Err: crawler.ErrMalformedTarget}
	return w.deliver(ctx, task, "", outcome, logger)
}

// Classify maps a crawl result onto an outcome. A deadline counts as an
// unknown failure; plain cancellation is a shutdown and writes nothing.
func Classify(tally crawler.Tally, err error) crawler.Outcome {
	switch {
	case err == nil:
		return crawler.Outcome{Kind: crawler.OutcomeCompleted, Tally: tally, Percentages: tally.Percentages()}
	case errors.Is(err, context.DeadlineExceeded):
		return crawler.Outcome{Kind: crawler.OutcomeUnknown, Err: err}
	case errors.Is(err, context.Canceled):
		return crawler.Outcome{Kind: crawler.OutcomeCanceled, Err: err}
	case errors.Is(err, crawler.ErrTargetUnavailable):
		return crawler.Outcome{Kind: crawler.OutcomeTargetUnavailable, Err: err}
	case errors.Is(err, crawler.ErrMalformedTarget):
		return crawler.Outcome{Kind: crawler.OutcomeMalformedTarget, Err: err}
	default:
		return crawler.Outcome{Kind: crawler.OutcomeUnknown, Err: err}
	}
}

func (w *Worker) deliver(
	ctx context.Context,
	task crawler.Task,
	workID string,
	outcome crawler.Outcome,
	logger *zap.Logger,
) error {
	metrics.ObserveCrawl(string(outcome.Kind))
	if outcome.Kind == crawler.OutcomeCanceled {
		logger.Warn("crawl canceled, request left pending", zap.Error(outcome.Err))
		return nil
	}

	// The crawl context may already be done (deadline eviction).
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.DeliveryTimeout)
	defer cancel()

	status := outcome.Kind.Status()
	if err := w.sink.MarkRequestStatus(dctx, task.Ref(), status); err != nil {
		if errors.Is(err, crawler.ErrAlreadyTerminal) {
			logger.Warn("request already terminal, skipping delivery", zap.Error(err))
			return nil
		}
		logger.Error("mark request status failed", zap.String("status", string(status)), zap.Error(err))
		return fmt.Errorf("mark %s: %w", status, err)
	}

	w.logOutcome(logger, outcome)
	w.notify(dctx, task, outcome, logger)
	if outcome.Kind == crawler.OutcomeCompleted {
		w.archive(dctx, task, workID, outcome, logger)
	}
	return nil
}

func (w *Worker) logOutcome(logger *zap.Logger, outcome crawler.Outcome) {
	switch outcome.Kind {
	case crawler.OutcomeCompleted:
		logger.Info("crawl completed",
			zap.Uint64("monthly_active", outcome.Tally.MonthlyActive),
			zap.Uint64("monthly_inactive", outcome.Tally.MonthlyInactive),
			zap.Uint64("monthly_active_quality", outcome.Tally.MonthlyActiveQuality),
			zap.String("pct_active", outcome.Percentages.FormatActive()),
			zap.String("pct_active_quality", outcome.Percentages.FormatActiveQuality()),
			zap.Duration("duration", outcome.Duration),
		)
	case crawler.OutcomeUnknown:
		logger.Error("crawl failed", zap.String("outcome", string(outcome.Kind)), zap.Error(outcome.Err))
	default:
		logger.Info("crawl rejected", zap.String("outcome", string(outcome.Kind)), zap.Error(outcome.Err))
	}
}

func (w *Worker) notify(ctx context.Context, task crawler.Task, outcome crawler.Outcome, logger *zap.Logger) {
	if w.notifier == nil || w.formatter == nil {
		return
	}
	msg, ok := w.formatter.Format(task, outcome)
	if !ok {
		return
	}
	notice := crawler.Notice{
		UserID:   task.UserID,
		Username: task.Username,
		ReplyRef: task.Request.ReplyRef,
		Handle:   task.Request.Handle,
		Kind:     outcome.Kind,
		Message:  msg,
	}
	if err := w.notifier.NotifyOutcome(ctx, notice); err != nil {
		logger.Error("notify outcome failed", zap.Error(err))
	}
}

func (w *Worker) archive(
	ctx context.Context,
	task crawler.Task,
	workID string,
	outcome crawler.Outcome,
	logger *zap.Logger,
) {
	if w.reports == nil {
		return
	}
	report := crawler.Report{
		WorkID:      workID,
		UserID:      task.UserID,
		RequestID:   task.Request.ID,
		Handle:      crawler.NormalizeHandle(task.Request.Handle),
		Tally:       outcome.Tally,
		Percentages: outcome.Percentages,
		CrawledAt:   w.clock.Now(),
		DurationMs:  outcome.Duration.Milliseconds(),
	}
	data, err := json.Marshal(report)
	if err != nil {
		logger.Error("marshal report failed", zap.Error(err))
		return
	}
	uri, err := w.reports.PutReport(ctx, w.reportPath(task), w.cfg.ContentType, bytes.NewReader(data))
	if err != nil {
		logger.Error("archive report failed", zap.Error(err))
		return
	}
	logger.Debug("report archived", zap.String("uri", uri))
}

func (w *Worker) reportPath(task crawler.Task) string {
	prefix := strings.Trim(w.cfg.ReportPrefix, "/")
	name := fmt.Sprintf("%s/%s.json", task.UserID, task.Request.ID)
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
