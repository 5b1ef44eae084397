package crawler

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/JakeFAU/follower-audit/internal/crawler"

// Orchestrator drives one crawl: enumerate a page, classify its batch, fold it
// into the tally, then move to the next cursor until the end cursor arrives.
type Orchestrator struct {
	enumerator *Enumerator
	classifier *Classifier
	tracer     trace.Tracer
	logger     *zap.Logger
}

// NewOrchestrator wires the enumerator and classifier over one provider API.
func NewOrchestrator(api FollowerAPI, policy RetryPolicy, clock Clock, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = NewRetryPolicy(cfg.Retry)
	}
	return &Orchestrator{
		enumerator: NewEnumerator(api, policy, logger.Named("enumerator")),
		classifier: NewClassifier(api, policy, clock, cfg.LookupBatchSize, logger.Named("classifier")),
		tracer:     otel.Tracer(tracerName),
		logger:     logger,
	}
}

// Crawl runs the state machine Start → Enumerate → Classify → {Enumerate | Done}.
// Page N+1 is requested only after page N is folded into the tally.
func (o *Orchestrator) Crawl(ctx context.Context, in CrawlInput) (Tally, error) {
	handle := NormalizeHandle(in.Handle)
	ctx, span := o.tracer.Start(ctx, "crawler.Crawl", trace.WithAttributes(
		attribute.String("audit.handle", handle),
		attribute.String("audit.work_id", in.WorkID),
	))
	defer span.End()

	logger := o.logger.With(
		zap.String("work_id", in.WorkID),
		zap.String("handle", handle),
		zap.String("request_id", in.Ref.RequestID),
	)

	var tally Tally
	cursor := StartCursor
	seen := map[string]struct{}{StartCursor: {}}

	for page := 1; ; page++ {
		res, err := o.crawlPage(ctx, in.Pool, handle, cursor, page, &tally)
		if err != nil {
			return Tally{}, o.fail(span, in, handle, err)
		}
		logger.Debug("page folded",
			zap.Int("page", page),
			zap.String("cursor", cursor),
			zap.Int("ids", len(res.IDs)),
			zap.Uint64("classified", tally.Total()),
		)
		if res.Done() {
			span.SetAttributes(attribute.Int("audit.pages", page), attribute.Int64("audit.followers", int64(tally.Total())))
			logger.Info("crawl finished",
				zap.Int("pages", page),
				zap.Uint64("monthly_active", tally.MonthlyActive),
				zap.Uint64("monthly_inactive", tally.MonthlyInactive),
				zap.Uint64("monthly_active_quality", tally.MonthlyActiveQuality),
			)
			return tally, nil
		}
		if _, repeated := seen[res.NextCursor]; repeated || res.NextCursor == "" {
			return Tally{}, o.fail(span, in, handle,
				fmt.Errorf("page %d returned cursor %q again: %w", page, res.NextCursor, ErrUnknownProvider))
		}
		seen[res.NextCursor] = struct{}{}
		cursor = res.NextCursor
	}
}

func (o *Orchestrator) crawlPage(
	ctx context.Context,
	pool CredentialPicker,
	handle string,
	cursor string,
	page int,
	tally *Tally,
) (PageResult, error) {
	ctx, span := o.tracer.Start(ctx, "crawler.Page", trace.WithAttributes(
		attribute.Int("audit.page", page),
		attribute.String("audit.cursor", cursor),
	))
	defer span.End()

	res, err := o.enumerator.Page(ctx, pool, handle, cursor)
	if err != nil {
		return PageResult{}, fmt.Errorf("enumerate page %d: %w", page, err)
	}
	span.SetAttributes(attribute.Int("audit.ids", len(res.IDs)))
	if err := o.classifier.Classify(ctx, pool, res.IDs, tally); err != nil {
		return PageResult{}, fmt.Errorf("classify page %d: %w", page, err)
	}
	return res, nil
}

func (o *Orchestrator) fail(span trace.Span, in CrawlInput, handle string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return &CrawlError{Handle: handle, Ref: in.Ref, Err: err}
}
