package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/follower-audit/internal/crawler"
	"github.com/JakeFAU/follower-audit/internal/credentials"
	"github.com/JakeFAU/follower-audit/internal/id/uuid"
	"github.com/JakeFAU/follower-audit/internal/server"
)

// newCrawler is a variable so tests can replace the provider-backed pipeline.
var newCrawler = func(rt *runtime) (crawler.Crawler, error) {
	o, err := server.NewOrchestrator(rt.cfg, rt.logger)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func newAuditCmd() *cobra.Command {
	var (
		timeout time.Duration
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "audit <handle>",
		Short: "Crawl one account's followers now and print the tally.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := runtimeFrom(cmd)
			if rt == nil {
				return fmt.Errorf("runtime not initialized")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return runAudit(ctx, rt, args[0], asJSON, cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort the crawl after this long (0 waits forever)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func runAudit(ctx context.Context, rt *runtime, handle string, asJSON bool, out io.Writer) error {
	if !crawler.ValidHandle(handle) {
		return fmt.Errorf("%q: %w", handle, crawler.ErrMalformedTarget)
	}
	pool := credentials.New(rt.cfg.Provider.Credentials...)
	if pool.Len() == 0 {
		return fmt.Errorf("provider.credentials: %w", crawler.ErrEmptyPool)
	}
	c, err := newCrawler(rt)
	if err != nil {
		return err
	}
	workID, err := uuid.New().NewID()
	if err != nil {
		return err
	}

	start := time.Now()
	rt.logger.Info("audit started", zap.String("handle", handle), zap.Int("credentials", pool.Len()))
	tally, err := c.Crawl(ctx, crawler.CrawlInput{
		WorkID: workID,
		Handle: handle,
		Ref:    crawler.RequestRef{UserID: "cli", RequestID: workID},
		Pool:   pool,
	})
	if err != nil {
		return fmt.Errorf("audit %s: %w", handle, err)
	}
	pct := tally.Percentages()

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(crawler.Report{
			WorkID:      workID,
			RequestID:   workID,
			Handle:      crawler.NormalizeHandle(handle),
			Tally:       tally,
			Percentages: pct,
			CrawledAt:   time.Now().UTC(),
			DurationMs:  time.Since(start).Milliseconds(),
		})
	}
	_, err = fmt.Fprintf(out,
		"@%s\nfollowers classified: %d\nmonthly active:       %d (%s%%)\nquality active:       %d (%s%%)\nmonthly inactive:     %d\n",
		crawler.NormalizeHandle(handle),
		tally.Total(),
		tally.MonthlyActive, pct.FormatActive(),
		tally.MonthlyActiveQuality, pct.FormatActiveQuality(),
		tally.MonthlyInactive,
	)
	return err
}
