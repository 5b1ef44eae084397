package crawler

import (
	"context"
)

// Config holds the settings for the crawl pipeline.
// This struct is decoupled from Viper, making the crawler and its configuration
// more modular and easier to test independently.
type Config struct {
	// LookupBatchSize is the number of IDs per profile lookup (max 100).
	LookupBatchSize int
	Retry           RetryConfig
}

// CrawlInput describes one crawl of one target.
type CrawlInput struct {
	WorkID string
	Handle string
	Ref    RequestRef
	Pool   CredentialPicker
}

// Crawler runs a complete follower crawl and returns the final tally.
type Crawler interface {
	Crawl(ctx context.Context, in CrawlInput) (Tally, error)
}
