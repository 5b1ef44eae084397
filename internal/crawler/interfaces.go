package crawler

import (
	"context"
	"io"
	"time"
)

// TaskSource lists users that have audit requests.
type TaskSource interface {
	ListPendingRequests(ctx context.Context) ([]UserRequests, error)
}

// RequestSubmitter records a new pending audit request for a user, creating
// the user on first sight.
type RequestSubmitter interface {
	SubmitRequest(ctx context.Context, userID, username string, req Request) error
}

// CredentialSource lists every registered account credential.
type CredentialSource interface {
	ListCredentials(ctx context.Context) ([]Credential, error)
}

// ResultSink persists terminal request statuses.
type ResultSink interface {
	MarkRequestStatus(ctx context.Context, ref RequestRef, status RequestStatus) error
}

// Notifier delivers outcome messages back to the requesting user.
type Notifier interface {
	NotifyOutcome(ctx context.Context, notice Notice) error
}

// MessageFormatter composes the human-readable text of a notice.
type MessageFormatter interface {
	Format(task Task, outcome Outcome) (string, bool)
}

// ReportStore writes archived crawl reports and returns a URI.
type ReportStore interface {
	PutReport(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// FollowerAPI is the subset of the provider API the crawl pipeline needs.
type FollowerAPI interface {
	FollowerIDs(ctx context.Context, cred Credential, handle string, cursor string) (PageResult, error)
	LookupProfiles(ctx context.Context, cred Credential, ids []string) ([]Profile, error)
}

// CredentialPicker hands out one credential per outbound call.
type CredentialPicker interface {
	Next() (Credential, error)
	NextExcept(prev Credential) (Credential, error)
	Len() int
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces work item IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
