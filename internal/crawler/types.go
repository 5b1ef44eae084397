package crawler

import (
	"time"
)

// RequestStatus represents the lifecycle state of an audit request.
type RequestStatus string

// Request status values persisted by the task store. The empty status marks a
// request that has not reached a terminal state yet.
const (
	StatusPending       RequestStatus = ""
	StatusCompleted     RequestStatus = "completed"
	StatusFailed        RequestStatus = "failed"
	StatusFailedParse   RequestStatus = "failed-parse"
	StatusFailedUnknown RequestStatus = "failed-unknown"
)

// Terminal reports whether the status is final.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusFailedParse, StatusFailedUnknown:
		return true
	default:
		return false
	}
}

// Credential is one account-level authorization pair used to sign provider calls.
type Credential struct {
	Token  string `json:"-" mapstructure:"token"`
	Secret string `json:"-" mapstructure:"secret"`
	Label  string `json:"label,omitempty" mapstructure:"label"`
}

// Key identifies the credential without exposing the secret.
func (c Credential) Key() string {
	if c.Label != "" {
		return c.Label
	}
	if len(c.Token) <= 8 {
		return c.Token
	}
	return c.Token[:8]
}

// Request is a single audit request submitted by a user.
type Request struct {
	ID          string        `json:"id"`
	Handle      string        `json:"handle"`
	SubmittedAt time.Time     `json:"submitted_at"`
	Status      RequestStatus `json:"status"`
	ReplyRef    string        `json:"reply_ref,omitempty"`
}

// UserRequests groups the requests of one user together with the credentials
// that user registered.
type UserRequests struct {
	UserID      string
	Username    string
	Credentials []Credential
	Requests    []Request
}

// RequestRef addresses one request for status writes.
type RequestRef struct {
	UserID    string `json:"user_id"`
	RequestID string `json:"request_id"`
}

// Task is a selected request waiting for admission.
type Task struct {
	UserID   string
	Username string
	Request  Request
}

// Ref returns the status reference of the task's request.
func (t Task) Ref() RequestRef {
	return RequestRef{UserID: t.UserID, RequestID: t.Request.ID}
}

// WorkItem is the in-memory record of one admitted, in-progress crawl.
type WorkItem struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	Request    Request   `json:"request"`
	AdmittedAt time.Time `json:"admitted_at"`
}

// Task returns the admitted task.
func (w WorkItem) Task() Task {
	return Task{UserID: w.UserID, Username: w.Username, Request: w.Request}
}

// PageResult is one page of follower identifiers.
type PageResult struct {
	IDs        []string
	NextCursor string
}

// Done reports whether this was the last page.
func (p PageResult) Done() bool {
	return p.NextCursor == EndCursor
}

// Cursor values understood by the follower pagination endpoint.
const (
	StartCursor = "-1"
	EndCursor   = "0"
)

// Profile carries the fields of a follower profile the heuristics look at.
type Profile struct {
	ID             string
	LastPostAt     *time.Time
	PostCount      int
	FavoriteCount  int
	FollowingCount int
	FollowerCount  int
}

// Heuristics are the derived activity/quality signals for one profile.
type Heuristics struct {
	DaysSinceLastPost  *int
	MonthlyActive      bool
	LowPostCount       bool
	LowFavoriteCount   bool
	LowFollowingCount  bool
	HighFollowingRatio bool
	HighFollowingCount bool
}

// OutcomeKind classifies how a crawl ended.
type OutcomeKind string

// Outcome kinds routed back to the scheduler.
const (
	OutcomeCompleted         OutcomeKind = "completed"
	OutcomeTargetUnavailable OutcomeKind = "target_unavailable"
	OutcomeMalformedTarget   OutcomeKind = "malformed_target"
	OutcomeUnknown           OutcomeKind = "unknown"
	OutcomeCanceled          OutcomeKind = "canceled"
)

// Status maps an outcome onto the request status written to the store.
// Canceled crawls have no terminal status.
func (k OutcomeKind) Status() RequestStatus {
	switch k {
	case OutcomeCompleted:
		return StatusCompleted
	case OutcomeTargetUnavailable:
		return StatusFailed
	case OutcomeMalformedTarget:
		return StatusFailedParse
	case OutcomeUnknown:
		return StatusFailedUnknown
	default:
		return StatusPending
	}
}

// Outcome is the terminal (or canceled) result of processing one WorkItem.
type Outcome struct {
	Kind        OutcomeKind
	Tally       Tally
	Percentages Percentages
	Err         error
	Duration    time.Duration
}

// Notice is handed to a Notifier once a request reaches a terminal state.
type Notice struct {
	UserID   string      `json:"user_id"`
	Username string      `json:"username"`
	ReplyRef string      `json:"reply_ref,omitempty"`
	Handle   string      `json:"handle"`
	Kind     OutcomeKind `json:"kind"`
	Message  string      `json:"message"`
}

// Report is the archived summary of a completed crawl.
type Report struct {
	WorkID      string      `json:"work_id"`
	UserID      string      `json:"user_id"`
	RequestID   string      `json:"request_id"`
	Handle      string      `json:"handle"`
	Tally       Tally       `json:"tally"`
	Percentages Percentages `json:"percentages"`
	CrawledAt   time.Time   `json:"crawled_at"`
	DurationMs  int64       `json:"duration_ms"`
}
