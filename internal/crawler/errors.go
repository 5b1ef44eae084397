package crawler

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the provider adapter, the crawl pipeline and the scheduler.
var (
	ErrMalformedTarget   = errors.New("malformed target handle")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrInvalidCredential = errors.New("invalid or expired credential")
	ErrTransient         = errors.New("transient provider failure")
	ErrTargetUnavailable = errors.New("target unavailable")
	ErrUnknownProvider   = errors.New("unknown provider error")
	ErrSourceFetch       = errors.New("task source fetch failed")
	ErrAlreadyTerminal   = errors.New("request already has a terminal status")
	ErrEmptyPool         = errors.New("credential pool is empty")
	ErrRequestNotFound   = errors.New("request not found")
)

// ProviderError is a failure reported by the provider API.
type ProviderError struct {
	Endpoint   string
	Code       int
	HTTPStatus int
	Message    string
	Kind       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v (code %d, http %d): %s", e.Endpoint, e.Kind, e.Code, e.HTTPStatus, e.Message)
}

// Unwrap exposes the classification sentinel so errors.Is matches it.
func (e *ProviderError) Unwrap() error {
	return e.Kind
}

// CrawlError carries enough context to route a failed crawl back to its request.
type CrawlError struct {
	Handle string
	Ref    RequestRef
	Err    error
}

func (e *CrawlError) Error() string {
	return fmt.Sprintf("crawl %q (user %s, request %s): %v", e.Handle, e.Ref.UserID, e.Ref.RequestID, e.Err)
}

func (e *CrawlError) Unwrap() error {
	return e.Err
}

// Recoverable reports whether the error should be retried transparently.
func Recoverable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrTransient)
}
