// Package memory provides in-memory stores for development and testing.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/follower-audit/internal/crawler"
)

type userRecord struct {
	username    string
	credentials []crawler.Credential
	requests    []crawler.Request
}

// RequestStore keeps users, their credentials and audit requests in memory.
type RequestStore struct {
	mu    sync.RWMutex
	users map[string]*userRecord
	order []string
	now   func() time.Time
}

// NewRequestStore constructs an empty RequestStore.
func NewRequestStore() *RequestStore {
	return &RequestStore{
		users: make(map[string]*userRecord),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// AddUser registers a user and the credentials they authorized. Calling it
// again for the same user replaces the username and credentials.
func (s *RequestStore) AddUser(userID, username string, creds ...crawler.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.userLocked(userID)
	u.username = username
	u.credentials = append([]crawler.Credential(nil), creds...)
}

// SubmitRequest appends a pending request for the user.
func (s *RequestStore) SubmitRequest(_ context.Context, userID, username string, req crawler.Request) error {
	if userID == "" || req.ID == "" {
		return fmt.Errorf("user id and request id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.userLocked(userID)
	if username != "" {
		u.username = username
	}
	for _, existing := range u.requests {
		if existing.ID == req.ID {
			return fmt.Errorf("request %s already exists", req.ID)
		}
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = s.now()
	}
	req.Status = crawler.StatusPending
	u.requests = append(u.requests, req)
	return nil
}

// ListPendingRequests returns every user with at least one pending request.
// Returned slices are copies.
func (s *RequestStore) ListPendingRequests(_ context.Context) ([]crawler.UserRequests, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.UserRequests
	for _, id := range s.order {
		u := s.users[id]
		pending := slices.ContainsFunc(u.requests, func(r crawler.Request) bool {
			return !r.Status.Terminal()
		})
		if !pending {
			continue
		}
		out = append(out, crawler.UserRequests{
			UserID:      id,
			Username:    u.username,
			Credentials: slices.Clone(u.credentials),
			Requests:    slices.Clone(u.requests),
		})
	}
	return out, nil
}

// ListCredentials returns the credentials of every registered user.
func (s *RequestStore) ListCredentials(_ context.Context) ([]crawler.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Credential
	for _, id := range s.order {
		out = append(out, s.users[id].credentials...)
	}
	return out, nil
}

// MarkRequestStatus writes a terminal status. A request that already holds a
// terminal status is left untouched and crawler.ErrAlreadyTerminal returned.
func (s *RequestStore) MarkRequestStatus(
	_ context.Context,
	ref crawler.RequestRef,
	status crawler.RequestStatus,
) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[ref.UserID]
	if !ok {
		return fmt.Errorf("user %s: %w", ref.UserID, crawler.ErrRequestNotFound)
	}
	for i := range u.requests {
		if u.requests[i].ID != ref.RequestID {
			continue
		}
		if u.requests[i].Status.Terminal() {
			return fmt.Errorf("request %s is %s: %w", ref.RequestID, u.requests[i].Status, crawler.ErrAlreadyTerminal)
		}
		u.requests[i].Status = status
		return nil
	}
	return fmt.Errorf("request %s: %w", ref.RequestID, crawler.ErrRequestNotFound)
}

// GetRequest fetches a single request.
func (s *RequestStore) GetRequest(_ context.Context, ref crawler.RequestRef) (crawler.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[ref.UserID]
	if !ok {
		return crawler.Request{}, fmt.Errorf("user %s: %w", ref.UserID, crawler.ErrRequestNotFound)
	}
	for _, r := range u.requests {
		if r.ID == ref.RequestID {
			return r, nil
		}
	}
	return crawler.Request{}, fmt.Errorf("request %s: %w", ref.RequestID, crawler.ErrRequestNotFound)
}

func (s *RequestStore) userLocked(userID string) *userRecord {
	u, ok := s.users[userID]
	if !ok {
		u = &userRecord{}
		s.users[userID] = u
		s.order = append(s.order, userID)
	}
	return u
}
