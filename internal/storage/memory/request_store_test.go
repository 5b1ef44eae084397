package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/follower-audit/internal/crawler"
)

func TestRequestStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewRequestStore()
	ctx := context.Background()
	cred := crawler.Credential{Token: "tok", Secret: "sec"}
	store.AddUser("u1", "alice", cred)

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SubmitRequest(ctx, "u1", "", crawler.Request{ID: "r1", Handle: "golang", SubmittedAt: t0}))
	require.NoError(t, store.SubmitRequest(ctx, "u1", "", crawler.Request{ID: "r2", Handle: "rustlang", SubmittedAt: t0.Add(time.Minute)}))
	require.Error(t, store.SubmitRequest(ctx, "u1", "", crawler.Request{ID: "r1", Handle: "dup"}))

	users, err := store.ListPendingRequests(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, []crawler.Credential{cred}, users[0].Credentials)
	require.Len(t, users[0].Requests, 2)

	users[0].Requests[0].Handle = "mutated"
	got, err := store.GetRequest(ctx, crawler.RequestRef{UserID: "u1", RequestID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, "golang", got.Handle, "ListPendingRequests must return copies")

	ref := crawler.RequestRef{UserID: "u1", RequestID: "r1"}
	require.NoError(t, store.MarkRequestStatus(ctx, ref, crawler.StatusCompleted))
	err = store.MarkRequestStatus(ctx, ref, crawler.StatusFailed)
	require.ErrorIs(t, err, crawler.ErrAlreadyTerminal)

	got, err = store.GetRequest(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusCompleted, got.Status)

	require.NoError(t, store.MarkRequestStatus(ctx, crawler.RequestRef{UserID: "u1", RequestID: "r2"}, crawler.StatusFailedParse))
	users, err = store.ListPendingRequests(ctx)
	require.NoError(t, err)
	assert.Empty(t, users, "users without pending requests are not listed")
}

func TestRequestStoreMarkErrors(t *testing.T) {
	t.Parallel()

	store := NewRequestStore()
	ctx := context.Background()
	require.NoError(t, store.SubmitRequest(ctx, "u1", "alice", crawler.Request{ID: "r1", Handle: "golang"}))

	err := store.MarkRequestStatus(ctx, crawler.RequestRef{UserID: "u1", RequestID: "r1"}, crawler.StatusPending)
	require.Error(t, err)

	err = store.MarkRequestStatus(ctx, crawler.RequestRef{UserID: "nobody", RequestID: "r1"}, crawler.StatusCompleted)
	require.ErrorIs(t, err, crawler.ErrRequestNotFound)

	err = store.MarkRequestStatus(ctx, crawler.RequestRef{UserID: "u1", RequestID: "missing"}, crawler.StatusCompleted)
	require.ErrorIs(t, err, crawler.ErrRequestNotFound)
}

func TestRequestStoreSubmitDefaults(t *testing.T) {
	t.Parallel()

	store := NewRequestStore()
	fixed := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	ctx := context.Background()

	require.NoError(t, store.SubmitRequest(ctx, "u1", "alice", crawler.Request{ID: "r1", Handle: "x", Status: crawler.StatusCompleted}))
	got, err := store.GetRequest(ctx, crawler.RequestRef{UserID: "u1", RequestID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, fixed, got.SubmittedAt)
	assert.Equal(t, crawler.StatusPending, got.Status)

	require.Error(t, store.SubmitRequest(ctx, "", "alice", crawler.Request{ID: "r2"}))
}

func TestRequestStoreListCredentials(t *testing.T) {
	t.Parallel()

	store := NewRequestStore()
	store.AddUser("u1", "alice", crawler.Credential{Token: "a", Secret: "1"})
	store.AddUser("u2", "bob", crawler.Credential{Token: "b", Secret: "2"}, crawler.Credential{Token: "c", Secret: "3"})

	creds, err := store.ListCredentials(context.Background())
	require.NoError(t, err)
	assert.Len(t, creds, 3)
}
