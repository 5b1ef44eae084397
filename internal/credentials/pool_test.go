package credentials

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/follower-audit/internal/crawler"
)

func cred(token string) crawler.Credential {
	return crawler.Credential{Token: token, Secret: token + "-secret"}
}

func TestMergeDropsIncompleteAndDuplicates(t *testing.T) {
	t.Parallel()

	p := Merge(
		[]crawler.Credential{cred("a"), {Token: "no-secret"}, cred("b")},
		[]crawler.Credential{cred("a"), cred("c"), {Secret: "no-token"}},
	)
	require.Equal(t, 3, p.Len())
	tokens := []string{}
	for _, c := range p.All() {
		tokens = append(tokens, c.Token)
	}
	require.Equal(t, []string{"a", "b", "c"}, tokens)
}

func TestEmptyPool(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.Next()
	require.ErrorIs(t, err, crawler.ErrEmptyPool)
	_, err = p.NextExcept(cred("a"))
	require.ErrorIs(t, err, crawler.ErrEmptyPool)

	var nilPool *Pool
	require.Zero(t, nilPool.Len())
}

func TestNextStaysInPool(t *testing.T) {
	t.Parallel()

	p := New(cred("a"), cred("b"), cred("c"))
	allowed := map[string]bool{"a": true, "b": true, "c": true}
	for range 200 {
		c, err := p.Next()
		require.NoError(t, err)
		require.True(t, allowed[c.Token], "unexpected credential %q", c.Token)
	}
}

func TestNextExceptRotates(t *testing.T) {
	t.Parallel()

	p := New(cred("a"), cred("b"), cred("c"))
	for range 200 {
		c, err := p.NextExcept(cred("b"))
		require.NoError(t, err)
		require.NotEqual(t, "b", c.Token)
	}
}

func TestNextExceptCoversAlternatives(t *testing.T) {
	t.Parallel()

	p := New(cred("a"), cred("b"), cred("c"))
	calls := 0
	p.intn = func(n int) int {
		defer func() { calls++ }()
		return calls % n
	}
	seen := map[string]bool{}
	for range 4 {
		c, err := p.NextExcept(cred("a"))
		require.NoError(t, err)
		seen[c.Token] = true
	}
	require.Equal(t, map[string]bool{"b": true, "c": true}, seen)
}

func TestNextExceptSingleCredential(t *testing.T) {
	t.Parallel()

	p := New(cred("only"))
	c, err := p.NextExcept(cred("only"))
	require.NoError(t, err)
	require.Equal(t, "only", c.Token)
}
