// Package credentials holds the per-cycle pool of provider credentials.
package credentials

import (
	"math/rand/v2"

	"github.com/JakeFAU/follower-audit/internal/crawler"
)

// Pool is an immutable set of credentials. Selection is uniform random and
// side-effect free; the provider tracks rate budgets per credential remotely,
// so nothing is consumed or locked locally.
type Pool struct {
	creds []crawler.Credential
	intn  func(n int) int
}

// New builds a pool, dropping incomplete entries and duplicate tokens.
func New(creds ...crawler.Credential) *Pool {
	return Merge(creds)
}

// Merge builds one pool out of several credential groups, keeping the first
// occurrence of each token.
func Merge(groups ...[]crawler.Credential) *Pool {
	seen := make(map[string]struct{})
	var out []crawler.Credential
	for _, group := range groups {
		for _, c := range group {
			if c.Token == "" || c.Secret == "" {
				continue
			}
			if _, dup := seen[c.Token]; dup {
				continue
			}
			seen[c.Token] = struct{}{}
			out = append(out, c)
		}
	}
	return &Pool{creds: out, intn: rand.IntN}
}

// Len returns the number of credentials in the pool.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.creds)
}

// Next returns a uniformly random credential.
func (p *Pool) Next() (crawler.Credential, error) {
	if p.Len() == 0 {
		return crawler.Credential{}, crawler.ErrEmptyPool
	}
	return p.creds[p.intn(len(p.creds))], nil
}

// NextExcept returns a random credential other than prev when the pool has an
// alternative; otherwise it falls back to Next.
func (p *Pool) NextExcept(prev crawler.Credential) (crawler.Credential, error) {
	n := p.Len()
	if n == 0 {
		return crawler.Credential{}, crawler.ErrEmptyPool
	}
	idx := p.indexOf(prev)
	if n == 1 || idx < 0 {
		return p.Next()
	}
	r := p.intn(n - 1)
	if r >= idx {
		r++
	}
	return p.creds[r], nil
}

// All returns a copy of the pooled credentials.
func (p *Pool) All() []crawler.Credential {
	if p.Len() == 0 {
		return nil
	}
	out := make([]crawler.Credential, len(p.creds))
	copy(out, p.creds)
	return out
}

func (p *Pool) indexOf(c crawler.Credential) int {
	for i, cand := range p.creds {
		if cand.Token == c.Token {
			return i
		}
	}
	return -1
}
