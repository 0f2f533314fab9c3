// Package credpool implements the Credential Pool (spec §4.4): round-robin
// selection across N credentials, with per-chunk attribution so later
// deletion is routed to the same credential that sent it.
package credpool

import (
	"fmt"
	"sync/atomic"
)

// Pool holds credential tokens and hands them out round-robin.
type Pool struct {
	credentials []string
	counter     atomic.Uint64
}

// New builds a Pool from an ordered, non-empty list of opaque credential
// tokens (spec §4.4: N >= 1).
func New(credentials []string) (*Pool, error) {
	if len(credentials) == 0 {
		return nil, fmt.Errorf("credpool: at least one credential is required")
	}
	cp := make([]string, len(credentials))
	copy(cp, credentials)
	return &Pool{credentials: cp}, nil
}

// Acquire returns the next credential by strict round-robin, incrementing a
// shared counter atomically per acquisition (spec §4.4, §5).
func (p *Pool) Acquire() string {
	n := p.counter.Add(1) - 1
	return p.credentials[int(n)%len(p.credentials)]
}

// Size reports pool size, for callers computing max_parallel_chunks =
// min(5, pool_size*2) per spec §4.5.
func (p *Pool) Size() int { return len(p.credentials) }

// Contains reports whether a credential is still present in the pool. Used
// by the Share Descriptor's portable download path to decide whether a
// chunk's recorded owner_credential is usable locally, falling back to the
// first available credential if not (spec §4.7).
func (p *Pool) Contains(credential string) bool {
	for _, c := range p.credentials {
		if c == credential {
			return true
		}
	}
	return false
}

// First returns the first credential in the pool, used as the fallback when
// a share descriptor names a credential this host doesn't hold (spec §4.7).
func (p *Pool) First() string { return p.credentials[0] }
