// Package membership turns an unordered set of peer addresses into the
// ensemble's server list. IDs are derived from content only, so every node
// that sees the same set assigns the same IDs no matter in which order the
// announcements arrived.
package membership

import (
	"slices"

	"github.com/cockroachdb/errors"
)

// ErrNotReady means the local address is not known yet. Callers defer the
// pass until a later trigger.
var ErrNotReady = errors.New("local address not known yet")

// Server is one ensemble member.
type Server struct {
	ID      int
	Address string
}

// Membership is a resolved, read-only server list.
type Membership struct {
	// Servers is ordered by ascending ID.
	Servers []Server
	// Self is the local node's ID.
	Self int
}

// Resolve sorts addrs lexicographically and numbers them from 1. self must be
// one of addrs.
func Resolve(self string, addrs []string) (Membership, error) {
	if self == "" {
		return Membership{}, ErrNotReady
	}

	sorted := slices.Clone(addrs)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	// an empty address is an unannounced peer
	if len(sorted) > 0 && sorted[0] == "" {
		sorted = sorted[1:]
	}

	m := Membership{Servers: make([]Server, 0, len(sorted))}
	for i, addr := range sorted {
		id := i + 1
		m.Servers = append(m.Servers, Server{ID: id, Address: addr})
		if addr == self {
			m.Self = id
		}
	}
	if m.Self == 0 {
		return Membership{}, errors.AssertionFailedf("local address %q missing from its own address set %v", self, sorted)
	}
	return m, nil
}

// IsInvariantViolation reports whether err came from a Resolve call whose
// input did not contain the local address.
func IsInvariantViolation(err error) bool {
	return errors.HasAssertionFailure(err)
}

// Addresses returns the server addresses in ID order.
func (m Membership) Addresses() []string {
	out := make([]string, len(m.Servers))
	for i, s := range m.Servers {
		out[i] = s.Address
	}
	return out
}

// SelfAddress returns the address carrying the local ID.
func (m Membership) SelfAddress() string {
	for _, s := range m.Servers {
		if s.ID == m.Self {
			return s.Address
		}
	}
	return ""
}

// Equal reports whether both values number the same servers the same way
// and agree on the local ID.
func (m Membership) Equal(o Membership) bool {
	return m.Self == o.Self && slices.Equal(m.Servers, o.Servers)
}

// Len is the ensemble size.
func (m Membership) Len() int { return len(m.Servers) }
