// Package registry is the ensemble's address book. Every unit writes its own
// ingress address to the peer channel and reads everybody else's.
//
// Resolution is a two-phase contract: Announce returns an Announcement and a
// Snapshot can only be taken from one, so the local address is always part of
// the set handed to membership.Resolve.
package registry

import (
	"context"
	"path"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zkensemble/pkg/kv"
	"github.com/ryandielhenn/zkensemble/pkg/membership"
)

// AddressKey is the per-unit peer channel key.
const AddressKey = "ingress-address"

// Book is an AddressBook on top of a kv.Bag. Entries are never removed: a
// departed unit's address lingers until somebody deletes it out of band.
type Book struct {
	bag    kv.Bag
	prefix string
	unit   string
	lg     *zap.Logger
}

// New returns a Book for unit storing entries under <prefix>/peers/.
func New(bag kv.Bag, prefix, unit string, lg *zap.Logger) *Book {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Book{
		bag:    bag,
		prefix: path.Join(prefix, "peers") + "/",
		unit:   unit,
		lg:     lg,
	}
}

// Announcement proves the local address has been written to the book.
type Announcement struct {
	unit    string
	address string
}

func (a Announcement) Unit() string    { return a.unit }
func (a Announcement) Address() string { return a.address }

// Announce records addr as this unit's address. Repeating it is harmless.
func (b *Book) Announce(ctx context.Context, addr string) (Announcement, error) {
	if addr == "" {
		return Announcement{}, membership.ErrNotReady
	}
	if err := b.bag.Put(ctx, b.key(b.unit), addr); err != nil {
		return Announcement{}, errors.Wrap(err, "announce address")
	}
	return Announcement{unit: b.unit, address: addr}, nil
}

// Snapshot is a point-in-time view of the book. It may lack peers that have
// not announced yet.
type Snapshot struct {
	Self  string
	Peers map[string]string // unit -> address
}

// Addresses returns every known address, sorted.
func (s Snapshot) Addresses() []string {
	out := make([]string, 0, len(s.Peers))
	for _, addr := range s.Peers {
		out = append(out, addr)
	}
	slices.Sort(out)
	return out
}

// Snapshot reads the book. The announced address is merged in so a read that
// lags the announcing write still contains it.
func (b *Book) Snapshot(ctx context.Context, a Announcement) (Snapshot, error) {
	if a.address == "" {
		return Snapshot{}, membership.ErrNotReady
	}
	peers, err := b.Peers(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	peers[a.unit] = a.address
	return Snapshot{Self: a.address, Peers: peers}, nil
}

// Peers lists unit -> address for every unit that has announced.
func (b *Book) Peers(ctx context.Context) (map[string]string, error) {
	entries, err := b.bag.List(ctx, b.prefix)
	if err != nil {
		return nil, errors.Wrap(err, "list peers")
	}
	peers := make(map[string]string, len(entries))
	for k, v := range entries {
		unit, key, ok := strings.Cut(strings.TrimPrefix(k, b.prefix), "/")
		if !ok || key != AddressKey || v == "" {
			continue
		}
		peers[unit] = v
	}
	return peers, nil
}

// WatchPeers calls fn with the current peers every time the book changes. It
// blocks until ctx is done.
func (b *Book) WatchPeers(ctx context.Context, fn func(peers map[string]string)) {
	for range b.bag.Watch(ctx, b.prefix) {
		peers, err := b.Peers(ctx)
		if err != nil {
			b.lg.Warn("reading peers after change", zap.Error(err))
			continue
		}
		fn(peers)
	}
}

func (b *Book) key(unit string) string {
	return b.prefix + unit + "/" + AddressKey
}
