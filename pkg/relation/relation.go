// Package relation publishes the ensemble's client endpoints to the
// applications consuming it. Only the leader writes, and the value is keyed by
// application, so consumers see exactly one endpoint set however many
// replicas there are.
package relation

import (
	"context"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zkensemble/pkg/kv"
	"github.com/ryandielhenn/zkensemble/pkg/leader"
)

const (
	AddressesKey = "ingress-addresses"
	PortKey      = "client-port"
	Separator    = ","
)

// Outcome tells what Publish did. Every skip is deferred to a later trigger.
// The zero value is Failed, returned alongside an error.
type Outcome int

const (
	Failed Outcome = iota
	Published
	SkippedNotLeader
	SkippedNoRelation
	SkippedNoPort
	SkippedNoAddresses
)

func (o Outcome) String() string {
	switch o {
	case Failed:
		return "failed"
	case Published:
		return "published"
	case SkippedNotLeader:
		return "skipped: not leader"
	case SkippedNoRelation:
		return "skipped: no relation"
	case SkippedNoPort:
		return "skipped: no port"
	case SkippedNoAddresses:
		return "skipped: no addresses"
	default:
		return "unknown"
	}
}

// Endpoints is what consumers read.
type Endpoints struct {
	Addresses []string
	Port      string
}

// Publisher is the ClientEndpointPublisher for one relation.
type Publisher struct {
	bag  kv.Bag
	base string
	app  string
	lg   *zap.Logger
}

// NewPublisher returns a publisher storing data under
// <prefix>/relations/<name>/.
func NewPublisher(bag kv.Bag, prefix, name, app string, lg *zap.Logger) *Publisher {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Publisher{
		bag:  bag,
		base: path.Join(prefix, "relations", name),
		app:  app,
		lg:   lg,
	}
}

func (p *Publisher) consumersPrefix() string { return p.base + "/consumers/" }

func (p *Publisher) appKey(key string) string { return path.Join(p.base, "apps", p.app, key) }

// Join registers consumer on the relation.
func (p *Publisher) Join(ctx context.Context, consumer string) error {
	if consumer == "" {
		return errors.New("consumer name is empty")
	}
	return errors.Wrap(p.bag.Put(ctx, p.consumersPrefix()+consumer, "joined"), "join relation")
}

// Leave removes consumer from the relation.
func (p *Publisher) Leave(ctx context.Context, consumer string) error {
	return errors.Wrap(p.bag.Delete(ctx, p.consumersPrefix()+consumer), "leave relation")
}

// Consumers lists joined consumers, sorted.
func (p *Publisher) Consumers(ctx context.Context) ([]string, error) {
	entries, err := p.bag.List(ctx, p.consumersPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "list consumers")
	}
	out := make([]string, 0, len(entries))
	for k := range entries {
		out = append(out, strings.TrimPrefix(k, p.consumersPrefix()))
	}
	slices.Sort(out)
	return out, nil
}

// Publish writes addrs and port for consumers. It is a no-op unless role is
// leader, addrs is non-empty, port is set and at least one consumer joined.
func (p *Publisher) Publish(ctx context.Context, role leader.Role, addrs []string, port int) (Outcome, error) {
	if !role.IsLeader() {
		return SkippedNotLeader, nil
	}
	if port <= 0 {
		return SkippedNoPort, nil
	}
	sorted := slices.Clone(addrs)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	if len(sorted) > 0 && sorted[0] == "" {
		sorted = sorted[1:]
	}
	if len(sorted) == 0 {
		return SkippedNoAddresses, nil
	}

	consumers, err := p.Consumers(ctx)
	if err != nil {
		return Failed, err
	}
	if len(consumers) == 0 {
		return SkippedNoRelation, nil
	}

	joined := strings.Join(sorted, Separator)
	if err := p.bag.Put(ctx, p.appKey(AddressesKey), joined); err != nil {
		return Failed, errors.Wrap(err, "publish addresses")
	}
	if err := p.bag.Put(ctx, p.appKey(PortKey), strconv.Itoa(port)); err != nil {
		return Failed, errors.Wrap(err, "publish client port")
	}
	p.lg.Info("published client endpoints",
		zap.String("addresses", joined),
		zap.Int("port", port),
		zap.Int("consumers", len(consumers)))
	return Published, nil
}

// Read returns what the leader last published. ok is false until both keys
// are present.
func (p *Publisher) Read(ctx context.Context) (Endpoints, bool, error) {
	addrs, ok, err := p.bag.Get(ctx, p.appKey(AddressesKey))
	if err != nil || !ok {
		return Endpoints{}, false, err
	}
	port, ok, err := p.bag.Get(ctx, p.appKey(PortKey))
	if err != nil || !ok {
		return Endpoints{}, false, err
	}
	return Endpoints{Addresses: strings.Split(addrs, Separator), Port: port}, true, nil
}

// WatchConsumers calls fn whenever a consumer joins or leaves. It blocks
// until ctx is done.
func (p *Publisher) WatchConsumers(ctx context.Context, fn func()) {
	for range p.bag.Watch(ctx, p.consumersPrefix()) {
		fn()
	}
}
