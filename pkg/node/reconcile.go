package node

import (
	"bytes"
	"context"
	"maps"
	"slices"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zkensemble/internal/telemetry"
	"github.com/ryandielhenn/zkensemble/pkg/membership"
	"github.com/ryandielhenn/zkensemble/pkg/workload"
	"github.com/ryandielhenn/zkensemble/pkg/zkconfig"
)

// Trigger is an external notification that starts a pass.
type Trigger int

const (
	PeersChanged Trigger = iota
	ConfigChanged
	WorkloadReady
	ClientRelationChanged
	LeaderElected
)

func (t Trigger) String() string {
	switch t {
	case PeersChanged:
		return "peers-changed"
	case ConfigChanged:
		return "config-changed"
	case WorkloadReady:
		return "workload-ready"
	case ClientRelationChanged:
		return "client-relation-changed"
	case LeaderElected:
		return "leader-elected"
	default:
		return "unknown"
	}
}

// rewrites reports whether t rewrites the artifacts. The other triggers only
// republish client endpoints.
func (t Trigger) rewrites() bool {
	return t == PeersChanged || t == ConfigChanged || t == WorkloadReady
}

var (
	// ErrWrite marks failures pushing artifacts to the workload.
	ErrWrite = errors.New("writing ensemble configuration failed")
	// ErrRestart marks failures talking to the supervisor.
	ErrRestart = errors.New("restarting workload failed")
)

// Handle runs one reconciliation pass for trig. Deferred states (local
// address unknown, workload not provisioned, publication preconditions
// unmet) return nil; write, restart and publication I/O failures are
// returned so the trigger can be redelivered.
func (n *Node) Handle(ctx context.Context, trig Trigger) (err error) {
	n.setState(Reconciling)
	start := time.Now()
	result := "ok"
	defer func() {
		if err != nil {
			result = "failed"
		}
		telemetry.PassesTotal.WithLabelValues(trig.String(), result).Inc()
		telemetry.PassDuration.WithLabelValues(trig.String()).Observe(time.Since(start).Seconds())

		n.mu.Lock()
		n.state = Ready
		n.lastTrigger = trig
		n.lastPass = time.Now()
		n.lastErr = err
		n.mu.Unlock()
	}()

	tun := n.Tunables()
	if err := tun.Validate(); err != nil {
		return errors.Wrap(err, "invalid tunables")
	}

	// the service is defined even when the pass is deferred, so a later
	// restart finds it in the plan
	if trig == WorkloadReady {
		layer := workload.ServiceLayer(n.cfg.ServiceName, n.cfg.Command)
		if err := n.cfg.Container.AddLayer(ctx, n.cfg.ServiceName, layer, true); err != nil {
			return errors.Mark(errors.Wrap(err, "add service layer"), ErrRestart)
		}
	}

	m, arts, err := n.render(ctx, tun)
	if errors.Is(err, membership.ErrNotReady) {
		result = "deferred"
		n.lg.Debug("local address not known yet, deferring", zap.Stringer("trigger", trig))
		return nil
	}
	if err != nil {
		return err
	}

	if trig.rewrites() {
		if err := n.apply(ctx, trig, m, arts); err != nil {
			return err
		}
		n.mu.Lock()
		n.members = m
		n.mu.Unlock()
		telemetry.EnsembleSize.Set(float64(m.Len()))
		telemetry.ServerID.Set(float64(m.Self))
	}

	return n.publish(ctx, m, tun)
}

// render resolves membership and renders the artifacts for it.
func (n *Node) render(ctx context.Context, tun zkconfig.Tunables) (membership.Membership, zkconfig.Artifacts, error) {
	if n.cfg.Standalone {
		m := membership.Membership{Servers: []membership.Server{{ID: 1, Address: "localhost"}}, Self: 1}
		return m, zkconfig.RenderStandalone(tun), nil
	}

	m, err := n.resolve(ctx)
	if err != nil {
		return membership.Membership{}, zkconfig.Artifacts{}, err
	}
	arts, err := zkconfig.Render(m, tun)
	if err != nil {
		return membership.Membership{}, zkconfig.Artifacts{}, err
	}
	return m, arts, nil
}

func (n *Node) resolve(ctx context.Context) (membership.Membership, error) {
	if n.cfg.Book == nil {
		return membership.Membership{}, errors.AssertionFailedf("clustered node without an address book")
	}
	addr, err := n.cfg.Binding.IngressAddress(ctx)
	if err != nil {
		return membership.Membership{}, errors.Wrap(err, "resolve ingress address")
	}
	ann, err := n.cfg.Book.Announce(ctx, addr)
	if err != nil {
		return membership.Membership{}, err
	}
	n.lg.Debug("announced", zap.String("as", ann.Unit()), zap.String("address", ann.Address()))
	snap, err := n.cfg.Book.Snapshot(ctx, ann)
	if err != nil {
		return membership.Membership{}, err
	}
	return membership.Resolve(snap.Self, snap.Addresses())
}

// apply pushes the artifacts and gets the service running on them.
func (n *Node) apply(ctx context.Context, trig Trigger, m membership.Membership, arts zkconfig.Artifacts) error {
	tun := n.Tunables()
	c := n.cfg.Container

	// tunables only show up in the rendered bytes
	n.mu.RLock()
	unchanged := n.members.Equal(m) && bytes.Equal(n.artifacts.Config, arts.Config)
	n.mu.RUnlock()

	if err := c.Push(ctx, zkconfig.ConfigPath, arts.Config); err != nil {
		return errors.Mark(err, ErrWrite)
	}
	if err := c.Push(ctx, tun.MyIDPath(), arts.MyID); err != nil {
		return errors.Mark(err, ErrWrite)
	}
	n.mu.Lock()
	n.artifacts = arts
	n.mu.Unlock()
	n.lg.Debug("wrote ensemble configuration", zap.ByteString("zoo.cfg", arts.Config))

	if trig == WorkloadReady {
		if err := c.Autostart(ctx); err != nil {
			return errors.Mark(errors.Wrap(err, "autostart"), ErrRestart)
		}
		n.countRestart("started")
		n.lg.Info("workload ready, service started")
		return nil
	}

	if unchanged && n.cfg.RestartOnChangeOnly {
		telemetry.RestartsTotal.WithLabelValues("unchanged").Inc()
		return nil
	}

	restarted, err := workload.Restart(ctx, c, n.cfg.ServiceName)
	if err != nil {
		return errors.Mark(err, ErrRestart)
	}
	if !restarted {
		telemetry.RestartsTotal.WithLabelValues("skipped").Inc()
		n.lg.Debug("no service plan yet, restart skipped")
		return nil
	}
	n.countRestart("restarted")
	n.lg.Info("restarted zookeeper", zap.Stringer("trigger", trig))
	return nil
}

func (n *Node) countRestart(result string) {
	telemetry.RestartsTotal.WithLabelValues(result).Inc()
	n.mu.Lock()
	n.restarts++
	n.mu.Unlock()
}

func (n *Node) publish(ctx context.Context, m membership.Membership, tun zkconfig.Tunables) error {
	if n.cfg.Standalone || n.cfg.Publisher == nil {
		return nil
	}
	role := n.cfg.Elector.Role()
	if role.IsLeader() {
		telemetry.IsLeader.Set(1)
	} else {
		telemetry.IsLeader.Set(0)
	}

	out, err := n.cfg.Publisher.Publish(ctx, role, m.Addresses(), tun.ClientPort)
	telemetry.PublishTotal.WithLabelValues(out.String()).Inc()
	n.mu.Lock()
	n.lastPublish = out
	n.mu.Unlock()
	return err
}

// Run handles triggers one at a time until ctx is done or triggers is
// closed. Every failed trigger is kept until it succeeds: when the backoff
// fires, all of them are redelivered in trigger order, and the backoff
// resets once none is left.
func (n *Node) Run(ctx context.Context, triggers <-chan Trigger) error {
	n.setState(Ready)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0

	var retry <-chan time.Time
	pending := make(map[Trigger]struct{})

	dispatch := func(t Trigger) {
		err := n.Handle(ctx, t)
		if err == nil {
			if _, ok := pending[t]; ok {
				delete(pending, t)
				if len(pending) == 0 {
					retry = nil
					b.Reset()
				}
			}
			return
		}
		if membership.IsInvariantViolation(err) {
			n.lg.Error("reconciliation invariant violated", zap.Stringer("trigger", t), zap.Error(err))
		}
		pending[t] = struct{}{}
		if retry == nil {
			wait := b.NextBackOff()
			retry = time.After(wait)
			n.lg.Warn("reconciliation failed, will retry",
				zap.Stringer("trigger", t), zap.Duration("in", wait), zap.Error(err))
			return
		}
		n.lg.Warn("reconciliation failed, retry already scheduled",
			zap.Stringer("trigger", t), zap.Int("pending", len(pending)), zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case t, ok := <-triggers:
			if !ok {
				return nil
			}
			dispatch(t)
		case <-retry:
			retry = nil
			for _, t := range slices.Sorted(maps.Keys(pending)) {
				if ctx.Err() != nil {
					return nil
				}
				dispatch(t)
			}
		}
	}
}

// Notify delivers t to triggers unless ctx is done first.
func Notify(ctx context.Context, triggers chan<- Trigger, t Trigger) {
	select {
	case triggers <- t:
	case <-ctx.Done():
	}
}
