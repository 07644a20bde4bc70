// Package leader decides which replica may write state shared by the whole
// application. The decision is handed out as a Role value that callers pass
// along explicitly.
package leader

import (
	"context"
	"path"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
)

// Role is the leadership state observed at one instant.
type Role struct {
	leader bool
}

func Leader() Role   { return Role{leader: true} }
func Follower() Role { return Role{} }

func (r Role) IsLeader() bool { return r.leader }

func (r Role) String() string {
	if r.leader {
		return "leader"
	}
	return "follower"
}

// Elector reports the local role and signals when it changes.
type Elector interface {
	Role() Role
	Changes() <-chan struct{}
}

// Static never changes role. Standalone deployments use it.
type Static struct {
	role Role
}

func NewStatic(r Role) *Static { return &Static{role: r} }

func (s *Static) Role() Role { return s.role }

func (s *Static) Changes() <-chan struct{} { return nil }

// Election campaigns for leadership through an etcd election.
type Election struct {
	cli     *clientv3.Client
	key     string
	unit    string
	ttl     int
	lg      *zap.Logger
	leader  atomic.Bool
	changes chan struct{}
}

func NewElection(cli *clientv3.Client, prefix, unit string, ttlSeconds int, lg *zap.Logger) *Election {
	if ttlSeconds <= 0 {
		ttlSeconds = 10
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Election{
		cli:     cli,
		key:     path.Join(prefix, "leader"),
		unit:    unit,
		ttl:     ttlSeconds,
		lg:      lg,
		changes: make(chan struct{}, 1),
	}
}

func (e *Election) Role() Role { return Role{leader: e.leader.Load()} }

func (e *Election) Changes() <-chan struct{} { return e.changes }

// Run campaigns until ctx is done. Losing the session drops leadership and
// starts a new campaign.
func (e *Election) Run(ctx context.Context) error {
	for {
		if err := e.campaign(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.lg.Warn("leader campaign failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

func (e *Election) campaign(ctx context.Context) error {
	session, err := concurrency.NewSession(e.cli, concurrency.WithTTL(e.ttl), concurrency.WithContext(ctx))
	if err != nil {
		return errors.Wrap(err, "open election session")
	}
	defer session.Close()

	el := concurrency.NewElection(session, e.key)
	if err := el.Campaign(ctx, e.unit); err != nil {
		return errors.Wrap(err, "campaign")
	}
	e.set(true)
	e.lg.Info("elected leader", zap.String("unit", e.unit))
	defer e.set(false)

	select {
	case <-ctx.Done():
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = el.Resign(rctx)
		return nil
	case <-session.Done():
		e.lg.Warn("election session expired, leadership lost")
		return errors.New("election session expired")
	}
}

func (e *Election) set(v bool) {
	if e.leader.Swap(v) == v {
		return
	}
	select {
	case e.changes <- struct{}{}:
	default:
	}
}
