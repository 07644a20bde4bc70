// Package node is the per-unit reconciliation controller. It reacts to
// triggers by announcing the local address, resolving ensemble membership,
// rewriting zoo.cfg and myid, restarting ZooKeeper and, on the leader,
// publishing client endpoints.
package node

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zkensemble/pkg/leader"
	"github.com/ryandielhenn/zkensemble/pkg/membership"
	"github.com/ryandielhenn/zkensemble/pkg/registry"
	"github.com/ryandielhenn/zkensemble/pkg/relation"
	"github.com/ryandielhenn/zkensemble/pkg/workload"
	"github.com/ryandielhenn/zkensemble/pkg/zkconfig"
	"github.com/ryandielhenn/zkensemble/pkg/zkdiag"
)

// DefaultServiceName is the supervised service running ZooKeeper.
const DefaultServiceName = "zookeeper"

// DefaultCommand starts ZooKeeper in the foreground.
const DefaultCommand = "/docker-entrypoint.sh zkServer.sh start-foreground"

// State is the controller's lifecycle state.
type State int

const (
	Uninitialized State = iota
	Ready
	Reconciling
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Reconciling:
		return "reconciling"
	default:
		return "unknown"
	}
}

type Config struct {
	Unit        string
	ServiceName string
	Command     string
	Tunables    zkconfig.Tunables
	// Standalone renders a single-server configuration and never touches
	// the address book or the client relation.
	Standalone bool
	// RestartOnChangeOnly skips the restart when the rendered artifacts are
	// byte-identical to the previous pass.
	RestartOnChangeOnly bool

	Book      *registry.Book
	Publisher *relation.Publisher
	Elector   leader.Elector
	Container workload.Container
	Binding   Binding
	ZK        zkdiag.Dialer
	Logger    *zap.Logger
}

// Node is the ReconciliationController of one unit.
type Node struct {
	cfg Config
	lg  *zap.Logger

	mu          sync.RWMutex
	tunables    zkconfig.Tunables
	state       State
	members     membership.Membership
	artifacts   zkconfig.Artifacts
	lastTrigger Trigger
	lastErr     error
	lastPass    time.Time
	lastPublish relation.Outcome
	restarts    int
}

func NewNode(cfg Config) *Node {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if cfg.Elector == nil {
		cfg.Elector = leader.NewStatic(leader.Follower())
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Node{
		cfg:         cfg,
		lg:          cfg.Logger.With(zap.String("unit", cfg.Unit)),
		tunables:    cfg.Tunables,
		lastPublish: -1,
	}
}

func (n *Node) Unit() string { return n.cfg.Unit }

func (n *Node) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

func (n *Node) setState(s State) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
}

// Tunables returns the tunables the next pass renders with.
func (n *Node) Tunables() zkconfig.Tunables {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.tunables
}

// SetTunables replaces the tunables. Callers follow it with a ConfigChanged
// trigger.
func (n *Node) SetTunables(t zkconfig.Tunables) {
	n.mu.Lock()
	n.tunables = t
	n.mu.Unlock()
}

// Membership returns the membership of the last completed pass.
func (n *Node) Membership() membership.Membership {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.members
}

// Status is a snapshot for the HTTP status endpoint.
type Status struct {
	Unit        string              `json:"unit"`
	State       string              `json:"state"`
	Standalone  bool                `json:"standalone"`
	Role        string              `json:"role"`
	SelfID      int                 `json:"self_id,omitempty"`
	SelfAddress string              `json:"self_address,omitempty"`
	Servers     []membership.Server `json:"servers,omitempty"`
	ClientPort  int                 `json:"client_port"`
	LastTrigger string              `json:"last_trigger,omitempty"`
	LastPass    *time.Time          `json:"last_pass,omitempty"`
	LastError   string              `json:"last_error,omitempty"`
	LastPublish string              `json:"last_publish,omitempty"`
	Restarts    int                 `json:"restarts"`
}

func (n *Node) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	st := Status{
		Unit:        n.cfg.Unit,
		State:       n.state.String(),
		Standalone:  n.cfg.Standalone,
		Role:        n.cfg.Elector.Role().String(),
		SelfID:      n.members.Self,
		SelfAddress: n.members.SelfAddress(),
		Servers:     n.members.Servers,
		ClientPort:  n.tunables.ClientPort,
		Restarts:    n.restarts,
	}
	if !n.lastPass.IsZero() {
		t := n.lastPass
		st.LastPass = &t
		st.LastTrigger = n.lastTrigger.String()
	}
	if n.lastErr != nil {
		st.LastError = n.lastErr.Error()
	}
	if n.lastPublish >= 0 {
		st.LastPublish = n.lastPublish.String()
	}
	return st
}
