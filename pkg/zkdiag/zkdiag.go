// Package zkdiag holds diagnostic operations run against the live ZooKeeper
// service: dumping its key tree and seeding a known test path.
package zkdiag

import (
	"path"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-zookeeper/zk"
	"go.uber.org/zap"
)

// SeedPath is the parent of the keys written by Seed.
const SeedPath = "/test-seed"

// SeedValues are written under SeedPath.
var SeedValues = map[string]string{
	"first":  "first value",
	"second": "second value",
}

// Conn is the subset of *zk.Conn used here.
type Conn interface {
	Children(path string) ([]string, *zk.Stat, error)
	Get(path string) ([]byte, *zk.Stat, error)
	Exists(path string) (bool, *zk.Stat, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Set(path string, data []byte, version int32) (*zk.Stat, error)
	Close()
}

// Dialer opens a session to the local ZooKeeper.
type Dialer func() (Conn, error)

// NewDialer returns a Dialer that waits up to timeout for a session.
func NewDialer(hosts []string, timeout time.Duration, lg *zap.Logger) Dialer {
	if lg == nil {
		lg = zap.NewNop()
	}
	return func() (Conn, error) {
		conn, events, err := zk.Connect(hosts, timeout, zk.WithLogger(zap.NewStdLog(lg.Named("zk"))))
		if err != nil {
			return nil, errors.Wrapf(err, "connect to %v", hosts)
		}
		deadline := time.After(timeout)
		for {
			select {
			case ev := <-events:
				if ev.State == zk.StateHasSession {
					return conn, nil
				}
			case <-deadline:
				conn.Close()
				return nil, errors.Newf("no zookeeper session with %v after %s", hosts, timeout)
			}
		}
	}
}

// Dump walks the tree under root. A node without children becomes its value
// as a string, any other node a map of child name to subtree.
func Dump(c Conn, root string) (any, error) {
	children, _, err := c.Children(root)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", root)
	}
	if len(children) == 0 {
		data, _, err := c.Get(root)
		if err != nil {
			return nil, errors.Wrapf(err, "get %s", root)
		}
		return string(data), nil
	}
	out := make(map[string]any, len(children))
	for _, child := range children {
		sub, err := Dump(c, path.Join(root, child))
		if err != nil {
			return nil, err
		}
		out[child] = sub
	}
	return out, nil
}

// Seed ensures SeedPath exists and writes SeedValues below it. It returns the
// written paths and values.
func Seed(c Conn) (map[string]string, error) {
	if err := ensurePath(c, SeedPath); err != nil {
		return nil, err
	}
	written := make(map[string]string, len(SeedValues))
	for name, value := range SeedValues {
		p := path.Join(SeedPath, name)
		if err := upsert(c, p, []byte(value)); err != nil {
			return nil, err
		}
		written[p] = value
	}
	return written, nil
}

func ensurePath(c Conn, p string) error {
	if p == "/" {
		return nil
	}
	if err := ensurePath(c, path.Dir(p)); err != nil {
		return err
	}
	_, err := c.Create(p, nil, 0, zk.WorldACL(zk.PermAll))
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return errors.Wrapf(err, "create %s", p)
	}
	return nil
}

func upsert(c Conn, p string, data []byte) error {
	_, err := c.Create(p, data, 0, zk.WorldACL(zk.PermAll))
	if err == nil {
		return nil
	}
	if !errors.Is(err, zk.ErrNodeExists) {
		return errors.Wrapf(err, "create %s", p)
	}
	if _, err := c.Set(p, data, -1); err != nil {
		return errors.Wrapf(err, "set %s", p)
	}
	return nil
}
