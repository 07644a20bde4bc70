package zkdiag

import (
	"path"
	"sort"
	"testing"

	"github.com/go-zookeeper/zk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memConn is an in-memory ZooKeeper tree.
type memConn struct {
	nodes map[string][]byte
}

func newMemConn() *memConn {
	return &memConn{nodes: map[string][]byte{"/": nil}}
}

func (m *memConn) Children(p string) ([]string, *zk.Stat, error) {
	if _, ok := m.nodes[p]; !ok {
		return nil, nil, zk.ErrNoNode
	}
	var out []string
	for k := range m.nodes {
		if k != "/" && path.Dir(k) == p {
			out = append(out, path.Base(k))
		}
	}
	sort.Strings(out)
	return out, &zk.Stat{}, nil
}

func (m *memConn) Get(p string) ([]byte, *zk.Stat, error) {
	v, ok := m.nodes[p]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}
	return v, &zk.Stat{}, nil
}

func (m *memConn) Exists(p string) (bool, *zk.Stat, error) {
	_, ok := m.nodes[p]
	return ok, &zk.Stat{}, nil
}

func (m *memConn) Create(p string, data []byte, _ int32, _ []zk.ACL) (string, error) {
	if _, ok := m.nodes[p]; ok {
		return "", zk.ErrNodeExists
	}
	if _, ok := m.nodes[path.Dir(p)]; !ok {
		return "", zk.ErrNoNode
	}
	m.nodes[p] = data
	return p, nil
}

func (m *memConn) Set(p string, data []byte, _ int32) (*zk.Stat, error) {
	if _, ok := m.nodes[p]; !ok {
		return nil, zk.ErrNoNode
	}
	m.nodes[p] = data
	return &zk.Stat{}, nil
}

func (m *memConn) Close() {}

func TestDumpReplacesLeavesWithValues(t *testing.T) {
	c := newMemConn()
	c.nodes["/first-child"] = []byte("my value")
	c.nodes["/second-child"] = []byte("my value")

	got, err := Dump(c, "/")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"first-child":  "my value",
		"second-child": "my value",
	}, got)
}

func TestDumpNested(t *testing.T) {
	c := newMemConn()
	c.nodes["/app"] = []byte("ignored for internal nodes")
	c.nodes["/app/config"] = []byte("a=b")
	c.nodes["/app/locks"] = nil
	c.nodes["/app/locks/l-1"] = []byte("zk-0")

	got, err := Dump(c, "/")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"app": map[string]any{
			"config": "a=b",
			"locks":  map[string]any{"l-1": "zk-0"},
		},
	}, got)

	sub, err := Dump(c, "/app/config")
	require.NoError(t, err)
	assert.Equal(t, "a=b", sub)
}

func TestDumpMissingRoot(t *testing.T) {
	_, err := Dump(newMemConn(), "/nope")
	assert.Error(t, err)
}

func TestSeedIsRepeatable(t *testing.T) {
	c := newMemConn()
	for range 2 {
		written, err := Seed(c)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{
			"/test-seed/first":  "first value",
			"/test-seed/second": "second value",
		}, written)
	}

	got, err := Dump(c, SeedPath)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"first": "first value", "second": "second value"}, got)
}
