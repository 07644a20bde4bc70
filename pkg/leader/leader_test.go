package leader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleToken(t *testing.T) {
	assert.True(t, Leader().IsLeader())
	assert.False(t, Follower().IsLeader())
	assert.False(t, Role{}.IsLeader())
	assert.Equal(t, "leader", Leader().String())
	assert.Equal(t, "follower", Follower().String())
}

func TestStatic(t *testing.T) {
	s := NewStatic(Leader())
	assert.True(t, s.Role().IsLeader())
	assert.Nil(t, s.Changes())
}

func TestElectionSetSignalsOnlyTransitions(t *testing.T) {
	e := NewElection(nil, "/zk", "zk-0", 0, nil)
	assert.False(t, e.Role().IsLeader())

	e.set(true)
	assert.True(t, e.Role().IsLeader())
	select {
	case <-e.Changes():
	default:
		t.Fatal("no change signal on gaining leadership")
	}

	e.set(true)
	select {
	case <-e.Changes():
		t.Fatal("signal without a transition")
	default:
	}

	e.set(false)
	assert.False(t, e.Role().IsLeader())
	select {
	case <-e.Changes():
	default:
		t.Fatal("no change signal on losing leadership")
	}
}
