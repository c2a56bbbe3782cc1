package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistry_RegisterAndLookup(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("exec_1", "session-abc")
	sid, ok := r.SessionFor("exec_1")
	assert.True(t, ok)
	assert.Equal(t, "session-abc", sid)

	_, ok = r.SessionFor("unknown")
	assert.False(t, ok)
}

func TestSessionRegistry_IgnoresEmpty(t *testing.T) {
	r := NewSessionRegistry()
	r.Register("", "session-abc")
	r.Register("exec_1", "")
	assert.Equal(t, 0, r.Len())
}

func TestSessionRegistry_Takeover(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("exec_1", "session-old")
	r.Register("exec_1", "session-new")

	sid, ok := r.SessionFor("exec_1")
	assert.True(t, ok)
	assert.Equal(t, "session-new", sid)
}

func TestSessionRegistry_Remove(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("exec_1", "session-abc")
	r.Register("exec_2", "session-abc")
	r.Register("exec_3", "session-xyz")

	r.Remove("session-abc")

	_, ok := r.SessionFor("exec_1")
	assert.False(t, ok)
	_, ok = r.SessionFor("exec_2")
	assert.False(t, ok)

	sid, ok := r.SessionFor("exec_3")
	assert.True(t, ok)
	assert.Equal(t, "session-xyz", sid)
}

func TestSessionRegistry_Forget(t *testing.T) {
	r := NewSessionRegistry()
	r.Register("exec_1", "s")
	r.Register("exec_2", "s")

	r.Forget("exec_1")
	assert.Equal(t, 1, r.Len())
	_, ok := r.SessionFor("exec_2")
	assert.True(t, ok)
}
