package clients

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAndClose(t *testing.T) {
	r := NewRegistry()
	a := r.Open("")
	b := r.Open("v1")

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, r.Count())
	assert.Equal(t, 1, r.CountControlledBy("v1"))

	got, ok := r.Get(a.ID)
	require.True(t, ok)
	assert.Same(t, a, got)

	assert.True(t, r.Close(a.ID))
	assert.False(t, r.Close(a.ID))
	assert.Equal(t, 1, r.Count())
}

func TestClaimReloadsOnce(t *testing.T) {
	r := NewRegistry()
	open := r.Open("v1")
	fresh := r.Open("v2")

	assert.Equal(t, 1, r.Claim("v2"))
	assert.Equal(t, "v2", open.Controller())
	assert.Equal(t, []Message{{Type: TypeReload}}, open.Drain())
	assert.Empty(t, fresh.Drain())

	// claiming again with the same version changes nothing
	assert.Equal(t, 0, r.Claim("v2"))
	assert.Empty(t, open.Drain())

	// a later controller change does not trigger a second reload
	assert.Equal(t, 2, r.Claim("v3"))
	assert.Empty(t, open.Drain())
	assert.Equal(t, []Message{{Type: TypeReload}}, fresh.Drain())
}

func TestClaimUncontrolledClient(t *testing.T) {
	r := NewRegistry()
	c := r.Open("")

	assert.Equal(t, 1, r.Claim("v1"))
	assert.Equal(t, "v1", c.Controller())
	assert.Equal(t, []Message{{Type: TypeReload}}, c.Drain())
}

func TestBroadcast(t *testing.T) {
	r := NewRegistry()
	a := r.Open("v1")
	b := r.Open("v1")

	msg := Message{Type: TypeCacheUpdated, URL: "https://homes.example.com/api/favorites"}
	r.Broadcast(msg)

	assert.Equal(t, []Message{msg}, a.Drain())
	assert.Equal(t, []Message{msg}, b.Drain())
	assert.Empty(t, a.Drain())
}

func TestFocusAndOpenWindow(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Focus("/"))

	r.OpenWindow("/")
	assert.Equal(t, []string{"/"}, r.OpenedWindows())

	first := r.Open("v1")
	second := r.Open("v1")
	assert.True(t, r.Focus("/"))
	assert.Equal(t, []Message{{Type: TypeFocus, URL: "/"}}, first.Drain())
	assert.Empty(t, second.Drain())
}
