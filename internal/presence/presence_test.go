package presence

import (
	"testing"

	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestTracker_Snapshot(t *testing.T) {
	tr := NewTracker()
	tr.ApplyUpdate("ghost", Online)

	tr.Snapshot([]types.User{
		{Username: "Alice", Status: "online"},
		{Username: "bob", Status: "dnd"},
	})

	assert.Equal(t, Online, tr.Status("alice"))
	assert.Equal(t, Online, tr.Status("ALICE"), "lookup is case-insensitive")
	assert.Equal(t, DND, tr.Status("bob"))
	assert.Equal(t, Offline, tr.Status("ghost"), "snapshot replaces the whole map")
	assert.Equal(t, 2, tr.Len())
}

func TestTracker_ApplyUpdate(t *testing.T) {
	tr := NewTracker()

	assert.True(t, tr.ApplyUpdate("Bob", Away))
	assert.False(t, tr.ApplyUpdate("bob", Away), "same status is not a change")
	assert.True(t, tr.ApplyUpdate("BOB", Online), "last writer wins")
	assert.Equal(t, Online, tr.Status("bob"))
	assert.Equal(t, []string{"bob"}, tr.Online())
}

func TestGlyph(t *testing.T) {
	tcases := []struct {
		status Status
		glyph  string
		known  bool
	}{
		{Online, "🟢", true},
		{Away, "🟡", true},
		{DND, "🔴", true},
		{Offline, "⚫️", true},
		{Status("invisible"), "⚫️", false},
		{Status(""), "⚫️", false},
	}

	for _, tc := range tcases {
		assert.Equal(t, tc.glyph, tc.status.Glyph(), "glyph for %q", tc.status)
		assert.Equal(t, tc.known, tc.status.Known(), "known for %q", tc.status)
	}
}

func TestTracker_UnknownStatusRendersOffline(t *testing.T) {
	tr := NewTracker()
	tr.ApplyUpdate("carol", Status("busy"))

	assert.Equal(t, Status("busy"), tr.Status("carol"))
	assert.Equal(t, "⚫️", tr.Glyph("carol"))
	assert.Equal(t, "⚫️", tr.Glyph("nobody"))
}

func TestStatusTitle(t *testing.T) {
	assert.Equal(t, "Online", Online.Title())
	assert.Equal(t, "Dnd", DND.Title())
	assert.Equal(t, "", Status("").Title())
}

func TestTracker_Reset(t *testing.T) {
	tr := NewTracker()
	tr.ApplyUpdate("a", Online)
	tr.Reset()
	assert.Equal(t, 0, tr.Len())
}
