package presence

import (
	"sort"
	"strings"

	"github.com/npezzotti/go-chatsync/internal/types"
)

type Status string

const (
	Online  Status = "online"
	Away    Status = "away"
	DND     Status = "dnd"
	Offline Status = "offline"
)

var glyphs = map[Status]string{
	Online:  "🟢",
	Away:    "🟡",
	DND:     "🔴",
	Offline: "⚫️",
}

// Known reports whether s is one of the four recognised statuses.
func (s Status) Known() bool {
	_, ok := glyphs[s]
	return ok
}

// Glyph returns the status dot. Unknown statuses use the offline glyph.
func (s Status) Glyph() string {
	if g, ok := glyphs[s]; ok {
		return g
	}
	return glyphs[Offline]
}

// Title is the capitalised status label.
func (s Status) Title() string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

// Tracker maps lower-cased usernames to their last received status.
// Updates carry no version, so the last arrival wins.
type Tracker struct {
	statuses map[string]Status
}

func NewTracker() *Tracker {
	return &Tracker{statuses: make(map[string]Status)}
}

func key(username string) string {
	return strings.ToLower(username)
}

// Snapshot replaces the whole map with the directory listing.
func (t *Tracker) Snapshot(users []types.User) {
	t.statuses = make(map[string]Status, len(users))
	for _, u := range users {
		t.statuses[key(u.Username)] = Status(u.Status)
	}
}

// ApplyUpdate records one push update and reports whether it changed the
// stored status.
func (t *Tracker) ApplyUpdate(username string, status Status) bool {
	k := key(username)
	if prev, ok := t.statuses[k]; ok && prev == status {
		return false
	}
	t.statuses[k] = status
	return true
}

// Status returns the stored status, or Offline for unknown users.
func (t *Tracker) Status(username string) Status {
	if s, ok := t.statuses[key(username)]; ok {
		return s
	}
	return Offline
}

func (t *Tracker) Glyph(username string) string {
	return t.Status(username).Glyph()
}

// Online lists the lower-cased usernames currently online, sorted.
func (t *Tracker) Online() []string {
	var out []string
	for name, s := range t.statuses {
		if s == Online {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (t *Tracker) Len() int {
	return len(t.statuses)
}

func (t *Tracker) Reset() {
	t.statuses = make(map[string]Status)
}
