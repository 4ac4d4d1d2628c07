package reactions

import (
	"fmt"
	"slices"
	"sort"

	"github.com/npezzotti/go-chatsync/internal/types"
)

// Allowed is the set of emojis offered for selection. Snapshots may
// contain other emojis; those are still rendered.
var Allowed = []string{"👍", "😂", "😢", "❤️", "🎉"}

type Action int

const (
	Add Action = iota + 1
	Remove
)

func (a Action) String() string {
	switch a {
	case Add:
		return "add"
	case Remove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event returns the channel event that carries the action.
func (a Action) Event() string {
	if a == Remove {
		return "remove_reaction"
	}
	return "add_reaction"
}

type entry struct {
	users []int
}

// snapshot is the stored reaction state of one message. The count of an
// emoji is always len(users).
type snapshot map[string]entry

// Rendered is one visible reaction button.
type Rendered struct {
	Emoji  string
	Count  int
	Active bool
}

// Aggregator is the side table of reaction state keyed by message id.
// Snapshots for a message persist until Reset, including after the
// message is deleted.
type Aggregator struct {
	byMessage map[int]snapshot
}

func NewAggregator() *Aggregator {
	return &Aggregator{byMessage: make(map[int]snapshot)}
}

// ApplyUpdate replaces the state of a message with an authoritative
// snapshot. User ids are deduplicated and the count is derived from them.
func (a *Aggregator) ApplyUpdate(messageId int, update types.Reactions) {
	st := make(snapshot, len(update))
	for emoji, e := range update {
		users := make([]int, 0, len(e.UserIds))
		for _, id := range e.UserIds {
			if !slices.Contains(users, id) {
				users = append(users, id)
			}
		}
		st[emoji] = entry{users: users}
	}
	a.byMessage[messageId] = st
}

// State returns the current snapshot for a message in wire form.
func (a *Aggregator) State(messageId int) types.Reactions {
	st, ok := a.byMessage[messageId]
	if !ok {
		return nil
	}

	out := make(types.Reactions, len(st))
	for emoji, e := range st {
		out[emoji] = types.ReactionEntry{Count: len(e.users), UserIds: slices.Clone(e.users)}
	}
	return out
}

func (a *Aggregator) Has(messageId int) bool {
	_, ok := a.byMessage[messageId]
	return ok
}

func (a *Aggregator) Len() int {
	return len(a.byMessage)
}

func (a *Aggregator) Reset() {
	a.byMessage = make(map[int]snapshot)
}

// Toggle decides whether a click on emoji adds or removes the user's
// reaction. It never mutates state; the authoritative snapshot that
// follows the round trip does.
func Toggle(emoji string, userId int, current types.Reactions) Action {
	if e, ok := current[emoji]; ok && slices.Contains(e.UserIds, userId) {
		return Remove
	}
	return Add
}

// Toggle decides intent against the stored snapshot for messageId.
func (a *Aggregator) Toggle(messageId int, emoji string, userId int) Action {
	return Toggle(emoji, userId, a.State(messageId))
}

// ToggleFromOffer is Toggle restricted to the allow-listed emojis.
func (a *Aggregator) ToggleFromOffer(messageId int, emoji string, userId int) (Action, error) {
	if !IsAllowed(emoji) {
		return 0, fmt.Errorf("emoji %q is not offered", emoji)
	}
	return a.Toggle(messageId, emoji, userId), nil
}

func IsAllowed(emoji string) bool {
	return slices.Contains(Allowed, emoji)
}

// Offer returns the emojis available in the selection menu.
func Offer() []string {
	return slices.Clone(Allowed)
}

// Render lists the reactions with a non-zero count: allow-listed emojis in
// allow-list order, then the rest sorted.
func (a *Aggregator) Render(messageId, self int) []Rendered {
	st := a.byMessage[messageId]
	if len(st) == 0 {
		return nil
	}

	var extra []string
	for emoji := range st {
		if !IsAllowed(emoji) {
			extra = append(extra, emoji)
		}
	}
	sort.Strings(extra)

	var out []Rendered
	for _, emoji := range append(Offer(), extra...) {
		e, ok := st[emoji]
		if !ok || len(e.users) == 0 {
			continue
		}
		out = append(out, Rendered{
			Emoji:  emoji,
			Count:  len(e.users),
			Active: slices.Contains(e.users, self),
		})
	}
	return out
}
