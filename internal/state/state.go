// Package state holds the process-scoped caches shared by the store and the
// session manager.
package state

import (
	"strings"

	"github.com/npezzotti/go-chatsync/internal/e2e"
	"github.com/npezzotti/go-chatsync/internal/mention"
	"github.com/npezzotti/go-chatsync/internal/presence"
	"github.com/npezzotti/go-chatsync/internal/reactions"
	"github.com/npezzotti/go-chatsync/internal/types"
)

// Identity is the local user.
type Identity struct {
	Id       int
	Username string
}

// Context owns the username directory, presence map, reaction table and
// key cache. Everything except Keys is touched only by the event loop.
type Context struct {
	Self      Identity
	Directory *mention.Directory
	Presence  *presence.Tracker
	Reactions *reactions.Aggregator
	Keys      *e2e.Cipher

	userIds map[string]int
}

func New(self Identity) *Context {
	return &Context{
		Self:      self,
		Directory: mention.NewDirectory(),
		Presence:  presence.NewTracker(),
		Reactions: reactions.NewAggregator(),
		Keys:      e2e.NewCipher(self.Id),
		userIds:   make(map[string]int),
	}
}

// LoadUsers applies a directory listing: usernames for mention
// completion, statuses for presence, and ids where the server sent them.
func (c *Context) LoadUsers(users []types.User) {
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
		if u.Id != 0 {
			c.userIds[strings.ToLower(u.Username)] = u.Id
		}
	}
	c.Directory.Replace(names)
	c.Presence.Snapshot(users)
}

// UserId looks up a user id by username.
func (c *Context) UserId(username string) (int, bool) {
	id, ok := c.userIds[strings.ToLower(username)]
	return id, ok
}

// IsSelf compares a username to the local user, ignoring case.
func (c *Context) IsSelf(username string) bool {
	return strings.EqualFold(username, c.Self.Username)
}

// Reset clears every cache. The identity is kept.
func (c *Context) Reset() {
	c.Directory.Reset()
	c.Presence.Reset()
	c.Reactions.Reset()
	c.Keys.Reset()
	c.userIds = make(map[string]int)
}
