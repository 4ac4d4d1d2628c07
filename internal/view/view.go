// Package view describes the changes the engine asks the renderer to make.
package view

import (
	"github.com/npezzotti/go-chatsync/internal/presence"
	"github.com/npezzotti/go-chatsync/internal/reactions"
	"github.com/npezzotti/go-chatsync/internal/types"
)

type Kind int

const (
	Cleared Kind = iota + 1
	Appended
	Replaced
	Removed
	SystemNotice
	ReactionsChanged
	TypingShown
	TypingHidden
	PresenceChanged
	OnlineCount
	OnlineUsers
	MentionToast
	Alert
)

var kindNames = map[Kind]string{
	Cleared:          "cleared",
	Appended:         "appended",
	Replaced:         "replaced",
	Removed:          "removed",
	SystemNotice:     "system_notice",
	ReactionsChanged: "reactions_changed",
	TypingShown:      "typing_shown",
	TypingHidden:     "typing_hidden",
	PresenceChanged:  "presence_changed",
	OnlineCount:      "online_count",
	OnlineUsers:      "online_users",
	MentionToast:     "mention_toast",
	Alert:            "alert",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ReplyPreview is the parent excerpt shown above a reply. Known is false
// when the parent could not be resolved; the reply still renders.
type ReplyPreview struct {
	ParentId int
	Known    bool
	Author   string
	Preview  string
}

// Message is a fully decorated message row.
type Message struct {
	Id            int
	Author        string
	Body          string
	SafeBody      string
	Timestamp     string
	Own           bool
	IsAdmin       bool
	Highlighted   bool
	Encrypted     bool
	Undecryptable bool
	Reply         *ReplyPreview
	Attachments   []types.Attachment
	AvatarURL     string
	Reactions     []reactions.Rendered
}

// Delta is one change to apply. Which fields are set depends on Kind.
type Delta struct {
	Kind         Kind
	Conversation string
	Message      *Message
	MessageId    int
	Text         string
	Username     string
	Status       presence.Status
	Reactions    []reactions.Rendered
	Count        int
	Usernames    []string
}

// Renderer applies deltas. The engine calls it from its event loop only.
type Renderer interface {
	Apply(Delta)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(Delta)

func (f RendererFunc) Apply(d Delta) { f(d) }
