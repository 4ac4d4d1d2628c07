package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/npezzotti/go-chatsync/internal/presence"
	"github.com/npezzotti/go-chatsync/internal/types"
)

// Events consumed from the channel.
const (
	EventReceiveMessage     = "receive_message"
	EventUserConnected      = "user_connected"
	EventUserDisconnected   = "user_disconnected"
	EventUserTyping         = "user_typing"
	EventUserStoppedTyping  = "user_stopped_typing"
	EventOnlineCountUpdated = "online_count_updated"
	EventMentionNotify      = "mention_notification"
	EventReactionsUpdate    = "reactions_update"
	EventUserStatusUpdate   = "user_status_update"
)

// Events emitted on the channel.
const (
	EventJoinRoom       = "join_room"
	EventLeaveRoom      = "leave_room"
	EventSendMessage    = "send_message"
	EventReplyMessage   = "reply_message"
	EventStartTyping    = "start_typing"
	EventStopTyping     = "stop_typing"
	EventAddReaction    = "add_reaction"
	EventRemoveReaction = "remove_reaction"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrBadPayload   = errors.New("bad payload")
)

// Frame is one event on the wire: {"event": name, "data": payload}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewFrame(event string, data any) (Frame, error) {
	if data == nil {
		return Frame{Event: event}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s: %w", event, err)
	}
	return Frame{Event: event, Data: b}, nil
}

// Inbound is a decoded channel event. The concrete types below are the
// only implementations.
type Inbound interface {
	inbound()
}

type MessageReceived struct {
	Raw json.RawMessage
}

type UserConnected struct {
	Username string
	Message  string
}

type UserDisconnected struct {
	Username string
	Message  string
}

// TypingStarted and TypingStopped carry the room the signal was sent in,
// or "" when the server did not say.
type TypingStarted struct {
	Username string
	Room     string
}

type TypingStopped struct {
	Room string
}

type OnlineCountUpdated struct {
	Count int
}

type MentionNotification struct {
	From    string
	Message string
}

type ReactionsUpdated struct {
	Update types.ReactionsUpdate
}

type StatusUpdated struct {
	Username string
	Status   presence.Status
}

func (MessageReceived) inbound()     {}
func (UserConnected) inbound()       {}
func (UserDisconnected) inbound()    {}
func (TypingStarted) inbound()       {}
func (TypingStopped) inbound()       {}
func (OnlineCountUpdated) inbound()  {}
func (MentionNotification) inbound() {}
func (ReactionsUpdated) inbound()    {}
func (StatusUpdated) inbound()       {}

type connectionPayload struct {
	Username *string `json:"username"`
	Message  *string `json:"message"`
}

type typingPayload struct {
	Username *string        `json:"username"`
	Room     roomIdentifier `json:"room"`
}

type countPayload struct {
	Count *int `json:"count"`
}

type mentionPayload struct {
	From    *string `json:"from"`
	Message *string `json:"message"`
}

type reactionsPayload struct {
	MessageId *int            `json:"message_id"`
	Reactions types.Reactions `json:"reactions"`
}

type statusPayload struct {
	Username *string `json:"username"`
	Status   *string `json:"status"`
}

// roomIdentifier accepts a room sent as a string or a number.
type roomIdentifier string

func (r *roomIdentifier) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*r = roomIdentifier(s)
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*r = roomIdentifier(strconv.Itoa(n))
		return nil
	}
	if string(b) == "null" {
		*r = ""
		return nil
	}
	return fmt.Errorf("room must be a string or number")
}

func badPayload(event, field string) error {
	return fmt.Errorf("%w: %s: missing %s", ErrBadPayload, event, field)
}

// Decode turns a frame into its typed event. Payloads missing required
// members are rejected here; receive_message is validated by the store.
func Decode(f Frame) (Inbound, error) {
	unmarshal := func(v any) error {
		if len(f.Data) == 0 {
			return fmt.Errorf("%w: %s: no data", ErrBadPayload, f.Event)
		}
		if err := json.Unmarshal(f.Data, v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBadPayload, f.Event, err)
		}
		return nil
	}

	switch f.Event {
	case EventReceiveMessage:
		if len(f.Data) == 0 {
			return nil, badPayload(f.Event, "data")
		}
		return MessageReceived{Raw: f.Data}, nil

	case EventUserConnected, EventUserDisconnected:
		var p connectionPayload
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		if p.Message == nil {
			return nil, badPayload(f.Event, "message")
		}
		var username string
		if p.Username != nil {
			username = *p.Username
		}
		if f.Event == EventUserConnected {
			return UserConnected{Username: username, Message: *p.Message}, nil
		}
		return UserDisconnected{Username: username, Message: *p.Message}, nil

	case EventUserTyping:
		var p typingPayload
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		if p.Username == nil || *p.Username == "" {
			return nil, badPayload(f.Event, "username")
		}
		return TypingStarted{Username: *p.Username, Room: string(p.Room)}, nil

	case EventUserStoppedTyping:
		var p typingPayload
		if len(f.Data) > 0 {
			if err := unmarshal(&p); err != nil {
				return nil, err
			}
		}
		return TypingStopped{Room: string(p.Room)}, nil

	case EventOnlineCountUpdated:
		var p countPayload
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		if p.Count == nil {
			return nil, badPayload(f.Event, "count")
		}
		return OnlineCountUpdated{Count: *p.Count}, nil

	case EventMentionNotify:
		var p mentionPayload
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		if p.From == nil || p.Message == nil {
			return nil, badPayload(f.Event, "from or message")
		}
		return MentionNotification{From: *p.From, Message: *p.Message}, nil

	case EventReactionsUpdate:
		var p reactionsPayload
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		if p.MessageId == nil {
			return nil, badPayload(f.Event, "message_id")
		}
		return ReactionsUpdated{Update: types.ReactionsUpdate{MessageId: *p.MessageId, Reactions: p.Reactions}}, nil

	case EventUserStatusUpdate:
		var p statusPayload
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		if p.Username == nil || p.Status == nil {
			return nil, badPayload(f.Event, "username or status")
		}
		return StatusUpdated{Username: *p.Username, Status: presence.Status(*p.Status)}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
}

// Outbound payloads.

type roomPayload struct {
	Room string `json:"room"`
}

type typingSignalPayload struct {
	Room        *string `json:"room,omitempty"`
	RecipientId *int    `json:"recipient_id,omitempty"`
}

type reactionPayload struct {
	MessageId int    `json:"message_id"`
	Emoji     string `json:"emoji"`
}
