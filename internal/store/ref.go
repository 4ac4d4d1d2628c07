package store

import (
	"fmt"
	"strconv"
	"strings"
)

type ConversationKind int

const (
	Room ConversationKind = iota + 1
	Direct
)

// Ref identifies a conversation: a room by id, or a direct-message pair by
// the counterpart's user id. Username is carried for attributing live
// direct messages and is not part of the identity.
type Ref struct {
	Kind     ConversationKind
	RoomId   string
	UserId   int
	Username string
}

func RoomRef(roomId string) Ref {
	return Ref{Kind: Room, RoomId: roomId}
}

func DirectRef(userId int, username string) Ref {
	return Ref{Kind: Direct, UserId: userId, Username: username}
}

func (r Ref) IsZero() bool {
	return r.Kind == 0
}

// Same compares conversation identity.
func (r Ref) Same(o Ref) bool {
	if r.Kind != o.Kind {
		return false
	}
	if r.Kind == Room {
		return strings.EqualFold(r.RoomId, o.RoomId)
	}
	return r.UserId == o.UserId
}

// MatchesRoom reports whether a room id carried by an event refers to this
// conversation. Aliases such as "general" are resolved by the server, so a
// non-numeric active id accepts any room.
func (r Ref) MatchesRoom(roomId string) bool {
	if r.Kind != Room {
		return false
	}
	if _, err := strconv.Atoi(r.RoomId); err != nil {
		return true
	}
	return r.Same(RoomRef(roomId))
}

func (r Ref) Key() string {
	switch r.Kind {
	case Room:
		return "room:" + strings.ToLower(r.RoomId)
	case Direct:
		return fmt.Sprintf("dm:%d", r.UserId)
	default:
		return ""
	}
}

func (r Ref) String() string {
	return r.Key()
}
