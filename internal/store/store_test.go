package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/npezzotti/go-chatsync/internal/e2e"
	"github.com/npezzotti/go-chatsync/internal/state"
	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/npezzotti/go-chatsync/internal/testutil"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/npezzotti/go-chatsync/internal/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, self state.Identity, sp stats.StatsProvider) (*Store, *state.Context) {
	t.Helper()
	ctx := state.New(self)
	ctx.LoadUsers([]types.User{
		{Id: 1, Username: "alice", Status: "online"},
		{Id: 2, Username: "bob", Status: "online"},
		{Id: 3, Username: "carol", Status: "away"},
	})
	return New(testutil.TestLogger(t), ctx, sp), ctx
}

func record(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func roomMsg(id int, username, content string) map[string]any {
	return map[string]any{
		"id":        id,
		"username":  username,
		"content":   content,
		"timestamp": "2024-05-01T10:00:00",
	}
}

func TestSwitchTo(t *testing.T) {
	s, _ := newTestStore(t, state.Identity{Id: 2, Username: "bob"}, nil)
	s.SwitchTo(RoomRef("general"))
	s.Append(record(t, roomMsg(1, "alice", "hi")))
	require.Equal(t, 1, s.Len())

	deltas := s.SwitchTo(DirectRef(1, "alice"))

	require.Len(t, deltas, 1)
	assert.Equal(t, view.Cleared, deltas[0].Kind)
	assert.Equal(t, "dm:1", deltas[0].Conversation)
	assert.Equal(t, 0, s.Len())
	assert.True(t, s.Active().Same(DirectRef(1, "")))
}

func TestMalformedNeverStored(t *testing.T) {
	sp := new(stats.MockStatsUpdater)
	sp.On("Incr", stats.MalformedDropped).Return()
	s, _ := newTestStore(t, state.Identity{Id: 2, Username: "bob"}, sp)
	s.SwitchTo(RoomRef("general"))

	batch := []json.RawMessage{
		json.RawMessage(`{"id": 1, "username": "alice"}`),
		json.RawMessage(`{"id": 2, "content": "no author"}`),
		json.RawMessage(`"just a string"`),
		json.RawMessage(`{"username": 5, "content": "x"}`),
		record(t, roomMsg(3, "alice", "valid")),
	}
	deltas := s.ApplyHistory(RoomRef("general"), batch)

	require.Len(t, deltas, 1)
	assert.Equal(t, 3, deltas[0].MessageId)
	assert.Equal(t, []int{3}, ids(s.Messages()))
	assert.Equal(t, 4, sp.Count(stats.MalformedDropped))
}

func TestSystemPayloadBecomesNotice(t *testing.T) {
	s, _ := newTestStore(t, state.Identity{Id: 2, Username: "bob"}, nil)
	s.SwitchTo(RoomRef("general"))

	deltas := s.Append(json.RawMessage(`{"message": "alice joined the chat"}`))

	require.Len(t, deltas, 1)
	assert.Equal(t, view.SystemNotice, deltas[0].Kind)
	assert.Equal(t, "alice joined the chat", deltas[0].Text)
	assert.Equal(t, 0, s.Len())
}

func TestApplyHistory_StaleDiscarded(t *testing.T) {
	sp := new(stats.MockStatsUpdater)
	sp.On("Incr", stats.FetchesDiscarded).Return()
	s, _ := newTestStore(t, state.Identity{Id: 2, Username: "bob"}, sp)

	s.SwitchTo(RoomRef("general"))
	s.SwitchTo(RoomRef("random"))

	deltas := s.ApplyHistory(RoomRef("general"), []json.RawMessage{record(t, roomMsg(1, "alice", "old"))})

	assert.Nil(t, deltas)
	assert.Equal(t, 0, s.Len())
	sp.AssertCalled(t, "Incr", stats.FetchesDiscarded)

	deltas = s.ApplyHistory(RoomRef("random"), []json.RawMessage{record(t, roomMsg(2, "carol", "fresh"))})
	require.Len(t, deltas, 1)
	assert.Equal(t, view.Appended, deltas[0].Kind)
}

func TestAppend_ReplacesDuplicateId(t *testing.T) {
	s, _ := newTestStore(t, state.Identity{Id: 2, Username: "bob"}, nil)
	s.SwitchTo(RoomRef("general"))
	s.ApplyHistory(RoomRef("general"), []json.RawMessage{
		record(t, roomMsg(1, "alice", "first")),
		record(t, roomMsg(2, "carol", "second")),
	})

	deltas := s.Append(record(t, roomMsg(1, "alice", "first again")))

	require.Len(t, deltas, 1)
	assert.Equal(t, view.Replaced, deltas[0].Kind)
	msgs := s.Messages()
	assert.Equal(t, []int{1, 2}, ids(msgs))
	assert.Equal(t, "first again", msgs[0].Body)
}

func TestAppend_Routing(t *testing.T) {
	five := 5
	sealed, err := e2e.NewCipher(1).Encrypt("x", 2)
	require.NoError(t, err)
	tcases := []struct {
		name   string
		active Ref
		rec    map[string]any
		kept   bool
	}{
		{
			name:   "room message in alias room",
			active: RoomRef("general"),
			rec:    roomMsg(1, "alice", "hi"),
			kept:   true,
		},
		{
			name:   "room message for other numeric room",
			active: RoomRef("4"),
			rec:    merge(roomMsg(1, "alice", "hi"), map[string]any{"room_id": five}),
			kept:   false,
		},
		{
			name:   "room message for matching numeric room",
			active: RoomRef("5"),
			rec:    merge(roomMsg(1, "alice", "hi"), map[string]any{"room_id": five}),
			kept:   true,
		},
		{
			name:   "direct message while in a room",
			active: RoomRef("general"),
			rec:    merge(roomMsg(1, "alice", "x"), map[string]any{"is_direct_message": true}),
			kept:   false,
		},
		{
			name:   "direct message from counterpart",
			active: DirectRef(1, "alice"),
			rec:    merge(roomMsg(1, "alice", "x"), map[string]any{"is_direct_message": true}),
			kept:   true,
		},
		{
			name:   "direct message from someone else",
			active: DirectRef(1, "alice"),
			rec:    merge(roomMsg(1, "carol", "x"), map[string]any{"is_direct_message": true}),
			kept:   false,
		},
		{
			name:   "own direct message to counterpart",
			active: DirectRef(1, "alice"),
			rec:    merge(roomMsg(1, "bob", "x"), map[string]any{"is_direct_message": true, "recipient_id": 1}),
			kept:   true,
		},
		{
			name:   "own direct message to someone else",
			active: DirectRef(1, "alice"),
			rec:    merge(roomMsg(1, "bob", "x"), map[string]any{"is_direct_message": true, "recipient_id": 3}),
			kept:   false,
		},
		{
			name:   "room message while in a direct conversation",
			active: DirectRef(1, "alice"),
			rec:    roomMsg(1, "alice", "x"),
			kept:   false,
		},
		{
			name:   "unflagged sealed message while in a room",
			active: RoomRef("general"),
			rec:    roomMsg(1, "alice", sealed),
			kept:   false,
		},
		{
			name:   "unflagged sealed message from counterpart",
			active: DirectRef(1, "alice"),
			rec:    roomMsg(1, "alice", sealed),
			kept:   true,
		},
		{
			name:   "sealed looking message flagged as room traffic",
			active: RoomRef("general"),
			rec:    merge(roomMsg(1, "alice", sealed), map[string]any{"is_direct_message": false}),
			kept:   true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newTestStore(t, state.Identity{Id: 2, Username: "bob"}, nil)
			s.SwitchTo(tc.active)

			deltas := s.Append(record(t, tc.rec))

			assert.Equal(t, tc.kept, len(deltas) == 1)
			assert.Equal(t, tc.kept, s.Contains(1))
		})
	}
}

func TestAppend_NoActiveConversation(t *testing.T) {
	s, _ := newTestStore(t, state.Identity{Id: 2, Username: "bob"}, nil)
	assert.Nil(t, s.Append(record(t, roomMsg(1, "alice", "hi"))))
}

func TestMentionHighlight(t *testing.T) {
	s, _ := newTestStore(t, state.Identity{Id: 2, Username: "bob"}, nil)
	s.SwitchTo(RoomRef("general"))

	s.Append(record(t, roomMsg(1, "alice", "hello @bob")))
	s.Append(record(t, roomMsg(2, "alice", "hello @bobby")))
	s.Append(record(t, roomMsg(3, "alice", "hello bob")))

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.True(t, msgs[0].Highlighted)
	assert.False(t, msgs[1].Highlighted)
	assert.False(t, msgs[2].Highlighted)
}

func TestDirectMessage_EncryptedOnWire(t *testing.T) {
	alice, _ := newTestStore(t, state.Identity{Id: 1, Username: "alice"}, nil)
	bob, _ := newTestStore(t, state.Identity{Id: 2, Username: "bob"}, nil)
	alice.SwitchTo(DirectRef(2, "bob"))
	bob.SwitchTo(DirectRef(1, "alice"))

	out, err := alice.Compose("secret")
	require.NoError(t, err)
	assert.Equal(t, EventSendMessage, out.Event())
	assert.NotContains(t, out.Message, "secret")
	assert.Nil(t, out.Room)
	require.NotNil(t, out.RecipientId)
	assert.Equal(t, 2, *out.RecipientId)

	wire := merge(roomMsg(10, "alice", out.Message), map[string]any{"is_direct_message": true, "recipient_id": 2})
	bob.Append(record(t, wire))
	alice.Append(record(t, wire))

	for _, s := range []*Store{alice, bob} {
		msgs := s.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "secret", msgs[0].Body)
		assert.True(t, msgs[0].Encrypted)
		assert.False(t, msgs[0].Undecryptable)
	}
	assert.True(t, alice.Messages()[0].Own)
	assert.False(t, bob.Messages()[0].Own)
}

func TestDirectMessage_HistoryBothDirections(t *testing.T) {
	peer := e2e.NewCipher(1)
	fromAlice, err := peer.Encrypt("from alice", 2)
	require.NoError(t, err)
	mine := e2e.NewCipher(2)
	fromBob, err := mine.Encrypt("from bob", 1)
	require.NoError(t, err)

	s, _ := newTestStore(t, state.Identity{Id: 2, Username: "bob"}, nil)
	ref := DirectRef(1, "alice")
	s.SwitchTo(ref)
	s.ApplyHistory(ref, []json.RawMessage{
		record(t, roomMsg(1, "alice", fromAlice)),
		record(t, roomMsg(2, "bob", fromBob)),
	})

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "from alice", msgs[0].Body)
	assert.Equal(t, "from bob", msgs[1].Body)
}

func TestDirectMessage_FlagHandling(t *testing.T) {
	sealed, err := e2e.NewCipher(1).Encrypt("from alice", 2)
	require.NoError(t, err)

	t.Run("unflagged live message is decrypted", func(t *testing.T) {
		s, _ := newTestStore(t, state.Identity{Id: 2, Username: "bob"}, nil)
		s.SwitchTo(DirectRef(1, "alice"))

		s.Append(record(t, roomMsg(1, "alice", sealed)))

		msgs := s.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "from alice", msgs[0].Body)
		assert.True(t, msgs[0].Encrypted)
	})

	t.Run("history flagged not direct stays plaintext", func(t *testing.T) {
		sp := new(stats.MockStatsUpdater)
		s, _ := newTestStore(t, state.Identity{Id: 2, Username: "bob"}, sp)
		ref := DirectRef(1, "alice")
		s.SwitchTo(ref)

		s.ApplyHistory(ref, []json.RawMessage{
			record(t, merge(roomMsg(1, "alice", "plain legacy"), map[string]any{"is_direct_message": false})),
			record(t, merge(roomMsg(2, "alice", sealed), map[string]any{"is_direct_message": true})),
		})

		msgs := s.Messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, "plain legacy", msgs[0].Body)
		assert.False(t, msgs[0].Encrypted)
		assert.False(t, msgs[0].Undecryptable)
		assert.Equal(t, "from alice", msgs[1].Body)
		assert.Equal(t, 0, sp.Count(stats.DecryptFailures))
	})
}

func TestDirectMessage_Undecryptable(t *testing.T) {
	sp := new(stats.MockStatsUpdater)
	sp.On("Incr", stats.DecryptFailures).Return()
	s, _ := newTestStore(t, state.Identity{Id: 2, Username: "bob"}, sp)
	ref := DirectRef(1, "alice")
	s.SwitchTo(ref)

	s.ApplyHistory(ref, []json.RawMessage{
		record(t, roomMsg(1, "alice", "not-an-envelope")),
		record(t, roomMsg(2, "alice", "AAAA:BBBB")),
	})

	for _, m := range s.Messages() {
		assert.Equal(t, e2e.Placeholder, m.Body)
		assert.True(t, m.Undecryptable)
	}
	assert.Equal(t, 2, sp.Count(stats.DecryptFailures))
}

func TestReplyPreview(t *testing.T) {
	s, _ := newTestStore(t, state.Identity{Id: 2, Username: "bob"}, nil)
	s.SwitchTo(RoomRef("general"))
	long := strings.Repeat("é", 150)
	s.Append(record(t, roomMsg(1, "alice", long)))

	s.Append(record(t, merge(roomMsg(2, "carol", "agreed"), map[string]any{"parent_id": 1})))
	s.Append(record(t, merge(roomMsg(3, "carol", "from server"), map[string]any{
		"parent_id":       99,
		"parent_username": "dave",
		"parent_content":  "older message",
	})))
	s.Append(record(t, merge(roomMsg(4, "carol", "orphan"), map[string]any{"parent_id": 404})))

	msgs := s.Messages()
	require.Len(t, msgs, 4)
	assert.Nil(t, msgs[0].Reply)

	local := msgs[1].Reply
	require.NotNil(t, local)
	assert.True(t, local.Known)
	assert.Equal(t, "alice", local.Author)
	assert.Equal(t, strings.Repeat("é", 100)+"…", local.Preview)

	remote := msgs[2].Reply
	require.NotNil(t, remote)
	assert.True(t, remote.Known)
	assert.Equal(t, "dave", remote.Author)
	assert.Equal(t, "older message", remote.Preview)

	orphan := msgs[3].Reply
	require.NotNil(t, orphan)
	assert.False(t, orphan.Known)
	assert.Equal(t, 404, orphan.ParentId)
}

func TestReply(t *testing.T) {
	s, _ := newTestStore(t, state.Identity{Id: 2, Username: "bob"}, nil)
	s.SwitchTo(RoomRef("general"))

	out, err := s.Reply(77, "sure")
	require.NoError(t, err)
	assert.Equal(t, EventReplyMessage, out.Event())
	require.NotNil(t, out.ParentId)
	assert.Equal(t, 77, *out.ParentId)
	require.NotNil(t, out.Room)
	assert.Equal(t, "general", *out.Room)

	b, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"message": "sure", "room": "general", "recipient_id": null, "parent_id": 77}`, string(b))

	p := s.Preview(77)
	assert.False(t, p.Known)
}

func TestCompose_Errors(t *testing.T) {
	s, _ := newTestStore(t, state.Identity{Id: 2, Username: "bob"}, nil)
	_, err := s.Compose("hi")
	assert.ErrorIs(t, err, ErrNoConversation)

	s.SwitchTo(RoomRef("general"))
	_, err = s.Compose("   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestEdit(t *testing.T) {
	s, _ := newTestStore(t, state.Identity{Id: 2, Username: "bob"}, nil)
	s.SwitchTo(RoomRef("general"))
	s.Append(record(t, roomMsg(1, "alice", "hello")))

	deltas := s.Edit(1, "hello @bob <script>x</script>")

	require.Len(t, deltas, 1)
	assert.Equal(t, view.Replaced, deltas[0].Kind)
	msg := s.Messages()[0]
	assert.Equal(t, "hello @bob <script>x</script>", msg.Body)
	assert.True(t, msg.Highlighted)
	assert.NotContains(t, msg.SafeBody, "<script>")

	assert.Nil(t, s.Edit(42, "missing"))
}

func TestEdit_DirectMessageStaysPlaintext(t *testing.T) {
	peer := e2e.NewCipher(1)
	env, err := peer.Encrypt("original", 2)
	require.NoError(t, err)

	s, _ := newTestStore(t, state.Identity{Id: 2, Username: "bob"}, nil)
	s.SwitchTo(DirectRef(1, "alice"))
	s.Append(record(t, merge(roomMsg(1, "alice", env), map[string]any{"is_direct_message": true})))

	s.Edit(1, "changed")

	msg := s.Messages()[0]
	assert.Equal(t, "changed", msg.Body)
	assert.True(t, msg.Encrypted)
}

func TestRemove_ReactionsOrphaned(t *testing.T) {
	s, ctx := newTestStore(t, state.Identity{Id: 2, Username: "bob"}, nil)
	s.SwitchTo(RoomRef("general"))
	s.Append(record(t, roomMsg(1, "alice", "hi")))
	s.Append(record(t, roomMsg(2, "alice", "there")))
	s.ApplyReactions(types.ReactionsUpdate{
		MessageId: 1,
		Reactions: types.Reactions{"👍": {Count: 1, UserIds: []int{3}}},
	})

	deltas := s.Remove(1)

	require.Len(t, deltas, 1)
	assert.Equal(t, view.Removed, deltas[0].Kind)
	assert.Equal(t, 1, deltas[0].MessageId)
	assert.Equal(t, []int{2}, ids(s.Messages()))
	assert.True(t, ctx.Reactions.Has(1))
	assert.Nil(t, s.Remove(1))
}

func TestApplyReactions(t *testing.T) {
	s, ctx := newTestStore(t, state.Identity{Id: 2, Username: "bob"}, nil)
	s.SwitchTo(RoomRef("general"))
	s.Append(record(t, roomMsg(1, "alice", "hi")))

	deltas := s.ApplyReactions(types.ReactionsUpdate{
		MessageId: 1,
		Reactions: types.Reactions{"🎉": {Count: 9, UserIds: []int{2, 2, 3}}},
	})

	require.Len(t, deltas, 1)
	assert.Equal(t, view.ReactionsChanged, deltas[0].Kind)
	require.Len(t, deltas[0].Reactions, 1)
	assert.Equal(t, 2, deltas[0].Reactions[0].Count)
	assert.True(t, deltas[0].Reactions[0].Active)
	assert.Equal(t, deltas[0].Reactions, s.Messages()[0].Reactions)

	// not displayed, still recorded
	assert.Nil(t, s.ApplyReactions(types.ReactionsUpdate{
		MessageId: 50,
		Reactions: types.Reactions{"👍": {UserIds: []int{1}}},
	}))
	assert.True(t, ctx.Reactions.Has(50))
}

func TestReactionsAttachedOnArrival(t *testing.T) {
	s, _ := newTestStore(t, state.Identity{Id: 2, Username: "bob"}, nil)
	s.SwitchTo(RoomRef("general"))
	s.ApplyReactions(types.ReactionsUpdate{
		MessageId: 1,
		Reactions: types.Reactions{"👍": {UserIds: []int{1}}},
	})

	s.Append(record(t, roomMsg(1, "alice", "hi")))

	require.Len(t, s.Messages()[0].Reactions, 1)
	assert.False(t, s.Messages()[0].Reactions[0].Active)
}

func TestDecoration(t *testing.T) {
	s, _ := newTestStore(t, state.Identity{Id: 2, Username: "bob"}, nil)
	s.SwitchTo(RoomRef("general"))

	s.Append(record(t, merge(roomMsg(1, "alice", "<b>hi</b> & bye"), map[string]any{
		"profile_pic": "alice.png",
		"is_admin":    true,
		"attachments": []map[string]any{{"id": 4, "original_filename": "notes.txt"}},
	})))
	s.Append(record(t, roomMsg(2, "Bob", "plain")))

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "/uploads/alice.png", msgs[0].AvatarURL)
	assert.Equal(t, "hi &amp; bye", msgs[0].SafeBody)
	assert.True(t, msgs[0].IsAdmin)
	require.Len(t, msgs[0].Attachments, 1)
	assert.Equal(t, "notes.txt", msgs[0].Attachments[0].OriginalFilename)
	assert.False(t, msgs[0].Own)

	assert.Equal(t, "/static/default_avatar.png", msgs[1].AvatarURL)
	assert.True(t, msgs[1].Own)
}

func TestRef(t *testing.T) {
	tcases := []struct {
		a, b Ref
		same bool
		key  string
	}{
		{RoomRef("General"), RoomRef("general"), true, "room:general"},
		{RoomRef("1"), DirectRef(1, "alice"), false, "room:1"},
		{DirectRef(1, "alice"), DirectRef(1, ""), true, "dm:1"},
		{DirectRef(1, "alice"), DirectRef(2, "alice"), false, "dm:1"},
	}
	for _, tc := range tcases {
		t.Run(fmt.Sprintf("%s-%s", tc.a, tc.b), func(t *testing.T) {
			assert.Equal(t, tc.same, tc.a.Same(tc.b))
			assert.Equal(t, tc.key, tc.a.Key())
		})
	}
	assert.True(t, Ref{}.IsZero())
}

func ids(msgs []view.Message) []int {
	out := make([]int, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Id)
	}
	return out
}

func merge(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func TestRef_MatchesRoom(t *testing.T) {
	assert.True(t, RoomRef("general").MatchesRoom("5"), "alias accepts any room")
	assert.True(t, RoomRef("5").MatchesRoom("5"))
	assert.False(t, RoomRef("5").MatchesRoom("6"))
	assert.False(t, DirectRef(5, "alice").MatchesRoom("5"))
}
