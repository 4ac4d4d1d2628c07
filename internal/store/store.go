// Package store keeps the ordered, decorated message sequence of the
// conversation on screen.
package store

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/npezzotti/go-chatsync/internal/state"
	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/npezzotti/go-chatsync/internal/view"
	"github.com/rs/zerolog"
)

const (
	EventSendMessage  = "send_message"
	EventReplyMessage = "reply_message"
)

var (
	ErrNoConversation = errors.New("no active conversation")
	ErrEmptyMessage   = errors.New("message is empty")
)

// Outbound is a message ready to be emitted on the channel. Exactly one of
// Room and RecipientId is set; the other is sent as null.
type Outbound struct {
	Message     string  `json:"message"`
	Room        *string `json:"room"`
	RecipientId *int    `json:"recipient_id"`
	ParentId    *int    `json:"parent_id,omitempty"`
}

func (o Outbound) Event() string {
	if o.ParentId != nil {
		return EventReplyMessage
	}
	return EventSendMessage
}

type entry struct {
	record    types.Message
	decrypted bool
	view      *view.Message
}

type Store struct {
	log     zerolog.Logger
	ctx     *state.Context
	stats   stats.StatsProvider
	active  Ref
	entries []*entry
}

func New(log zerolog.Logger, ctx *state.Context, sp stats.StatsProvider) *Store {
	if sp == nil {
		sp = stats.NopStats{}
	}
	return &Store{
		log:   log.With().Str("component", "store").Logger(),
		ctx:   ctx,
		stats: sp,
	}
}

func (s *Store) Active() Ref {
	return s.active
}

// SwitchTo makes ref the displayed conversation and empties the sequence.
// The caller fetches ref's history and hands it to ApplyHistory.
func (s *Store) SwitchTo(ref Ref) []view.Delta {
	s.active = ref
	s.entries = nil
	s.log.Debug().Stringer("conversation", ref).Msg("switched conversation")
	return []view.Delta{{Kind: view.Cleared, Conversation: ref.Key()}}
}

// ApplyHistory appends a fetched batch for ref. A batch for a conversation
// that is no longer displayed is dropped.
func (s *Store) ApplyHistory(ref Ref, batch []json.RawMessage) []view.Delta {
	if s.active.IsZero() || !s.active.Same(ref) {
		s.stats.Incr(stats.FetchesDiscarded)
		s.log.Debug().
			Stringer("fetched", ref).
			Stringer("active", s.active).
			Msg("discarding stale history")
		return nil
	}

	var deltas []view.Delta
	for _, raw := range batch {
		deltas = append(deltas, s.ingest(&item{raw: raw})...)
	}
	return deltas
}

// Append takes one live receive_message payload. Messages for other
// conversations are ignored.
func (s *Store) Append(raw json.RawMessage) []view.Delta {
	if s.active.IsZero() {
		return nil
	}
	return s.ingest(&item{raw: raw, live: true})
}

func (s *Store) ingest(it *item) []view.Delta {
	err := s.enrich(it, chain)
	switch {
	case err == nil:
	case errors.Is(err, errSystem):
		return []view.Delta{s.notice(it.system)}
	case errors.Is(err, errOtherThread):
		s.log.Debug().Int("message_id", it.record.Id).Msg("message for another conversation")
		return nil
	default:
		s.log.Warn().Err(err).Msg("dropping message")
		return nil
	}

	return []view.Delta{s.put(&entry{record: it.record, decrypted: it.decrypted, view: it.msg})}
}

// put stores e, replacing any message with the same id in place.
func (s *Store) put(e *entry) view.Delta {
	e.view.Reactions = s.ctx.Reactions.Render(e.record.Id, s.ctx.Self.Id)

	for i, cur := range s.entries {
		if cur.record.Id == e.record.Id {
			s.entries[i] = e
			return s.delta(view.Replaced, e)
		}
	}

	s.entries = append(s.entries, e)
	return s.delta(view.Appended, e)
}

func (s *Store) delta(kind view.Kind, e *entry) view.Delta {
	msg := *e.view
	return view.Delta{
		Kind:         kind,
		Conversation: s.active.Key(),
		Message:      &msg,
		MessageId:    e.record.Id,
	}
}

func (s *Store) notice(text string) view.Delta {
	return view.Delta{Kind: view.SystemNotice, Conversation: s.active.Key(), Text: text}
}

// Notice builds a system row for the displayed conversation. Notices are
// not kept in the sequence.
func (s *Store) Notice(text string) []view.Delta {
	if s.active.IsZero() {
		return nil
	}
	return []view.Delta{s.notice(text)}
}

func (s *Store) find(id int) *entry {
	for _, e := range s.entries {
		if e.record.Id == id {
			return e
		}
	}
	return nil
}

func (s *Store) Contains(id int) bool {
	return s.find(id) != nil
}

func (s *Store) Len() int {
	return len(s.entries)
}

// Messages returns a copy of the displayed sequence in arrival order.
func (s *Store) Messages() []view.Message {
	out := make([]view.Message, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e.view)
	}
	return out
}

// Edit replaces a message body in place and decorates it again. The body
// is plaintext even in a direct conversation.
func (s *Store) Edit(id int, body string) []view.Delta {
	e := s.find(id)
	if e == nil {
		return nil
	}

	rec := e.record
	rec.Content = body
	it := &item{
		record:    rec,
		decrypted: true,
		msg:       s.baseView(rec),
	}
	if err := s.enrich(it, chain[1:]); err != nil {
		s.log.Warn().Err(err).Int("message_id", id).Msg("redecorating edited message")
		return nil
	}

	return []view.Delta{s.put(&entry{record: it.record, decrypted: true, view: it.msg})}
}

// Remove deletes a message from the sequence. Its reactions stay in the
// aggregator.
func (s *Store) Remove(id int) []view.Delta {
	for i, e := range s.entries {
		if e.record.Id == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return []view.Delta{{Kind: view.Removed, Conversation: s.active.Key(), MessageId: id}}
		}
	}
	return nil
}

// ApplyReactions records an authoritative snapshot and refreshes the
// message if it is displayed.
func (s *Store) ApplyReactions(update types.ReactionsUpdate) []view.Delta {
	s.ctx.Reactions.ApplyUpdate(update.MessageId, update.Reactions)

	e := s.find(update.MessageId)
	if e == nil {
		return nil
	}
	e.view.Reactions = s.ctx.Reactions.Render(update.MessageId, s.ctx.Self.Id)
	return []view.Delta{{
		Kind:         view.ReactionsChanged,
		Conversation: s.active.Key(),
		MessageId:    update.MessageId,
		Reactions:    e.view.Reactions,
	}}
}

// Compose builds an outbound message for the displayed conversation.
// Direct message bodies are encrypted.
func (s *Store) Compose(body string) (Outbound, error) {
	if s.active.IsZero() {
		return Outbound{}, ErrNoConversation
	}
	if strings.TrimSpace(body) == "" {
		return Outbound{}, ErrEmptyMessage
	}

	if s.active.Kind == Room {
		room := s.active.RoomId
		return Outbound{Message: body, Room: &room}, nil
	}

	envelope, err := s.ctx.Keys.Encrypt(body, s.active.UserId)
	if err != nil {
		return Outbound{}, err
	}
	recipient := s.active.UserId
	return Outbound{Message: envelope, RecipientId: &recipient}, nil
}

// Reply builds an outbound reply. The parent does not need to be loaded.
func (s *Store) Reply(parentId int, body string) (Outbound, error) {
	out, err := s.Compose(body)
	if err != nil {
		return Outbound{}, err
	}
	out.ParentId = &parentId
	return out, nil
}

// Preview describes a parent for the "replying to" hint. Known is false
// when the parent is not in the sequence.
func (s *Store) Preview(parentId int) view.ReplyPreview {
	p := view.ReplyPreview{ParentId: parentId}
	if e := s.find(parentId); e != nil {
		p.Known = true
		p.Author = e.view.Author
		p.Preview = truncate(e.view.Body, previewLimit)
	}
	return p
}
