package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/npezzotti/go-chatsync/internal/e2e"
	"github.com/npezzotti/go-chatsync/internal/mention"
	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/npezzotti/go-chatsync/internal/validate"
	"github.com/npezzotti/go-chatsync/internal/view"
)

const (
	previewLimit  = 100
	defaultAvatar = "/static/default_avatar.png"
	uploadsPrefix = "/uploads/"
)

var (
	errMalformed   = errors.New("malformed payload")
	errSystem      = errors.New("system message")
	errOtherThread = errors.New("message belongs to another conversation")
	strictPolicy   = bluemonday.StrictPolicy()
)

// item is one message travelling through the enrichment chain.
type item struct {
	raw       json.RawMessage
	live      bool
	decrypted bool
	record    types.Message
	system    string
	msg       *view.Message
}

type step struct {
	name string
	run  func(*Store, *item) error
}

// chain is the fixed enrichment order. Every message the store holds has
// been through it.
var chain = []step{
	{"validate", validateStep},
	{"decrypt", decryptStep},
	{"mentions", mentionStep},
	{"reply", replyStep},
	{"sanitize", sanitizeStep},
	{"avatar", avatarStep},
}

func (s *Store) enrich(it *item, steps []step) error {
	for _, st := range steps {
		if err := st.run(s, it); err != nil {
			return fmt.Errorf("%s: %w", st.name, err)
		}
	}
	return nil
}

func validateStep(s *Store, it *item) error {
	res := validate.Classify(it.raw)
	switch res.Kind {
	case validate.SystemMessage:
		it.system = res.System.Message
		return errSystem
	case validate.UserMessage:
	default:
		s.stats.Incr(stats.MalformedDropped)
		return fmt.Errorf("%w: %v", errMalformed, res.Err)
	}

	it.record = *res.Message
	if it.live && !s.belongs(it.record) {
		return errOtherThread
	}

	it.msg = s.baseView(it.record)
	return nil
}

func (s *Store) baseView(rec types.Message) *view.Message {
	return &view.Message{
		Id:          rec.Id,
		Author:      rec.Username,
		Timestamp:   rec.Timestamp,
		IsAdmin:     rec.IsAdmin,
		Own:         s.ctx.IsSelf(rec.Username),
		Attachments: rec.Attachments,
	}
}

// belongs routes a live message to the displayed conversation. Records
// that name their room or recipient are matched on that; otherwise room
// traffic is taken to be for the joined room and direct traffic must be
// from or to the counterpart. Live direct messages often arrive without
// is_direct_message, so an unflagged sealed body counts as direct.
func (s *Store) belongs(rec types.Message) bool {
	direct := isDirect(rec)
	switch s.active.Kind {
	case Room:
		if direct {
			return false
		}
		return rec.RoomId == nil || s.active.MatchesRoom(strconv.Itoa(*rec.RoomId))
	case Direct:
		if !direct {
			return false
		}
		if s.ctx.IsSelf(rec.Username) {
			return rec.RecipientId == nil || *rec.RecipientId == s.active.UserId
		}
		if id, ok := s.ctx.UserId(rec.Username); ok {
			return id == s.active.UserId
		}
		return s.active.Username != "" && strings.EqualFold(rec.Username, s.active.Username)
	default:
		return false
	}
}

func isDirect(rec types.Message) bool {
	if direct, set := rec.DirectFlag(); set {
		return direct
	}
	return rec.RecipientId != nil || e2e.IsEnvelope(rec.Content)
}

// decryptStep opens sealed bodies in a direct conversation. A record
// explicitly flagged as not direct is plaintext and left alone; an
// unflagged one in a direct conversation is taken to be sealed.
func decryptStep(s *Store, it *item) error {
	if direct, set := it.record.DirectFlag(); s.active.Kind != Direct || (set && !direct) {
		it.msg.Body = it.record.Content
		return nil
	}

	it.msg.Encrypted = true
	if it.decrypted {
		it.msg.Body = it.record.Content
		return nil
	}

	// Both directions of a pair share one key, so the counterpart is
	// always the other end of the active conversation.
	body, err := s.ctx.Keys.Open(it.record.Content, s.active.UserId)
	if err != nil {
		s.log.Debug().Err(err).Int("message_id", it.record.Id).Msg("decrypt failed")
		s.stats.Incr(stats.DecryptFailures)
		body = e2e.Placeholder
		it.msg.Undecryptable = true
	}

	it.record.Content = body
	it.decrypted = true
	it.msg.Body = body
	return nil
}

func mentionStep(s *Store, it *item) error {
	it.msg.Highlighted = mention.IsAddressedTo(it.msg.Body, s.ctx.Self.Username)
	return nil
}

func replyStep(s *Store, it *item) error {
	if it.record.ParentId == nil {
		it.msg.Reply = nil
		return nil
	}

	parentId := *it.record.ParentId
	reply := &view.ReplyPreview{ParentId: parentId}
	if it.record.ParentUsername != "" && it.record.ParentContent != "" && s.active.Kind != Direct {
		reply.Known = true
		reply.Author = it.record.ParentUsername
		reply.Preview = truncate(it.record.ParentContent, previewLimit)
	} else if parent := s.find(parentId); parent != nil {
		reply.Known = true
		reply.Author = parent.view.Author
		reply.Preview = truncate(parent.view.Body, previewLimit)
	}

	it.msg.Reply = reply
	return nil
}

func sanitizeStep(s *Store, it *item) error {
	it.msg.SafeBody = strictPolicy.Sanitize(it.msg.Body)
	return nil
}

func avatarStep(s *Store, it *item) error {
	if it.record.ProfilePic != "" {
		it.msg.AvatarURL = uploadsPrefix + it.record.ProfilePic
	} else {
		it.msg.AvatarURL = defaultAvatar
	}
	return nil
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "…"
}
