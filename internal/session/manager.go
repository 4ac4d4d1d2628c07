// Package session runs the sync engine: one event loop that owns every
// piece of client state and talks to the server over a Channel and the
// REST API.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-chatsync/internal/api"
	"github.com/npezzotti/go-chatsync/internal/mention"
	"github.com/npezzotti/go-chatsync/internal/presence"
	"github.com/npezzotti/go-chatsync/internal/state"
	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/npezzotti/go-chatsync/internal/store"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/npezzotti/go-chatsync/internal/typing"
	"github.com/npezzotti/go-chatsync/internal/view"
	"github.com/raulk/clock"
	"github.com/rs/zerolog"
)

const DefaultRoom = "general"

var ErrChannelClosed = errors.New("channel closed")

// Backend is the subset of the REST client the engine uses.
type Backend interface {
	ListUsers(ctx context.Context) ([]types.User, error)
	RoomMessages(ctx context.Context, roomId string) ([]json.RawMessage, error)
	DirectMessages(ctx context.Context, userId int) ([]json.RawMessage, error)
	OnlineUsers(ctx context.Context) ([]string, error)
	OnlineCount(ctx context.Context) (int, error)
	CreateRoom(ctx context.Context, req api.CreateRoomRequest) (types.Room, error)
	DeleteRoom(ctx context.Context, roomId int) error
	EditMessage(ctx context.Context, messageId int, content string) error
	DeleteMessage(ctx context.Context, messageId int) error
	ClearAllChatData(ctx context.Context) error
}

type Options struct {
	DefaultRoom  string
	TypingWindow time.Duration
	Clock        clock.Clock
	Stats        stats.StatsProvider
}

type Manager struct {
	log     zerolog.Logger
	state   *state.Context
	store   *store.Store
	backend Backend
	ch      Channel
	render  view.Renderer
	stats   stats.StatsProvider
	clock   clock.Clock

	typing      *typing.Coordinator
	indicator   *typing.Indicator
	typingTimer *clock.Timer
	defaultRoom string

	// runCtx is the context Run was started with, for work started
	// from Dispatch.
	runCtx context.Context
	cmds   chan func(context.Context)
	async  chan func()
	done   chan struct{}
}

func NewManager(log zerolog.Logger, sc *state.Context, backend Backend, ch Channel, r view.Renderer, opts Options) *Manager {
	if opts.DefaultRoom == "" {
		opts.DefaultRoom = DefaultRoom
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Stats == nil {
		opts.Stats = stats.NopStats{}
	}

	log = log.With().Str("session", uuid.NewString()).Str("user", sc.Self.Username).Logger()
	return &Manager{
		log:         log,
		state:       sc,
		store:       store.New(log, sc, opts.Stats),
		backend:     backend,
		ch:          ch,
		render:      r,
		stats:       opts.Stats,
		clock:       opts.Clock,
		typing:      typing.NewCoordinator(opts.TypingWindow),
		indicator:   typing.NewIndicator(sc.Self.Username),
		defaultRoom: opts.DefaultRoom,
		runCtx:      context.Background(),
		cmds:        make(chan func(context.Context), 64),
		async:       make(chan func(), 64),
		done:        make(chan struct{}),
	}
}

// Run is the event loop. It returns when ctx is done or the channel's
// frame stream closes.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)
	m.runCtx = ctx
	m.log.Info().Msg("session started")
	defer m.log.Info().Msg("session stopped")

	frames := m.ch.Frames()
	states := m.ch.States()
	for {
		var typingC <-chan time.Time
		if m.typingTimer != nil {
			typingC = m.typingTimer.C
		}

		select {
		case f, ok := <-frames:
			if !ok {
				return ErrChannelClosed
			}
			m.handleFrame(f)
		case s := <-states:
			m.handleState(ctx, s)
		case fn := <-m.async:
			fn()
		case fn := <-m.cmds:
			fn(ctx)
		case <-typingC:
			m.typingTimer = nil
			m.sendTyping(m.typing.Expire(m.clock.Now()))
		case <-ctx.Done():
			m.stopTypingTimer()
			return nil
		}
	}
}

func (m *Manager) handleFrame(f Frame) {
	m.stats.Incr(stats.EventsReceived)

	ev, err := Decode(f)
	if err != nil {
		if errors.Is(err, ErrUnknownEvent) {
			m.log.Debug().Str("event", f.Event).Msg("ignoring event")
			return
		}
		m.stats.Incr(stats.MalformedDropped)
		m.log.Warn().Err(err).Msg("dropping event")
		return
	}

	m.Dispatch(ev)
}

// Dispatch applies one inbound event. It must only be called from the
// event loop.
func (m *Manager) Dispatch(ev Inbound) {
	switch ev := ev.(type) {
	case MessageReceived:
		m.emit(m.store.Append(ev.Raw)...)

	case UserConnected:
		m.setPresence(ev.Username, presence.Online)
		m.emit(m.store.Notice(ev.Message)...)

	case UserDisconnected:
		m.setPresence(ev.Username, presence.Offline)
		if typist, ok := m.indicator.Typist(); ok && strings.EqualFold(typist, ev.Username) {
			m.indicator.Clear()
			m.emit(view.Delta{Kind: view.TypingHidden})
		}
		m.emit(m.store.Notice(ev.Message)...)

	case TypingStarted:
		if m.typingRelevant(ev.Room) && m.indicator.Started(ev.Username) {
			m.emit(view.Delta{Kind: view.TypingShown, Username: ev.Username})
		}

	case TypingStopped:
		if m.typingRelevant(ev.Room) && m.indicator.Stopped() {
			m.emit(view.Delta{Kind: view.TypingHidden})
		}

	case OnlineCountUpdated:
		m.emit(view.Delta{Kind: view.OnlineCount, Count: ev.Count})
		m.fetchOnlineUsers(m.runCtx)

	case MentionNotification:
		m.emit(view.Delta{
			Kind:     view.MentionToast,
			Username: ev.From,
			Text:     fmt.Sprintf("You were mentioned by @%s: %s", ev.From, ev.Message),
		})

	case ReactionsUpdated:
		m.emit(m.store.ApplyReactions(ev.Update)...)

	case StatusUpdated:
		m.setPresence(ev.Username, ev.Status)

	default:
		m.log.Error().Str("type", fmt.Sprintf("%T", ev)).Msg("unhandled inbound event")
	}
}

func (m *Manager) handleState(ctx context.Context, s ConnState) {
	m.log.Info().Stringer("state", s).Msg("channel state changed")

	switch s {
	case Connected:
		m.loadDirectory(ctx)
		m.refreshOnline(ctx)
		active := m.store.Active()
		if active.IsZero() {
			active = store.RoomRef(m.defaultRoom)
		}
		// the server forgets room membership with the connection
		m.enter(ctx, active)
	case Disconnected:
		m.stopTypingTimer()
		m.typing.Reset()
		if m.indicator.Stopped() {
			m.emit(view.Delta{Kind: view.TypingHidden})
		}
	}
}

func (m *Manager) typingRelevant(room string) bool {
	active := m.store.Active()
	if active.IsZero() {
		return false
	}
	if room == "" {
		return true
	}
	return active.MatchesRoom(room)
}

func (m *Manager) setPresence(username string, status presence.Status) {
	if username == "" {
		return
	}
	if m.state.Presence.ApplyUpdate(username, status) {
		m.emit(view.Delta{Kind: view.PresenceChanged, Username: username, Status: status})
	}
}

func (m *Manager) emit(deltas ...view.Delta) {
	for _, d := range deltas {
		m.render.Apply(d)
	}
}

func (m *Manager) alert(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	m.log.Warn().Msg(text)
	m.emit(view.Delta{Kind: view.Alert, Text: text})
}

func (m *Manager) send(event string, payload any) {
	f, err := NewFrame(event, payload)
	if err != nil {
		m.log.Error().Err(err).Msg("encode frame")
		return
	}
	if !m.ch.Send(f) {
		m.log.Warn().Str("event", event).Msg("frame not queued")
	}
}

// post hands fn to the event loop from a worker goroutine.
func (m *Manager) post(ctx context.Context, fn func()) {
	select {
	case m.async <- fn:
	case <-ctx.Done():
	case <-m.done:
	}
}

// switchTo leaves the current conversation and enters ref.
func (m *Manager) switchTo(ctx context.Context, ref store.Ref) {
	prev := m.store.Active()
	if !prev.IsZero() {
		m.sendTyping(m.typing.Sent())
		if prev.Kind == store.Room {
			m.send(EventLeaveRoom, roomPayload{Room: prev.RoomId})
		}
	}
	m.enter(ctx, ref)
}

// enter clears all per-conversation transient state, joins ref and starts
// its history fetch.
func (m *Manager) enter(ctx context.Context, ref store.Ref) {
	m.stopTypingTimer()
	m.typing.Reset()
	if m.indicator.Stopped() {
		m.emit(view.Delta{Kind: view.TypingHidden})
	}

	m.emit(m.store.SwitchTo(ref)...)
	if ref.Kind == store.Room {
		m.send(EventJoinRoom, roomPayload{Room: ref.RoomId})
	}
	m.fetchHistory(ctx, ref)
}

func (m *Manager) fetchHistory(ctx context.Context, ref store.Ref) {
	go func() {
		var (
			batch []json.RawMessage
			err   error
		)
		if ref.Kind == store.Direct {
			batch, err = m.backend.DirectMessages(ctx, ref.UserId)
		} else {
			batch, err = m.backend.RoomMessages(ctx, ref.RoomId)
		}

		m.post(ctx, func() {
			if err != nil {
				m.log.Warn().Err(err).Stringer("conversation", ref).Msg("history fetch failed")
				return
			}
			m.emit(m.store.ApplyHistory(ref, batch)...)
		})
	}()
}

func (m *Manager) loadDirectory(ctx context.Context) {
	go func() {
		users, err := m.backend.ListUsers(ctx)
		m.post(ctx, func() {
			if err != nil {
				m.log.Warn().Err(err).Msg("directory fetch failed")
				return
			}
			m.state.LoadUsers(users)
			for _, u := range users {
				m.emit(view.Delta{
					Kind:     view.PresenceChanged,
					Username: u.Username,
					Status:   m.state.Presence.Status(u.Username),
				})
			}
		})
	}()
}

func (m *Manager) refreshOnline(ctx context.Context) {
	go func() {
		count, err := m.backend.OnlineCount(ctx)
		m.post(ctx, func() {
			if err != nil {
				m.log.Warn().Err(err).Msg("online count fetch failed")
				return
			}
			m.emit(view.Delta{Kind: view.OnlineCount, Count: count})
		})
	}()
	m.fetchOnlineUsers(ctx)
}

func (m *Manager) fetchOnlineUsers(ctx context.Context) {
	go func() {
		names, err := m.backend.OnlineUsers(ctx)
		m.post(ctx, func() {
			if err != nil {
				m.log.Warn().Err(err).Msg("online users fetch failed")
				return
			}
			m.emit(view.Delta{Kind: view.OnlineUsers, Usernames: names})
		})
	}()
}

func (m *Manager) typingTarget() (typingSignalPayload, bool) {
	active := m.store.Active()
	switch active.Kind {
	case store.Room:
		room := active.RoomId
		return typingSignalPayload{Room: &room}, true
	case store.Direct:
		id := active.UserId
		return typingSignalPayload{RecipientId: &id}, true
	default:
		return typingSignalPayload{}, false
	}
}

func (m *Manager) sendTyping(sig typing.Signal) {
	if sig == typing.None {
		return
	}
	if sig == typing.Stop {
		m.stopTypingTimer()
	}
	if target, ok := m.typingTarget(); ok {
		m.send(sig.Event(), target)
	}
}

func (m *Manager) armTypingTimer() {
	m.stopTypingTimer()
	deadline, ok := m.typing.Deadline()
	if !ok {
		return
	}
	m.typingTimer = m.clock.Timer(deadline.Sub(m.clock.Now()))
}

func (m *Manager) stopTypingTimer() {
	if m.typingTimer != nil {
		m.typingTimer.Stop()
		m.typingTimer = nil
	}
}

// do queues a command for the event loop. It reports false once the loop
// has exited.
func (m *Manager) do(fn func(context.Context)) bool {
	select {
	case m.cmds <- fn:
		return true
	case <-m.done:
		return false
	}
}

// SwitchTo displays ref.
func (m *Manager) SwitchTo(ref store.Ref) {
	m.do(func(ctx context.Context) { m.switchTo(ctx, ref) })
}

// OpenDirect displays the direct conversation with username.
func (m *Manager) OpenDirect(username string) {
	m.do(func(ctx context.Context) {
		id, ok := m.state.UserId(username)
		if !ok {
			m.alert("Unknown user %q", username)
			return
		}
		if id == m.state.Self.Id {
			m.alert("Cannot message yourself")
			return
		}
		m.switchTo(ctx, store.DirectRef(id, username))
	})
}

// Send composes a message for the displayed conversation.
func (m *Manager) Send(body string) {
	m.do(func(context.Context) {
		out, err := m.store.Compose(body)
		m.sendOutbound(out, err)
	})
}

// Reply answers parentId in the displayed conversation.
func (m *Manager) Reply(parentId int, body string) {
	m.do(func(context.Context) {
		out, err := m.store.Reply(parentId, body)
		m.sendOutbound(out, err)
	})
}

func (m *Manager) sendOutbound(out store.Outbound, err error) {
	if errors.Is(err, store.ErrEmptyMessage) {
		return
	}
	if err != nil {
		m.alert("Failed to send message: %v", err)
		return
	}
	m.send(out.Event(), out)
	m.sendTyping(m.typing.Sent())
}

// Input records a keystroke in the composer.
func (m *Manager) Input() {
	m.do(func(context.Context) {
		if m.store.Active().IsZero() {
			return
		}
		m.sendTyping(m.typing.Input(m.clock.Now()))
		m.armTypingTimer()
	})
}

// React toggles the local user's emoji reaction on a message.
func (m *Manager) React(messageId int, emoji string) {
	m.do(func(context.Context) {
		action, err := m.state.Reactions.ToggleFromOffer(messageId, emoji, m.state.Self.Id)
		if err != nil {
			m.alert("Cannot react: %v", err)
			return
		}
		m.send(action.Event(), reactionPayload{MessageId: messageId, Emoji: emoji})
	})
}

// Edit changes the body of one of the local user's messages.
func (m *Manager) Edit(messageId int, body string) {
	body = strings.TrimSpace(body)
	m.do(func(ctx context.Context) {
		if body == "" {
			m.alert("Message content cannot be empty")
			return
		}
		content := body
		if active := m.store.Active(); active.Kind == store.Direct {
			envelope, err := m.state.Keys.Encrypt(body, active.UserId)
			if err != nil {
				m.alert("Failed to edit message: %v", err)
				return
			}
			content = envelope
		}
		go func() {
			err := m.backend.EditMessage(ctx, messageId, content)
			m.post(ctx, func() {
				if err != nil {
					m.alert("Failed to edit message: %v", err)
					return
				}
				m.emit(m.store.Edit(messageId, body)...)
			})
		}()
	})
}

func (m *Manager) Delete(messageId int) {
	m.do(func(ctx context.Context) {
		go func() {
			err := m.backend.DeleteMessage(ctx, messageId)
			m.post(ctx, func() {
				if err != nil {
					m.alert("Failed to delete message: %v", err)
					return
				}
				m.emit(m.store.Remove(messageId)...)
			})
		}()
	})
}

func (m *Manager) CreateRoom(req api.CreateRoomRequest) {
	m.do(func(ctx context.Context) {
		go func() {
			room, err := m.backend.CreateRoom(ctx, req)
			m.post(ctx, func() {
				if err != nil {
					m.alert("Failed to create room: %v", err)
					return
				}
				m.log.Info().Int("room_id", room.Id).Str("name", room.Name).Msg("room created")
				m.emit(m.store.Notice(fmt.Sprintf("Room %q created", room.Name))...)
			})
		}()
	})
}

// DeleteRoom removes a room. Admin only. If it is displayed the default
// room is shown instead.
func (m *Manager) DeleteRoom(roomId int) {
	m.do(func(ctx context.Context) {
		go func() {
			err := m.backend.DeleteRoom(ctx, roomId)
			m.post(ctx, func() {
				if err != nil {
					m.alert("Failed to delete room: %v", err)
					return
				}
				active := m.store.Active()
				if active.Kind == store.Room && active.Same(store.RoomRef(strconv.Itoa(roomId))) {
					m.switchTo(ctx, store.RoomRef(m.defaultRoom))
				}
				m.emit(m.store.Notice(fmt.Sprintf("Room %d deleted", roomId))...)
			})
		}()
	})
}

// ClearAll wipes every message and room on the server. Admin only. The
// default room is reloaded afterwards.
func (m *Manager) ClearAll() {
	m.do(func(ctx context.Context) {
		go func() {
			err := m.backend.ClearAllChatData(ctx)
			m.post(ctx, func() {
				if err != nil {
					m.alert("Failed to clear chat data: %v", err)
					return
				}
				m.state.Reactions.Reset()
				m.switchTo(ctx, store.RoomRef(m.defaultRoom))
			})
		}()
	})
}

// LoadDirectory refetches the user directory.
func (m *Manager) LoadDirectory() {
	m.do(func(ctx context.Context) { m.loadDirectory(ctx) })
}

// Candidates lists mention completions for the token at caret.
func (m *Manager) Candidates(text string, caret int) []string {
	res := make(chan []string, 1)
	ok := m.do(func(context.Context) {
		res <- mention.FindCandidates(text, caret, m.state.Directory.Names(), m.state.Self.Username)
	})
	if !ok {
		return nil
	}

	select {
	case c := <-res:
		return c
	case <-m.done:
		return nil
	}
}
