// Package term is a line-oriented terminal front end for the engine.
package term

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/npezzotti/go-chatsync/internal/reactions"
	"github.com/npezzotti/go-chatsync/internal/view"
)

var (
	accent = lipgloss.Color("#7C3AED")
	muted  = lipgloss.Color("#6B7280")
	warn   = lipgloss.Color("#F59E0B")
	danger = lipgloss.Color("#EF4444")
)

type styles struct {
	header    lipgloss.Style
	author    lipgloss.Style
	own       lipgloss.Style
	highlight lipgloss.Style
	dim       lipgloss.Style
	toast     lipgloss.Style
	alert     lipgloss.Style
}

// Renderer prints deltas as lines. Styling degrades to plain text when
// out is not a terminal.
type Renderer struct {
	mu  sync.Mutex
	out io.Writer
	st  styles
}

func NewRenderer(out io.Writer) *Renderer {
	lr := lipgloss.NewRenderer(out)
	return &Renderer{
		out: out,
		st: styles{
			header:    lr.NewStyle().Bold(true).Foreground(accent),
			author:    lr.NewStyle().Bold(true),
			own:       lr.NewStyle().Bold(true).Foreground(accent),
			highlight: lr.NewStyle().Foreground(warn),
			dim:       lr.NewStyle().Foreground(muted),
			toast:     lr.NewStyle().Bold(true).Foreground(warn),
			alert:     lr.NewStyle().Bold(true).Foreground(danger),
		},
	}
}

func (r *Renderer) Apply(d view.Delta) {
	line, ok := r.format(d)
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, line)
}

func (r *Renderer) format(d view.Delta) (string, bool) {
	switch d.Kind {
	case view.Cleared:
		return r.st.header.Render("── " + clean(d.Conversation) + " ──"), true
	case view.Appended:
		return r.message(d.Message, false), d.Message != nil
	case view.Replaced:
		return r.message(d.Message, true), d.Message != nil
	case view.Removed:
		return r.st.dim.Render(fmt.Sprintf("message #%d deleted", d.MessageId)), true
	case view.SystemNotice:
		return r.st.dim.Render("* " + clean(d.Text)), true
	case view.ReactionsChanged:
		return r.st.dim.Render(fmt.Sprintf("#%d reactions: %s", d.MessageId, reactionLine(d.Reactions))), true
	case view.TypingShown:
		return r.st.dim.Render(clean(d.Username) + " is typing…"), true
	case view.PresenceChanged:
		return r.st.dim.Render(fmt.Sprintf("%s %s is %s", d.Status.Glyph(), clean(d.Username), d.Status.Title())), true
	case view.OnlineCount:
		return r.st.dim.Render(fmt.Sprintf("%d online", d.Count)), true
	case view.OnlineUsers:
		return r.st.dim.Render("online: " + clean(strings.Join(d.Usernames, ", "))), true
	case view.MentionToast:
		return r.st.toast.Render("! " + clean(d.Text)), true
	case view.Alert:
		return r.st.alert.Render("error: " + clean(d.Text)), true
	default:
		// typing_hidden has nothing to erase in line mode
		return "", false
	}
}

func (r *Renderer) message(m *view.Message, edited bool) string {
	if m == nil {
		return ""
	}

	var b strings.Builder
	if m.Reply != nil {
		if m.Reply.Known {
			b.WriteString(r.st.dim.Render(fmt.Sprintf("  ↪ @%s: %s", clean(m.Reply.Author), clean(m.Reply.Preview))))
		} else {
			b.WriteString(r.st.dim.Render("  ↪ original message unavailable"))
		}
		b.WriteString("\n")
	}

	author := r.st.author
	if m.Own {
		author = r.st.own
	}
	name := clean(m.Author)
	if m.IsAdmin {
		name += " (admin)"
	}
	fmt.Fprintf(&b, "%s #%d %s: ", r.st.dim.Render(m.Timestamp), m.Id, author.Render(name))

	body := clean(m.Body)
	if m.Encrypted && !m.Undecryptable {
		body = "🔒 " + body
	}
	if m.Highlighted {
		body = r.st.highlight.Render(body)
	}
	b.WriteString(body)

	if edited {
		b.WriteString(r.st.dim.Render(" (edited)"))
	}
	for _, a := range m.Attachments {
		fmt.Fprintf(&b, " [%s]", clean(a.OriginalFilename))
	}
	if len(m.Reactions) > 0 {
		b.WriteString("  " + reactionLine(m.Reactions))
	}

	return b.String()
}

// clean drops escape sequences and other control characters from text
// that came off the wire, so it cannot drive the terminal.
func clean(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, ansi.Strip(s))
}

func reactionLine(rs []reactions.Rendered) string {
	if len(rs) == 0 {
		return "none"
	}

	parts := make([]string, 0, len(rs))
	for _, rr := range rs {
		p := fmt.Sprintf("%s %d", clean(rr.Emoji), rr.Count)
		if rr.Active {
			p += "*"
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, "  ")
}
