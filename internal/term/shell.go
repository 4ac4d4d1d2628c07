package term

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/npezzotti/go-chatsync/internal/api"
	"github.com/npezzotti/go-chatsync/internal/mention"
	"github.com/npezzotti/go-chatsync/internal/reactions"
	"github.com/npezzotti/go-chatsync/internal/store"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("usage")
)

// Controller is the engine surface the shell drives.
type Controller interface {
	Input()
	SwitchTo(ref store.Ref)
	OpenDirect(username string)
	Send(body string)
	Reply(parentId int, body string)
	React(messageId int, emoji string)
	Edit(messageId int, body string)
	Delete(messageId int)
	CreateRoom(req api.CreateRoomRequest)
	DeleteRoom(roomId int)
	ClearAll()
	LoadDirectory()
	Candidates(text string, caret int) []string
}

type command struct {
	usage string
	min   int
	run   func(s *Shell, args []string, rest string) error
}

var commands = map[string]command{
	"join": {usage: "/join <room>", min: 1, run: func(s *Shell, args []string, _ string) error {
		s.c.SwitchTo(store.RoomRef(args[0]))
		return nil
	}},
	"dm": {usage: "/dm <username>", min: 1, run: func(s *Shell, args []string, _ string) error {
		s.c.OpenDirect(strings.TrimPrefix(args[0], "@"))
		return nil
	}},
	"reply": {usage: "/reply <message id> <text>", min: 2, run: func(s *Shell, args []string, rest string) error {
		id, err := messageId(args[0])
		if err != nil {
			return err
		}
		s.c.Reply(id, rest)
		return nil
	}},
	"react": {usage: "/react <message id> <emoji>", min: 2, run: func(s *Shell, args []string, _ string) error {
		id, err := messageId(args[0])
		if err != nil {
			return err
		}
		s.c.React(id, args[1])
		return nil
	}},
	"edit": {usage: "/edit <message id> <text>", min: 2, run: func(s *Shell, args []string, rest string) error {
		id, err := messageId(args[0])
		if err != nil {
			return err
		}
		s.c.Edit(id, rest)
		return nil
	}},
	"delete": {usage: "/delete <message id>", min: 1, run: func(s *Shell, args []string, _ string) error {
		id, err := messageId(args[0])
		if err != nil {
			return err
		}
		s.c.Delete(id)
		return nil
	}},
	"createroom": {usage: "/createroom [-private] <name> [description]", min: 1, run: func(s *Shell, args []string, _ string) error {
		req := api.CreateRoomRequest{}
		if args[0] == "-private" {
			req.IsPrivate = true
			args = args[1:]
		}
		if len(args) == 0 {
			return ErrUsage
		}
		req.Name = args[0]
		req.Description = strings.Join(args[1:], " ")
		s.c.CreateRoom(req)
		return nil
	}},
	"deleteroom": {usage: "/deleteroom <room id>", min: 1, run: func(s *Shell, args []string, _ string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("room id %q: %w", args[0], ErrUsage)
		}
		s.c.DeleteRoom(id)
		return nil
	}},
	"clearall": {usage: "/clearall", run: func(s *Shell, _ []string, _ string) error {
		s.c.ClearAll()
		return nil
	}},
	"who": {usage: "/who", run: func(s *Shell, _ []string, _ string) error {
		s.c.LoadDirectory()
		return nil
	}},
	"complete": {usage: "/complete <text ending in @partial>", min: 1, run: func(s *Shell, args []string, _ string) error {
		return s.complete(strings.Join(args, " "))
	}},
	"reactions": {usage: "/reactions", run: func(s *Shell, _ []string, _ string) error {
		fmt.Fprintln(s.out, strings.Join(reactions.Offer(), " "))
		return nil
	}},
}

// Shell turns input lines into engine commands. Lines starting with "/"
// are commands; anything else is sent to the active conversation.
type Shell struct {
	c   Controller
	out io.Writer
}

func NewShell(c Controller, out io.Writer) *Shell {
	return &Shell{c: c, out: out}
}

// Exec handles one input line.
func (s *Shell) Exec(line string) error {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "/") {
		if strings.TrimSpace(line) != "" {
			// line mode only sees finished lines; report the typing that
			// produced this one before sending it
			s.c.Input()
			s.c.Send(line)
		}
		return nil
	}

	name, rest := cutSpace(line[1:])
	name = strings.ToLower(name)
	if name == "help" {
		s.help()
		return nil
	}
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("%w: /%s", ErrUnknownCommand, name)
	}

	args := strings.Fields(rest)
	if len(args) < cmd.min {
		return fmt.Errorf("%w: %s", ErrUsage, cmd.usage)
	}
	// rest is the free text after the first argument
	if len(args) > 1 {
		_, rest = cutSpace(strings.TrimLeftFunc(rest, unicode.IsSpace))
	}

	if err := cmd.run(s, args, strings.TrimSpace(rest)); err != nil {
		if errors.Is(err, ErrUsage) {
			return fmt.Errorf("%w: %s", err, cmd.usage)
		}
		return err
	}
	return nil
}

// Run reads lines from in until it is exhausted or ctx is done.
func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.Exec(scanner.Text()); err != nil {
			fmt.Fprintln(s.out, err)
		}
	}
	return scanner.Err()
}

func (s *Shell) complete(text string) error {
	caret := utf8.RuneCountInString(text)
	candidates := s.c.Candidates(text, caret)
	switch len(candidates) {
	case 0:
		fmt.Fprintln(s.out, "no matches")
	case 1:
		completed, _ := mention.Insert(text, caret, candidates[0])
		fmt.Fprintln(s.out, completed)
	default:
		fmt.Fprintln(s.out, strings.Join(candidates, " "))
	}
	return nil
}

func (s *Shell) help() {
	names := []string{"join", "dm", "reply", "react", "reactions", "edit", "delete",
		"createroom", "deleteroom", "clearall", "who", "complete"}
	for _, n := range names {
		fmt.Fprintln(s.out, "  "+commands[n].usage)
	}
	fmt.Fprintln(s.out, "  /help")
}

// cutSpace splits s around its first whitespace rune.
func cutSpace(s string) (before, after string) {
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	_, size := utf8.DecodeRuneInString(s[i:])
	return s[:i], s[i+size:]
}

func messageId(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimPrefix(s, "#"))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("message id %q: %w", s, ErrUsage)
	}
	return id, nil
}
