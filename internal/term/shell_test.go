package term

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/npezzotti/go-chatsync/internal/api"
	"github.com/npezzotti/go-chatsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShell_Exec(t *testing.T) {
	tcases := []struct {
		name  string
		line  string
		setup func(c *MockController)
	}{
		{
			name:  "plain text is sent",
			line:  "hello there",
			setup: func(c *MockController) {
				c.On("Input").Once()
				c.On("Send", "hello there")
			},
		},
		{
			name:  "blank line is ignored",
			line:  "   ",
			setup: func(c *MockController) {},
		},
		{
			name:  "join",
			line:  "/join 4",
			setup: func(c *MockController) { c.On("SwitchTo", store.RoomRef("4")) },
		},
		{
			name:  "dm strips the at sign",
			line:  "/dm @alice",
			setup: func(c *MockController) { c.On("OpenDirect", "alice") },
		},
		{
			name:  "reply keeps spacing inside the text",
			line:  "/reply #12 sounds  good",
			setup: func(c *MockController) { c.On("Reply", 12, "sounds  good") },
		},
		{
			name:  "tab after the command name",
			line:  "/reply\t5 hi",
			setup: func(c *MockController) { c.On("Reply", 5, "hi") },
		},
		{
			name:  "tabs between arguments",
			line:  "/edit 5\t\tfixed\ttypo",
			setup: func(c *MockController) { c.On("Edit", 5, "fixed\ttypo") },
		},
		{
			name:  "react",
			line:  "/react 3 👍",
			setup: func(c *MockController) { c.On("React", 3, "👍") },
		},
		{
			name:  "edit",
			line:  "/edit 3 fixed typo",
			setup: func(c *MockController) { c.On("Edit", 3, "fixed typo") },
		},
		{
			name:  "delete",
			line:  "/delete 3",
			setup: func(c *MockController) { c.On("Delete", 3) },
		},
		{
			name: "create private room with description",
			line: "/createroom -private ops on call folks",
			setup: func(c *MockController) {
				c.On("CreateRoom", api.CreateRoomRequest{Name: "ops", Description: "on call folks", IsPrivate: true})
			},
		},
		{
			name:  "delete room",
			line:  "/deleteroom 9",
			setup: func(c *MockController) { c.On("DeleteRoom", 9) },
		},
		{
			name:  "clear all",
			line:  "/clearall",
			setup: func(c *MockController) { c.On("ClearAll") },
		},
		{
			name:  "who",
			line:  "/WHO",
			setup: func(c *MockController) { c.On("LoadDirectory") },
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			c := new(MockController)
			tc.setup(c)

			err := NewShell(c, &bytes.Buffer{}).Exec(tc.line)

			require.NoError(t, err)
			c.AssertExpectations(t)
		})
	}
}

func TestShell_ExecErrors(t *testing.T) {
	tcases := []struct {
		line string
		err  error
	}{
		{line: "/nope", err: ErrUnknownCommand},
		{line: "/reply 4", err: ErrUsage},
		{line: "/react abc 👍", err: ErrUsage},
		{line: "/delete 0", err: ErrUsage},
		{line: "/deleteroom general", err: ErrUsage},
		{line: "/createroom -private", err: ErrUsage},
		{line: "/join", err: ErrUsage},
	}

	for _, tc := range tcases {
		t.Run(tc.line, func(t *testing.T) {
			c := new(MockController)

			err := NewShell(c, &bytes.Buffer{}).Exec(tc.line)

			assert.ErrorIs(t, err, tc.err)
			c.AssertExpectations(t)
		})
	}
}

func TestShell_Complete(t *testing.T) {
	c := new(MockController)
	c.On("Candidates", "hey @al", 7).Return([]string{"alice"}).Once()
	c.On("Candidates", "hey @", 5).Return([]string{"alice", "albert"}).Once()
	c.On("Candidates", "hey @zz", 7).Return(nil).Once()
	out := &bytes.Buffer{}
	s := NewShell(c, out)

	require.NoError(t, s.Exec("/complete hey @al"))
	require.NoError(t, s.Exec("/complete hey @"))
	require.NoError(t, s.Exec("/complete hey @zz"))

	assert.Equal(t, "hey @alice \nalice albert\nno matches\n", out.String())
	c.AssertExpectations(t)
}

func TestShell_Run(t *testing.T) {
	c := new(MockController)
	c.On("Input").Twice()
	c.On("Send", "first")
	c.On("Send", "second")
	out := &bytes.Buffer{}

	err := NewShell(c, out).Run(context.Background(), strings.NewReader("first\n/bogus\nsecond\n"))

	require.NoError(t, err)
	assert.Contains(t, out.String(), "unknown command: /bogus")
	c.AssertExpectations(t)
}

func TestShell_Help(t *testing.T) {
	out := &bytes.Buffer{}
	require.NoError(t, NewShell(new(MockController), out).Exec("/help"))
	assert.Contains(t, out.String(), "/reply <message id> <text>")
	assert.Contains(t, out.String(), "/help")
}
