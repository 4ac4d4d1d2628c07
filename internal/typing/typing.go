// Package typing debounces local keystrokes into start/stop pulses and
// tracks the single remote typing indicator.
package typing

import "time"

const DebounceWindow = 1000 * time.Millisecond

type Signal int

const (
	None Signal = iota
	Start
	Stop
)

func (s Signal) String() string {
	switch s {
	case Start:
		return "start"
	case Stop:
		return "stop"
	default:
		return "none"
	}
}

// Event returns the channel event name for the signal.
func (s Signal) Event() string {
	switch s {
	case Start:
		return "start_typing"
	case Stop:
		return "stop_typing"
	default:
		return ""
	}
}

type State int

const (
	Idle State = iota
	Active
)

// Coordinator is the local typing state machine. It holds no timer; the
// owner arms one for Deadline and calls Expire when it fires. Time is
// passed in so tests can drive it with a logical clock.
type Coordinator struct {
	window   time.Duration
	state    State
	deadline time.Time
}

func NewCoordinator(window time.Duration) *Coordinator {
	if window <= 0 {
		window = DebounceWindow
	}
	return &Coordinator{window: window}
}

func (c *Coordinator) State() State {
	return c.state
}

// Deadline returns when the current burst ends if no further input
// arrives. ok is false while idle.
func (c *Coordinator) Deadline() (time.Time, bool) {
	if c.state != Active {
		return time.Time{}, false
	}
	return c.deadline, true
}

// Input records a keystroke at now. Only the first input of a burst
// returns Start.
func (c *Coordinator) Input(now time.Time) Signal {
	c.deadline = now.Add(c.window)
	if c.state == Active {
		return None
	}
	c.state = Active
	return Start
}

// Expire ends the burst if its deadline has passed by now. Early or
// duplicate calls return None.
func (c *Coordinator) Expire(now time.Time) Signal {
	if c.state != Active || now.Before(c.deadline) {
		return None
	}
	return c.stop()
}

// Sent ends the burst immediately because a message was sent.
func (c *Coordinator) Sent() Signal {
	if c.state != Active {
		return None
	}
	return c.stop()
}

// Reset drops any burst without emitting a signal.
func (c *Coordinator) Reset() {
	c.state = Idle
	c.deadline = time.Time{}
}

func (c *Coordinator) stop() Signal {
	c.Reset()
	return Stop
}

// Indicator is the remote side: one slot holding the most recent typist.
type Indicator struct {
	self   string
	typist string
}

func NewIndicator(self string) *Indicator {
	return &Indicator{self: self}
}

// Started sets username as the active typist. It reports whether the
// displayed indicator changed.
func (i *Indicator) Started(username string) bool {
	if username == "" || username == i.self || username == i.typist {
		return false
	}
	i.typist = username
	return true
}

// Stopped clears the indicator regardless of who is typing.
func (i *Indicator) Stopped() bool {
	if i.typist == "" {
		return false
	}
	i.typist = ""
	return true
}

func (i *Indicator) Typist() (string, bool) {
	return i.typist, i.typist != ""
}

func (i *Indicator) Clear() {
	i.typist = ""
}
