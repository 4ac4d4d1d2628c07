package session

import (
	"github.com/stretchr/testify/mock"
)

// MockChannel records sent frames through testify and lets tests push
// inbound frames and state changes.
type MockChannel struct {
	mock.Mock
	FrameC chan Frame
	StateC chan ConnState
}

func NewMockChannel() *MockChannel {
	return &MockChannel{
		FrameC: make(chan Frame, 64),
		StateC: make(chan ConnState, 4),
	}
}

func (m *MockChannel) Frames() <-chan Frame {
	return m.FrameC
}

func (m *MockChannel) States() <-chan ConnState {
	return m.StateC
}

func (m *MockChannel) Send(f Frame) bool {
	args := m.Called(f)
	return args.Bool(0)
}
