package api

import (
	"context"
	"encoding/json"

	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockClient struct {
	mock.Mock
}

func (m *MockClient) ListUsers(ctx context.Context) ([]types.User, error) {
	args := m.Called(ctx)
	return args.Get(0).([]types.User), args.Error(1)
}

func (m *MockClient) RoomMessages(ctx context.Context, roomId string) ([]json.RawMessage, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).([]json.RawMessage), args.Error(1)
}

func (m *MockClient) DirectMessages(ctx context.Context, userId int) ([]json.RawMessage, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).([]json.RawMessage), args.Error(1)
}

func (m *MockClient) OnlineUsers(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockClient) OnlineCount(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockClient) CreateRoom(ctx context.Context, req CreateRoomRequest) (types.Room, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(types.Room), args.Error(1)
}

func (m *MockClient) DeleteRoom(ctx context.Context, roomId int) error {
	return m.Called(ctx, roomId).Error(0)
}

func (m *MockClient) EditMessage(ctx context.Context, messageId int, content string) error {
	return m.Called(ctx, messageId, content).Error(0)
}

func (m *MockClient) DeleteMessage(ctx context.Context, messageId int) error {
	return m.Called(ctx, messageId).Error(0)
}

func (m *MockClient) ClearAllChatData(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
