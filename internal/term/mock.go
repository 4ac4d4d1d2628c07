package term

import (
	"github.com/npezzotti/go-chatsync/internal/api"
	"github.com/npezzotti/go-chatsync/internal/store"
	"github.com/stretchr/testify/mock"
)

type MockController struct {
	mock.Mock
}

func (m *MockController) Input() { m.Called() }
func (m *MockController) SwitchTo(ref store.Ref) { m.Called(ref) }
func (m *MockController) OpenDirect(username string) { m.Called(username) }
func (m *MockController) Send(body string) { m.Called(body) }
func (m *MockController) Reply(parentId int, body string) { m.Called(parentId, body) }
func (m *MockController) React(messageId int, emoji string) { m.Called(messageId, emoji) }
func (m *MockController) Edit(messageId int, body string) { m.Called(messageId, body) }
func (m *MockController) Delete(messageId int) { m.Called(messageId) }
func (m *MockController) CreateRoom(req api.CreateRoomRequest) { m.Called(req) }
func (m *MockController) DeleteRoom(roomId int) { m.Called(roomId) }
func (m *MockController) ClearAll() { m.Called() }
func (m *MockController) LoadDirectory() { m.Called() }

func (m *MockController) Candidates(text string, caret int) []string {
	args := m.Called(text, caret)
	if v := args.Get(0); v != nil {
		return v.([]string)
	}
	return nil
}
