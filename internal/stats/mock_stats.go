package stats

import "github.com/stretchr/testify/mock"

// MockStatsUpdater records counter updates through testify.
type MockStatsUpdater struct {
	mock.Mock
}

var _ StatsProvider = (*MockStatsUpdater)(nil)

func (m *MockStatsUpdater) Incr(name string) {
	m.Called(name)
}

func (m *MockStatsUpdater) Decr(name string) {
	m.Called(name)
}

func (m *MockStatsUpdater) RegisterMetric(name string) {
	m.Called(name)
}

func (m *MockStatsUpdater) Run() {
	m.Called()
}

// Count reports how many times name was incremented.
func (m *MockStatsUpdater) Count(name string) int {
	n := 0
	for _, c := range m.Calls {
		if c.Method == "Incr" && c.Arguments.String(0) == name {
			n++
		}
	}
	return n
}
