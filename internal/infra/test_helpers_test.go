package infra

import (
	"errors"
	"strings"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// mockProcessManager is a test double for ProcessManager
type mockProcessManager struct {
	running map[int]string
	findErr error
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{running: make(map[int]string)}
}

func (m *mockProcessManager) FindByName(pattern string) ([]int, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	var pids []int
	for pid, name := range m.running {
		if strings.Contains(strings.ToLower(name), strings.ToLower(pattern)) {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

func (m *mockProcessManager) SetRunning(pid int, name string) {
	m.running[pid] = name
}

var errLookup = errors.New("lookup failed")

// Ensure mockProcessManager implements domain.ProcessManager
var _ domain.ProcessManager = (*mockProcessManager)(nil)
