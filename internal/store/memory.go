package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps every collection in process memory. Values are copied on
// the way in and out so callers never share slices with the store.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]User
	projects   []Project
	testCases  []TestCase
	executions []TestExecution
	bugs       []Bug
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: map[string]User{}}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) CreateUser(_ context.Context, user User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == user.Email {
			return ErrDuplicate
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return User{}, ErrNotFound
}

func (m *MemoryStore) GetUserByID(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (m *MemoryStore) InsertProject(_ context.Context, project Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	project.TeamMembers = cloneStrings(project.TeamMembers)
	m.projects = append(m.projects, project)
	return nil
}

func (m *MemoryStore) ListProjectsForMember(_ context.Context, userID string) ([]Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := []Project{}
	for _, project := range m.projects {
		if len(items) == ListLimit {
			break
		}
		for _, member := range project.TeamMembers {
			if member == userID {
				project.TeamMembers = cloneStrings(project.TeamMembers)
				items = append(items, project)
				break
			}
		}
	}
	return items, nil
}

func (m *MemoryStore) InsertTestCase(_ context.Context, tc TestCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc.Steps = cloneStrings(tc.Steps)
	m.testCases = append(m.testCases, tc)
	return nil
}

func (m *MemoryStore) GetTestCase(_ context.Context, id string) (TestCase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, tc := range m.testCases {
		if tc.ID == id {
			tc.Steps = cloneStrings(tc.Steps)
			return tc, nil
		}
	}
	return TestCase{}, ErrNotFound
}

func (m *MemoryStore) ListTestCases(_ context.Context, projectID string) ([]TestCase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := []TestCase{}
	for _, tc := range m.testCases {
		if len(items) == ListLimit {
			break
		}
		if projectID != "" && tc.ProjectID != projectID {
			continue
		}
		tc.Steps = cloneStrings(tc.Steps)
		items = append(items, tc)
	}
	return items, nil
}

func (m *MemoryStore) CountTestCasesInProjects(_ context.Context, projectIDs []string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := stringSet(projectIDs)
	count := 0
	for _, tc := range m.testCases {
		if _, ok := ids[tc.ProjectID]; ok {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) InsertExecution(_ context.Context, exec TestExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions = append(m.executions, copyExecution(exec))
	return nil
}

func (m *MemoryStore) GetExecution(_ context.Context, id string) (TestExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.executionIndex(id); i >= 0 {
		return copyExecution(m.executions[i]), nil
	}
	return TestExecution{}, ErrNotFound
}

func (m *MemoryStore) ListExecutions(_ context.Context, testCaseID string) ([]TestExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := []TestExecution{}
	for _, exec := range m.executions {
		if len(items) == ListLimit {
			break
		}
		if testCaseID != "" && exec.TestCaseID != testCaseID {
			continue
		}
		items = append(items, copyExecution(exec))
	}
	return items, nil
}

func (m *MemoryStore) RecentExecutions(_ context.Context, limit int) ([]TestExecution, error) {
	m.mu.RLock()
	items := make([]TestExecution, 0, len(m.executions))
	for _, exec := range m.executions {
		items = append(items, copyExecution(exec))
	}
	m.mu.RUnlock()

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].StartTime.After(items[j].StartTime)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *MemoryStore) CountExecutions(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.executions), nil
}

func (m *MemoryStore) UpdateExecution(_ context.Context, id string, patch ExecutionPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.executionIndex(id)
	if i < 0 {
		return ErrNotFound
	}
	exec := &m.executions[i]
	if patch.Status != nil {
		exec.Status = *patch.Status
	}
	if patch.Logs != nil {
		exec.Logs = cloneStrings(patch.Logs)
	}
	if patch.Result != nil {
		result := *patch.Result
		exec.Result = &result
	}
	if patch.EndTime != nil {
		end := *patch.EndTime
		exec.EndTime = &end
	}
	return nil
}

func (m *MemoryStore) AppendExecutionLog(_ context.Context, id, line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.executionIndex(id)
	if i < 0 {
		return ErrNotFound
	}
	m.executions[i].Logs = append(m.executions[i].Logs, line)
	return nil
}

func (m *MemoryStore) AppendExecutionScreenshot(_ context.Context, id, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.executionIndex(id)
	if i < 0 {
		return ErrNotFound
	}
	m.executions[i].Screenshots = append(m.executions[i].Screenshots, ref)
	return nil
}

func (m *MemoryStore) InsertBug(_ context.Context, bug Bug) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bugs = append(m.bugs, bug)
	return nil
}

func (m *MemoryStore) ListBugs(_ context.Context, projectID string) ([]Bug, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := []Bug{}
	for _, bug := range m.bugs {
		if len(items) == ListLimit {
			break
		}
		if projectID != "" && bug.ProjectID != projectID {
			continue
		}
		items = append(items, bug)
	}
	return items, nil
}

func (m *MemoryStore) CountBugsInProjects(_ context.Context, projectIDs []string, status string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := stringSet(projectIDs)
	count := 0
	for _, bug := range m.bugs {
		if _, ok := ids[bug.ProjectID]; !ok {
			continue
		}
		if status != "" && bug.Status != status {
			continue
		}
		count++
	}
	return count, nil
}

// executionIndex must be called with mu held.
func (m *MemoryStore) executionIndex(id string) int {
	for i := range m.executions {
		if m.executions[i].ID == id {
			return i
		}
	}
	return -1
}

func copyExecution(exec TestExecution) TestExecution {
	exec.Logs = cloneStrings(exec.Logs)
	exec.Screenshots = cloneStrings(exec.Screenshots)
	if exec.EndTime != nil {
		end := *exec.EndTime
		exec.EndTime = &end
	}
	if exec.Result != nil {
		result := *exec.Result
		exec.Result = &result
	}
	return exec
}

func stringSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
