package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreRejectsDuplicateEmail(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	if err := m.CreateUser(ctx, User{ID: "usr_1", Email: "a@example.com"}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := m.CreateUser(ctx, User{ID: "usr_2", Email: "a@example.com"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if _, err := m.GetUserByID(ctx, "usr_2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for rejected user, got %v", err)
	}
}

func TestMemoryStoreProjectMembership(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_ = m.InsertProject(ctx, Project{ID: "prj_1", TeamMembers: []string{"usr_1"}})
	_ = m.InsertProject(ctx, Project{ID: "prj_2", TeamMembers: []string{"usr_1", "usr_2"}})

	projects, err := m.ListProjectsForMember(ctx, "usr_2")
	if err != nil {
		t.Fatalf("ListProjectsForMember() error = %v", err)
	}
	if len(projects) != 1 || projects[0].ID != "prj_2" {
		t.Fatalf("unexpected projects: %+v", projects)
	}

	projects[0].TeamMembers[0] = "mutated"
	again, _ := m.ListProjectsForMember(ctx, "usr_1")
	if again[1].TeamMembers[0] != "usr_1" {
		t.Fatal("expected stored team members to be isolated from callers")
	}
}

func TestMemoryStoreExecutionLifecycle(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := m.InsertExecution(ctx, TestExecution{ID: "exec_1", TestCaseID: "tc_1", Status: "pending", StartTime: start, Logs: []string{}, Screenshots: []string{}}); err != nil {
		t.Fatalf("InsertExecution() error = %v", err)
	}

	if err := m.AppendExecutionLog(ctx, "exec_1", "boot"); err != nil {
		t.Fatalf("AppendExecutionLog() error = %v", err)
	}
	status := "completed"
	end := start.Add(time.Minute)
	if err := m.UpdateExecution(ctx, "exec_1", ExecutionPatch{Status: &status, EndTime: &end}); err != nil {
		t.Fatalf("UpdateExecution() error = %v", err)
	}

	exec, err := m.GetExecution(ctx, "exec_1")
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	if exec.Status != "completed" || exec.EndTime == nil || !exec.EndTime.Equal(end) {
		t.Fatalf("unexpected execution: %+v", exec)
	}
	if len(exec.Logs) != 1 || exec.Logs[0] != "boot" {
		t.Fatalf("unexpected logs: %#v", exec.Logs)
	}

	if err := m.UpdateExecution(ctx, "missing", ExecutionPatch{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := m.AppendExecutionLog(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreRecentExecutionsNewestFirst(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		_ = m.InsertExecution(ctx, TestExecution{ID: string(rune('a' + i)), StartTime: base.Add(time.Duration(i) * time.Minute)})
	}

	recent, err := m.RecentExecutions(ctx, 10)
	if err != nil {
		t.Fatalf("RecentExecutions() error = %v", err)
	}
	if len(recent) != 10 {
		t.Fatalf("expected 10 executions, got %d", len(recent))
	}
	if recent[0].ID != "l" || recent[9].ID != "c" {
		t.Fatalf("unexpected order: first=%s last=%s", recent[0].ID, recent[9].ID)
	}
}

func TestMemoryStoreCounts(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_ = m.InsertTestCase(ctx, TestCase{ID: "tc_1", ProjectID: "prj_1"})
	_ = m.InsertTestCase(ctx, TestCase{ID: "tc_2", ProjectID: "prj_2"})
	_ = m.InsertBug(ctx, Bug{ID: "bug_1", ProjectID: "prj_1", Status: "open"})
	_ = m.InsertBug(ctx, Bug{ID: "bug_2", ProjectID: "prj_1", Status: "closed"})
	_ = m.InsertBug(ctx, Bug{ID: "bug_3", ProjectID: "prj_3", Status: "open"})

	if n, _ := m.CountTestCasesInProjects(ctx, []string{"prj_1"}); n != 1 {
		t.Fatalf("expected 1 test case, got %d", n)
	}
	if n, _ := m.CountBugsInProjects(ctx, []string{"prj_1"}, ""); n != 2 {
		t.Fatalf("expected 2 bugs, got %d", n)
	}
	if n, _ := m.CountBugsInProjects(ctx, []string{"prj_1"}, "open"); n != 1 {
		t.Fatalf("expected 1 open bug, got %d", n)
	}
	if n, _ := m.CountBugsInProjects(ctx, nil, "open"); n != 0 {
		t.Fatalf("expected 0 bugs for no projects, got %d", n)
	}
}
