package store

import (
	"errors"
	"time"
)

// ListLimit caps every unpaginated list query.
const ListLimit = 1000

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	TeamMembers []string  `json:"team_members"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

type TestCase struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"project_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Type           string    `json:"type"`
	Steps          []string  `json:"steps"`
	ExpectedResult string    `json:"expected_result"`
	Priority       string    `json:"priority"`
	Status         string    `json:"status"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type TestExecution struct {
	ID          string     `json:"id"`
	TestCaseID  string     `json:"test_case_id"`
	Status      string     `json:"status"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time"`
	Logs        []string   `json:"logs"`
	Screenshots []string   `json:"screenshots"`
	ExecutedBy  string     `json:"executed_by"`
	Result      *string    `json:"result"`
}

// ExecutionPatch carries the fields of a partial execution update. A nil
// field is left untouched; Logs replaces the whole list when non-nil.
type ExecutionPatch struct {
	Status  *string
	Logs    []string
	Result  *string
	EndTime *time.Time
}

// Empty reports whether the patch changes nothing.
func (p ExecutionPatch) Empty() bool {
	return p.Status == nil && p.Logs == nil && p.Result == nil && p.EndTime == nil
}

type Bug struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	TestExecutionID *string   `json:"test_execution_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Severity        string    `json:"severity"`
	Status          string    `json:"status"`
	ReportedBy      string    `json:"reported_by"`
	AssignedTo      *string   `json:"assigned_to"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func cloneStrings(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	return out
}
