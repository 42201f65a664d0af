package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, name, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.Email, user.PasswordHash, user.Name, user.Role, user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, email, password_hash, name, role, created_at FROM users WHERE email=$1`, email)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, email, password_hash, name, role, created_at FROM users WHERE id=$1`, id)
	return scanUser(row)
}

func scanUser(row rowScanner) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Name, &user.Role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("read user: %w", err)
	}
	return user, nil
}

// Projects

func (s *PostgresStore) InsertProject(ctx context.Context, project Project) error {
	members, err := json.Marshal(nonNilStrings(project.TeamMembers))
	if err != nil {
		return fmt.Errorf("encode team members: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, team_members, created_by, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6)
	`, project.ID, project.Name, project.Description, string(members), project.CreatedBy, project.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListProjectsForMember(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, team_members, created_by, created_at
		FROM projects
		WHERE team_members @> jsonb_build_array($1::text)
		ORDER BY created_at ASC
		LIMIT $2
	`, userID, ListLimit)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := []Project{}
	for rows.Next() {
		var (
			project Project
			members []byte
		)
		if err := rows.Scan(&project.ID, &project.Name, &project.Description, &members, &project.CreatedBy, &project.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		if project.TeamMembers, err = decodeStrings(members); err != nil {
			return nil, err
		}
		items = append(items, project)
	}
	return items, rows.Err()
}

// Test cases

const testCaseColumns = `id, project_id, name, description, type, steps, expected_result, priority, status, created_by, created_at, updated_at`

func (s *PostgresStore) InsertTestCase(ctx context.Context, tc TestCase) error {
	steps, err := json.Marshal(nonNilStrings(tc.Steps))
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO test_cases (`+testCaseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10, $11, $12)
	`, tc.ID, tc.ProjectID, tc.Name, tc.Description, tc.Type, string(steps), tc.ExpectedResult, tc.Priority, tc.Status, tc.CreatedBy, tc.CreatedAt, tc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert test case: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTestCase(ctx context.Context, id string) (TestCase, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+testCaseColumns+` FROM test_cases WHERE id=$1`, id)
	tc, err := scanTestCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TestCase{}, ErrNotFound
	}
	return tc, err
}

// ListTestCases returns test cases, filtered by project when projectID is set.
func (s *PostgresStore) ListTestCases(ctx context.Context, projectID string) ([]TestCase, error) {
	query := `SELECT ` + testCaseColumns + ` FROM test_cases`
	args := []any{}
	if projectID != "" {
		query += ` WHERE project_id=$1`
		args = append(args, projectID)
	}
	args = append(args, ListLimit)
	query += fmt.Sprintf(` ORDER BY created_at ASC LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list test cases: %w", err)
	}
	defer rows.Close()

	items := []TestCase{}
	for rows.Next() {
		tc, err := scanTestCase(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, tc)
	}
	return items, rows.Err()
}

func scanTestCase(row rowScanner) (TestCase, error) {
	var (
		tc    TestCase
		steps []byte
	)
	err := row.Scan(&tc.ID, &tc.ProjectID, &tc.Name, &tc.Description, &tc.Type, &steps, &tc.ExpectedResult, &tc.Priority, &tc.Status, &tc.CreatedBy, &tc.CreatedAt, &tc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return TestCase{}, err
	}
	if err != nil {
		return TestCase{}, fmt.Errorf("scan test case: %w", err)
	}
	if tc.Steps, err = decodeStrings(steps); err != nil {
		return TestCase{}, err
	}
	return tc, nil
}

func (s *PostgresStore) CountTestCasesInProjects(ctx context.Context, projectIDs []string) (int, error) {
	if len(projectIDs) == 0 {
		return 0, nil
	}
	placeholders, args := inList(1, projectIDs)
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM test_cases WHERE project_id IN (`+placeholders+`)`, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count test cases: %w", err)
	}
	return count, nil
}

// Test executions

const executionColumns = `id, test_case_id, status, start_time, end_time, logs, screenshots, executed_by, result`

func (s *PostgresStore) InsertExecution(ctx context.Context, exec TestExecution) error {
	logs, err := json.Marshal(nonNilStrings(exec.Logs))
	if err != nil {
		return fmt.Errorf("encode logs: %w", err)
	}
	screenshots, err := json.Marshal(nonNilStrings(exec.Screenshots))
	if err != nil {
		return fmt.Errorf("encode screenshots: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO test_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, $9)
	`, exec.ID, exec.TestCaseID, exec.Status, exec.StartTime, exec.EndTime, string(logs), string(screenshots), exec.ExecutedBy, exec.Result)
	if err != nil {
		return fmt.Errorf("insert test execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetExecution(ctx context.Context, id string) (TestExecution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM test_executions WHERE id=$1`, id)
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TestExecution{}, ErrNotFound
	}
	return exec, err
}

// ListExecutions returns executions, filtered by test case when testCaseID is set.
func (s *PostgresStore) ListExecutions(ctx context.Context, testCaseID string) ([]TestExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM test_executions`
	args := []any{}
	if testCaseID != "" {
		query += ` WHERE test_case_id=$1`
		args = append(args, testCaseID)
	}
	args = append(args, ListLimit)
	query += fmt.Sprintf(` ORDER BY start_time ASC LIMIT $%d`, len(args))
	return s.queryExecutions(ctx, query, args...)
}

func (s *PostgresStore) RecentExecutions(ctx context.Context, limit int) ([]TestExecution, error) {
	return s.queryExecutions(ctx, `SELECT `+executionColumns+` FROM test_executions ORDER BY start_time DESC LIMIT $1`, limit)
}

func (s *PostgresStore) queryExecutions(ctx context.Context, query string, args ...any) ([]TestExecution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list test executions: %w", err)
	}
	defer rows.Close()

	items := []TestExecution{}
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, exec)
	}
	return items, rows.Err()
}

func (s *PostgresStore) CountExecutions(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM test_executions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count test executions: %w", err)
	}
	return count, nil
}

// UpdateExecution applies the non-nil fields of patch.
func (s *PostgresStore) UpdateExecution(ctx context.Context, id string, patch ExecutionPatch) error {
	if patch.Empty() {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM test_executions WHERE id=$1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check test execution: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return nil
	}

	args := []any{id}
	var sets []string
	if patch.Status != nil {
		args = append(args, *patch.Status)
		sets = append(sets, fmt.Sprintf("status=$%d", len(args)))
	}
	if patch.Logs != nil {
		logs, err := json.Marshal(patch.Logs)
		if err != nil {
			return fmt.Errorf("encode logs: %w", err)
		}
		args = append(args, string(logs))
		sets = append(sets, fmt.Sprintf("logs=$%d::jsonb", len(args)))
	}
	if patch.Result != nil {
		args = append(args, *patch.Result)
		sets = append(sets, fmt.Sprintf("result=$%d", len(args)))
	}
	if patch.EndTime != nil {
		args = append(args, *patch.EndTime)
		sets = append(sets, fmt.Sprintf("end_time=$%d", len(args)))
	}

	result, err := s.db.ExecContext(ctx, `UPDATE test_executions SET `+strings.Join(sets, ", ")+` WHERE id=$1`, args...)
	if err != nil {
		return fmt.Errorf("update test execution: %w", err)
	}
	return requireRow(result)
}

// AppendExecutionLog pushes one line onto the execution's log array in place.
func (s *PostgresStore) AppendExecutionLog(ctx context.Context, id, line string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE test_executions SET logs = logs || jsonb_build_array($2::text) WHERE id=$1`, id, line)
	if err != nil {
		return fmt.Errorf("append execution log: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) AppendExecutionScreenshot(ctx context.Context, id, ref string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE test_executions SET screenshots = screenshots || jsonb_build_array($2::text) WHERE id=$1`, id, ref)
	if err != nil {
		return fmt.Errorf("append execution screenshot: %w", err)
	}
	return requireRow(result)
}

func scanExecution(row rowScanner) (TestExecution, error) {
	var (
		exec        TestExecution
		endTime     sql.NullTime
		result      sql.NullString
		logs        []byte
		screenshots []byte
	)
	err := row.Scan(&exec.ID, &exec.TestCaseID, &exec.Status, &exec.StartTime, &endTime, &logs, &screenshots, &exec.ExecutedBy, &result)
	if errors.Is(err, sql.ErrNoRows) {
		return TestExecution{}, err
	}
	if err != nil {
		return TestExecution{}, fmt.Errorf("scan test execution: %w", err)
	}
	if endTime.Valid {
		t := endTime.Time
		exec.EndTime = &t
	}
	if result.Valid {
		r := result.String
		exec.Result = &r
	}
	if exec.Logs, err = decodeStrings(logs); err != nil {
		return TestExecution{}, err
	}
	if exec.Screenshots, err = decodeStrings(screenshots); err != nil {
		return TestExecution{}, err
	}
	return exec, nil
}

// Bugs

const bugColumns = `id, project_id, test_execution_id, title, description, severity, status, reported_by, assigned_to, created_at, updated_at`

func (s *PostgresStore) InsertBug(ctx context.Context, bug Bug) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bugs (`+bugColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, bug.ID, bug.ProjectID, bug.TestExecutionID, bug.Title, bug.Description, bug.Severity, bug.Status, bug.ReportedBy, bug.AssignedTo, bug.CreatedAt, bug.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert bug: %w", err)
	}
	return nil
}

// ListBugs returns bugs, filtered by project when projectID is set.
func (s *PostgresStore) ListBugs(ctx context.Context, projectID string) ([]Bug, error) {
	query := `SELECT ` + bugColumns + ` FROM bugs`
	args := []any{}
	if projectID != "" {
		query += ` WHERE project_id=$1`
		args = append(args, projectID)
	}
	args = append(args, ListLimit)
	query += fmt.Sprintf(` ORDER BY created_at ASC LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bugs: %w", err)
	}
	defer rows.Close()

	items := []Bug{}
	for rows.Next() {
		var (
			bug             Bug
			testExecutionID sql.NullString
			assignedTo      sql.NullString
		)
		if err := rows.Scan(&bug.ID, &bug.ProjectID, &testExecutionID, &bug.Title, &bug.Description, &bug.Severity, &bug.Status, &bug.ReportedBy, &assignedTo, &bug.CreatedAt, &bug.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan bug: %w", err)
		}
		bug.TestExecutionID = nullableString(testExecutionID)
		bug.AssignedTo = nullableString(assignedTo)
		items = append(items, bug)
	}
	return items, rows.Err()
}

// CountBugsInProjects counts bugs in the given projects, restricted to status when set.
func (s *PostgresStore) CountBugsInProjects(ctx context.Context, projectIDs []string, status string) (int, error) {
	if len(projectIDs) == 0 {
		return 0, nil
	}
	placeholders, args := inList(1, projectIDs)
	query := `SELECT COUNT(*) FROM bugs WHERE project_id IN (` + placeholders + `)`
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(` AND status=$%d`, len(args))
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count bugs: %w", err)
	}
	return count, nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func decodeStrings(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return []string{}, nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decode string array: %w", err)
	}
	return nonNilStrings(values), nil
}

func nullableString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

// inList renders "$start, $start+1, ..." for values.
func inList(start int, values []string) (string, []any) {
	placeholders := make([]string, len(values))
	args := make([]any, len(values))
	for i, value := range values {
		placeholders[i] = fmt.Sprintf("$%d", start+i)
		args[i] = value
	}
	return strings.Join(placeholders, ", "), args
}

// Now is the store's clock, truncated to the precision PostgreSQL keeps.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
