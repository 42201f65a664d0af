package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgSearch implements Searcher with case-insensitive substring matching in
// PostgreSQL. It is the fallback when Meilisearch is absent or unhealthy.
type PgSearch struct {
	db *sql.DB
}

func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgSearch) Healthy() bool {
	return true
}

// Search runs one UNION ALL over test_cases and bugs.
func (p *PgSearch) Search(ctx context.Context, q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, 0, nil
	}

	args := []any{"%" + escapeLike(text) + "%"}
	projectFilter := ""
	if q.FilterProjectID != "" {
		args = append(args, q.FilterProjectID)
		projectFilter = " AND project_id = $2"
	}

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultTestCase {
		subQueries = append(subQueries, `
			SELECT 'test_case'::text AS type, id, name AS title, description AS snippet, project_id, status, created_at
			FROM test_cases
			WHERE (name ILIKE $1 OR description ILIKE $1)`+projectFilter)
	}
	if q.FilterType == "" || q.FilterType == ResultBug {
		subQueries = append(subQueries, `
			SELECT 'bug'::text AS type, id, title, description AS snippet, project_id, status, created_at
			FROM bugs
			WHERE (title ILIKE $1 OR description ILIKE $1)`+projectFilter)
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}
	union := strings.Join(subQueries, " UNION ALL ")

	var total int
	if err := p.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM (%s) sub", union), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgsearch count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT type, id, title, snippet, project_id, status
		FROM (%s) sub
		ORDER BY created_at DESC
		LIMIT %d`, union, q.limit()), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgsearch query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r   Result
			typ string
		)
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgsearch scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgSearch) LoadAllRecords(ctx context.Context) ([]TestCaseRecord, []BugRecord, error) {
	tcRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, description, project_id, type, priority, status
		FROM test_cases
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load test cases: %w", err)
	}
	defer tcRows.Close()

	testCases := make([]TestCaseRecord, 0)
	for tcRows.Next() {
		var r TestCaseRecord
		if err := tcRows.Scan(&r.ID, &r.Name, &r.Description, &r.ProjectID, &r.Type, &r.Priority, &r.Status); err != nil {
			return nil, nil, fmt.Errorf("scan test case: %w", err)
		}
		testCases = append(testCases, r)
	}
	if err := tcRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate test cases: %w", err)
	}

	bugRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, project_id, severity, status
		FROM bugs
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load bugs: %w", err)
	}
	defer bugRows.Close()

	bugs := make([]BugRecord, 0)
	for bugRows.Next() {
		var r BugRecord
		if err := bugRows.Scan(&r.ID, &r.Title, &r.Description, &r.ProjectID, &r.Severity, &r.Status); err != nil {
			return nil, nil, fmt.Errorf("scan bug: %w", err)
		}
		bugs = append(bugs, r)
	}
	if err := bugRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate bugs: %w", err)
	}

	return testCases, bugs, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
