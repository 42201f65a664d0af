package search

import "context"

// DefaultLimit caps results when the query does not set a limit.
const DefaultLimit = 20

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultTestCase ResultType = "test_case"
	ResultBug      ResultType = "bug"
)

// ParseResultType accepts "", "test_case" and "bug".
func ParseResultType(raw string) (ResultType, bool) {
	switch ResultType(raw) {
	case "", ResultTestCase, ResultBug:
		return ResultType(raw), true
	default:
		return "", false
	}
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	ProjectID string     `json:"project_id"`
	Status    string     `json:"status"`
}

// Query describes a search request.
type Query struct {
	Text            string
	FilterType      ResultType // empty = all types
	FilterProjectID string
	Limit           int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexTestCases(records []TestCaseRecord) error
	IndexBugs(records []BugRecord) error
}

// Backend is a search engine that owns its own index.
type Backend interface {
	Searcher
	Indexer
}

// RecordLoader reads every searchable record for a full reindex.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]TestCaseRecord, []BugRecord, error)
}

// TestCaseRecord is the data we index for a test case.
type TestCaseRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ProjectID   string `json:"project_id"`
	Type        string `json:"type"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
}

// BugRecord is the data we index for a bug.
type BugRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ProjectID   string `json:"project_id"`
	Severity    string `json:"severity"`
	Status      string `json:"status"`
}
