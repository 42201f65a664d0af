package app

import (
	"context"
	"strings"

	"devqa/api/internal/search"
)

// storeSearcher is the search fallback used when no database-backed searcher
// is wired. It scans the store's lists and matches case-insensitively.
type storeSearcher struct {
	store DataStore
}

func newStoreSearcher(ds DataStore) *storeSearcher {
	return &storeSearcher{store: ds}
}

func (s *storeSearcher) Healthy() bool { return true }

func (s *storeSearcher) Search(ctx context.Context, q search.Query) ([]search.Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	limit := q.Limit
	if limit <= 0 {
		limit = search.DefaultLimit
	}

	var matches []search.Result
	if q.FilterType == "" || q.FilterType == search.ResultTestCase {
		testCases, err := s.store.ListTestCases(ctx, q.FilterProjectID)
		if err != nil {
			return nil, 0, err
		}
		for _, tc := range testCases {
			if containsFold(needle, tc.Name, tc.Description) {
				matches = append(matches, search.Result{
					Type:      search.ResultTestCase,
					ID:        tc.ID,
					Title:     tc.Name,
					Snippet:   tc.Description,
					ProjectID: tc.ProjectID,
					Status:    tc.Status,
				})
			}
		}
	}
	if q.FilterType == "" || q.FilterType == search.ResultBug {
		bugs, err := s.store.ListBugs(ctx, q.FilterProjectID)
		if err != nil {
			return nil, 0, err
		}
		for _, bug := range bugs {
			if containsFold(needle, bug.Title, bug.Description) {
				matches = append(matches, search.Result{
					Type:      search.ResultBug,
					ID:        bug.ID,
					Title:     bug.Title,
					Snippet:   bug.Description,
					ProjectID: bug.ProjectID,
					Status:    bug.Status,
				})
			}
		}
	}

	total := len(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, total, nil
}

func containsFold(needle string, fields ...string) bool {
	if needle == "" {
		return true
	}
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}
