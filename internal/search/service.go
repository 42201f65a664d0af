package search

import (
	"context"
	"sync"

	"devqa/api/internal/logging"
)

// Service is the facade that tries the primary backend first and falls back
// to the store-backed searcher.
type Service struct {
	primary  Backend
	fallback Searcher
	loader   RecordLoader
	logger   logging.Logger
	pending  sync.WaitGroup
}

// NewService creates a search service. primary may be nil when Meilisearch is
// not configured; loader may be nil when no full reindex is possible.
func NewService(primary Backend, fallback Searcher, loader RecordLoader, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{primary: primary, fallback: fallback, loader: loader, logger: logger}
}

// Search tries the primary backend if healthy, otherwise the fallback.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primaryHealthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn(ctx, "search primary failed, falling back", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error(ctx, "search fallback failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexTestCase indexes a test case (fire-and-forget).
func (s *Service) IndexTestCase(record TestCaseRecord) {
	if !s.primaryHealthy() {
		return
	}
	s.goIndex(func() error { return s.primary.IndexTestCases([]TestCaseRecord{record}) }, "test_case", record.ID)
}

// IndexBug indexes a bug (fire-and-forget).
func (s *Service) IndexBug(record BugRecord) {
	if !s.primaryHealthy() {
		return
	}
	s.goIndex(func() error { return s.primary.IndexBugs([]BugRecord{record}) }, "bug", record.ID)
}

func (s *Service) goIndex(fn func() error, kind, id string) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := fn(); err != nil {
			s.logger.Warn(context.Background(), "search index failed", "type", kind, "id", id, "error", err)
		}
	}()
}

// Wait blocks until in-flight index writes finish.
func (s *Service) Wait() {
	s.pending.Wait()
}

// ReindexAll pushes every stored record into the primary backend.
func (s *Service) ReindexAll(ctx context.Context) {
	if !s.primaryHealthy() || s.loader == nil {
		return
	}
	testCases, bugs, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error(ctx, "search reindex load failed", "error", err)
		return
	}
	if err := s.primary.IndexTestCases(testCases); err != nil {
		s.logger.Error(ctx, "search reindex test cases", "error", err)
	}
	if err := s.primary.IndexBugs(bugs); err != nil {
		s.logger.Error(ctx, "search reindex bugs", "error", err)
	}
}

func (s *Service) primaryHealthy() bool {
	return s.primary != nil && s.primary.Healthy()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
