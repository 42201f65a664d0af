package app

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devqa/api/internal/search"
	"devqa/api/internal/store"
)

func seedSearchData(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()
	caller := store.User{ID: "u1"}
	_, err := svc.CreateTestCase(ctx, caller, TestCaseInput{ProjectID: "p1", Name: "Checkout with coupon", Description: "apply SAVE10"})
	require.NoError(t, err)
	_, err = svc.CreateTestCase(ctx, caller, TestCaseInput{ProjectID: "p2", Name: "Login", Description: "checkout session survives"})
	require.NoError(t, err)
	_, err = svc.CreateBug(ctx, caller, BugInput{ProjectID: "p1", Title: "CHECKOUT button hidden", Severity: "high"})
	require.NoError(t, err)
}

func TestStoreSearcherMatchesCaseInsensitively(t *testing.T) {
	svc := newTestService(t, newFakeStore())
	seedSearchData(t, svc)
	searcher := newStoreSearcher(svc.store)

	results, total, err := searcher.Search(context.Background(), search.Query{Text: "checkout"})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, results, 3)
}

func TestStoreSearcherFilters(t *testing.T) {
	svc := newTestService(t, newFakeStore())
	seedSearchData(t, svc)
	searcher := newStoreSearcher(svc.store)

	results, total, err := searcher.Search(context.Background(), search.Query{Text: "checkout", FilterType: search.ResultBug})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, search.ResultBug, results[0].Type)
	assert.Equal(t, "open", results[0].Status)

	results, total, err = searcher.Search(context.Background(), search.Query{Text: "checkout", FilterProjectID: "p1", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, results, 1)
}

func TestSearchRoute(t *testing.T) {
	server, svc := newTestHTTPServer(t, newFakeStore())
	user := registerViaHTTP(t, server, "qa@example.com")
	seedSearchData(t, svc)

	rr := doJSON(t, server, http.MethodGet, "/api/search?q=coupon&type=test_case", user.Token, nil)
	assertStatus(t, rr, http.StatusOK)
	resp := decodeJSON[search.Response](t, rr)
	assert.Equal(t, "coupon", resp.Query)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Checkout with coupon", resp.Results[0].Title)

	rr = doJSON(t, server, http.MethodGet, "/api/search?q=x&type=project", user.Token, nil)
	assertStatus(t, rr, http.StatusBadRequest)
	assertErrorCode(t, rr, "INVALID_TYPE")
}

func TestSearchRouteReturnsEmptyArray(t *testing.T) {
	server, _ := newTestHTTPServer(t, newFakeStore())
	user := registerViaHTTP(t, server, "qa@example.com")

	rr := doJSON(t, server, http.MethodGet, "/api/search?q=nothing", user.Token, nil)
	assertStatus(t, rr, http.StatusOK)
	body := decodeJSON[map[string]any](t, rr)
	results, ok := body["results"].([]any)
	require.True(t, ok, "results should be an array, got %v", body["results"])
	assert.Empty(t, results)
}
