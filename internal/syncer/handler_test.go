package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	calls   []string
	failDBs map[string]bool
}

func (s *stubService) SyncPage(_ context.Context, pageID string) (*PageResult, error) {
	s.calls = append(s.calls, "page:"+pageID)
	return &PageResult{PageID: pageID, Status: "indexed"}, nil
}

func (s *stubService) SyncDatabase(_ context.Context, id string, opts Options) (*Run, error) {
	s.calls = append(s.calls, "db:"+id)
	if s.failDBs[id] {
		return nil, errors.New("discovery failed")
	}
	return &Run{PagesDiscovered: 2, PagesAttempted: 2, PagesSucceeded: 1, PagesFailed: 1, FailedPageIDs: []string{id + "-x"}, DryRun: opts.DryRun}, nil
}

func (s *stubService) SyncAllAccessiblePages(_ context.Context, _ Options) (*Run, error) {
	s.calls = append(s.calls, "all")
	return &Run{}, nil
}

func trigger(t *testing.T, svc Service, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", strings.NewReader(body))
	rec := httptest.NewRecorder()
	NewHandler(svc).Trigger(rec, req)
	return rec
}

func TestTriggerRequiresExactlyOneTarget(t *testing.T) {
	tests := []string{
		`{}`,
		`{"pageId":"a","syncAll":true}`,
		`{"databaseId":"d","databaseIds":["e"]}`,
	}
	for _, body := range tests {
		svc := &stubService{}
		rec := trigger(t, svc, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Empty(t, svc.calls)
	}
}

func TestTriggerDispatches(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"pageId":"p1"}`, "page:p1"},
		{`{"databaseId":"d1","maxPages":5}`, "db:d1"},
		{`{"syncAll":true,"dryRun":true}`, "all"},
	}
	for _, tt := range tests {
		svc := &stubService{}
		rec := trigger(t, svc, tt.body)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{tt.want}, svc.calls)
	}
}

func TestTriggerMultipleDatabasesTotals(t *testing.T) {
	svc := &stubService{failDBs: map[string]bool{"bad": true}}
	rec := trigger(t, svc, `{"databaseIds":["a","bad","b"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"db:a", "db:bad", "db:b"}, svc.calls)

	var resp struct {
		Runs  []DatabaseRun `json:"runs"`
		Total Run           `json:"total"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Runs, 3)
	assert.Equal(t, "discovery failed", resp.Runs[1].Error)
	assert.Equal(t, 4, resp.Total.PagesDiscovered)
	assert.Equal(t, 2, resp.Total.PagesFailed)
	assert.Equal(t, []string{"a-x", "b-x"}, resp.Total.FailedPageIDs)
}
