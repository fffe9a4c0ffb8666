package notion_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notiva/notiva-sync/notion"
	"github.com/notiva/notiva-sync/toolserver"
)

// toolServer fakes an http tool server whose query_database tool returns the
// given result.
func toolServer(t *testing.T, result map[string]any) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int64  `json:"id"`
			Method string `json:"method"`
			Params struct {
				Name string         `json:"name"`
				Args map[string]any `json:"args"`
			} `json:"params"`
		}

		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "call_tool", req.Method)
		assert.Equal(t, "query_database", req.Params.Name)
		assert.Equal(t, "db-123", req.Params.Args["database_id"])
		assert.EqualValues(t, 3, req.Params.Args["page_size"])

		_ = json.NewEncoder(w).Encode(map[string]any{"id": req.ID, "result": result})
	}))
}

func ticket(id, title, owner, status string) map[string]any {
	return map[string]any{
		"id": id,
		"properties": map[string]any{
			"Name": map[string]any{
				"type":  "title",
				"title": []map[string]any{{"plain_text": title}},
			},
			"Owner": map[string]any{
				"type":   "people",
				"people": []map[string]any{{"name": owner}},
			},
			"Status": map[string]any{
				"type":   "status",
				"status": map[string]any{"name": status},
			},
			"Notes": map[string]any{
				"type":      "rich_text",
				"rich_text": []map[string]any{{"plain_text": "some notes"}},
			},
		},
	}
}

func newFetcher(url string) *notion.Fetcher {
	cfg := toolserver.ServerConfig{Type: toolserver.TypeHTTP, URL: url}

	return notion.New("notion:tickets", toolserver.NewClient(), cfg, "db-123")
}

func TestFetchPage(t *testing.T) {
	srv := toolServer(t, map[string]any{
		"results": []any{
			ticket("t-1", "Fix login flow", "Dana", "In progress"),
			ticket("t-2", "Ship dark mode", "Lee", "Backlog"),
		},
		"has_more":    true,
		"next_cursor": "cur-2",
	})
	defer srv.Close()

	page, err := newFetcher(srv.URL).FetchPage(context.Background(), "")
	require.NoError(t, err)

	require.Len(t, page.Records, 2)
	assert.Equal(t, "t-1", page.Records[0].ExternalID)
	assert.Equal(t, "Fix login flow", page.Records[0].Title)
	assert.Equal(t, "Dana", page.Records[0].Owner)
	assert.Equal(t, "In progress", page.Records[0].Lifecycle)
	assert.Equal(t, "some notes", page.Records[0].Body)

	assert.True(t, page.HasMore)
	assert.Equal(t, "cur-2", page.NextCursor)
}

func TestFetchPageForwardsCursor(t *testing.T) {
	var gotCursor string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int64 `json:"id"`
			Params struct {
				Args map[string]any `json:"args"`
			} `json:"params"`
		}

		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotCursor, _ = req.Params.Args["start_cursor"].(string)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     req.ID,
			"result": map[string]any{"results": []any{}, "has_more": false},
		})
	}))
	defer srv.Close()

	page, err := newFetcher(srv.URL).FetchPage(context.Background(), "cur-7")
	require.NoError(t, err)
	assert.Equal(t, "cur-7", gotCursor)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.Records)
}

func TestFetchPageToolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID int64 `json:"id"`
		}

		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    req.ID,
			"error": map[string]any{"message": "database not found", "code": 404},
		})
	}))
	defer srv.Close()

	_, err := newFetcher(srv.URL).FetchPage(context.Background(), "")

	var terr *toolserver.ToolError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, toolserver.KindProtocol, terr.Kind)
}

func TestFetchPageMalformedResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID int64 `json:"id"`
		}

		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": req.ID, "result": "not an object"})
	}))
	defer srv.Close()

	_, err := newFetcher(srv.URL).FetchPage(context.Background(), "")
	assert.ErrorContains(t, err, "malformed query_database result")
}
