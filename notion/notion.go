// Package notion fetches ticket pages from a Notion database through a tool
// server. One page is one query_database tool call; the provider's
// next_cursor drives pagination.
package notion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/notiva/notiva-sync/fetcher"
	"github.com/notiva/notiva-sync/toolserver"
)

const (
	queryTool = "query_database"

	// pageSize is deliberately small: the tool result embeds full page
	// objects and Notion rate-limits aggressively.
	pageSize = 3

	callTimeout = 60 * time.Second
)

type Option func(*Fetcher)

func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

type Fetcher struct {
	integrationID string
	client        *toolserver.Client
	server        toolserver.ServerConfig
	databaseID    string
	logger        *zap.Logger
}

var _ fetcher.PagedFetcher = (*Fetcher)(nil)

func New(integrationID string, client *toolserver.Client, server toolserver.ServerConfig, databaseID string, opts ...Option) *Fetcher {
	f := &Fetcher{
		integrationID: integrationID,
		client:        client,
		server:        server,
		databaseID:    databaseID,
		logger:        zap.NewNop(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

type queryResult struct {
	Results    []pageObject `json:"results"`
	HasMore    bool         `json:"has_more"`
	NextCursor string       `json:"next_cursor"`
}

type pageObject struct {
	ID         string              `json:"id"`
	Properties map[string]property `json:"properties"`
}

type property struct {
	Type     string     `json:"type"`
	Title    []richText `json:"title"`
	RichText []richText `json:"rich_text"`
	Status   *named     `json:"status"`
	Select   *named     `json:"select"`
	People   []named    `json:"people"`
}

type named struct {
	Name string `json:"name"`
}

type richText struct {
	PlainText string `json:"plain_text"`
}

// FetchPage issues one query_database call. The cursor is Notion's opaque
// next_cursor, forwarded unchanged as start_cursor.
func (f *Fetcher) FetchPage(ctx context.Context, cursor string) (fetcher.Page, error) {
	args := map[string]any{
		"database_id": f.databaseID,
		"page_size":   pageSize,
	}

	if cursor != "" {
		args["start_cursor"] = cursor
	}

	raw, err := f.client.CallTool(ctx, f.server, queryTool, args, callTimeout)
	if err != nil {
		return fetcher.Page{}, err
	}

	var result queryResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fetcher.Page{}, fmt.Errorf("malformed query_database result: %w", err)
	}

	records := make([]fetcher.Record, 0, len(result.Results))
	for _, page := range result.Results {
		records = append(records, toRecord(page))
	}

	return fetcher.Page{
		Records:    records,
		NextCursor: result.NextCursor,
		HasMore:    result.HasMore,
	}, nil
}

func toRecord(page pageObject) fetcher.Record {
	rec := fetcher.Record{ExternalID: page.ID}

	for _, prop := range page.Properties {
		switch prop.Type {
		case "title":
			rec.Title = joinRichText(prop.Title)
		case "rich_text":
			if rec.Body == "" {
				rec.Body = joinRichText(prop.RichText)
			}
		case "status":
			if prop.Status != nil {
				rec.Lifecycle = prop.Status.Name
			}
		case "select":
			if rec.Lifecycle == "" && prop.Select != nil {
				rec.Lifecycle = prop.Select.Name
			}
		case "people":
			if len(prop.People) > 0 {
				rec.Owner = prop.People[0].Name
			}
		}
	}

	return rec
}

func joinRichText(parts []richText) string {
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		texts = append(texts, p.PlainText)
	}

	return strings.Join(texts, "")
}
