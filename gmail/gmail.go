// Package gmail fetches message pages from the Gmail REST API. A page is one
// message-list call followed by one get per listed id; messages whose full
// content cannot be loaded become placeholder records instead of failing the
// page.
package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/notiva/notiva-sync/fetcher"
	"github.com/notiva/notiva-sync/metrics"
)

const (
	defaultBaseURL = "https://gmail.googleapis.com/gmail/v1"

	// pageSize is tuned to Gmail's list limits; one page produces at most
	// this many get calls.
	pageSize = 100

	callTimeout = 30 * time.Second
)

// TokenSource yields a valid access token for an integration. Satisfied by
// *credentials.Manager.
type TokenSource interface {
	GetValidToken(ctx context.Context, integrationID string) (string, error)
}

type Option func(*Fetcher)

func WithBaseURL(base string) Option {
	return func(f *Fetcher) {
		f.baseURL = base
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(f *Fetcher) {
		f.hc = hc
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

func WithCounters(c *metrics.Counters) Option {
	return func(f *Fetcher) {
		f.counters = c
	}
}

type Fetcher struct {
	integrationID string
	tokens        TokenSource
	hc            *http.Client
	baseURL       string
	logger        *zap.Logger
	counters      *metrics.Counters
}

var _ fetcher.PagedFetcher = (*Fetcher)(nil)

func New(integrationID string, tokens TokenSource, opts ...Option) *Fetcher {
	f := &Fetcher{
		integrationID: integrationID,
		tokens:        tokens,
		hc:            &http.Client{Timeout: callTimeout},
		baseURL:       defaultBaseURL,
		logger:        zap.NewNop(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

type listResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	NextPageToken string `json:"nextPageToken"`
}

type messageResponse struct {
	ID       string   `json:"id"`
	Snippet  string   `json:"snippet"`
	LabelIDs []string `json:"labelIds"`
	Payload  struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
		Body struct {
			Data string `json:"data"`
		} `json:"body"`
		Parts []struct {
			MimeType string `json:"mimeType"`
			Body     struct {
				Data string `json:"data"`
			} `json:"body"`
		} `json:"parts"`
	} `json:"payload"`
}

// FetchPage lists one page of message ids and loads each message in full.
// The cursor is Gmail's opaque page token. The token is re-resolved on every
// page so a mid-job refresh is picked up transparently.
func (f *Fetcher) FetchPage(ctx context.Context, cursor string) (fetcher.Page, error) {
	token, err := f.tokens.GetValidToken(ctx, f.integrationID)
	if err != nil {
		return fetcher.Page{}, err
	}

	list, err := f.listMessages(ctx, token, cursor)
	if err != nil {
		return fetcher.Page{}, err
	}

	records := make([]fetcher.Record, 0, len(list.Messages))

	for _, m := range list.Messages {
		rec, err := f.getMessage(ctx, token, m.ID)
		if err != nil {
			f.logger.Warn("loading message failed",
				zap.String("integration_id", f.integrationID),
				zap.String("message_id", m.ID),
				zap.Error(err),
			)

			// Keep the id so the cache knows the message exists; the next
			// full resync retries the load.
			rec = fetcher.Record{ExternalID: m.ID, LoadError: err.Error()}
		}

		records = append(records, rec)
	}

	return fetcher.Page{
		Records:    records,
		NextCursor: list.NextPageToken,
		HasMore:    list.NextPageToken != "",
	}, nil
}

func (f *Fetcher) listMessages(ctx context.Context, token, cursor string) (listResponse, error) {
	params := url.Values{}
	params.Set("maxResults", strconv.Itoa(pageSize))

	if cursor != "" {
		params.Set("pageToken", cursor)
	}

	var list listResponse
	if err := f.getJSON(ctx, token, "/users/me/messages?"+params.Encode(), &list); err != nil {
		return listResponse{}, fmt.Errorf("listing messages: %w", err)
	}

	return list, nil
}

func (f *Fetcher) getMessage(ctx context.Context, token, id string) (fetcher.Record, error) {
	var msg messageResponse
	if err := f.getJSON(ctx, token, "/users/me/messages/"+id+"?format=full", &msg); err != nil {
		return fetcher.Record{}, err
	}

	rec := fetcher.Record{
		ExternalID: msg.ID,
		Body:       msg.Snippet,
		Labels:     msg.LabelIDs,
	}

	for _, h := range msg.Payload.Headers {
		switch h.Name {
		case "Subject":
			rec.Title = h.Value
		case "From":
			rec.Owner = h.Value
		}
	}

	if body := decodeBody(msg); body != "" {
		rec.Body = body
	}

	return rec, nil
}

func (f *Fetcher) getJSON(ctx context.Context, token, path string, out any) error {
	if f.counters != nil {
		f.counters.IncAPICall("gmail")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+path, http.NoBody)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := f.hc.Do(req)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gmail api returned %d: %.200s", resp.StatusCode, body)
	}

	return json.Unmarshal(body, out)
}

// decodeBody returns the first decodable text part, preferring the top-level
// body of single-part messages.
func decodeBody(msg messageResponse) string {
	if dec := decodeBase64URL(msg.Payload.Body.Data); dec != "" {
		return dec
	}

	for _, part := range msg.Payload.Parts {
		if part.MimeType != "text/plain" {
			continue
		}

		if dec := decodeBase64URL(part.Body.Data); dec != "" {
			return dec
		}
	}

	return ""
}

// Gmail emits url-safe base64, with or without padding.
func decodeBase64URL(data string) string {
	if data == "" {
		return ""
	}

	if dec, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(dec)
	}

	if dec, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(dec)
	}

	return ""
}
