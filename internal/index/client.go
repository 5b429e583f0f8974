package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Document fields used in capture records.
const (
	FieldPath    = "pcap_path"
	FieldID      = "pcap_id"
	FieldUpdated = "time_updated"
	FieldRemoved = "pcap_removed"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 64 << 20

// ClientConfig configures the index HTTP client.
type ClientConfig struct {
	URL          string
	IndexPattern string
	Username     string
	Password     string
	Timeout      time.Duration
	// HTTPClient overrides the default client; Timeout is then ignored.
	HTTPClient *http.Client
}

// Client is an HTTP client for an Elasticsearch-compatible document index.
type Client struct {
	baseURL    string
	pattern    string
	username   string
	password   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a new index client.
func NewClient(cfg ClientConfig, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pattern := cfg.IndexPattern
	if pattern == "" {
		pattern = "network_*"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		pattern:    pattern,
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "index_client").Logger(),
	}
}

// unremovedQuery matches records that have a capture file not yet removed.
func unremovedQuery() map[string]any {
	return map[string]any{
		"bool": map[string]any{
			"filter": []any{
				map[string]any{"exists": map[string]any{"field": FieldPath}},
			},
			"must_not": []any{
				map[string]any{"term": map[string]any{FieldRemoved: true}},
				// An empty path can never be removed and would pin the head of the sort.
				map[string]any{"term": map[string]any{FieldPath: ""}},
			},
		},
	}
}

type countResponse struct {
	Count int64 `json:"count"`
}

// FileCount returns the number of capture files still on record.
func (c *Client) FileCount(ctx context.Context) (int64, error) {
	var resp countResponse
	req := map[string]any{"query": unremovedQuery()}
	if err := c.postJSON(ctx, "/"+c.pattern+"/_count", req, &resp); err != nil {
		return 0, fmt.Errorf("count files: %w", err)
	}
	return resp.Count, nil
}

type searchHit struct {
	Index  string `json:"_index"`
	ID     string `json:"_id"`
	Source struct {
		Path    string    `json:"pcap_path"`
		FileID  string    `json:"pcap_id"`
		Updated Timestamp `json:"time_updated"`
	} `json:"_source"`
}

type searchResponse struct {
	Hits struct {
		Hits []searchHit `json:"hits"`
	} `json:"hits"`
}

// OldestFiles returns up to n of the oldest unremoved capture files.
func (c *Client) OldestFiles(ctx context.Context, n int) (*Batch, error) {
	batch := &Batch{}
	if n <= 0 {
		return batch, nil
	}

	req := map[string]any{
		"size":    n,
		"query":   unremovedQuery(),
		"sort":    []any{map[string]any{FieldUpdated: map[string]any{"order": "asc"}}},
		"_source": []string{FieldPath, FieldID, FieldUpdated},
	}
	var resp searchResponse
	if err := c.postJSON(ctx, "/"+c.pattern+"/_search", req, &resp); err != nil {
		return nil, fmt.Errorf("search oldest files: %w", err)
	}

	for _, hit := range resp.Hits.Hits {
		if hit.Source.Path == "" {
			continue
		}
		ts := time.Time(hit.Source.Updated)
		batch.Files = append(batch.Files, File{
			Path:      hit.Source.Path,
			ID:        hit.Source.FileID,
			Timestamp: ts,
		})
		batch.Refs = append(batch.Refs, DocRef{DocumentID: hit.ID, Index: hit.Index})
		if !ts.IsZero() && (batch.Oldest.IsZero() || ts.Before(batch.Oldest)) {
			batch.Oldest = ts
		}
	}
	return batch, nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error,omitempty"`
	} `json:"items"`
}

// BulkMarkRemoved updates every referenced document with update.
func (c *Client) BulkMarkRemoved(ctx context.Context, refs []DocRef, update map[string]any) error {
	if len(refs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	doc := map[string]any{"doc": update}
	for _, ref := range refs {
		action := map[string]any{"update": map[string]any{"_index": ref.Index, "_id": ref.DocumentID}}
		if err := enc.Encode(action); err != nil {
			return fmt.Errorf("encode bulk action: %w", err)
		}
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode bulk document: %w", err)
		}
	}

	// wait_for keeps marked documents out of the next search in the same cycle.
	body, err := c.do(ctx, "/_bulk?refresh=wait_for", "application/x-ndjson", &buf)
	if err != nil {
		return fmt.Errorf("bulk update: %w", err)
	}

	var resp bulkResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("parse bulk response: %w", err)
	}
	if resp.Errors {
		failed := 0
		var first string
		for _, item := range resp.Items {
			for _, result := range item {
				if result.Error != nil {
					if failed == 0 {
						first = result.Error.Type + ": " + result.Error.Reason
					}
					failed++
				}
			}
		}
		return fmt.Errorf("bulk update: %d of %d documents failed: %s", failed, len(refs), first)
	}

	c.logger.Debug().Int("documents", len(refs)).Msg("bulk update applied")
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, result any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	body, err := c.do(ctx, path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, path, contentType string, payload io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("index returned %d: %s", resp.StatusCode, truncate(body, 512))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Timestamp decodes index times given as epoch seconds, RFC 3339 or the
// "2006/01/02 15:04:05" layout written by capture indexers.
type Timestamp time.Time

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == `""` {
		*t = Timestamp{}
		return nil
	}
	if s[0] != '"' {
		secs, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("parse timestamp %s: %w", s, err)
		}
		*t = Timestamp(time.Unix(int64(secs), 0).UTC())
		return nil
	}

	unquoted, err := strconv.Unquote(s)
	if err != nil {
		return fmt.Errorf("parse timestamp %s: %w", s, err)
	}
	for _, layout := range []string{time.RFC3339Nano, "2006/01/02 15:04:05"} {
		if parsed, err := time.Parse(layout, unquoted); err == nil {
			*t = Timestamp(parsed)
			return nil
		}
	}
	return fmt.Errorf("parse timestamp %q: unknown layout", unquoted)
}
