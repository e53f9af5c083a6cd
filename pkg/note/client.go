package note

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultBaseURL = "https://note.com"

// defaultPageDelay is the minimum wait between stats pages. The
// upstream rate-limits aggressive polling.
const defaultPageDelay = time.Second

// Credentials carries the session cookies the stats endpoint requires.
type Credentials struct {
	AuthToken    string
	SessionToken string
}

// TerminationReason records why a pagination run stopped.
type TerminationReason string

const (
	TerminationEmptyPage TerminationReason = "empty-page"
	TerminationLastPage  TerminationReason = "explicit-last-page-flag"
	TerminationMaxPages  TerminationReason = "max-pages-reached"
)

// FetchError is returned when any page of a stats fetch answers with a
// non-success status. The whole fetch aborts; accumulated pages are
// discarded so no partial snapshot is ever handed downstream.
type FetchError struct {
	Page   int
	Status int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("stats fetch aborted on page %d: upstream status %d", e.Page, e.Status)
}

// Snapshot is one complete, consistent pull of the stats endpoint.
type Snapshot struct {
	Records []Record
	Pages   int
	Skipped int
	Reason  TerminationReason
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the note.com stats API.
type Client struct {
	client    HTTPClient
	baseURL   string
	pageDelay time.Duration
}

// NewClient creates a stats client. A nil httpClient gets a default
// with a 30s timeout.
func NewClient(httpClient HTTPClient) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		client:    httpClient,
		baseURL:   defaultBaseURL,
		pageDelay: defaultPageDelay,
	}
}

// The response envelope has carried its record list and last-page flag
// under different names across API versions.
var (
	contentListKeys = []string{"contents", "noteStats", "stats"}
	lastPageKeys    = []string{"isLastPage", "is_last_page", "lastPage"}
)

// FetchStats pulls pages 1..maxPages of the per-article stats ranking
// and returns the assembled snapshot. Pagination stops on the first
// empty page, on an explicit last-page flag, or at maxPages, whichever
// comes first; an empty page wins over a contradicting flag. Each call
// re-drives pagination from page 1.
func (c *Client) FetchStats(ctx context.Context, creds Credentials, maxPages int) (*Snapshot, error) {
	if maxPages <= 0 {
		maxPages = 10
	}

	snap := &Snapshot{Reason: TerminationMaxPages}

	for page := 1; page <= maxPages; page++ {
		if page > 1 {
			if err := c.wait(ctx); err != nil {
				return nil, err
			}
		}

		rawRecords, lastPage, err := c.fetchPage(ctx, creds, page)
		if err != nil {
			return nil, err
		}
		snap.Pages = page

		if len(rawRecords) == 0 {
			// The stronger signal: some API versions set the flag
			// inconsistently, an empty page never lies.
			snap.Reason = TerminationEmptyPage
			break
		}

		for _, raw := range rawRecords {
			rec, ok := Normalize(raw)
			if !ok {
				snap.Skipped++
				continue
			}
			snap.Records = append(snap.Records, rec)
		}

		if lastPage {
			snap.Reason = TerminationLastPage
			break
		}
	}

	return snap, nil
}

func (c *Client) fetchPage(ctx context.Context, creds Credentials, page int) ([]map[string]any, bool, error) {
	url := fmt.Sprintf("%s/api/v1/stats/pv?filter=all&page=%d&sort=pv", c.baseURL, page)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create stats request: %w", err)
	}
	req.AddCookie(&http.Cookie{Name: "note_gql_auth_token", Value: creds.AuthToken})
	req.AddCookie(&http.Cookie{Name: "_note_session_v5", Value: creds.SessionToken})
	req.Header.Set("User-Agent", "notepulse/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("fetch stats page %d: %w", page, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, &FetchError{Page: page, Status: resp.StatusCode}
	}

	var envelope struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, false, fmt.Errorf("decode stats page %d: %w", page, err)
	}

	records, err := pickRecordList(envelope.Data)
	if err != nil {
		return nil, false, fmt.Errorf("stats page %d: %w", page, err)
	}
	return records, pickLastPageFlag(envelope.Data), nil
}

// pickRecordList resolves the record list under the first envelope key
// present in this response version. A missing list is treated as an
// empty page, not an error.
func pickRecordList(data map[string]json.RawMessage) ([]map[string]any, error) {
	for _, k := range contentListKeys {
		raw, ok := data[k]
		if !ok || string(raw) == "null" {
			continue
		}
		var records []map[string]any
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("decode %q list: %w", k, err)
		}
		return records, nil
	}
	return nil, nil
}

// pickLastPageFlag resolves the boolean-like last-page signal, which
// may or may not be present.
func pickLastPageFlag(data map[string]json.RawMessage) bool {
	for _, k := range lastPageKeys {
		raw, ok := data[k]
		if !ok {
			continue
		}
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			return b
		}
		var n float64
		if err := json.Unmarshal(raw, &n); err == nil {
			return n != 0
		}
	}
	return false
}

// wait is the inter-page delay. It suspends on a timer so a slow fetch
// never busy-waits, and aborts promptly on ctx cancellation.
func (c *Client) wait(ctx context.Context) error {
	t := time.NewTimer(c.pageDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
