package note

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// ArticleRef identifies a published article discovered outside the
// stats API. It carries no metrics.
type ArticleRef struct {
	Key   string
	Title string
	URL   string
}

// Discovery reads a member's public RSS feed so article master records
// can be registered before any metrics are reported for them.
type Discovery struct {
	client  HTTPClient
	parser  *gofeed.Parser
	baseURL string
}

// NewDiscovery creates an RSS discovery reader for note.com member
// feeds.
func NewDiscovery(httpClient HTTPClient) *Discovery {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Discovery{
		client:  httpClient,
		parser:  gofeed.NewParser(),
		baseURL: defaultBaseURL,
	}
}

// Articles fetches and parses the member's feed, returning one ref per
// entry whose note key could be derived from its link.
func (d *Discovery) Articles(ctx context.Context, username string) ([]ArticleRef, error) {
	url := fmt.Sprintf("%s/%s/rss", d.baseURL, username)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create rss request: %w", err)
	}
	req.Header.Set("User-Agent", "notepulse/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rss %s: %w", username, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rss %s status %d", username, resp.StatusCode)
	}

	parsed, err := d.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse rss %s: %w", username, err)
	}

	var refs []ArticleRef
	for _, entry := range parsed.Items {
		link := entry.Link
		if link == "" && len(entry.Links) > 0 {
			link = entry.Links[0]
		}
		key := noteKeyFromURL(link)
		if key == "" {
			continue
		}
		title := entry.Title
		if title == "" {
			title = untitled
		}
		refs = append(refs, ArticleRef{Key: key, Title: title, URL: link})
	}
	return refs, nil
}

// noteKeyFromURL extracts the stable note key from a canonical article
// URL of the form https://note.com/{user}/n/{key}.
func noteKeyFromURL(link string) string {
	idx := strings.Index(link, "/n/")
	if idx < 0 {
		return ""
	}
	key := link[idx+len("/n/"):]
	if end := strings.IndexAny(key, "/?#"); end >= 0 {
		key = key[:end]
	}
	return key
}
