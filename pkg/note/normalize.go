package note

import (
	"fmt"
	"strconv"
	"strings"
)

// Record is the canonical per-article metric record produced from one
// upstream stats entry. It lives only for the duration of a sync or
// import cycle and is never persisted as-is.
type Record struct {
	Key      string
	Title    string
	URL      string
	PV       int
	Likes    int
	Comments int
}

// The stats API has renamed its per-article fields across versions.
// Each logical quantity is resolved against an ordered candidate list;
// the first key that is present (even with value zero) wins. A key that
// is absent or null does not mask a lower-priority one.
var (
	identityKeys = []string{"id", "key"}
	titleKeys    = []string{"name", "title"}
	urlKeys      = []string{"noteUrl"}
	pvKeys       = []string{"readCount", "pv", "viewCount"}
	likeKeys     = []string{"likeCount", "likes"}
	commentKeys  = []string{"commentCount", "comments"}
)

// untitled is what the platform itself displays for notes without a
// title, kept verbatim so title-based matching against its own CSV
// exports still works.
const untitled = "無題"

// Normalize maps one upstream record of unknown shape into a Record.
// The second return value is false when the record carries no usable
// identity key; such records are skipped, not failed.
func Normalize(raw map[string]any) (Record, bool) {
	key, ok := firstString(raw, identityKeys)
	if !ok {
		return Record{}, false
	}

	title, ok := firstString(raw, titleKeys)
	if !ok {
		title = untitled
	}

	url, ok := firstString(raw, urlKeys)
	if !ok {
		if user, userOK := firstString(raw, []string{"userUrlname"}); userOK {
			url = fmt.Sprintf("https://note.com/%s/n/%s", user, key)
		}
	}

	return Record{
		Key:      key,
		Title:    title,
		URL:      url,
		PV:       firstCount(raw, pvKeys),
		Likes:    firstCount(raw, likeKeys),
		Comments: firstCount(raw, commentKeys),
	}, true
}

// firstString returns the first present, non-empty string value among
// keys. Numeric identifiers are formatted as their decimal form.
func firstString(raw map[string]any, keys []string) (string, bool) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return s, true
			}
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64), true
		case int:
			return strconv.Itoa(t), true
		case int64:
			return strconv.FormatInt(t, 10), true
		}
	}
	return "", false
}

// firstCount returns the first present numeric value among keys,
// clamped to zero. Presence is decided per key: an explicit zero stops
// the scan, only absent or null values fall through.
func firstCount(raw map[string]any, keys []string) int {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		n, ok := asInt(v)
		if !ok {
			continue
		}
		if n < 0 {
			return 0
		}
		return n
	}
	return 0
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
