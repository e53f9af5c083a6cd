// Package ingest reconciles the two metric input modes, absolute daily
// snapshots and cumulative-to-date exports, into one per-article
// per-day time series.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/notepulse/notepulse/internal/store"
)

// Resolver maps upstream article identities to stored master records.
type Resolver struct {
	store store.Store
}

// NewResolver creates a resolver over the given store.
func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve returns the article for the given external key, creating the
// master record on first sighting. The external key is authoritative;
// the title is used only as a fallback for rows that carry no key.
// status applies to newly created records only. The second return
// value reports whether this call created the record.
func (r *Resolver) Resolve(ctx context.Context, key, title, url string, status store.Status) (*store.Article, bool, error) {
	if key != "" {
		return r.store.EnsureArticle(ctx, key, title, url, status)
	}
	if title == "" {
		return nil, false, fmt.Errorf("resolve article: no external key or title")
	}

	a, err := r.store.GetArticleByTitle(ctx, title)
	if errors.Is(err, store.ErrNotFound) {
		a, err = r.store.CreateArticleByTitle(ctx, title, status)
		if err != nil {
			return nil, false, err
		}
		return a, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return a, false, nil
}
