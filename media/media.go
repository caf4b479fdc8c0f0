// Package media implements the stateless lookup collaborator that turns a
// free-text query into playable items.
package media

import (
	"context"
	"errors"
	"strings"
)

// ErrUpstream is returned when the lookup backend is unreachable or fails.
var ErrUpstream = errors.New("media lookup failed")

// Item is a playable media reference. Rooms treat it as opaque and
// replace it wholesale on selection.
type Item struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Artist      string  `json:"artist"`
	ArtworkURL  string  `json:"artworkUrl"`
	PlaybackURL string  `json:"playbackUrl"`
	Duration    float64 `json:"duration,omitempty"` // seconds, 0 when unknown
}

// Valid reports whether the item carries the fields a client needs to play it.
func (it *Item) Valid() bool {
	return it != nil && it.ID != "" && it.PlaybackURL != "" && it.Duration >= 0
}

// Searcher looks up media items. An empty query yields no items and no error.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Item, error)
}

// Disabled is a Searcher used when no backend is configured; every
// non-empty query fails with ErrUpstream.
type Disabled struct{}

func (Disabled) Search(_ context.Context, query string) ([]Item, error) {
	if strings.TrimSpace(query) == "" {
		return []Item{}, nil
	}
	return nil, ErrUpstream
}
