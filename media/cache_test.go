package media

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSearcher struct {
	mu    sync.Mutex
	calls int
	items []Item
	err   error
}

func (s *countingSearcher) Search(_ context.Context, _ string) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.items, nil
}

func (s *countingSearcher) getCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestCached_Search(t *testing.T) {
	tests := []struct {
		name      string
		queries   []string
		err       error
		wantCalls int
	}{
		{name: "repeated query hits cache", queries: []string{"daft punk", "daft punk"}, wantCalls: 1},
		{name: "normalised keys", queries: []string{"Daft Punk", "  daft punk "}, wantCalls: 1},
		{name: "distinct queries", queries: []string{"a", "b"}, wantCalls: 2},
		{name: "empty query skips upstream", queries: []string{"", "   "}, wantCalls: 0},
		{name: "failures are not cached", queries: []string{"x", "x"}, err: ErrUpstream, wantCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := &countingSearcher{items: []Item{{ID: "1", PlaybackURL: "u"}}, err: tt.err}
			c := NewCached(next, 8, time.Minute)

			for _, q := range tt.queries {
				items, err := c.Search(context.Background(), q)
				if tt.err != nil {
					assert.True(t, errors.Is(err, tt.err))
					continue
				}
				require.NoError(t, err)
				assert.NotNil(t, items)
			}
			assert.Equal(t, tt.wantCalls, next.getCalls())
		})
	}
}

func TestDisabled_Search(t *testing.T) {
	items, err := Disabled{}.Search(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = Disabled{}.Search(context.Background(), "song")
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestItem_Valid(t *testing.T) {
	assert.True(t, (&Item{ID: "a", PlaybackURL: "u"}).Valid())
	assert.False(t, (&Item{ID: "a"}).Valid())
	assert.False(t, (&Item{PlaybackURL: "u"}).Valid())
	assert.False(t, (&Item{ID: "a", PlaybackURL: "u", Duration: -1}).Valid())
	var nilItem *Item
	assert.False(t, nilItem.Valid())
}
