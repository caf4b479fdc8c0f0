package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

const searchResponse = `{
  "items": [
    {"id": {"videoId": "abc"}, "snippet": {"title": "Song A", "channelTitle": "Artist A",
      "thumbnails": {"high": {"url": "https://img/a-high.jpg"}, "default": {"url": "https://img/a.jpg"}}}},
    {"id": {"videoId": "def"}, "snippet": {"title": "Song B", "channelTitle": "Artist B",
      "thumbnails": {"default": {"url": "https://img/b.jpg"}}}},
    {"id": {"channelId": "not-a-video"}, "snippet": {"title": "Channel"}}
  ]
}`

const videosResponse = `{
  "items": [
    {"id": "abc", "contentDetails": {"duration": "PT3M20S"}},
    {"id": "def", "contentDetails": {"duration": "garbage"}}
  ]
}`

func newYouTubeStub(t *testing.T, searchStatus int) (*httptest.Server, *[]string) {
	t.Helper()
	var queries []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/search"):
			queries = append(queries, r.URL.Query().Get("q"))
			if searchStatus != http.StatusOK {
				w.WriteHeader(searchStatus)
				w.Write([]byte(`{"error": {"code": 403, "message": "quota"}}`))
				return
			}
			w.Write([]byte(searchResponse))
		case strings.HasSuffix(r.URL.Path, "/videos"):
			w.Write([]byte(videosResponse))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)
	return ts, &queries
}

func TestYouTube_Search(t *testing.T) {
	ts, queries := newYouTubeStub(t, http.StatusOK)

	yt, err := NewYouTube(context.Background(), "key", 5,
		option.WithEndpoint(ts.URL+"/"), option.WithHTTPClient(ts.Client()))
	require.NoError(t, err)

	items, err := yt.Search(context.Background(), "around the world")
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, []string{"around the world official music video"}, *queries)

	assert.Equal(t, Item{
		ID:          "abc",
		Title:       "Song A",
		Artist:      "Artist A",
		ArtworkURL:  "https://img/a-high.jpg",
		PlaybackURL: "https://www.youtube.com/watch?v=abc",
		Duration:    200,
	}, items[0])

	assert.Equal(t, "https://img/b.jpg", items[1].ArtworkURL)
	assert.Zero(t, items[1].Duration)
	for _, it := range items {
		assert.True(t, it.Valid())
	}
}

func TestYouTube_SearchEmptyQuery(t *testing.T) {
	ts, queries := newYouTubeStub(t, http.StatusOK)

	yt, err := NewYouTube(context.Background(), "key", 5,
		option.WithEndpoint(ts.URL+"/"), option.WithHTTPClient(ts.Client()))
	require.NoError(t, err)

	items, err := yt.Search(context.Background(), "  ")
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Empty(t, *queries)
}

func TestYouTube_SearchUpstreamFailure(t *testing.T) {
	ts, _ := newYouTubeStub(t, http.StatusForbidden)

	yt, err := NewYouTube(context.Background(), "key", 5,
		option.WithEndpoint(ts.URL+"/"), option.WithHTTPClient(ts.Client()))
	require.NoError(t, err)

	items, err := yt.Search(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Nil(t, items)
}
