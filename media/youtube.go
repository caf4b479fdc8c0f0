package media

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/sosodev/duration"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const (
	youtubeMusicCategory = "10"
	youtubeQuerySuffix   = " official music video"
	youtubeWatchURL      = "https://www.youtube.com/watch?v=%s"
)

var (
	searchParts = []string{"id", "snippet"}
	videoParts  = []string{"contentDetails"}
)

// YouTube searches music videos through the YouTube Data API.
type YouTube struct {
	service *youtube.Service
	limit   int64
}

// NewYouTube creates a searcher returning at most limit items per query.
// Extra client options are appended after the API key.
func NewYouTube(ctx context.Context, apiKey string, limit int64, opts ...option.ClientOption) (*YouTube, error) {
	service, err := youtube.NewService(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	if limit <= 0 {
		limit = 10
	}
	return &YouTube{service: service, limit: limit}, nil
}

func (y *YouTube) Search(ctx context.Context, query string) ([]Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Item{}, nil
	}

	rsp, err := y.service.Search.List(searchParts).
		Q(query + youtubeQuerySuffix).
		Type("video").
		VideoCategoryId(youtubeMusicCategory).
		MaxResults(y.limit).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", ErrUpstream, err)
	}

	ids := make([]string, 0, len(rsp.Items))
	for _, it := range rsp.Items {
		if it.Id != nil && it.Id.VideoId != "" {
			ids = append(ids, it.Id.VideoId)
		}
	}
	if len(ids) == 0 {
		return []Item{}, nil
	}

	// durations are best effort, an item without one is still playable
	durations := make(map[string]float64, len(ids))
	vrsp, err := y.service.Videos.List(videoParts).Id(strings.Join(ids, ",")).Context(ctx).Do()
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("video details lookup failed")
	} else {
		for _, v := range vrsp.Items {
			if v.ContentDetails == nil {
				continue
			}
			d, err := duration.Parse(v.ContentDetails.Duration)
			if err != nil {
				continue
			}
			durations[v.Id] = d.ToTimeDuration().Seconds()
		}
	}

	items := make([]Item, 0, len(rsp.Items))
	for _, it := range rsp.Items {
		if it.Id == nil || it.Id.VideoId == "" || it.Snippet == nil {
			continue
		}
		vid := it.Id.VideoId
		items = append(items, Item{
			ID:          vid,
			Title:       it.Snippet.Title,
			Artist:      it.Snippet.ChannelTitle,
			ArtworkURL:  artwork(it.Snippet.Thumbnails),
			PlaybackURL: fmt.Sprintf(youtubeWatchURL, vid),
			Duration:    durations[vid],
		})
	}
	return items, nil
}

func artwork(t *youtube.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*youtube.Thumbnail{t.High, t.Medium, t.Default} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}
