package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenalong/vchamber/media"
)

type stubSearcher struct {
	items []media.Item
	err   error
}

func (s stubSearcher) Search(_ context.Context, _ string) ([]media.Item, error) {
	return s.items, s.err
}

func doRequest(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestRest_Rooms(t *testing.T) {
	s := newTestServer(t, nil, Options{})
	h := NewVChamberRestMux(s, media.Disabled{})

	rec := doRequest(t, h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/room?name=Party")
	require.Equal(t, http.StatusOK, rec.Code)
	var created RoomCreatedMsg
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, created.OK)
	assert.True(t, ValidRoomID(created.RoomID))

	rec = doRequest(t, h, http.MethodGet, "/room/"+created.RoomID)
	require.Equal(t, http.StatusOK, rec.Code)
	var info RoomInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "Party", info.Name)
	assert.Empty(t, info.Members)
	assert.False(t, info.Clock.IsPlaying)

	rec = doRequest(t, h, http.MethodGet, "/server")
	require.Equal(t, http.StatusOK, rec.Code)
	var srv ServerInfoMsg
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &srv))
	assert.Equal(t, ServerInfoMsg{OK: true, NRoom: 1, Rooms: []string{created.RoomID}}, srv)

	rec = doRequest(t, h, http.MethodDelete, "/room/"+created.RoomID)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(t, h, http.MethodDelete, "/room/"+created.RoomID)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doRequest(t, h, http.MethodGet, "/room/"+created.RoomID)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"ok":false,"reason":"Room not found"}`, rec.Body.String())
}

func TestRest_Search(t *testing.T) {
	valid := media.Item{ID: "v1", Title: "Around the World", PlaybackURL: "https://www.youtube.com/watch?v=v1", Duration: 200}

	tests := []struct {
		name       string
		searcher   media.Searcher
		target     string
		wantCode   int
		wantHeader string
		wantItems  []media.Item
	}{
		{
			name:      "drops unplayable items",
			searcher:  stubSearcher{items: []media.Item{valid, {ID: "v2", Title: "no url"}}},
			target:    "/api/search?q=daft+punk",
			wantCode:  http.StatusOK,
			wantItems: []media.Item{valid},
		},
		{
			name:       "upstream failure",
			searcher:   stubSearcher{err: media.ErrUpstream},
			target:     "/api/search?q=daft+punk",
			wantCode:   http.StatusBadGateway,
			wantHeader: "upstream",
			wantItems:  []media.Item{},
		},
		{
			name:      "empty query",
			searcher:  media.Disabled{},
			target:    "/api/search",
			wantCode:  http.StatusOK,
			wantItems: []media.Item{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil, Options{})
			rec := doRequest(t, NewVChamberRestMux(s, tt.searcher), http.MethodGet, tt.target)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantHeader, rec.Header().Get(SearchErrorHeader))
			var items []media.Item
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
			assert.Equal(t, tt.wantItems, items)
		})
	}
}
