package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/listenalong/vchamber/media"
)

const (
	searchTimeout = 10 * time.Second
	// SearchErrorHeader marks a search response degraded by an upstream failure
	SearchErrorHeader = "X-Search-Error"
)

type ServerInfoMsg struct {
	OK    bool     `json:"ok"`
	NRoom int      `json:"nroom"`
	Rooms []string `json:"rooms"`
}

type RoomCreatedMsg struct {
	OK     bool   `json:"ok"`
	RoomID string `json:"roomID"`
}

func RespondWithJSON(m interface{}, statusCode int, w http.ResponseWriter) {
	payload, err := json.Marshal(m)
	if err != nil {
		log.Error().Err(err).Msg("error serialising response")
		statusCode = http.StatusInternalServerError
		payload = []byte(`{"ok":false,"reason":"An internal error occurred."}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(payload)
}

func RespondWithError(reason string, statusCode int, w http.ResponseWriter) {
	RespondWithJSON(map[string]interface{}{
		"ok":     false,
		"reason": reason,
	}, statusCode, w)
}

func getServerInfo(s *Server, w http.ResponseWriter, r *http.Request) {
	rooms := s.RoomIDs()
	RespondWithJSON(&ServerInfoMsg{
		OK:    true,
		NRoom: len(rooms),
		Rooms: rooms,
	}, http.StatusOK, w)
}

func createRoom(s *Server, w http.ResponseWriter, r *http.Request) {
	room, err := s.CreateRoom(r.FormValue("name"))
	if err != nil {
		log.Error().Err(err).Msg("room creation failed")
		RespondWithError("An internal error occurred.", http.StatusInternalServerError, w)
		return
	}
	RespondWithJSON(&RoomCreatedMsg{OK: true, RoomID: room.ID}, http.StatusOK, w)
}

func getRoom(s *Server, w http.ResponseWriter, r *http.Request) {
	room, ok := s.GetRoom(strings.ToUpper(mux.Vars(r)["rid"]))
	if !ok {
		RespondWithError(errRoomNotFoundReply, http.StatusNotFound, w)
		return
	}
	info, ok := room.Info()
	if !ok {
		RespondWithError(errRoomNotFoundReply, http.StatusNotFound, w)
		return
	}
	RespondWithJSON(info, http.StatusOK, w)
}

func destroyRoom(s *Server, w http.ResponseWriter, r *http.Request) {
	rid := strings.ToUpper(mux.Vars(r)["rid"])
	if _, ok := s.GetRoom(rid); !ok {
		RespondWithError(errRoomNotFoundReply, http.StatusNotFound, w)
		return
	}
	s.DeleteRoom(rid)
	RespondWithJSON(map[string]interface{}{"ok": true}, http.StatusOK, w)
}

func searchMedia(searcher media.Searcher, w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	ctx, cancel := context.WithTimeout(r.Context(), searchTimeout)
	defer cancel()

	items, err := searcher.Search(ctx, q)
	if err != nil {
		log.Warn().Err(err).Str("query", q).Msg("media search failed")
		w.Header().Set(SearchErrorHeader, "upstream")
		RespondWithJSON([]media.Item{}, http.StatusBadGateway, w)
		return
	}

	valid := make([]media.Item, 0, len(items))
	for i := range items {
		if items[i].Valid() {
			valid = append(valid, items[i])
		}
	}
	RespondWithJSON(valid, http.StatusOK, w)
}

// NewVChamberRestMux makes the RESTful API servemux of server
func NewVChamberRestMux(server *Server, searcher media.Searcher) *mux.Router {
	restMux := mux.NewRouter().StrictSlash(true)
	restMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		RespondWithJSON(map[string]string{"status": "ok"}, http.StatusOK, w)
	}).Methods("GET")
	restMux.HandleFunc("/server", func(w http.ResponseWriter, r *http.Request) {
		getServerInfo(server, w, r)
	}).Methods("GET")
	restMux.HandleFunc("/room", func(w http.ResponseWriter, r *http.Request) {
		createRoom(server, w, r)
	}).Methods("GET", "POST")
	restMux.HandleFunc("/room/{rid}", func(w http.ResponseWriter, r *http.Request) {
		getRoom(server, w, r)
	}).Methods("GET")
	restMux.HandleFunc("/room/{rid}", func(w http.ResponseWriter, r *http.Request) {
		destroyRoom(server, w, r)
	}).Methods("DELETE")
	restMux.HandleFunc("/api/search", func(w http.ResponseWriter, r *http.Request) {
		searchMedia(searcher, w, r)
	}).Methods("GET")
	return restMux
}
