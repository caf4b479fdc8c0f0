package server

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultBroadcastPeriod  = 100 * time.Millisecond
	DefaultEmptyRoomTimeout = 1 * time.Minute
)

// ErrRoomNotFound is returned when joining a room that does not exist or
// has already shut down.
var ErrRoomNotFound = errors.New("room not found")

// RoomDirectory is told about every room this server starts and stops
// hosting, so that a front proxy can route connections by room id.
type RoomDirectory interface {
	Set(roomID string) error
	Del(roomID string) error
}

// Options configures a Server. Zero values pick the defaults.
type Options struct {
	BroadcastPeriod time.Duration
	// EmptyRoomTimeout reaps rooms that never got a member. Negative disables it.
	EmptyRoomTimeout time.Duration
	Directory        RoomDirectory
	Now              func() time.Time
	NewRoomID        func() (string, error)
}

// Server is the room registry. It owns creation, lookup and deletion of
// rooms; every room's state is owned by that room's manager goroutine.
type Server struct {
	rooms map[string]*Room
	opts  Options
	mutex sync.RWMutex // guard rooms for look up
}

// NewServer creates an empty registry
func NewServer(opts Options) *Server {
	if opts.BroadcastPeriod <= 0 {
		opts.BroadcastPeriod = DefaultBroadcastPeriod
	}
	if opts.EmptyRoomTimeout == 0 {
		opts.EmptyRoomTimeout = DefaultEmptyRoomTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewRoomID == nil {
		opts.NewRoomID = GenerateRoomID
	}
	return &Server{
		rooms: make(map[string]*Room),
		opts:  opts,
	}
}

func (s *Server) now() time.Time { return s.opts.Now() }

// CreateRoom registers a new room under a fresh id and starts its manager.
// An empty name defaults to "Room <id>".
func (s *Server) CreateRoom(name string) (*Room, error) {
	s.mutex.Lock()
	var id string
	for {
		rid, err := s.opts.NewRoomID()
		if err != nil {
			s.mutex.Unlock()
			return nil, err
		}
		if _, taken := s.rooms[rid]; !taken {
			id = rid
			break
		}
	}
	if name == "" {
		name = "Room " + id
	}
	r := NewRoom(id, name, s)
	s.rooms[id] = r
	s.mutex.Unlock()

	go r.RunManager()

	if d := s.opts.Directory; d != nil {
		if err := d.Set(id); err != nil {
			log.Warn().Err(err).Str("room", id).Msg("room directory update failed")
		}
	}
	log.Info().Str("room", id).Str("name", name).Msg("room registered")
	return r, nil
}

// GetRoom looks a room up by id.
func (s *Server) GetRoom(id string) (*Room, bool) {
	s.mutex.RLock()
	r, ok := s.rooms[id]
	s.mutex.RUnlock()
	return r, ok
}

// DeleteRoom removes the room and stops its manager and broadcaster.
// Deleting an unknown room is a no-op.
func (s *Server) DeleteRoom(id string) {
	s.mutex.Lock()
	r, ok := s.rooms[id]
	if ok {
		delete(s.rooms, id)
	}
	s.mutex.Unlock()

	if ok {
		r.shutdown()
	}
}

// NRoom returns the number of live rooms.
func (s *Server) NRoom() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.rooms)
}

// RoomIDs lists the ids of live rooms.
func (s *Server) RoomIDs() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Close shuts every room down and waits for their managers to exit.
func (s *Server) Close() {
	s.mutex.Lock()
	rooms := make([]*Room, 0, len(s.rooms))
	for id, r := range s.rooms {
		rooms = append(rooms, r)
		delete(s.rooms, id)
	}
	s.mutex.Unlock()

	for _, r := range rooms {
		r.shutdown()
	}
	for _, r := range rooms {
		<-r.done
	}
}

// killRoom is run by a room's manager on exit
func (s *Server) killRoom(r *Room) {
	s.mutex.Lock()
	cur, ok := s.rooms[r.ID]
	if ok && cur == r {
		delete(s.rooms, r.ID)
	}
	reused := ok && cur != r
	s.mutex.Unlock()

	if d := s.opts.Directory; d != nil && !reused {
		if err := d.Del(r.ID); err != nil {
			log.Warn().Err(err).Str("room", r.ID).Msg("room directory cleanup failed")
		}
	}
	log.Info().Str("room", r.ID).Msg("room deregistered")
}
