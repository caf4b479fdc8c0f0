package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/listenalong/vchamber/media"
)

// VCClientConn is a member connection as seen by a room.
type VCClientConn interface {
	GetID() string
	GetRemoteAddr() string
	// SendMessage queues m without blocking and fails if the queue is full
	// or the connection is gone.
	SendMessage(m *Message) error
	// Finalise tears the connection down; its session then disconnects.
	Finalise()
}

// RoomInfo is a point-in-time snapshot of a room.
type RoomInfo struct {
	ID       string       `json:"roomId"`
	Name     string       `json:"roomName"`
	Media    *media.Item  `json:"currentMedia"`
	Clock    ClockMessage `json:"clock"`
	Position float64      `json:"position"`
	Admin    string       `json:"admin"`
	Members  []string     `json:"members"`
}

type joinRequest struct {
	client VCClientConn
	reply  chan *JoinReply
}

type leaveRequest struct {
	client VCClientConn
	done   chan struct{}
}

type commandRequest struct {
	msg      *Message
	accepted chan bool
}

// Room is one listening session. Everything below the channel block is
// owned by the RunManager goroutine and must not be touched elsewhere.
type Room struct {
	ID     string
	name   string
	server *Server

	enqClient chan *joinRequest
	deqClient chan *leaveRequest
	recvQueue chan *commandRequest
	inspect   chan chan *RoomInfo
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	media   *media.Item
	clock   PlaybackClock
	clients map[string]VCClientConn
	order   []string // member ids in join order
	admin   string
	ticker  *time.Ticker // the sync broadcaster, non-nil iff there are members
	active  bool         // has had a member
}

// NewRoom creates a room with no members. The caller starts RunManager.
func NewRoom(id, name string, server *Server) *Room {
	return &Room{
		ID:        id,
		name:      name,
		server:    server,
		enqClient: make(chan *joinRequest),
		deqClient: make(chan *leaveRequest),
		recvQueue: make(chan *commandRequest),
		inspect:   make(chan chan *RoomInfo),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
		clock:     NewPlaybackClock(server.now()),
		clients:   make(map[string]VCClientConn),
	}
}

// Join adds c to the room. The first member of an empty room becomes its
// admin. Joining twice is harmless and returns the current view.
func (r *Room) Join(c VCClientConn) (*JoinReply, error) {
	req := &joinRequest{client: c, reply: make(chan *JoinReply, 1)}
	select {
	case r.enqClient <- req:
	case <-r.done:
		return nil, ErrRoomNotFound
	}
	select {
	case rep := <-req.reply:
		return rep, nil
	case <-r.done:
		return nil, ErrRoomNotFound
	}
}

// Leave removes c from the room, handing admin over if needed. The last
// member leaving shuts the room down.
func (r *Room) Leave(c VCClientConn) {
	req := &leaveRequest{client: c, done: make(chan struct{})}
	select {
	case r.deqClient <- req:
	case <-r.done:
		return
	}
	select {
	case <-req.done:
	case <-r.done:
	}
}

// Apply runs an admin command sent by m.Sender. It reports whether the
// command was accepted; rejected commands leave no trace.
func (r *Room) Apply(m *Message) bool {
	req := &commandRequest{msg: m, accepted: make(chan bool, 1)}
	select {
	case r.recvQueue <- req:
	case <-r.done:
		return false
	}
	select {
	case ok := <-req.accepted:
		return ok
	case <-r.done:
		return false
	}
}

// Info snapshots the room. ok is false once the room has shut down.
func (r *Room) Info() (info *RoomInfo, ok bool) {
	reply := make(chan *RoomInfo, 1)
	select {
	case r.inspect <- reply:
	case <-r.done:
		return nil, false
	}
	select {
	case info = <-reply:
		return info, true
	case <-r.done:
		return nil, false
	}
}

// Done is closed once the room has shut down.
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) shutdown() {
	r.closeOnce.Do(func() { close(r.closing) })
}

// RunManager manages room r. It is the only goroutine touching room state,
// which serialises joins, leaves, commands, broadcasts and deletion.
func (r *Room) RunManager() {
	var shutdownTimer <-chan time.Time
	var timer *time.Timer
	if d := r.server.opts.EmptyRoomTimeout; d > 0 {
		timer = time.NewTimer(d)
		shutdownTimer = timer.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		r.stopBroadcast()
		for _, c := range r.clients {
			c.Finalise()
		}
		r.server.killRoom(r)
		close(r.done)
	}()

	for {
		var tick <-chan time.Time
		if r.ticker != nil {
			tick = r.ticker.C
		}

		select {
		case req := <-r.enqClient:
			req.reply <- r.joinClient(req.client)
			shutdownTimer = nil
		case req := <-r.deqClient:
			r.killClient(req.client)
			close(req.done)
		case req := <-r.recvQueue:
			req.accepted <- r.handleCommand(req.msg)
		case reply := <-r.inspect:
			reply <- r.info()
		case <-tick:
			r.tick()
		case <-shutdownTimer:
			log.Info().Str("room", r.ID).Msg("room never joined, shutting down")
			return
		case <-r.closing:
			log.Info().Str("room", r.ID).Int("members", len(r.clients)).Msg("room closed")
			return
		}

		if r.active && len(r.clients) == 0 {
			log.Info().Str("room", r.ID).Msg("room empty, shutting down")
			r.clients = nil
			return
		}
	}
}

func (r *Room) joinClient(c VCClientConn) *JoinReply {
	id := c.GetID()
	if _, ok := r.clients[id]; !ok {
		r.clients[id] = c
		r.order = append(r.order, id)
		r.active = true
		if len(r.clients) == 1 {
			r.admin = id
			r.startBroadcast()
		}
		r.broadcast(&Message{Type: MessageTypeUserJoined, Payload: id}, id)
		log.Info().Str("room", r.ID).Str("cid", id).Str("remote", c.GetRemoteAddr()).
			Bool("admin", r.admin == id).Msg("client joined")
	}

	members := make([]string, len(r.order))
	copy(members, r.order)
	return &JoinReply{
		RoomID:       r.ID,
		RoomName:     r.name,
		CurrentMedia: r.media,
		Clock:        r.clock.Message(),
		IsAdmin:      r.admin == id,
		Admin:        r.admin,
		Members:      members,
	}
}

// killClient removes c if it is the connection registered under its id
func (r *Room) killClient(c VCClientConn) {
	if cur, ok := r.clients[c.GetID()]; ok && cur == c {
		r.removeMember(c.GetID())
	}
}

func (r *Room) removeMember(id string) {
	if _, ok := r.clients[id]; !ok {
		return
	}
	delete(r.clients, id)
	for i, mid := range r.order {
		if mid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	log.Info().Str("room", r.ID).Str("cid", id).Int("members", len(r.order)).Msg("client left")

	if len(r.order) == 0 {
		r.admin = ""
		r.stopBroadcast()
		return
	}
	if r.admin == id {
		r.admin = r.order[0]
		log.Info().Str("room", r.ID).Str("admin", r.admin).Msg("admin handed over")
		r.broadcast(&Message{Type: MessageTypeAdminChanged, Payload: r.admin}, "")
	}
	r.broadcast(&Message{Type: MessageTypeUserLeft, Payload: id}, "")
}

func (r *Room) handleCommand(m *Message) bool {
	if m.Sender == "" || m.Sender != r.admin {
		log.Debug().Str("room", r.ID).Str("cid", m.Sender).Str("type", string(m.Type)).
			Msg("non admin attempted to change room state")
		return false
	}

	now := r.server.now()
	raw := rawPayload(m)

	switch m.Type {
	case MessageTypeSelectSong:
		var it media.Item
		if err := json.Unmarshal(raw, &it); err != nil || !it.Valid() {
			log.Debug().Str("room", r.ID).Msg("invalid media item dropped")
			return false
		}
		r.media = &it
		r.clock = SelectClock(now)
	case MessageTypePlay:
		r.clock = r.clock.Play(now)
	case MessageTypePause:
		r.clock = r.clock.Pause(now)
	case MessageTypeSeek:
		var pos float64
		if err := json.Unmarshal(raw, &pos); err != nil || !validPosition(pos) {
			log.Debug().Str("room", r.ID).Msg("invalid seek position dropped")
			return false
		}
		if r.media != nil && r.media.Duration > 0 && pos > r.media.Duration {
			pos = r.media.Duration
		}
		r.clock = r.clock.Seek(now, pos)
	default:
		return false
	}

	r.broadcast(&Message{Type: m.Type, Payload: raw}, m.Sender)
	r.broadcastState(now)
	return true
}

func (r *Room) tick() {
	now := r.server.now()
	if r.media != nil {
		if c, ended := r.clock.Clamp(now, r.media.Duration); ended {
			r.clock = c
			log.Debug().Str("room", r.ID).Str("media", r.media.ID).Msg("track ended")
		}
	}
	r.broadcastState(now)
}

// broadcastState sends the clock resolved at now to every member
func (r *Room) broadcastState(now time.Time) {
	r.broadcast(&Message{Type: MessageTypeSyncPlayback, Payload: r.clock.SyncMessage(now)}, "")
}

// broadcast sends m to every member but except. A member whose queue is
// full is finalised and removed like a disconnect.
func (r *Room) broadcast(m *Message, except string) {
	var failed []VCClientConn
	for _, id := range r.order {
		if id == except {
			continue
		}
		c := r.clients[id]
		if err := c.SendMessage(m); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		if _, ok := r.clients[c.GetID()]; !ok {
			continue
		}
		log.Warn().Str("room", r.ID).Str("cid", c.GetID()).Msg("client send queue full, dropping")
		c.Finalise()
		r.removeMember(c.GetID())
	}
}

func (r *Room) startBroadcast() {
	if r.ticker == nil {
		r.ticker = time.NewTicker(r.server.opts.BroadcastPeriod)
	}
}

func (r *Room) stopBroadcast() {
	if r.ticker != nil {
		r.ticker.Stop()
		r.ticker = nil
	}
}

func (r *Room) info() *RoomInfo {
	members := make([]string, len(r.order))
	copy(members, r.order)
	now := r.server.now()
	return &RoomInfo{
		ID:       r.ID,
		Name:     r.name,
		Media:    r.media,
		Clock:    r.clock.Message(),
		Position: r.clock.CurrentPosition(now),
		Admin:    r.admin,
		Members:  members,
	}
}
