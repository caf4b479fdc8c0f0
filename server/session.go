package server

import (
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const errRoomNotFoundReply = "Room not found"

// Session binds one client connection to at most one room. It is driven by
// the connection's receive goroutine and is not safe for concurrent use.
type Session struct {
	conn   VCClientConn
	server *Server
	room   *Room
}

func NewSession(server *Server, conn VCClientConn) *Session {
	return &Session{conn: conn, server: server}
}

// Room returns the room the session is bound to, or nil.
func (s *Session) Room() *Room { return s.room }

// CreateRoom registers a new room and joins it as its sole member and admin.
func (s *Session) CreateRoom(name string) (string, error) {
	s.leave()

	room, err := s.server.CreateRoom(strings.TrimSpace(name))
	if err != nil {
		return "", err
	}
	if _, err := room.Join(s.conn); err != nil {
		return "", err
	}
	s.room = room
	return room.ID, nil
}

// JoinRoom joins the room with the given id. Room codes are matched
// case-insensitively. Joining the bound room again only refreshes the reply.
func (s *Session) JoinRoom(id string) (*JoinReply, error) {
	id = strings.ToUpper(strings.TrimSpace(id))
	room, ok := s.server.GetRoom(id)
	if !ok {
		return nil, ErrRoomNotFound
	}
	if s.room != nil && s.room != room {
		s.leave()
	}

	rep, err := room.Join(s.conn)
	if err != nil {
		s.room = nil
		return nil, err
	}
	s.room = room
	return rep, nil
}

// Command forwards an admin command to the bound room. Commands from
// non-admins or from unbound sessions are dropped.
func (s *Session) Command(m *Message) bool {
	if s.room == nil || !m.Type.IsCommand() {
		return false
	}
	m.Sender = s.conn.GetID()
	return s.room.Apply(m)
}

// Disconnect leaves the bound room, if any.
func (s *Session) Disconnect() {
	s.leave()
}

func (s *Session) leave() {
	if s.room == nil {
		return
	}
	s.room.Leave(s.conn)
	s.room = nil
}

// Handle dispatches one message received from the session's connection and
// replies to requests that expect an answer.
func (s *Session) Handle(m *Message) {
	switch m.Type {
	case MessageTypePing:
		p, ok := m.Payload.(*PingMessage)
		if !ok {
			return
		}
		s.reply(m, &PongMessage{
			Timestamp: p.Timestamp,
			SvcTime:   time.Since(m.ReceivedAt).Seconds(),
		})

	case MessageTypeCreateRoom:
		name, _ := m.Payload.(string)
		id, err := s.CreateRoom(name)
		if err != nil {
			log.Error().Err(err).Str("cid", s.conn.GetID()).Msg("room creation failed")
			s.reply(m, &ErrorReply{Error: "Room creation failed"})
			return
		}
		s.reply(m, id)

	case MessageTypeJoinRoom:
		id, _ := m.Payload.(string)
		rep, err := s.JoinRoom(id)
		if errors.Is(err, ErrRoomNotFound) {
			log.Debug().Str("cid", s.conn.GetID()).Str("room", id).Msg("join of unknown room")
			s.reply(m, &ErrorReply{Error: errRoomNotFoundReply})
			return
		}
		s.reply(m, rep)

	case MessageTypeSelectSong, MessageTypePlay, MessageTypePause, MessageTypeSeek:
		s.Command(m)

	default:
		// silently drop the message
	}
}

func (s *Session) reply(req *Message, payload interface{}) {
	rsp := &Message{Type: req.Type, Seq: req.Seq, Payload: payload}
	if req.Type == MessageTypePing {
		rsp.Type = MessageTypePong
	}
	if err := s.conn.SendMessage(rsp); err != nil {
		log.Warn().Err(err).Str("cid", s.conn.GetID()).Str("type", string(req.Type)).Msg("reply dropped")
	}
}
