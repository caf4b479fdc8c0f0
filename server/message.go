package server

import (
	"encoding/json"
	"time"

	"github.com/listenalong/vchamber/media"
)

// Message defines the vchamber message format
type Message struct {
	Sender     string      `json:"-"`
	ReceivedAt time.Time   `json:"-"`
	Type       MessageType `json:"type"`
	Seq        int64       `json:"seq,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
}

type receivedMessage struct {
	Type    MessageType     `json:"type"`
	Seq     int64           `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// MessageType is the event name of a message
type MessageType string

// MessageType instances
const (
	MessageTypeHello        MessageType = "hello"
	MessageTypePing         MessageType = "ping"
	MessageTypePong         MessageType = "pong"
	MessageTypeCreateRoom   MessageType = "create_room"
	MessageTypeJoinRoom     MessageType = "join_room"
	MessageTypeSelectSong   MessageType = "select_song"
	MessageTypePlay         MessageType = "play"
	MessageTypePause        MessageType = "pause"
	MessageTypeSeek         MessageType = "seek"
	MessageTypeSyncPlayback MessageType = "sync_playback"
	MessageTypeUserJoined   MessageType = "user_joined"
	MessageTypeUserLeft     MessageType = "user_left"
	MessageTypeAdminChanged MessageType = "admin_changed"
)

// IsCommand reports whether t is an admin-only playback command.
func (t MessageType) IsCommand() bool {
	switch t {
	case MessageTypeSelectSong, MessageTypePlay, MessageTypePause, MessageTypeSeek:
		return true
	}
	return false
}

type HelloMessage struct {
	ClientID string `json:"id"`
}

type PingMessage struct {
	Timestamp float64 `json:"sendtime"`
}

type PongMessage struct {
	Timestamp float64 `json:"sendtime"`
	SvcTime   float64 `json:"servicetime"`
}

// JoinReply answers join_room. Clock is the raw stored triple, clients
// resolve it themselves.
type JoinReply struct {
	RoomID       string       `json:"roomId"`
	RoomName     string       `json:"roomName"`
	CurrentMedia *media.Item  `json:"currentMedia"`
	Clock        ClockMessage `json:"clock"`
	IsAdmin      bool         `json:"isAdmin"`
	Admin        string       `json:"admin"`
	Members      []string     `json:"members"`
}

type ErrorReply struct {
	Error string `json:"error"`
}

// Serialise a Message to its wire format as []byte
func (m *Message) Serialise() ([]byte, error) {
	return json.Marshal(m)
}

// Deserialise a Message stored in data in its wire format back to a struct
// and store it to the value pointed to by m. Command payloads stay raw so
// they can be relayed verbatim.
func Deserialise(data []byte, m *Message) error {
	var rm receivedMessage

	err := json.Unmarshal(data, &rm)
	if err != nil {
		return err
	}

	m.ReceivedAt = time.Now()
	m.Type = rm.Type
	m.Seq = rm.Seq

	switch m.Type {
	case MessageTypeHello:
		var p HelloMessage
		err = unmarshalPayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypePing:
		var p PingMessage
		err = unmarshalPayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypePong:
		var p PongMessage
		err = unmarshalPayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeSyncPlayback:
		var p ClockMessage
		err = unmarshalPayload(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeJoinRoom:
		// a join reply carries an object, a request a bare room id
		if isObject(rm.Payload) {
			var p struct {
				JoinReply
				Error string `json:"error"`
			}
			err = json.Unmarshal(rm.Payload, &p)
			if p.Error != "" {
				m.Payload = &ErrorReply{Error: p.Error}
			} else {
				m.Payload = &p.JoinReply
			}
		} else {
			var id string
			err = unmarshalPayload(rm.Payload, &id)
			m.Payload = id
		}
	case MessageTypeCreateRoom, MessageTypeUserJoined, MessageTypeUserLeft, MessageTypeAdminChanged:
		var s string
		err = unmarshalPayload(rm.Payload, &s)
		m.Payload = s
	default:
		m.Payload = rm.Payload
	}
	return err
}

func unmarshalPayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func isObject(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}

func rawPayload(m *Message) json.RawMessage {
	if raw, ok := m.Payload.(json.RawMessage); ok {
		return raw
	}
	return nil
}
