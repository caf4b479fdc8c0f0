package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

const (
	WebsocketSubprotocolMagicV1 = "vchamber_v1"
)

const (
	wsReadBufferSize    = 1024
	wsWriteBufferSize   = 1024
	clientSendQueueSize = 64
	maxMessageSize      = 8192
)

const (
	HeartbeatTimeout = 60 * time.Second
	heartbeatPeriod  = HeartbeatTimeout * 9 / 10
	WriteWait        = 10 * time.Second
)

var (
	ErrSendQueueFull = errors.New("client send queue full")
	ErrClientClosed  = errors.New("client connection closed")
)

// ClientConn encapsulates an established client websocket connection
type ClientConn struct {
	ID        string
	conn      *websocket.Conn
	sendQueue chan *Message
	closing   chan struct{}
	closeOnce sync.Once
	session   *Session
}

func (c *ClientConn) GetID() string         { return c.ID }
func (c *ClientConn) GetRemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *ClientConn) SendMessage(m *Message) error {
	select {
	case <-c.closing:
		return ErrClientClosed
	default:
	}
	select {
	case c.sendQueue <- m:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *ClientConn) Finalise() {
	c.closeOnce.Do(func() { close(c.closing) })
}

var wsUpgrader = GetWSUpgrader()

// GetWSUpgrader return the websocket upgrader for use with vchamber
func GetWSUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		Subprotocols: []string{
			WebsocketSubprotocolMagicV1,
		},
		CheckOrigin: func(r *http.Request) bool {
			return true
		}, // origins are policed by the CORS layer of the REST API
	}
}

// NewClientConn creates a client websocket connection wrapper with its session
func NewClientConn(id string, server *Server, conn *websocket.Conn) *ClientConn {
	c := &ClientConn{
		ID:        id,
		conn:      conn,
		sendQueue: make(chan *Message, clientSendQueueSize),
		closing:   make(chan struct{}),
	}
	c.session = NewSession(server, c)
	return c
}

// the goroutine that runs this function reads from c.conn and drives the session
func (c *ClientConn) HandleWSClientRecv() {
	defer func() {
		c.session.Disconnect()
		c.Finalise()
		log.Info().Str("cid", c.ID).Msg("client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(HeartbeatTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(HeartbeatTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("cid", c.ID).Msg("unexpected closure")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(HeartbeatTimeout))

		var msg Message
		if err := Deserialise(data, &msg); err != nil {
			log.Debug().Str("cid", c.ID).Str("data", string(data)).Msg("invalid message")
			continue
		}
		msg.Sender = c.ID
		c.session.Handle(&msg)
	}
}

// the goroutine that runs this function writes to c.conn
func (c *ClientConn) HandleWSClientSend() {
	ticker := time.NewTicker(heartbeatPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg := <-c.sendQueue:
			b, err := msg.Serialise()
			if err != nil {
				log.Error().Err(err).Str("cid", c.ID).Str("type", string(msg.Type)).Msg("error serialising message")
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.Finalise()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Finalise()
				return
			}
		case <-c.closing:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func handleWSClient(s *Server, w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	cid := xid.New().String()
	client := NewClientConn(cid, s, conn)

	// hello goes first so the client learns its id before any room traffic
	client.SendMessage(&Message{
		Type:    MessageTypeHello,
		Payload: &HelloMessage{ClientID: cid},
	})

	go client.HandleWSClientSend()
	go client.HandleWSClientRecv()

	log.Info().Str("cid", cid).Str("remote", conn.RemoteAddr().String()).
		Str("subprotocol", conn.Subprotocol()).Msg("client connected")
}

// GetVChamberWSHandleFunc returns a handle function for the server
func GetVChamberWSHandleFunc(server *Server) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		handleWSClient(server, w, r)
	}
}
