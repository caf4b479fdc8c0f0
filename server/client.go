package server

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/listenalong/vchamber/media"
)

// DefaultSyncThreshold is the drift in seconds a client tolerates before
// snapping to the server position.
const DefaultSyncThreshold = 1.5

// LocalPlayer is a client-side playback position estimate kept in line with
// sync_playback broadcasts. Rate simulates a device whose playback runs
// faster or slower than wall time.
type LocalPlayer struct {
	mu          sync.Mutex
	clock       PlaybackClock
	rate        float64
	threshold   float64
	lastDrift   float64
	corrections int
}

func NewLocalPlayer(rate, threshold float64, now time.Time) *LocalPlayer {
	if rate <= 0 {
		rate = 1
	}
	if threshold <= 0 {
		threshold = DefaultSyncThreshold
	}
	return &LocalPlayer{clock: NewPlaybackClock(now), rate: rate, threshold: threshold}
}

func (p *LocalPlayer) position(now time.Time) float64 {
	if !p.clock.IsPlaying {
		return p.clock.Position
	}
	return p.clock.Position + math.Max(now.Sub(p.clock.Timestamp).Seconds(), 0)*p.rate
}

// Position is the locally displayed position at now.
func (p *LocalPlayer) Position(now time.Time) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position(now)
}

// IsPlaying reports the local play state.
func (p *LocalPlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clock.IsPlaying
}

// Load starts from a raw clock triple such as the one in a join reply.
func (p *LocalPlayer) Load(m ClockMessage, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := m.Clock()
	p.clock = PlaybackClock{IsPlaying: c.IsPlaying, Position: c.CurrentPosition(now), Timestamp: now}
}

// Sync compares the local position with a server broadcast and snaps to the
// server when they drift more than the threshold or disagree on play state.
func (p *LocalPlayer) Sync(m ClockMessage, now time.Time) (drift float64, corrected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	server := m.Clock().CurrentPosition(now)
	drift = math.Abs(server - p.position(now))
	p.lastDrift = drift
	if drift > p.threshold || m.IsPlaying != p.clock.IsPlaying {
		p.clock = PlaybackClock{IsPlaying: m.IsPlaying, Position: server, Timestamp: now}
		p.corrections++
		return drift, true
	}
	return drift, false
}

// Apply mirrors a relayed admin command locally.
func (p *LocalPlayer) Apply(m *Message, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur := PlaybackClock{IsPlaying: p.clock.IsPlaying, Position: p.position(now), Timestamp: now}
	switch m.Type {
	case MessageTypeSelectSong:
		p.clock = SelectClock(now)
	case MessageTypePlay:
		p.clock = cur.Play(now)
	case MessageTypePause:
		p.clock = cur.Pause(now)
	case MessageTypeSeek:
		var pos float64
		if err := json.Unmarshal(rawPayload(m), &pos); err == nil && validPosition(pos) {
			p.clock = cur.Seek(now, pos)
		}
	}
}

// Stats returns the last measured drift and the number of corrections.
func (p *LocalPlayer) Stats() (lastDrift float64, corrections int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastDrift, p.corrections
}

// Client is a headless vchamber client
type Client struct {
	ID     string
	Player *LocalPlayer

	conn    *websocket.Conn
	writeMu sync.Mutex
	seq     int64

	mu      sync.Mutex
	pending map[int64]chan *Message
	admin   string

	// OnMessage, when set before Run, sees every pushed message
	OnMessage func(*Message)

	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// Connect dials addr (ws://host/ws) and waits for the hello message.
func Connect(dialer *websocket.Dialer, addr string) (*Client, error) {
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
			Subprotocols:     []string{WebsocketSubprotocolMagicV1},
		}
	}
	conn, _, err := dialer.Dial(addr, nil)
	if err != nil {
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(WriteWait))
	_, b, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetReadDeadline(time.Time{})

	var hello Message
	if err := Deserialise(b, &hello); err != nil || hello.Type != MessageTypeHello {
		conn.WriteMessage(websocket.CloseMessage, []byte{})
		conn.Close()
		if err == nil {
			err = errors.New("expected hello message")
		}
		return nil, err
	}

	return &Client{
		ID:      hello.Payload.(*HelloMessage).ClientID,
		Player:  NewLocalPlayer(1, DefaultSyncThreshold, time.Now()),
		conn:    conn,
		pending: make(map[int64]chan *Message),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}, nil
}

func (c *Client) SendMessage(msg *Message) error {
	b, err := msg.Serialise()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) request(ctx context.Context, t MessageType, payload interface{}) (*Message, error) {
	seq := atomic.AddInt64(&c.seq, 1)
	ch := make(chan *Message, 1)
	c.mu.Lock()
	c.pending[seq] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
	}()

	if err := c.SendMessage(&Message{Type: t, Seq: seq, Payload: payload}); err != nil {
		return nil, err
	}
	select {
	case rsp := <-ch:
		return rsp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.stopped:
		return nil, ErrClientClosed
	}
}

// CreateRoom creates a room and returns its id. Run must be active.
func (c *Client) CreateRoom(ctx context.Context, name string) (string, error) {
	rsp, err := c.request(ctx, MessageTypeCreateRoom, name)
	if err != nil {
		return "", err
	}
	id, ok := rsp.Payload.(string)
	if !ok || id == "" {
		return "", errors.New("room creation failed")
	}
	c.mu.Lock()
	c.admin = c.ID
	c.mu.Unlock()
	return id, nil
}

// JoinRoom joins a room and loads its clock into the local player.
func (c *Client) JoinRoom(ctx context.Context, id string) (*JoinReply, error) {
	rsp, err := c.request(ctx, MessageTypeJoinRoom, id)
	if err != nil {
		return nil, err
	}
	switch p := rsp.Payload.(type) {
	case *JoinReply:
		c.Player.Load(p.Clock, time.Now())
		c.mu.Lock()
		c.admin = p.Admin
		c.mu.Unlock()
		return p, nil
	case *ErrorReply:
		return nil, ErrRoomNotFound
	default:
		return nil, errors.New("unexpected join reply")
	}
}

// IsAdmin reports whether the server last named this client admin.
func (c *Client) IsAdmin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.admin == c.ID
}

func (c *Client) SelectSong(it media.Item) error {
	return c.SendMessage(&Message{Type: MessageTypeSelectSong, Payload: it})
}

func (c *Client) Play() error  { return c.SendMessage(&Message{Type: MessageTypePlay}) }
func (c *Client) Pause() error { return c.SendMessage(&Message{Type: MessageTypePause}) }

func (c *Client) Seek(pos float64) error {
	return c.SendMessage(&Message{Type: MessageTypeSeek, Payload: pos})
}

// Run reads from the connection until it fails or Close is called.
func (c *Client) Run() {
	defer func() {
		c.once.Do(func() { close(c.stop) })
		close(c.stopped)
		c.conn.Close()
	}()
	go func() {
		<-c.stop
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.conn.Close()
	}()

	for {
		_, b, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var m Message
		if err := Deserialise(b, &m); err != nil {
			continue
		}
		c.dispatch(&m)
	}
}

func (c *Client) dispatch(m *Message) {
	if m.Seq != 0 {
		c.mu.Lock()
		ch, ok := c.pending[m.Seq]
		c.mu.Unlock()
		if ok {
			ch <- m
			return
		}
	}

	now := time.Now()
	switch m.Type {
	case MessageTypeSyncPlayback:
		if p, ok := m.Payload.(*ClockMessage); ok {
			c.Player.Sync(*p, now)
		}
	case MessageTypeSelectSong, MessageTypePlay, MessageTypePause, MessageTypeSeek:
		c.Player.Apply(m, now)
	case MessageTypeAdminChanged:
		if id, ok := m.Payload.(string); ok {
			c.mu.Lock()
			c.admin = id
			c.mu.Unlock()
		}
	}
	if c.OnMessage != nil {
		c.OnMessage(m)
	}
}

// ClientSendHeartbeat pings the server every second until Close.
func (c *Client) ClientSendHeartbeat() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ping := PingMessage{Timestamp: float64(time.Now().UnixNano()) / 1e9}
			if err := c.SendMessage(&Message{Type: MessageTypePing, Payload: &ping}); err != nil {
				return
			}
		case <-c.stop:
			return
		}
	}
}

// Close stops Run and closes the connection.
func (c *Client) Close() {
	c.once.Do(func() { close(c.stop) })
}
