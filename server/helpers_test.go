package server

import (
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"
)

type mockConn struct {
	id        string
	received  []*Message
	finalised bool
	sendErr   error
	mu        sync.Mutex
}

func (m *mockConn) GetID() string         { return m.id }
func (m *mockConn) GetRemoteAddr() string { return "test:" + m.id }

func (m *mockConn) SendMessage(msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.received = append(m.received, msg)
	return nil
}

func (m *mockConn) Finalise() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalised = true
}

func (m *mockConn) isFinalised() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalised
}

func (m *mockConn) getReceived() []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Message, len(m.received))
	copy(out, m.received)
	return out
}

func (m *mockConn) ofType(t MessageType) []*Message {
	var out []*Message
	for _, msg := range m.getReceived() {
		if msg.Type == t {
			out = append(out, msg)
		}
	}
	return out
}

func (m *mockConn) types() []MessageType {
	var out []MessageType
	for _, msg := range m.getReceived() {
		out = append(out, msg.Type)
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// newTestServer returns a registry whose broadcaster effectively never
// ticks, so tests only see out-of-band syncs.
func newTestServer(t *testing.T, clk *fakeClock, opts Options) *Server {
	t.Helper()
	if opts.BroadcastPeriod == 0 {
		opts.BroadcastPeriod = time.Hour
	}
	if opts.EmptyRoomTimeout == 0 {
		opts.EmptyRoomTimeout = -1
	}
	if clk != nil {
		opts.Now = clk.Now
	}
	s := NewServer(opts)
	t.Cleanup(s.Close)
	return s
}

type fakeDirectory struct {
	mu   sync.Mutex
	set  []string
	dels []string
}

func (d *fakeDirectory) Set(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.set = append(d.set, id)
	return nil
}

func (d *fakeDirectory) Del(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dels = append(d.dels, id)
	return nil
}

func (d *fakeDirectory) deleted() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dels...)
}

func (m *mockConn) setSendErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

func waitDone(t *testing.T, r *Room) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("room %s did not shut down", r.ID)
	}
}

func songPayload(id string, duration float64) *Message {
	raw := []byte(`{"id":"` + id + `","title":"Song ` + id + `","artist":"Someone","playbackUrl":"https://media.test/` + id + `"`)
	if duration > 0 {
		raw = append(raw, []byte(`,"duration":`+strconv.FormatFloat(duration, 'f', -1, 64))...)
	}
	raw = append(raw, '}')
	return &Message{Type: MessageTypeSelectSong, Payload: json.RawMessage(raw)}
}

func command(t MessageType, payload string) *Message {
	m := &Message{Type: t}
	if payload != "" {
		m.Payload = json.RawMessage(payload)
	}
	return m
}
