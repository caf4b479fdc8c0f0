package server

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_ListeningTogether(t *testing.T) {
	clk := newFakeClock()
	s := newTestServer(t, clk, Options{})

	alice := &mockConn{id: "alice"}
	as := NewSession(s, alice)
	id, err := as.CreateRoom("")
	require.NoError(t, err)
	assert.True(t, ValidRoomID(id), id)

	_, err = NewSession(s, &mockConn{id: "eve"}).JoinRoom("WRONG1")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	rep, err := as.JoinRoom(id)
	require.NoError(t, err)
	assert.True(t, rep.IsAdmin)
	assert.False(t, rep.Clock.IsPlaying)
	assert.Zero(t, rep.Clock.Position)

	bob := &mockConn{id: "bob"}
	bs := NewSession(s, bob)
	rep, err = bs.JoinRoom(" " + strings.ToLower(id) + " ")
	require.NoError(t, err)
	assert.False(t, rep.IsAdmin)
	assert.Equal(t, "alice", rep.Admin)
	assert.Same(t, as.Room(), bs.Room())

	require.True(t, as.Command(songPayload("x1", 300)))
	info, _ := as.Room().Info()
	assert.True(t, info.Clock.IsPlaying)
	assert.Zero(t, info.Position)
	assert.Equal(t, "x1", info.Media.ID)

	clk.Advance(2 * time.Second)
	require.True(t, as.Command(command(MessageTypeSeek, "42")))
	info, _ = as.Room().Info()
	assert.InDelta(t, 42, info.Position, 1e-9)

	aliceSyncs := len(alice.ofType(MessageTypeSyncPlayback))
	assert.False(t, bs.Command(command(MessageTypePause, "")))
	info, _ = as.Room().Info()
	assert.True(t, info.Clock.IsPlaying)
	assert.Len(t, alice.ofType(MessageTypeSyncPlayback), aliceSyncs)
	assert.Empty(t, alice.ofType(MessageTypePause))

	clk.Advance(3 * time.Second)
	require.True(t, as.Command(command(MessageTypePause, "")))
	info, _ = as.Room().Info()
	assert.False(t, info.Clock.IsPlaying)
	assert.InDelta(t, 45, info.Position, 1e-9)
	assert.Len(t, bob.ofType(MessageTypePause), 1)

	room := as.Room()
	as.Disconnect()
	assert.Nil(t, as.Room())
	info, _ = room.Info()
	assert.Equal(t, "bob", info.Admin)
	assert.True(t, bs.Command(command(MessageTypePlay, "")))

	bs.Disconnect()
	waitDone(t, room)
	_, ok := s.GetRoom(id)
	assert.False(t, ok)
}

func TestSession_JoiningAnotherRoomLeavesCurrent(t *testing.T) {
	s := newTestServer(t, nil, Options{})

	alice, bob := &mockConn{id: "alice"}, &mockConn{id: "bob"}
	as, bs := NewSession(s, alice), NewSession(s, bob)
	first, err := as.CreateRoom("first")
	require.NoError(t, err)
	second, err := bs.CreateRoom("second")
	require.NoError(t, err)
	firstRoom := as.Room()

	rep, err := as.JoinRoom(second)
	require.NoError(t, err)
	assert.Equal(t, second, rep.RoomID)
	assert.Equal(t, "second", rep.RoomName)

	waitDone(t, firstRoom)
	_, ok := s.GetRoom(first)
	assert.False(t, ok)
	assert.Equal(t, []string{second}, s.RoomIDs())
}

func TestSession_CommandWithoutRoom(t *testing.T) {
	s := newTestServer(t, nil, Options{})
	conn := &mockConn{id: "alice"}
	assert.False(t, NewSession(s, conn).Command(command(MessageTypePlay, "")))
	assert.Empty(t, conn.getReceived())
}

func TestSession_Handle(t *testing.T) {
	s := newTestServer(t, nil, Options{})

	alice := &mockConn{id: "alice"}
	as := NewSession(s, alice)

	as.Handle(&Message{Type: MessageTypePing, Seq: 7, ReceivedAt: time.Now(), Payload: &PingMessage{Timestamp: 1.5}})
	pongs := alice.ofType(MessageTypePong)
	require.Len(t, pongs, 1)
	assert.Equal(t, int64(7), pongs[0].Seq)
	pong, ok := pongs[0].Payload.(*PongMessage)
	require.True(t, ok)
	assert.Equal(t, 1.5, pong.Timestamp)
	assert.GreaterOrEqual(t, pong.SvcTime, 0.0)

	as.Handle(&Message{Type: MessageTypeCreateRoom, Seq: 8, Payload: "party"})
	created := alice.ofType(MessageTypeCreateRoom)
	require.Len(t, created, 1)
	assert.Equal(t, int64(8), created[0].Seq)
	id, _ := created[0].Payload.(string)
	assert.True(t, ValidRoomID(id), id)

	bob := &mockConn{id: "bob"}
	bs := NewSession(s, bob)
	bs.Handle(&Message{Type: MessageTypeJoinRoom, Seq: 1, Payload: "NOSUCH"})
	bs.Handle(&Message{Type: MessageTypeJoinRoom, Seq: 2, Payload: id})
	joins := bob.ofType(MessageTypeJoinRoom)
	require.Len(t, joins, 2)
	assert.Equal(t, int64(1), joins[0].Seq)
	assert.Equal(t, &ErrorReply{Error: "Room not found"}, joins[0].Payload)
	assert.Equal(t, int64(2), joins[1].Seq)
	rep, ok := joins[1].Payload.(*JoinReply)
	require.True(t, ok)
	assert.Equal(t, "party", rep.RoomName)
	assert.Equal(t, []string{"alice", "bob"}, rep.Members)

	// unknown and server-only types are dropped without a reply
	n := len(bob.getReceived())
	bs.Handle(&Message{Type: "bogus"})
	bs.Handle(&Message{Type: MessageTypeSyncPlayback, Payload: &ClockMessage{}})
	bs.Handle(&Message{Type: MessageTypePlay})
	assert.Len(t, bob.getReceived(), n)
}
