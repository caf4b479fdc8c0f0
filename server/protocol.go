package server

import (
	"math"
	"time"
)

// PlaybackClock is the minimal state needed to derive the playback position
// of a room at any later instant. Position is in seconds and never negative;
// Timestamp is the instant at which Position was last known exact.
//
// All transitions are pure and take the server's own clock reading, client
// supplied timestamps are never used.
type PlaybackClock struct {
	IsPlaying bool
	Position  float64
	Timestamp time.Time
}

// NewPlaybackClock returns a clock at rest at position zero.
func NewPlaybackClock(now time.Time) PlaybackClock {
	return PlaybackClock{Timestamp: now}
}

// CurrentPosition resolves the clock at now.
func (c PlaybackClock) CurrentPosition(now time.Time) float64 {
	pos := c.Position
	if c.IsPlaying {
		if elapsed := now.Sub(c.Timestamp).Seconds(); elapsed > 0 {
			pos += elapsed
		}
	}
	if pos < 0 {
		return 0
	}
	return pos
}

// Play resumes from the stored position. Playing an already playing clock
// only refreshes the timestamp.
func (c PlaybackClock) Play(now time.Time) PlaybackClock {
	if c.IsPlaying {
		return c.Rebase(now)
	}
	return PlaybackClock{IsPlaying: true, Position: c.Position, Timestamp: now}
}

// Pause freezes the clock at its resolved position.
func (c PlaybackClock) Pause(now time.Time) PlaybackClock {
	return PlaybackClock{IsPlaying: false, Position: c.CurrentPosition(now), Timestamp: now}
}

// Seek moves to target, keeping the play state.
func (c PlaybackClock) Seek(now time.Time, target float64) PlaybackClock {
	if target < 0 {
		target = 0
	}
	return PlaybackClock{IsPlaying: c.IsPlaying, Position: target, Timestamp: now}
}

// Rebase returns an equivalent clock whose timestamp is now.
func (c PlaybackClock) Rebase(now time.Time) PlaybackClock {
	return PlaybackClock{IsPlaying: c.IsPlaying, Position: c.CurrentPosition(now), Timestamp: now}
}

// Clamp stops a playing clock that ran past duration. A non-positive
// duration means unknown and leaves the clock untouched.
func (c PlaybackClock) Clamp(now time.Time, duration float64) (PlaybackClock, bool) {
	if duration <= 0 || !c.IsPlaying || c.CurrentPosition(now) < duration {
		return c, false
	}
	return PlaybackClock{IsPlaying: false, Position: duration, Timestamp: now}, true
}

// SelectClock is the clock of a freshly selected media item: playing from zero.
func SelectClock(now time.Time) PlaybackClock {
	return PlaybackClock{IsPlaying: true, Position: 0, Timestamp: now}
}

// ClockMessage is the wire form of a clock triple, timestamps are unix
// milliseconds so browser clients can feed them to Date.now() arithmetic.
type ClockMessage struct {
	IsPlaying bool    `json:"isPlaying"`
	Position  float64 `json:"position"`
	Timestamp int64   `json:"timestamp"`
}

// Message returns the raw triple, not resolved to a current position.
func (c PlaybackClock) Message() ClockMessage {
	return ClockMessage{IsPlaying: c.IsPlaying, Position: c.Position, Timestamp: c.Timestamp.UnixMilli()}
}

// SyncMessage resolves the clock at now, the payload of sync_playback.
func (c PlaybackClock) SyncMessage(now time.Time) ClockMessage {
	return ClockMessage{IsPlaying: c.IsPlaying, Position: c.CurrentPosition(now), Timestamp: now.UnixMilli()}
}

// Clock converts the wire form back into a PlaybackClock.
func (m ClockMessage) Clock() PlaybackClock {
	return PlaybackClock{IsPlaying: m.IsPlaying, Position: m.Position, Timestamp: time.UnixMilli(m.Timestamp)}
}

func validPosition(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0)
}
