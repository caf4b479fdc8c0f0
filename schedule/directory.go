package schedule

import (
	"errors"
)

// Directory publishes the rooms of one backend to the shared registry so
// the reverse proxy can route connections to it. It satisfies
// server.RoomDirectory.
type Directory struct {
	store Storage
	host  string
}

// NewDirectory records rooms as served by host (host:port as reachable
// from the proxy).
func NewDirectory(store Storage, host string) *Directory {
	return &Directory{store: store, host: host}
}

func (d *Directory) Set(roomID string) error {
	return d.store.Set(roomID, d.host)
}

// Del removes roomID unless another backend has claimed the id meanwhile.
func (d *Directory) Del(roomID string) error {
	cur, err := d.store.Get(roomID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if cur != d.host {
		return nil
	}
	return d.store.Del(roomID)
}
