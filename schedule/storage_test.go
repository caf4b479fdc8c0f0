package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenalong/vchamber/server"
)

func newMemStorage(t *testing.T) Storage {
	t.Helper()
	s, err := NewStorageBackend(StorageBackendMem, nil)
	require.NoError(t, err)
	return s
}

func TestMemStorage(t *testing.T) {
	s := newMemStorage(t)
	assert.Equal(t, StorageBackendMem, s.BackendType())

	_, err := s.Get("AB12CD")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set("AB12CD", "backend-0:8080"))
	v, err := s.Get("AB12CD")
	require.NoError(t, err)
	assert.Equal(t, "backend-0:8080", v)

	require.NoError(t, s.Del("AB12CD"))
	require.NoError(t, s.Del("AB12CD"))
	_, err = s.Get("AB12CD")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewStorageBackend_Errors(t *testing.T) {
	_, err := NewStorageBackend(StorageBackendRedis, nil)
	assert.Error(t, err)
	_, err = NewStorageBackend(StorageBackendType(7), nil)
	assert.Error(t, err)
	assert.Equal(t, "StorageBackendType(7)", StorageBackendType(7).String())
	assert.Equal(t, "redis", StorageBackendRedis.String())
}

func TestDirectory(t *testing.T) {
	s := newMemStorage(t)
	d := NewDirectory(s, "backend-0:8080")

	require.NoError(t, d.Set("AB12CD"))
	v, _ := s.Get("AB12CD")
	assert.Equal(t, "backend-0:8080", v)

	// another backend took the id over
	require.NoError(t, s.Set("AB12CD", "backend-1:8080"))
	require.NoError(t, d.Del("AB12CD"))
	v, _ = s.Get("AB12CD")
	assert.Equal(t, "backend-1:8080", v)

	require.NoError(t, d.Del("NOSUCH"))
}

func TestDirectory_FollowsRoomLifecycle(t *testing.T) {
	s := newMemStorage(t)
	srv := server.NewServer(server.Options{
		BroadcastPeriod:  time.Hour,
		EmptyRoomTimeout: -1,
		Directory:        NewDirectory(s, "backend-0:8080"),
	})
	t.Cleanup(srv.Close)

	r, err := srv.CreateRoom("")
	require.NoError(t, err)
	v, err := s.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, "backend-0:8080", v)

	srv.DeleteRoom(r.ID)
	<-r.Done()
	_, err = s.Get(r.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
