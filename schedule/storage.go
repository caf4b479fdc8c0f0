package schedule

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis"

	"github.com/listenalong/vchamber/config"
)

// ErrNotFound is returned by Get for keys that are not stored.
var ErrNotFound = errors.New("key not found")

type StorageBackendType int

const (
	StorageBackendMem StorageBackendType = iota
	StorageBackendRedis
)

func (t StorageBackendType) String() string {
	switch t {
	case StorageBackendMem:
		return "memory"
	case StorageBackendRedis:
		return "redis"
	}
	return fmt.Sprintf("StorageBackendType(%d)", int(t))
}

// ReadOnlyStorage is the room registry as seen by the reverse proxy
type ReadOnlyStorage interface {
	BackendType() StorageBackendType
	Get(key string) (string, error)
}

// Storage maps room ids to the backend host serving them
type Storage interface {
	ReadOnlyStorage
	Set(key, value string) error
	Del(key string) error
}

type memBackend struct {
	m     map[string]string
	mutex sync.RWMutex
}

func (b *memBackend) Get(k string) (string, error) {
	b.mutex.RLock()
	v, ok := b.m[k]
	b.mutex.RUnlock()
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (b *memBackend) Set(k string, v string) error {
	b.mutex.Lock()
	b.m[k] = v
	b.mutex.Unlock()
	return nil
}

func (b *memBackend) Del(k string) error {
	b.mutex.Lock()
	delete(b.m, k)
	b.mutex.Unlock()
	return nil
}

func (b *memBackend) BackendType() StorageBackendType {
	return StorageBackendMem
}

// room keys live under this prefix so the registry can share a redis
// database with the schedule pub/sub channel
const redisKeyPrefix = "vchamber:room:"

type redisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStorage stores the room registry in redis. Entries expire after
// ttl unless refreshed; zero keeps them until deleted.
func NewRedisStorage(client *redis.Client, ttl time.Duration) Storage {
	return &redisBackend{client: client, ttl: ttl}
}

func (b *redisBackend) Get(k string) (string, error) {
	v, err := b.client.Get(redisKeyPrefix + k).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", k, err)
	}
	return v, nil
}

func (b *redisBackend) Set(k string, v string) error {
	if err := b.client.Set(redisKeyPrefix+k, v, b.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", k, err)
	}
	return nil
}

func (b *redisBackend) Del(k string) error {
	if err := b.client.Del(redisKeyPrefix + k).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", k, err)
	}
	return nil
}

func (b *redisBackend) BackendType() StorageBackendType {
	return StorageBackendRedis
}

// NewRedisClient connects through sentinel when configured, otherwise
// directly to cfg.Addr.
func NewRedisClient(cfg config.Redis) *redis.Client {
	if cfg.Sentinel != "" {
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.Master,
			SentinelAddrs: []string{cfg.Sentinel},
		})
	}
	return redis.NewClient(&redis.Options{Addr: cfg.Addr})
}

// NewStorageBackend creates a storage of the given type. The redis backend
// needs a client and checks it is reachable.
func NewStorageBackend(typ StorageBackendType, client *redis.Client) (Storage, error) {
	switch typ {
	case StorageBackendMem:
		return &memBackend{m: make(map[string]string)}, nil
	case StorageBackendRedis:
		if client == nil {
			return nil, errors.New("redis backend needs a client")
		}
		if err := client.Ping().Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return NewRedisStorage(client, 0), nil
	default:
		return nil, fmt.Errorf("unsupported backend type %v", typ)
	}
}
