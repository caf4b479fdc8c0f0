package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"
	"sync"

	hostpool "github.com/bitly/go-hostpool"
	"github.com/go-redis/redis"
	"github.com/rs/zerolog/log"

	vserver "github.com/listenalong/vchamber/server"
)

const SchedulePubSubChannel = "schedule"

// url schemes for our backends
var (
	BackendWSScheme, _   = url.Parse("ws://example.com:8080")
	BackendRESTScheme, _ = url.Parse("http://example.com:8080")
)

var ErrNoBackend = errors.New("no backend available")

// Scheduler implements a RESTful API to create rooms, with the same API as implemented
// in the underlying backend servers. It delegates requests to a backend and registers
// the new room with the room registry
type Scheduler struct {
	store  Storage
	info   *ScheduleInfo
	pool   hostpool.HostPool
	hosts  []string
	pubsub *redis.PubSub
	mutex  sync.RWMutex
}

// SchedulingStrategy enum
type SchedulingStrategy int

// SchedulingStrategy enum values
const (
	// spread rooms round-robin over all backends
	SchedulingStrategyBalance SchedulingStrategy = iota
	// fill backends one after another until they are full
	SchedulingStrategyCompact
)

// ParseStrategy maps "balance" and "compact" to their strategy.
func ParseStrategy(s string) (SchedulingStrategy, error) {
	switch strings.ToLower(s) {
	case "", "balance":
		return SchedulingStrategyBalance, nil
	case "compact":
		return SchedulingStrategyCompact, nil
	}
	return SchedulingStrategyBalance, fmt.Errorf("unknown scheduling strategy %q", s)
}

// Backend type for serialisation
type Backend string

// ServerLoad is the fraction of a backend's room capacity in use
type ServerLoad float64

// ScheduleInfo defines the message format used by scheduler and orchestrator
type ScheduleInfo struct {
	Backends map[Backend]ServerLoad `json:"backends"`
	Strategy SchedulingStrategy     `json:"strategy"`
}

// NewScheduleInfo creates an empty scheduleinfo message
func NewScheduleInfo() *ScheduleInfo {
	return &ScheduleInfo{make(map[Backend]ServerLoad), SchedulingStrategyBalance}
}

// NewScheduler creates a scheduler over the room registry s. pubsub carries
// ScheduleInfo updates from the orchestrator and may be nil when updates are
// applied with Update directly.
func NewScheduler(s Storage, pubsub *redis.PubSub) *Scheduler {
	return &Scheduler{
		store:  s,
		info:   NewScheduleInfo(),
		pubsub: pubsub,
	}
}

// Update replaces the known backends and rebuilds the host pool
func (sch *Scheduler) Update(info *ScheduleInfo) {
	if info.Backends == nil {
		info.Backends = make(map[Backend]ServerLoad)
	}
	sch.mutex.Lock()
	sch.info = info
	sch.rebuildPool()
	sch.mutex.Unlock()
	log.Info().Int("backends", len(info.Backends)).Int("strategy", int(info.Strategy)).Msg("schedule updated")
}

// rebuildPool recreates the backend pool based on the current scheduleinfo,
// NOT thread-safe
func (sch *Scheduler) rebuildPool() {
	hosts := make([]string, 0, len(sch.info.Backends))
	for h := range sch.info.Backends {
		hosts = append(hosts, string(h))
	}
	sort.Strings(hosts)
	sch.hosts = hosts
	sch.pool = nil
	if len(hosts) > 0 {
		sch.pool = hostpool.New(hosts) // just round-robin
	}
}

// NextBackend returns a backend host using the current scheduling strategy
func (sch *Scheduler) NextBackend() (string, error) {
	sch.mutex.RLock()
	defer sch.mutex.RUnlock()

	if sch.pool == nil {
		return "", ErrNoBackend
	}
	if sch.info.Strategy == SchedulingStrategyCompact {
		for _, h := range sch.hosts {
			if sch.info.Backends[Backend(h)] < 1 {
				return h, nil
			}
		}
	}
	return sch.pool.Get().Host(), nil
}

// RunScheduler applies schedule updates published by the orchestrator until
// ctx is done
func (sch *Scheduler) RunScheduler(ctx context.Context) {
	defer sch.pubsub.Close()
	ch := sch.pubsub.Channel()
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return
			}
			var s ScheduleInfo
			if err := json.Unmarshal([]byte(m.Payload), &s); err != nil {
				log.Warn().Err(err).Str("payload", m.Payload).Msg("invalid schedule info")
				continue
			}
			sch.Update(&s)
		case <-ctx.Done():
			return
		}
	}
}

// roomFromPath extracts rid from /room/{rid}
func roomFromPath(p string) string {
	rid := strings.TrimPrefix(p, "/room/")
	if rid == p || rid == "" || strings.Contains(rid, "/") {
		return ""
	}
	return strings.ToUpper(rid)
}

func (sch *Scheduler) backendFor(req *http.Request) (string, error) {
	if rid := roomFromPath(req.URL.Path); rid != "" {
		return sch.store.Get(rid)
	}
	return sch.NextBackend()
}

// ProxyDirector returns a Director function for the reverseproxy. Requests
// about an existing room go to its backend, new rooms to the next backend.
func (sch *Scheduler) ProxyDirector() func(*http.Request) {
	return func(req *http.Request) {
		req.URL.Scheme = BackendRESTScheme.Scheme
		host, err := sch.backendFor(req)
		if err != nil {
			log.Debug().Err(err).Str("path", req.URL.Path).Msg("no backend for request")
			host = ""
		}
		req.URL.Host = host
		if _, ok := req.Header["User-Agent"]; !ok {
			req.Header.Set("User-Agent", "")
		}
	}
}

// RoomRegister returns a ModifyResponse function for the reverseproxy that
// keeps the room registry in line with rooms created and destroyed through it
func (sch *Scheduler) RoomRegister() func(*http.Response) error {
	return func(rsp *http.Response) error {
		if rsp.StatusCode != http.StatusOK {
			return nil
		}
		req := rsp.Request
		if req.Method == http.MethodDelete {
			if rid := roomFromPath(req.URL.Path); rid != "" {
				if err := sch.store.Del(rid); err != nil {
					log.Warn().Err(err).Str("room", rid).Msg("room deregistration failed")
				}
			}
			return nil
		}
		if req.URL.Path != "/room" {
			return nil
		}

		b, err := io.ReadAll(rsp.Body)
		if err != nil {
			return err
		}
		if err := rsp.Body.Close(); err != nil {
			return err
		}
		var m vserver.RoomCreatedMsg
		if err := json.Unmarshal(b, &m); err != nil || m.RoomID == "" {
			return errors.New("internal error during room creation")
		}
		if err := sch.store.Set(m.RoomID, req.URL.Host); err != nil {
			return fmt.Errorf("register room %s: %w", m.RoomID, err)
		}
		log.Info().Str("room", m.RoomID).Str("backend", req.URL.Host).Msg("room scheduled")
		// put the original content back
		rsp.Body = io.NopCloser(bytes.NewReader(b))
		return nil
	}
}

func proxyError(rw http.ResponseWriter, req *http.Request, err error) {
	if req.URL.Host == "" && roomFromPath(req.URL.Path) != "" {
		vserver.RespondWithError("Room not found", http.StatusNotFound, rw)
		return
	}
	if req.URL.Host == "" {
		vserver.RespondWithError("No backend available", http.StatusServiceUnavailable, rw)
		return
	}
	log.Warn().Err(err).Str("backend", req.URL.Host).Str("path", req.URL.Path).Msg("backend request failed")
	vserver.RespondWithError("Backend unavailable", http.StatusBadGateway, rw)
}

// GetProxy returns the reverse proxy http.Handler
func (sch *Scheduler) GetProxy() *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Director:       sch.ProxyDirector(),
		ModifyResponse: sch.RoomRegister(),
		ErrorHandler:   proxyError,
	}
}
