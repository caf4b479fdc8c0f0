package schedule

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/koding/websocketproxy"
	"github.com/rs/zerolog/log"

	vsv "github.com/listenalong/vchamber/server"
)

// LoadBalancedReverseProxy is a reverse proxy that serves as an entry point
// for multiple backend servers
type LoadBalancedReverseProxy struct {
	reg      ReadOnlyStorage
	fallback func() (string, error)
}

// NewLoadBalancedReverseProxy creates a new reverse proxy over the room
// registry. Connections without a known room go to fallback when it is set.
func NewLoadBalancedReverseProxy(roomReg ReadOnlyStorage, fallback func() (string, error)) *LoadBalancedReverseProxy {
	return &LoadBalancedReverseProxy{reg: roomReg, fallback: fallback}
}

// ProxyBackend picks the backend from the rid query parameter
func (r *LoadBalancedReverseProxy) ProxyBackend() func(*http.Request) *url.URL {
	return func(req *http.Request) *url.URL {
		rid := strings.ToUpper(strings.TrimSpace(req.URL.Query().Get("rid")))
		target := ""
		if rid != "" {
			var err error
			target, err = r.reg.Get(rid)
			if err != nil && !errors.Is(err, ErrNotFound) {
				log.Warn().Err(err).Str("room", rid).Msg("room registry lookup failed")
			}
		}
		if target == "" && r.fallback != nil {
			target, _ = r.fallback()
		}
		if target == "" {
			log.Debug().Str("room", rid).Str("remote", req.RemoteAddr).Msg("no backend for connection")
			return nil
		}
		u := *BackendWSScheme
		u.Host = target
		u.Fragment = req.URL.Fragment
		u.Path = req.URL.Path
		u.RawQuery = req.URL.RawQuery
		return &u
	}
}

// GetProxy returns a websocket reverse proxy object with registry-backed backend
func (r *LoadBalancedReverseProxy) GetProxy() *websocketproxy.WebsocketProxy {
	return &websocketproxy.WebsocketProxy{
		Backend:  r.ProxyBackend(),
		Upgrader: vsv.GetWSUpgrader(),
	}
}
