package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis"
	"github.com/rs/zerolog/log"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/listenalong/vchamber/config"
	"github.com/listenalong/vchamber/server"
)

const backendProbeTimeout = 5 * time.Second

// Orchestrator discovers backends in the cluster, refreshes the room
// registry from them and publishes the schedule to every scheduler.
type Orchestrator struct {
	store    Storage
	client   *redis.Client
	cluster  config.Cluster
	strategy SchedulingStrategy
	http     *http.Client
}

func NewOrchestrator(rclient *redis.Client, s Storage, cluster config.Cluster) (*Orchestrator, error) {
	strategy, err := ParseStrategy(cluster.Strategy)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		store:    s,
		client:   rclient,
		cluster:  cluster,
		strategy: strategy,
		http:     &http.Client{Timeout: backendProbeTimeout},
	}, nil
}

// Hosts lists running backend pods by their stable service DNS name
func (o *Orchestrator) Hosts(clientset kubernetes.Interface) ([]string, error) {
	pods, err := clientset.CoreV1().Pods(o.cluster.Namespace).List(metav1.ListOptions{LabelSelector: o.cluster.LabelSelector})
	if err != nil {
		return nil, fmt.Errorf("list backend pods: %w", err)
	}
	hosts := make([]string, 0, len(pods.Items))
	for _, pod := range pods.Items {
		if pod.Status.Phase != "Running" {
			continue
		}
		hosts = append(hosts, fmt.Sprintf("%s.%s:%d", pod.Name, o.cluster.Service, o.cluster.BackendPort))
	}
	return hosts, nil
}

func (o *Orchestrator) probe(ctx context.Context, host string) (*server.ServerInfoMsg, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+host+"/server", nil)
	if err != nil {
		return nil, err
	}
	rsp, err := o.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server info: %s", rsp.Status)
	}
	var m server.ServerInfoMsg
	if err := json.NewDecoder(rsp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode server info: %w", err)
	}
	return &m, nil
}

// Collect asks every host for its rooms, records them in the registry and
// returns the resulting schedule. Hosts that do not answer are left out.
func (o *Orchestrator) Collect(ctx context.Context, hosts []string) *ScheduleInfo {
	info := NewScheduleInfo()
	info.Strategy = o.strategy

	for _, host := range hosts {
		m, err := o.probe(ctx, host)
		if err != nil {
			log.Warn().Err(err).Str("backend", host).Msg("backend probe failed")
			continue
		}
		for _, rid := range m.Rooms {
			if err := o.store.Set(rid, host); err != nil {
				log.Warn().Err(err).Str("room", rid).Msg("room registry update failed")
			}
		}
		var load ServerLoad
		if o.cluster.RoomsPerBackend > 0 {
			load = ServerLoad(float64(m.NRoom) / float64(o.cluster.RoomsPerBackend))
		}
		info.Backends[Backend(host)] = load
	}
	return info
}

// Publish sends info to the schedulers
func (o *Orchestrator) Publish(info *ScheduleInfo) error {
	msg, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if err := o.client.Publish(SchedulePubSubChannel, string(msg)).Err(); err != nil {
		return fmt.Errorf("publish schedule: %w", err)
	}
	return nil
}

func (o *Orchestrator) UpdateBackendInfo(ctx context.Context, clientset kubernetes.Interface) error {
	hosts, err := o.Hosts(clientset)
	if err != nil {
		return err
	}
	info := o.Collect(ctx, hosts)
	log.Info().Int("pods", len(hosts)).Int("backends", len(info.Backends)).Msg("backend info collected")
	return o.Publish(info)
}

// Run publishes a fresh schedule every update period until ctx is done.
// It must run inside the cluster.
func (o *Orchestrator) Run(ctx context.Context) error {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return fmt.Errorf("in cluster config: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return fmt.Errorf("kubernetes client: %w", err)
	}

	period := o.cluster.UpdatePeriod
	if period <= 0 {
		period = 30 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		if err := o.UpdateBackendInfo(ctx, clientset); err != nil {
			log.Error().Err(err).Msg("backend info update failed")
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}
