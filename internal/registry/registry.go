// Package registry tracks fleet membership through TTL'd heartbeats in the
// shared coordination store. Each instance refreshes its own entry and keeps
// a local view of the fleet from heartbeat broadcasts plus periodic reloads.
package registry

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/dom/league-match-engine/internal/coordination"
)

// ServerInfo describes one instance in the fleet.
type ServerInfo struct {
	ServerID         string    `json:"serverId"`
	Hostname         string    `json:"hostname"`
	Port             string    `json:"port"`
	StartTime        time.Time `json:"startTime"`
	LastHeartbeat    time.Time `json:"lastHeartbeat"`
	ActiveMatches    int       `json:"activeMatches"`
	TotalConnections int       `json:"totalConnections"`
	MemoryUsage      uint64    `json:"memoryUsage"`
	CPUUsage         float64   `json:"cpuUsage"`
}

// Metrics is the live load snapshot an instance reports with each heartbeat.
type Metrics struct {
	ActiveMatches    int
	TotalConnections int
	MemoryUsage      uint64
	CPUUsage         float64
}

// Registry maintains the fleet view for this instance.
type Registry struct {
	store              coordination.Store
	self               ServerInfo
	serverTTL          time.Duration
	heartbeatInterval  time.Duration
	stalenessThreshold time.Duration
	metricsFn          func() Metrics

	servers map[string]*ServerInfo

	stop chan struct{}
	done chan struct{}
	once sync.Once

	mu sync.RWMutex
}

func New(store coordination.Store, serverID, hostname, port string, heartbeatInterval, serverTTL, stalenessThreshold time.Duration) *Registry {
	return &Registry{
		store: store,
		self: ServerInfo{
			ServerID:  serverID,
			Hostname:  hostname,
			Port:      port,
			StartTime: time.Now(),
		},
		serverTTL:          serverTTL,
		heartbeatInterval:  heartbeatInterval,
		stalenessThreshold: stalenessThreshold,
		metricsFn:          func() Metrics { return Metrics{} },
		servers:            make(map[string]*ServerInfo),
		stop:               make(chan struct{}),
		done:               make(chan struct{}),
	}
}

// SetMetricsFunc installs the provider polled before every heartbeat.
func (r *Registry) SetMetricsFunc(fn func() Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metricsFn = fn
}

// ServerID returns this instance's identifier.
func (r *Registry) ServerID() string { return r.self.ServerID }

// Register announces this instance to the fleet and loads the current view.
func (r *Registry) Register(ctx context.Context) error {
	if err := r.Heartbeat(ctx); err != nil {
		return err
	}
	r.refreshFromStore(ctx)
	return nil
}

// Heartbeat refreshes this instance's TTL'd entry and broadcasts it.
func (r *Registry) Heartbeat(ctx context.Context) error {
	r.mu.Lock()
	metrics := r.metricsFn()
	r.self.LastHeartbeat = time.Now()
	r.self.ActiveMatches = metrics.ActiveMatches
	r.self.TotalConnections = metrics.TotalConnections
	r.self.MemoryUsage = metrics.MemoryUsage
	r.self.CPUUsage = metrics.CPUUsage
	info := r.self
	r.servers[info.ServerID] = &info
	r.mu.Unlock()

	data, err := json.Marshal(&info)
	if err != nil {
		return err
	}
	if err := r.store.SetWithTTL(ctx, coordination.KeyServerInfo(info.ServerID), data, r.serverTTL); err != nil {
		return err
	}
	if err := r.store.SAdd(ctx, coordination.KeyActiveServers, info.ServerID); err != nil {
		return err
	}

	env, err := coordination.NewEnvelope(coordination.MsgServerHeartbeat, info.ServerID, &info)
	if err != nil {
		return err
	}
	return r.store.Publish(ctx, coordination.ChannelServers, env)
}

// Deregister removes this instance from the fleet on graceful shutdown.
func (r *Registry) Deregister(ctx context.Context) error {
	serverID := r.self.ServerID

	if err := r.store.SRem(ctx, coordination.KeyActiveServers, serverID); err != nil {
		log.Printf("registry: failed to remove %s from active set: %v", serverID, err)
	}
	if err := r.store.Delete(ctx, coordination.KeyServerInfo(serverID)); err != nil {
		log.Printf("registry: failed to delete info key for %s: %v", serverID, err)
	}

	env, err := coordination.NewEnvelope(coordination.MsgServerShutdown, serverID, map[string]string{"serverId": serverID})
	if err != nil {
		return err
	}
	return r.store.Publish(ctx, coordination.ChannelServers, env)
}

// ApplyHeartbeat folds a heartbeat received from another instance into the
// local view, then prunes anything the update revealed as stale.
func (r *Registry) ApplyHeartbeat(info *ServerInfo) {
	if info.ServerID == r.self.ServerID {
		return
	}

	r.mu.Lock()
	copied := *info
	r.servers[info.ServerID] = &copied
	r.mu.Unlock()

	r.PruneStale()
}

// RemoveServer drops a server from the local view (shutdown broadcast).
func (r *Registry) RemoveServer(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.servers, serverID)
}

// Servers returns a snapshot of every known server, stale or not.
func (r *Registry) Servers() []ServerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServerInfo, 0, len(r.servers))
	for _, info := range r.servers {
		out = append(out, *info)
	}
	return out
}

// HealthyServers returns servers whose heartbeat is within the staleness
// threshold.
func (r *Registry) HealthyServers() []ServerInfo {
	cutoff := time.Now().Add(-r.stalenessThreshold)

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServerInfo, 0, len(r.servers))
	for _, info := range r.servers {
		if info.LastHeartbeat.After(cutoff) {
			out = append(out, *info)
		}
	}
	return out
}

// IsStale reports whether a heartbeat timestamp is past the threshold.
func (r *Registry) IsStale(lastHeartbeat time.Time) bool {
	return time.Since(lastHeartbeat) > r.stalenessThreshold
}

// PruneStale removes servers whose heartbeat age exceeds the staleness
// threshold. Runs reactively on registry updates and proactively on a sweep.
func (r *Registry) PruneStale() {
	cutoff := time.Now().Add(-r.stalenessThreshold)

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, info := range r.servers {
		if id == r.self.ServerID {
			continue
		}
		if info.LastHeartbeat.Before(cutoff) {
			log.Printf("registry: pruning stale server %s (last heartbeat %s ago)", id, time.Since(info.LastHeartbeat).Round(time.Second))
			delete(r.servers, id)
		}
	}
}

// Run drives the heartbeat loop, the proactive prune sweep, and the
// heartbeat subscription until ctx is cancelled or Stop is called.
func (r *Registry) Run(ctx context.Context) {
	defer close(r.done)

	sub, err := r.store.PSubscribe(ctx, coordination.ChannelServers)
	if err != nil {
		log.Printf("registry: heartbeat subscription failed, running with local view only: %v", err)
	} else {
		defer sub.Close()
	}

	heartbeat := time.NewTicker(r.heartbeatInterval)
	defer heartbeat.Stop()

	prune := time.NewTicker(time.Minute)
	defer prune.Stop()

	var messages <-chan *coordination.Envelope
	if sub != nil {
		messages = sub.Messages()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-heartbeat.C:
			if err := r.Heartbeat(ctx); err != nil {
				log.Printf("registry: heartbeat failed: %v", err)
			}
		case <-prune.C:
			r.PruneStale()
		case env, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			r.handleEnvelope(env)
		}
	}
}

// Stop terminates Run. Safe to call more than once.
func (r *Registry) Stop() {
	r.once.Do(func() { close(r.stop) })
	<-r.done
}

func (r *Registry) handleEnvelope(env *coordination.Envelope) {
	switch env.Type {
	case coordination.MsgServerHeartbeat:
		var info ServerInfo
		if err := json.Unmarshal(env.Data, &info); err != nil {
			log.Printf("registry: malformed heartbeat from %s: %v", env.Source, err)
			return
		}
		r.ApplyHeartbeat(&info)
	case coordination.MsgServerShutdown:
		if env.Source != r.self.ServerID {
			r.RemoveServer(env.Source)
		}
	}
}

// refreshFromStore reloads the fleet view from the shared store. Used at
// startup so a cold instance sees servers that heartbeated before it booted.
func (r *Registry) refreshFromStore(ctx context.Context) {
	ids, err := r.store.SMembers(ctx, coordination.KeyActiveServers)
	if err != nil {
		log.Printf("registry: could not enumerate active servers: %v", err)
		return
	}

	for _, id := range ids {
		if id == r.self.ServerID {
			continue
		}
		data, err := r.store.Get(ctx, coordination.KeyServerInfo(id))
		if err != nil {
			// TTL expired but set membership lingered; clean it up.
			if err == coordination.ErrNotFound {
				r.store.SRem(ctx, coordination.KeyActiveServers, id)
			}
			continue
		}
		var info ServerInfo
		if err := json.Unmarshal(data, &info); err != nil {
			continue
		}
		r.ApplyHeartbeat(&info)
	}
}
