// Package balancer picks which instance should host new match assignments,
// based on the fleet view the registry maintains.
package balancer

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dom/league-match-engine/internal/registry"
)

// Strategy names a server selection policy.
type Strategy string

const (
	StrategyRoundRobin       Strategy = "round_robin"
	StrategyLeastConnections Strategy = "least_connections"
	StrategyLeastMatches     Strategy = "least_matches"
	StrategyWeighted         Strategy = "weighted"
)

var ErrNoAvailableServers = errors.New("no servers available")

// Fleet is the registry view the balancer selects from.
type Fleet interface {
	Servers() []registry.ServerInfo
}

// Balancer applies the availability predicate and the configured strategy
// over the fleet. Weights only matter to the weighted strategy.
type Balancer struct {
	fleet              Fleet
	stalenessThreshold time.Duration
	maxConnections     int
	maxActiveMatches   int

	strategy Strategy
	weights  map[string]float64
	rr       int

	mu sync.Mutex

	nowFn func() time.Time
}

func New(fleet Fleet, strategy Strategy, stalenessThreshold time.Duration, maxConnections, maxActiveMatches int) (*Balancer, error) {
	if !validStrategy(strategy) {
		return nil, fmt.Errorf("unknown balancer strategy %q", strategy)
	}
	return &Balancer{
		fleet:              fleet,
		stalenessThreshold: stalenessThreshold,
		maxConnections:     maxConnections,
		maxActiveMatches:   maxActiveMatches,
		strategy:           strategy,
		weights:            make(map[string]float64),
		nowFn:              time.Now,
	}, nil
}

func validStrategy(s Strategy) bool {
	switch s {
	case StrategyRoundRobin, StrategyLeastConnections, StrategyLeastMatches, StrategyWeighted:
		return true
	}
	return false
}

// SetStrategy switches the selection policy at runtime.
func (b *Balancer) SetStrategy(s Strategy) error {
	if !validStrategy(s) {
		return fmt.Errorf("unknown balancer strategy %q", s)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.strategy = s
	b.rr = 0
	return nil
}

// Strategy returns the active selection policy.
func (b *Balancer) Strategy() Strategy {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.strategy
}

// SetServerWeight assigns a weight used by the weighted strategy. Higher
// weight draws proportionally more load. Weights must be positive.
func (b *Balancer) SetServerWeight(serverID string, weight float64) error {
	if weight <= 0 {
		return fmt.Errorf("weight must be positive, got %v", weight)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.weights[serverID] = weight
	return nil
}

// Weights returns a copy of the configured weights.
func (b *Balancer) Weights() map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]float64, len(b.weights))
	for id, w := range b.weights {
		out[id] = w
	}
	return out
}

// available is the admission predicate: a recent heartbeat and headroom on
// both connections and match count.
func (b *Balancer) available(info registry.ServerInfo) bool {
	if b.nowFn().Sub(info.LastHeartbeat) > b.stalenessThreshold {
		return false
	}
	if info.TotalConnections >= b.maxConnections {
		return false
	}
	if info.ActiveMatches >= b.maxActiveMatches {
		return false
	}
	return true
}

// AvailableServers returns the servers eligible for new assignments, sorted
// by ID for deterministic iteration.
func (b *Balancer) AvailableServers() []registry.ServerInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.availableLocked()
}

func (b *Balancer) availableLocked() []registry.ServerInfo {
	all := b.fleet.Servers()
	out := make([]registry.ServerInfo, 0, len(all))
	for _, info := range all {
		if b.available(info) {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

// SelectServer picks the instance for the next assignment under the active
// strategy.
func (b *Balancer) SelectServer() (registry.ServerInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	candidates := b.availableLocked()
	if len(candidates) == 0 {
		return registry.ServerInfo{}, ErrNoAvailableServers
	}

	switch b.strategy {
	case StrategyLeastConnections:
		return pickMin(candidates, func(s registry.ServerInfo) float64 {
			return float64(s.TotalConnections)
		}), nil
	case StrategyLeastMatches:
		return pickMin(candidates, func(s registry.ServerInfo) float64 {
			return float64(s.ActiveMatches)
		}), nil
	case StrategyWeighted:
		return pickMin(candidates, func(s registry.ServerInfo) float64 {
			return b.utilization(s) / b.weightOf(s.ServerID)
		}), nil
	default: // round robin
		chosen := candidates[b.rr%len(candidates)]
		b.rr++
		return chosen, nil
	}
}

// pickMin returns the candidate with the lowest score. Candidates arrive
// sorted by ID, so ties break deterministically.
func pickMin(candidates []registry.ServerInfo, score func(registry.ServerInfo) float64) registry.ServerInfo {
	best := candidates[0]
	bestScore := score(best)
	for _, c := range candidates[1:] {
		if s := score(c); s < bestScore {
			best, bestScore = c, s
		}
	}
	return best
}

func (b *Balancer) weightOf(serverID string) float64 {
	if w, ok := b.weights[serverID]; ok {
		return w
	}
	return 1
}

// connUtilization and matchUtilization are the two load axes, as
// percentages of the configured limits.
func (b *Balancer) connUtilization(info registry.ServerInfo) float64 {
	return float64(info.TotalConnections) / float64(b.maxConnections) * 100
}

func (b *Balancer) matchUtilization(info registry.ServerInfo) float64 {
	return float64(info.ActiveMatches) / float64(b.maxActiveMatches) * 100
}

// utilization is the server's load as a percentage, taking the tighter of
// the connection and match headrooms.
func (b *Balancer) utilization(info registry.ServerInfo) float64 {
	return math.Max(b.connUtilization(info), b.matchUtilization(info))
}
