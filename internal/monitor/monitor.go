// Package monitor samples process and host health on an interval, keeps a
// rolling window of samples, and raises threshold alerts for the admin
// surface.
package monitor

import (
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Sample is one point-in-time health reading. Host figures come from the OS
// probes; the rest are gauges the application feeds between samples.
type Sample struct {
	Timestamp       time.Time `json:"timestamp"`
	CPUPercent      float64   `json:"cpuPercent"`
	MemoryUsed      uint64    `json:"memoryUsed"`
	MemoryPercent   float64   `json:"memoryPercent"`
	Goroutines      int       `json:"goroutines"`
	Connections     int       `json:"connections"`
	ActiveMatches   int       `json:"activeMatches"`
	AvgResponseMs   float64   `json:"avgResponseMs"`
	EventsPerMinute float64   `json:"eventsPerMinute"`
	StoreLatencyMs  float64   `json:"storeLatencyMs"`
	DBLatencyMs     float64   `json:"dbLatencyMs"`
}

// MatchSample is a per-match activity reading.
type MatchSample struct {
	MatchID       string    `json:"matchId"`
	Timestamp     time.Time `json:"timestamp"`
	Participants  int       `json:"participants"`
	EventsEntered int       `json:"eventsEntered"`
	BroadcastMs   float64   `json:"broadcastMs"`
}

// probe reads host CPU and memory. Swapped for a stub in tests.
type probe func() (cpuPercent float64, memUsed uint64, memPercent float64, err error)

func hostProbe() (float64, uint64, float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, 0, 0, err
	}
	var cpuPercent float64
	if len(percents) > 0 {
		cpuPercent = percents[0]
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return cpuPercent, 0, 0, err
	}
	return cpuPercent, vm.Used, vm.UsedPercent, nil
}

// window accumulates observations between two samples.
type window struct {
	responseSum   time.Duration
	responseCount int
	storeSum      time.Duration
	storeCount    int
	dbSum         time.Duration
	dbCount       int
	events        int
}

// Monitor owns sampling, retention, and alerting.
type Monitor struct {
	sampleInterval time.Duration
	retention      time.Duration
	maxSamples     int

	connectionsFn func() int
	matchesFn     func() int

	samples      []Sample
	matchSamples map[string][]MatchSample
	current      window
	lastSampleAt time.Time

	thresholds Thresholds
	alerts     map[string]*Alert

	stop chan struct{}
	done chan struct{}
	once sync.Once

	mu sync.Mutex

	nowFn   func() time.Time
	probeFn probe
}

func New(sampleInterval, retention time.Duration, maxSamples int) *Monitor {
	return &Monitor{
		sampleInterval: sampleInterval,
		retention:      retention,
		maxSamples:     maxSamples,
		connectionsFn:  func() int { return 0 },
		matchesFn:      func() int { return 0 },
		matchSamples:   make(map[string][]MatchSample),
		thresholds:     DefaultThresholds(),
		alerts:         make(map[string]*Alert),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
		nowFn:          time.Now,
		probeFn:        hostProbe,
	}
}

// SetConnectionsFunc installs the live connection count gauge.
func (m *Monitor) SetConnectionsFunc(fn func() int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectionsFn = fn
}

// SetMatchesFunc installs the live match count gauge.
func (m *Monitor) SetMatchesFunc(fn func() int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matchesFn = fn
}

// RecordResponseTime feeds one request duration into the current window.
func (m *Monitor) RecordResponseTime(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.responseSum += d
	m.current.responseCount++
}

// RecordStoreLatency feeds one coordination store round trip.
func (m *Monitor) RecordStoreLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.storeSum += d
	m.current.storeCount++
}

// RecordDBLatency feeds one database round trip.
func (m *Monitor) RecordDBLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.dbSum += d
	m.current.dbCount++
}

// RecordEvent counts one processed match event toward throughput.
func (m *Monitor) RecordEvent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.events++
}

// RecordMatchSample stores a per-match activity reading under the same
// retention rules as the global window.
func (m *Monitor) RecordMatchSample(s MatchSample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.Timestamp = m.nowFn()
	samples := append(m.matchSamples[s.MatchID], s)
	m.matchSamples[s.MatchID] = trimMatchSamples(samples, m.nowFn().Add(-m.retention), m.maxSamples)
}

// DropMatch forgets a completed match's samples.
func (m *Monitor) DropMatch(matchID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.matchSamples, matchID)
}

// Collect takes one sample immediately. Run calls this on the interval; the
// admin surface can also trigger it for a fresh reading.
func (m *Monitor) Collect() Sample {
	cpuPercent, memUsed, memPercent, err := m.probeFn()
	if err != nil {
		log.Printf("monitor: host probe failed: %v", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	elapsed := m.sampleInterval
	if !m.lastSampleAt.IsZero() {
		if real := now.Sub(m.lastSampleAt); real > 0 {
			elapsed = real
		}
	}
	m.lastSampleAt = now

	s := Sample{
		Timestamp:     now,
		CPUPercent:    cpuPercent,
		MemoryUsed:    memUsed,
		MemoryPercent: memPercent,
		Goroutines:    runtime.NumGoroutine(),
		Connections:   m.connectionsFn(),
		ActiveMatches: m.matchesFn(),
	}
	if m.current.responseCount > 0 {
		s.AvgResponseMs = float64(m.current.responseSum.Milliseconds()) / float64(m.current.responseCount)
	}
	if m.current.storeCount > 0 {
		s.StoreLatencyMs = float64(m.current.storeSum.Milliseconds()) / float64(m.current.storeCount)
	}
	if m.current.dbCount > 0 {
		s.DBLatencyMs = float64(m.current.dbSum.Milliseconds()) / float64(m.current.dbCount)
	}
	s.EventsPerMinute = float64(m.current.events) / elapsed.Minutes()
	m.current = window{}

	m.samples = append(m.samples, s)
	m.trimSamplesLocked(now)
	m.evaluateLocked(s)
	return s
}

// Latest returns the most recent sample, if any exists yet.
func (m *Monitor) Latest() (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.samples) == 0 {
		return Sample{}, false
	}
	return m.samples[len(m.samples)-1], true
}

// Samples returns the retained rolling window, oldest first.
func (m *Monitor) Samples() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sample(nil), m.samples...)
}

// MatchSamples returns the retained readings for one match.
func (m *Monitor) MatchSamples(matchID string) []MatchSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MatchSample(nil), m.matchSamples[matchID]...)
}

// Run samples on the configured interval until Stop.
func (m *Monitor) Run() {
	defer close(m.done)

	ticker := time.NewTicker(m.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.Collect()
		}
	}
}

// Stop terminates Run. Safe to call more than once.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
	<-m.done
}

// trimSamplesLocked drops samples outside the retention window and enforces
// the hard cap.
func (m *Monitor) trimSamplesLocked(now time.Time) {
	cutoff := now.Add(-m.retention)
	kept := m.samples[:0]
	for _, s := range m.samples {
		if s.Timestamp.After(cutoff) {
			kept = append(kept, s)
		}
	}
	m.samples = kept
	if m.maxSamples > 0 && len(m.samples) > m.maxSamples {
		m.samples = m.samples[len(m.samples)-m.maxSamples:]
	}
}

func trimMatchSamples(samples []MatchSample, cutoff time.Time, maxSamples int) []MatchSample {
	kept := samples[:0]
	for _, s := range samples {
		if s.Timestamp.After(cutoff) {
			kept = append(kept, s)
		}
	}
	if maxSamples > 0 && len(kept) > maxSamples {
		kept = kept[len(kept)-maxSamples:]
	}
	return kept
}
