package monitor

import (
	"testing"
	"time"

	"github.com/dom/league-match-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	cpu        float64
	memUsed    uint64
	memPercent float64
}

func (f *fakeHost) probe() (float64, uint64, float64, error) {
	return f.cpu, f.memUsed, f.memPercent, nil
}

func newTestMonitor() (*Monitor, *fakeHost, *time.Time) {
	m := New(10*time.Second, time.Hour, 360)
	host := &fakeHost{cpu: 20, memUsed: 1 << 30, memPercent: 40}
	m.probeFn = host.probe

	now := time.Now()
	m.nowFn = func() time.Time { return now }
	return m, host, &now
}

func TestMonitor_CollectBuildsSample(t *testing.T) {
	m, host, _ := newTestMonitor()
	host.cpu = 33.3
	m.SetConnectionsFunc(func() int { return 12 })
	m.SetMatchesFunc(func() int { return 3 })

	m.RecordResponseTime(100 * time.Millisecond)
	m.RecordResponseTime(300 * time.Millisecond)
	m.RecordStoreLatency(10 * time.Millisecond)
	m.RecordDBLatency(40 * time.Millisecond)
	m.RecordEvent()
	m.RecordEvent()

	s := m.Collect()
	assert.Equal(t, 33.3, s.CPUPercent)
	assert.Equal(t, 12, s.Connections)
	assert.Equal(t, 3, s.ActiveMatches)
	assert.InDelta(t, 200, s.AvgResponseMs, 0.01)
	assert.InDelta(t, 10, s.StoreLatencyMs, 0.01)
	assert.InDelta(t, 40, s.DBLatencyMs, 0.01)
	// Two events over the 10s default window.
	assert.InDelta(t, 12, s.EventsPerMinute, 0.01)

	latest, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, s, latest)
}

func TestMonitor_WindowResetsBetweenSamples(t *testing.T) {
	m, _, _ := newTestMonitor()

	m.RecordResponseTime(500 * time.Millisecond)
	first := m.Collect()
	assert.InDelta(t, 500, first.AvgResponseMs, 0.01)

	second := m.Collect()
	assert.Zero(t, second.AvgResponseMs)
	assert.Zero(t, second.EventsPerMinute)
}

func TestMonitor_RetentionTrimsOldSamples(t *testing.T) {
	m, _, now := newTestMonitor()

	m.Collect()
	*now = now.Add(2 * time.Hour)
	m.Collect()

	samples := m.Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, *now, samples[0].Timestamp)
}

func TestMonitor_MaxSamplesCap(t *testing.T) {
	m, _, now := newTestMonitor()
	m.maxSamples = 3

	for i := 0; i < 5; i++ {
		*now = now.Add(time.Second)
		m.Collect()
	}
	assert.Len(t, m.Samples(), 3)
}

func TestMonitor_AlertLifecycle(t *testing.T) {
	m, host, _ := newTestMonitor()

	// Healthy reading: no alerts.
	m.Collect()
	assert.Empty(t, m.Alerts(false))

	// Warning breach.
	host.cpu = 75
	m.Collect()
	alerts := m.Alerts(false)
	require.Len(t, alerts, 1)
	assert.Equal(t, "cpu", alerts[0].Metric)
	assert.Equal(t, SeverityWarning, alerts[0].Severity)

	// Escalates in place rather than duplicating.
	host.cpu = 96
	m.Collect()
	alerts = m.Alerts(false)
	require.Len(t, alerts, 1)
	assert.Equal(t, SeverityCritical, alerts[0].Severity)
	assert.Equal(t, float64(96), alerts[0].Value)

	// Auto-resolves when the reading recovers.
	host.cpu = 20
	m.Collect()
	assert.Empty(t, m.Alerts(false))
	resolved := m.Alerts(true)
	require.Len(t, resolved, 1)
	assert.True(t, resolved[0].Resolved)
}

func TestMonitor_ManualResolve(t *testing.T) {
	m, host, _ := newTestMonitor()

	host.memPercent = 90
	m.Collect()
	alerts := m.Alerts(false)
	require.Len(t, alerts, 1)
	assert.Equal(t, SeverityError, alerts[0].Severity)

	require.NoError(t, m.ResolveAlert(alerts[0].ID))
	assert.Empty(t, m.Alerts(false))

	assert.ErrorIs(t, m.ResolveAlert(alerts[0].ID), domain.ErrAlertNotFound)
	assert.ErrorIs(t, m.ResolveAlert("missing"), domain.ErrAlertNotFound)
}

func TestMonitor_ThresholdsAdjustable(t *testing.T) {
	m, host, _ := newTestMonitor()

	thresholds := DefaultThresholds()
	thresholds.CPUWarning = 10
	m.SetThresholds(thresholds)

	host.cpu = 15
	m.Collect()
	require.Len(t, m.Alerts(false), 1)
	assert.Equal(t, SeverityWarning, m.Alerts(false)[0].Severity)
}

func TestMonitor_MatchSamples(t *testing.T) {
	m, _, now := newTestMonitor()

	m.RecordMatchSample(MatchSample{MatchID: "m1", Participants: 40, EventsEntered: 2})
	*now = now.Add(time.Minute)
	m.RecordMatchSample(MatchSample{MatchID: "m1", Participants: 55, EventsEntered: 3})

	samples := m.MatchSamples("m1")
	require.Len(t, samples, 2)
	assert.Equal(t, 55, samples[1].Participants)

	m.DropMatch("m1")
	assert.Empty(t, m.MatchSamples("m1"))
}
