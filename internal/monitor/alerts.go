package monitor

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/dom/league-match-engine/internal/domain"
	"github.com/google/uuid"
)

// Severity orders alerts from advisory to paging.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Alert is one active or resolved threshold breach. At most one unresolved
// alert exists per metric; a worsening reading escalates it in place.
type Alert struct {
	ID         string     `json:"id"`
	Metric     string     `json:"metric"`
	Severity   Severity   `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	Threshold  float64    `json:"threshold"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// Thresholds are the breach levels per metric. Zero disables a level.
type Thresholds struct {
	CPUWarning       float64 `json:"cpuWarning"`
	CPUError         float64 `json:"cpuError"`
	CPUCritical      float64 `json:"cpuCritical"`
	MemoryWarning    float64 `json:"memoryWarning"`
	MemoryError      float64 `json:"memoryError"`
	MemoryCritical   float64 `json:"memoryCritical"`
	ResponseWarnMs   float64 `json:"responseWarnMs"`
	ResponseErrorMs  float64 `json:"responseErrorMs"`
	StoreLatWarnMs   float64 `json:"storeLatencyWarnMs"`
	StoreLatErrorMs  float64 `json:"storeLatencyErrorMs"`
	DBLatencyWarnMs  float64 `json:"dbLatencyWarnMs"`
	DBLatencyErrorMs float64 `json:"dbLatencyErrorMs"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUWarning:       70,
		CPUError:         85,
		CPUCritical:      95,
		MemoryWarning:    75,
		MemoryError:      85,
		MemoryCritical:   95,
		ResponseWarnMs:   250,
		ResponseErrorMs:  1000,
		StoreLatWarnMs:   50,
		StoreLatErrorMs:  200,
		DBLatencyWarnMs:  100,
		DBLatencyErrorMs: 500,
	}
}

// SetThresholds replaces the breach levels.
func (m *Monitor) SetThresholds(t Thresholds) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds = t
}

// Thresholds returns the active breach levels.
func (m *Monitor) Thresholds() Thresholds {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresholds
}

// Alerts returns alerts newest first, optionally including resolved ones.
func (m *Monitor) Alerts(includeResolved bool) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if a.Resolved && !includeResolved {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// ResolveAlert marks an alert handled. Resolving twice is an error so the
// admin surface can surface stale alert IDs.
func (m *Monitor) ResolveAlert(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok || a.Resolved {
		return domain.ErrAlertNotFound
	}
	now := m.nowFn()
	a.Resolved = true
	a.ResolvedAt = &now
	return nil
}

// evaluateLocked compares the sample against thresholds, raising, escalating,
// and auto-resolving alerts per metric.
func (m *Monitor) evaluateLocked(s Sample) {
	m.checkLocked("cpu", s.CPUPercent, "%", []level{
		{SeverityCritical, m.thresholds.CPUCritical},
		{SeverityError, m.thresholds.CPUError},
		{SeverityWarning, m.thresholds.CPUWarning},
	})
	m.checkLocked("memory", s.MemoryPercent, "%", []level{
		{SeverityCritical, m.thresholds.MemoryCritical},
		{SeverityError, m.thresholds.MemoryError},
		{SeverityWarning, m.thresholds.MemoryWarning},
	})
	m.checkLocked("response_time", s.AvgResponseMs, "ms", []level{
		{SeverityError, m.thresholds.ResponseErrorMs},
		{SeverityWarning, m.thresholds.ResponseWarnMs},
	})
	m.checkLocked("store_latency", s.StoreLatencyMs, "ms", []level{
		{SeverityError, m.thresholds.StoreLatErrorMs},
		{SeverityWarning, m.thresholds.StoreLatWarnMs},
	})
	m.checkLocked("db_latency", s.DBLatencyMs, "ms", []level{
		{SeverityError, m.thresholds.DBLatencyErrorMs},
		{SeverityWarning, m.thresholds.DBLatencyWarnMs},
	})
}

type level struct {
	severity  Severity
	threshold float64
}

// checkLocked matches the value against levels ordered most severe first.
func (m *Monitor) checkLocked(metric string, value float64, unit string, levels []level) {
	for _, l := range levels {
		if l.threshold > 0 && value >= l.threshold {
			m.raiseLocked(metric, l.severity, value, l.threshold, unit)
			return
		}
	}
	m.autoResolveLocked(metric)
}

func (m *Monitor) raiseLocked(metric string, severity Severity, value, threshold float64, unit string) {
	now := m.nowFn()
	for _, a := range m.alerts {
		if a.Metric != metric || a.Resolved {
			continue
		}
		a.Severity = severity
		a.Value = value
		a.Threshold = threshold
		a.Message = alertMessage(metric, severity, value, threshold, unit)
		a.UpdatedAt = now
		return
	}

	a := &Alert{
		ID:        uuid.NewString(),
		Metric:    metric,
		Severity:  severity,
		Message:   alertMessage(metric, severity, value, threshold, unit),
		Value:     value,
		Threshold: threshold,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.alerts[a.ID] = a
	log.Printf("monitor: %s alert raised: %s", severity, a.Message)
}

// autoResolveLocked closes the metric's open alert once the reading drops
// back under every threshold.
func (m *Monitor) autoResolveLocked(metric string) {
	now := m.nowFn()
	for _, a := range m.alerts {
		if a.Metric == metric && !a.Resolved {
			a.Resolved = true
			a.ResolvedAt = &now
			log.Printf("monitor: %s alert resolved, reading back in range", metric)
		}
	}
}

func alertMessage(metric string, severity Severity, value, threshold float64, unit string) string {
	return fmt.Sprintf("%s at %.1f%s crossed the %s threshold of %.1f%s",
		metric, value, unit, severity, threshold, unit)
}
