package router

import (
	"sync"
	"time"
)

// healthAlpha smooths the per-capability success score.
const healthAlpha = 0.2

// CapabilityHealth is the advisory health view of one capability. Scores are
// best-effort; concurrent updates may interleave and the last write wins.
type CapabilityHealth struct {
	Score       float64       `json:"score"`
	Invocations uint64        `json:"invocations"`
	LastLatency time.Duration `json:"last_latency"`
	LastError   string        `json:"last_error,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// HealthMonitor accumulates advisory per-capability health scores from
// execution outcomes pushed by the orchestrator.
type HealthMonitor struct {
	mu     sync.Mutex
	states map[string]*CapabilityHealth
}

func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{states: make(map[string]*CapabilityHealth)}
}

// Report folds one outcome into the capability's score. A fresh capability
// starts at 1.0 on success, 0.0 on failure.
func (m *HealthMonitor) Report(capabilityID string, success bool, latency time.Duration, errText string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.states[capabilityID]
	if !ok {
		h = &CapabilityHealth{Score: boolScore(success)}
		m.states[capabilityID] = h
	} else {
		h.Score = h.Score*(1-healthAlpha) + boolScore(success)*healthAlpha
	}
	h.Invocations++
	h.LastLatency = latency
	h.LastError = errText
	h.UpdatedAt = time.Now()
}

// Scores returns a copy of every capability's health.
func (m *HealthMonitor) Scores() map[string]CapabilityHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]CapabilityHealth, len(m.states))
	for id, h := range m.states {
		out[id] = *h
	}
	return out
}

func boolScore(success bool) float64 {
	if success {
		return 1
	}
	return 0
}
