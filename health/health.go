// Package health tracks the liveness of a scanstreams process's parts:
// the broker connection and each running stage. The aggregate is exposed
// as an HTTP handler for readiness probes.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status is one component's health at a point in time
type Status struct {
	Component string    `json:"component"`
	Healthy   bool      `json:"healthy"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Monitor aggregates component statuses. Safe for concurrent use.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates an empty Monitor
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// SetHealthy records a component as healthy
func (m *Monitor) SetHealthy(component, message string) {
	m.set(Status{Component: component, Healthy: true, Message: message})
}

// SetUnhealthy records a component as unhealthy
func (m *Monitor) SetUnhealthy(component, message string) {
	m.set(Status{Component: component, Healthy: false, Message: message})
}

func (m *Monitor) set(status Status) {
	status.Timestamp = time.Now().UTC()
	m.mu.Lock()
	m.statuses[status.Component] = status
	m.mu.Unlock()
}

// Get returns one component's status
func (m *Monitor) Get(component string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[component]
	return status, ok
}

// Snapshot returns a copy of every tracked status
func (m *Monitor) Snapshot() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.statuses))
	for name, status := range m.statuses {
		out[name] = status
	}
	return out
}

// Healthy reports whether every tracked component is healthy. An empty
// monitor is healthy; a component that never reported does not exist yet.
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, status := range m.statuses {
		if !status.Healthy {
			return false
		}
	}
	return true
}

// report is the JSON body served to probes
type report struct {
	Healthy    bool              `json:"healthy"`
	Components map[string]Status `json:"components"`
}

// Handler serves the aggregate as JSON: 200 when everything is healthy,
// 503 otherwise.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		body := report{Healthy: m.Healthy(), Components: m.Snapshot()}
		w.Header().Set("Content-Type", "application/json")
		if !body.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(body)
	})
}
