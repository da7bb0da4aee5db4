package pipeline

import (
	"context"
	"sort"

	"scanpipe/internal/logging"
	"scanpipe/internal/scan"
	"scanpipe/internal/stage"
)

// StatusSummary represents lightweight pipeline diagnostics.
type StatusSummary struct {
	Running     bool
	Owner       string
	InFlight    []string
	LastError   string
	LastScan    *scan.Scan
	Stats       scan.Stats
	StageHealth map[string]stage.Health
}

// Status returns the latest pipeline information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	lastScan := m.lastScan
	handlers := m.handlers
	inFlight := make([]string, 0, len(m.instances))
	for key := range m.instances {
		inFlight = append(inFlight, key)
	}
	m.mu.RUnlock()
	sort.Strings(inFlight)

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read scan stats", logging.Error(err))
	}

	health := make(map[string]stage.Health, len(handlers))
	for _, handler := range handlers {
		health[string(handler.Stage())] = handler.HealthCheck(ctx)
	}

	summary := StatusSummary{
		Running:     running,
		Owner:       m.owner,
		InFlight:    inFlight,
		Stats:       stats,
		StageHealth: health,
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	if lastScan != nil {
		summary.LastScan = lastScan.Clone()
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastScan(sc *scan.Scan) {
	m.mu.Lock()
	m.lastScan = sc.Clone()
	m.mu.Unlock()
}
