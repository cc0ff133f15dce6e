// Package heartbeat tracks liveness pulses for one gateway connection.
package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"onebridge/pkg/onebot"
)

const (
	DefaultInterval = 300 * time.Second
	historyLimit    = 64
)

// Record is one received pulse. Records are never mutated after insertion.
type Record struct {
	At       time.Time
	SelfID   int64
	Interval time.Duration
}

// Status is a point-in-time view of connection liveness.
type Status struct {
	Pulses      int           `json:"pulses"`
	LastPulseAt time.Time     `json:"last_pulse_at,omitzero"`
	Age         time.Duration `json:"age"`
	Stale       bool          `json:"stale"`
}

// Monitor is owned by exactly one connection session.
type Monitor struct {
	interval  time.Duration
	log       *slog.Logger
	now       func() time.Time
	startedAt time.Time

	mu      sync.Mutex
	records []Record
	pulses  int
	stale   bool
}

func NewMonitor(interval time.Duration, log *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = slog.Default()
	}

	m := &Monitor{
		interval: interval,
		log:      log.With("component", "heartbeat"),
		now:      time.Now,
	}
	m.startedAt = m.now()
	return m
}

// RecordPulse appends a record stamped with the current time.
func (m *Monitor) RecordPulse(event onebot.HeartbeatEvent) Record {
	record := Record{
		At:       m.now(),
		SelfID:   event.SelfID,
		Interval: event.Interval,
	}

	m.mu.Lock()
	m.records = append(m.records, record)
	if len(m.records) > historyLimit {
		m.records = append(m.records[:0:0], m.records[len(m.records)-historyLimit:]...)
	}
	m.pulses++
	recovered := m.stale
	m.stale = false
	m.mu.Unlock()

	if recovered {
		m.log.Info("Gateway heartbeat resumed", "self_id", record.SelfID)
	}

	return record
}

// History returns the retained records, oldest first.
func (m *Monitor) History() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// Status reports liveness as of now. Before the first pulse, age is measured
// from monitor creation.
func (m *Monitor) Status() Status {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	status := Status{Pulses: m.pulses}
	reference := m.startedAt
	if n := len(m.records); n > 0 {
		status.LastPulseAt = m.records[n-1].At
		reference = status.LastPulseAt
	}
	status.Age = now.Sub(reference)
	status.Stale = status.Age > m.interval
	return status
}

// Check evaluates staleness once and logs transitions.
func (m *Monitor) Check() Status {
	status := m.Status()

	m.mu.Lock()
	wasStale := m.stale
	m.stale = status.Stale
	m.mu.Unlock()

	switch {
	case status.Stale && !wasStale:
		m.log.Warn("Gateway heartbeat stale",
			"age", status.Age.Round(time.Second).String(),
			"pulses", status.Pulses,
			"interval", m.interval.String(),
		)
	case !status.Stale:
		m.log.Debug("Gateway heartbeat fresh", "age", status.Age.Round(time.Second).String(), "pulses", status.Pulses)
	}

	return status
}

// Run checks staleness every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check()
		}
	}
}
