// Package timeoutmgr implements the Timeout & Lifecycle Manager from spec
// §4.H: an idle deadline and a total-request deadline per Connection, and
// the nearest-deadline computation the reactor's Wait call uses as its
// timeout, per spec §4.A ("timeout_ms is computed by the Timeout Manager
// as the minimum of all pending deadlines").
//
// The teacher drives timeouts through net.Conn.SetDeadline per blocking
// goroutine (timeout_handler.go); that has no equivalent in a single
// reactor loop, so this is a new, central component, grounded directly on
// spec §4.H's two-timer description rather than any teacher file.
package timeoutmgr

import "time"

// DefaultIdle and DefaultTotal are spec §4.H's default durations.
const (
	DefaultIdle  = 30 * time.Second
	DefaultTotal = 60 * time.Second
)

// Kind distinguishes which of a Connection's two timers fired.
type Kind int

const (
	Idle Kind = iota
	Total
)

type entry struct {
	idleAt  time.Time
	totalAt time.Time // zero means the total timer has not started yet
}

// Expired names one Connection whose deadline has passed.
type Expired struct {
	ID   uint64
	Kind Kind
}

// Manager tracks per-Connection deadlines. It is only ever touched from
// the single event-loop goroutine, matching spec §5's concurrency model.
type Manager struct {
	idleTimeout  time.Duration
	totalTimeout time.Duration
	entries      map[uint64]*entry
}

// New builds a Manager using the given idle/total durations; zero values
// fall back to the spec defaults.
func New(idleTimeout, totalTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdle
	}
	if totalTimeout <= 0 {
		totalTimeout = DefaultTotal
	}
	return &Manager{idleTimeout: idleTimeout, totalTimeout: totalTimeout, entries: make(map[uint64]*entry)}
}

// Track registers a newly-accepted Connection with a fresh idle deadline.
func (m *Manager) Track(id uint64, now time.Time) {
	m.entries[id] = &entry{idleAt: now.Add(m.idleTimeout)}
}

// TouchIdle resets the idle deadline, per spec §4.H ("resets on any read
// or write").
func (m *Manager) TouchIdle(id uint64, now time.Time) {
	if e, ok := m.entries[id]; ok {
		e.idleAt = now.Add(m.idleTimeout)
	}
}

// StartTotal begins the total-request timer, per spec §4.H ("starts at
// HeadersDone").
func (m *Manager) StartTotal(id uint64, now time.Time) {
	m.StartTotalWithTimeout(id, now, m.totalTimeout)
}

// StartTotalWithTimeout is StartTotal using a VirtualServer-specific
// request_timeout_secs override instead of the manager-wide default.
func (m *Manager) StartTotalWithTimeout(id uint64, now time.Time, d time.Duration) {
	if d <= 0 {
		d = m.totalTimeout
	}
	if e, ok := m.entries[id]; ok {
		e.totalAt = now.Add(d)
	}
}

// StopTotal clears the total-request timer once a response has been fully
// written, so a slow keep-alive idle period is not mistaken for an
// overrun request.
func (m *Manager) StopTotal(id uint64) {
	if e, ok := m.entries[id]; ok {
		e.totalAt = time.Time{}
	}
}

// Remove drops a Connection's deadlines on close.
func (m *Manager) Remove(id uint64) {
	delete(m.entries, id)
}

// Poll returns every Connection whose idle or total deadline has passed
// at or before now. When both have expired, Total is reported (it implies
// a more specific failure per spec §4.H's handling table).
func (m *Manager) Poll(now time.Time) []Expired {
	var out []Expired
	for id, e := range m.entries {
		switch {
		case !e.totalAt.IsZero() && !now.Before(e.totalAt):
			out = append(out, Expired{ID: id, Kind: Total})
		case !now.Before(e.idleAt):
			out = append(out, Expired{ID: id, Kind: Idle})
		}
	}
	return out
}

// NextTimeout returns the minimum duration until any tracked deadline
// fires, for the reactor's Wait call; a negative duration (no pending
// connections) signals the caller should block indefinitely.
func (m *Manager) NextTimeout(now time.Time) time.Duration {
	if len(m.entries) == 0 {
		return -1
	}
	var nearest time.Time
	for _, e := range m.entries {
		if nearest.IsZero() || e.idleAt.Before(nearest) {
			nearest = e.idleAt
		}
		if !e.totalAt.IsZero() && e.totalAt.Before(nearest) {
			nearest = e.totalAt
		}
	}
	d := nearest.Sub(now)
	if d < 0 {
		d = 0
	}
	return d
}
