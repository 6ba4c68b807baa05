package factory

import (
	"sync/atomic"
	"time"
)

// Metrics counts dispatch outcomes. A factory, its copies and its derived
// child factories share one set of counters.
type Metrics struct {
	dispatches atomic.Int64
	attempts   atomic.Int64
	successes  atomic.Int64
	declines   atomic.Int64
	faults     atomic.Int64
	rejections atomic.Int64
	exhausted  atomic.Int64
	cancelled  atomic.Int64
	dispatchNs atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Dispatches   int64         `json:"dispatches" yaml:"dispatches"`
	Attempts     int64         `json:"attempts" yaml:"attempts"`
	Successes    int64         `json:"successes" yaml:"successes"`
	Declines     int64         `json:"declines" yaml:"declines"`
	Faults       int64         `json:"faults" yaml:"faults"`
	Rejections   int64         `json:"rejections" yaml:"rejections"`
	Exhausted    int64         `json:"exhausted" yaml:"exhausted"`
	Cancelled    int64         `json:"cancelled" yaml:"cancelled"`
	DispatchTime time.Duration `json:"dispatchTime" yaml:"dispatchTime"`
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Dispatches:   m.dispatches.Load(),
		Attempts:     m.attempts.Load(),
		Successes:    m.successes.Load(),
		Declines:     m.declines.Load(),
		Faults:       m.faults.Load(),
		Rejections:   m.rejections.Load(),
		Exhausted:    m.exhausted.Load(),
		Cancelled:    m.cancelled.Load(),
		DispatchTime: time.Duration(m.dispatchNs.Load()),
	}
}

func (m *Metrics) recordDispatch(d time.Duration) {
	m.dispatches.Add(1)
	m.dispatchNs.Add(int64(d))
}
