package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iwoork/homeforpup-sub006/pkg/apperr"
	"github.com/iwoork/homeforpup-sub006/pkg/logger"
)

const (
	namespace = "homeforpup"
	subsystem = "messaging"
)

var (
	opDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "op_duration_seconds",
			Help:      "Duration of messaging operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"op"},
	)
	stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "op_step_duration_seconds",
			Help:      "Duration of marked steps inside messaging operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
		[]string{"op", "step"},
	)
	opErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "op_errors_total",
			Help:      "Failed messaging operations by error kind.",
		},
		[]string{"op", "kind"},
	)
)

func init() {
	prometheus.MustRegister(opDuration, stepDuration, opErrors)
}

var slowThresholdNs atomic.Int64

// SetSlowThreshold sets the duration above which finished traces are logged.
// Zero disables slow logging.
func SetSlowThreshold(d time.Duration) {
	slowThresholdNs.Store(int64(d))
}

type Step struct {
	Name     string
	Duration time.Duration
}

type Trace struct {
	Name     string
	Start    time.Time
	Steps    []Step
	lastMark time.Time
	done     bool
}

// Track starts a trace for the named operation.
func Track(name string) *Trace {
	now := time.Now()
	return &Trace{Name: name, Start: now, lastMark: now}
}

// Mark records the elapsed duration since the last mark.
func (tr *Trace) Mark(label string) {
	now := time.Now()
	d := now.Sub(tr.lastMark)
	tr.Steps = append(tr.Steps, Step{Name: label, Duration: d})
	stepDuration.WithLabelValues(tr.Name, label).Observe(d.Seconds())
	tr.lastMark = now
}

// Fail counts err against the operation; nil is ignored.
func (tr *Trace) Fail(err error) {
	if err == nil {
		return
	}
	opErrors.WithLabelValues(tr.Name, string(apperr.KindOf(err))).Inc()
}

// Finish records the total duration. Safe to call more than once.
func (tr *Trace) Finish() {
	if tr == nil || tr.done {
		return
	}
	tr.done = true
	total := time.Since(tr.Start)
	opDuration.WithLabelValues(tr.Name).Observe(total.Seconds())
	if th := time.Duration(slowThresholdNs.Load()); th > 0 && total > th {
		logger.Warn("slow_operation", "op", tr.Name, "duration", total, "steps", len(tr.Steps))
	}
}
