package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SweepCollector exposes metrics for the staggered update sweep.
type SweepCollector struct {
	gatherer prometheus.Gatherer

	FrameDuration prometheus.Histogram
	Tracked       prometheus.Gauge
	DeadSkipped   prometheus.Counter
	Notifications *prometheus.CounterVec
}

// NewSweepCollector registers sweep metrics against the provided registerer.
func NewSweepCollector(reg prometheus.Registerer) (*SweepCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	frame := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sweep_frame_duration_seconds",
		Help:    "Time spent per frame updating signals and draining notifications.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
	})
	frame, err := register(reg, frame, "sweep_frame_duration_seconds")
	if err != nil {
		return nil, err
	}

	tracked := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sweep_tracked_targets",
		Help: "Targets currently registered with the sweep.",
	})
	tracked, err = register(reg, tracked, "sweep_tracked_targets")
	if err != nil {
		return nil, err
	}

	dead := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sweep_dead_targets_skipped_total",
		Help: "Targets dropped from the sweep because they were no longer alive.",
	})
	dead, err = register(reg, dead, "sweep_dead_targets_skipped_total")
	if err != nil {
		return nil, err
	}

	notes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_notifications_total",
		Help: "Deferred notifications delivered by the sweep, labeled by reason.",
	}, []string{"reason"})
	notes, err = register(reg, notes, "sweep_notifications_total")
	if err != nil {
		return nil, err
	}

	return &SweepCollector{
		gatherer:      gatherer,
		FrameDuration: frame,
		Tracked:       tracked,
		DeadSkipped:   dead,
		Notifications: notes,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SweepCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveFrame records the time one frame of the sweep took.
func (c *SweepCollector) ObserveFrame(d time.Duration) {
	if c == nil || c.FrameDuration == nil {
		return
	}
	c.FrameDuration.Observe(d.Seconds())
}

// SetTracked updates the registered target gauge.
func (c *SweepCollector) SetTracked(count int) {
	if c == nil || c.Tracked == nil {
		return
	}
	c.Tracked.Set(float64(count))
}

// IncDeadSkipped counts a target dropped for being dead.
func (c *SweepCollector) IncDeadSkipped() {
	if c == nil || c.DeadSkipped == nil {
		return
	}
	c.DeadSkipped.Inc()
}

// IncNotification counts a delivered notification.
func (c *SweepCollector) IncNotification(reason string) {
	if c == nil || c.Notifications == nil {
		return
	}
	c.Notifications.WithLabelValues(reason).Inc()
}
