package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/follower-audit/internal/progress"
)

// PrometheusSink turns session and item events into Prometheus collectors.
type PrometheusSink struct {
	sessionsStarted prometheus.Counter
	sessionsEnded   *prometheus.CounterVec
	sessionsRunning prometheus.Gauge
	sessionRuntime  *prometheus.HistogramVec

	items          *prometheus.CounterVec
	itemDuration   prometheus.Histogram
	collectPercent *prometheus.GaugeVec

	tracker *sessionTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "followeraudit_sessions_started_total",
			Help: "Audit sessions that have started.",
		}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "followeraudit_sessions_ended_total",
			Help: "Audit sessions ended, partitioned by result.",
		}, []string{"result"}),
		sessionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "followeraudit_sessions_running",
			Help: "Audit sessions currently running or paused.",
		}),
		sessionRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "followeraudit_session_runtime_seconds",
			Help:    "Wall time per ended session.",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400, 43200},
		}, []string{"result"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "followeraudit_items_total",
			Help: "Followers processed, partitioned by outcome.",
		}, []string{"outcome"}),
		itemDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "followeraudit_item_duration_seconds",
			Help:    "Time spent fetching and classifying one follower, cooldown included.",
			Buckets: []float64{0.1, 0.5, 1, 2, 3, 5, 10, 20, 40},
		}),
		collectPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "followeraudit_collect_percent",
			Help: "Share of the follower list collected for the target being audited.",
		}, []string{"target"}),
		tracker: newSessionTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.sessionsStarted,
		s.sessionsEnded,
		s.sessionsRunning,
		s.sessionRuntime,
		s.items,
		s.itemDuration,
		s.collectPercent,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch. It is safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch {
	case evt.Stage == progress.StageSessionStart:
		s.sessionsStarted.Inc()
		if s.tracker.start(evt.SessionID) {
			s.sessionsRunning.Inc()
		}
	case evt.Stage.Terminal():
		result := sessionResult(evt.Stage)
		s.sessionsEnded.WithLabelValues(result).Inc()
		if evt.Dur > 0 {
			s.sessionRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.SessionID) {
			s.sessionsRunning.Dec()
		}
	case evt.Stage == progress.StageCollect:
		if evt.Target != "" {
			s.collectPercent.WithLabelValues(evt.Target).Set(evt.Percent)
		}
	case evt.Stage.Item():
		s.items.WithLabelValues(itemOutcome(evt)).Inc()
		if evt.Dur > 0 {
			s.itemDuration.Observe(evt.Dur.Seconds())
		}
	}
}

func sessionResult(stage progress.Stage) string {
	switch stage {
	case progress.StageSessionDone:
		return "completed"
	case progress.StageSessionStopped:
		return "stopped"
	default:
		return "error"
	}
}

func itemOutcome(evt progress.Event) string {
	switch evt.Stage {
	case progress.StageItemSkipped:
		return "skipped"
	case progress.StageItemFailed:
		return "failed"
	}
	if evt.Reason != "" {
		return "suspicious"
	}
	return "clean"
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type sessionTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{running: make(map[[16]byte]struct{})}
}

func (t *sessionTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *sessionTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
