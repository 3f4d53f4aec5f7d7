package push

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type pushMetrics struct {
	logins   *prometheus.CounterVec
	updates  *prometheus.CounterVec
	reloads  *prometheus.CounterVec
	patched  prometheus.Counter
	duration prometheus.Observer
}

var (
	pushMetricsOnce sync.Once
	pushMetricsInst *pushMetrics
)

func globalPushMetrics() *pushMetrics {
	pushMetricsOnce.Do(func() {
		pushMetricsInst = newPushMetrics()
	})
	return pushMetricsInst
}

func newPushMetrics() *pushMetrics {
	return &pushMetrics{
		logins: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "extreload",
			Subsystem: "push",
			Name:      "logins_total",
			Help:      "Sign-in attempts against the remote identity service, labeled by result",
		}, []string{"status"}),
		updates: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "extreload",
			Subsystem: "push",
			Name:      "updates_total",
			Help:      "Remote update calls, labeled by trigger and result",
		}, []string{"trigger", "status"}),
		reloads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "extreload",
			Subsystem: "push",
			Name:      "reloads_total",
			Help:      "Remote reload calls, labeled by result",
		}, []string{"status"}),
		patched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "extreload",
			Subsystem: "push",
			Name:      "manifests_patched_total",
			Help:      "Bundles whose manifest received the push reloader clients",
		}),
		duration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "extreload",
			Subsystem: "push",
			Name:      "generate_bundle_duration_seconds",
			Help:      "Duration of the push reloader generateBundle hook, remote calls included",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (m *pushMetrics) recordLogin(err error) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(status(err)).Inc()
}

func (m *pushMetrics) recordUpdate(trigger string, err error) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(trigger, status(err)).Inc()
}

func (m *pushMetrics) recordReload(err error) {
	if m == nil {
		return
	}
	m.reloads.WithLabelValues(status(err)).Inc()
}

func (m *pushMetrics) recordPatched() {
	if m == nil {
		return
	}
	m.patched.Inc()
}

func (m *pushMetrics) timeHook() func() {
	if m == nil {
		return func() {}
	}
	timer := prometheus.NewTimer(m.duration)
	return func() {
		timer.ObserveDuration()
	}
}
