package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/faqdesk/sentry-watchdog/internal/models"
)

// Notification result labels.
const (
	NotifySent       = "sent"
	NotifyFailed     = "failed"
	NotifySuppressed = "suppressed"
)

var (
	probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentry_watchdog",
			Name:      "probes_total",
			Help:      "Total number of probes run, partitioned by target and status.",
		},
		[]string{"target", "status"},
	)

	probeDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sentry_watchdog",
			Name:      "probe_seconds",
			Help:      "Probe latency in seconds.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	episodesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentry_watchdog",
			Name:      "episodes_total",
			Help:      "Closed recovery episodes, partitioned by target and outcome.",
		},
		[]string{"target", "outcome"},
	)

	recoveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentry_watchdog",
			Name:      "recovery_attempts_total",
			Help:      "Recovery attempts, partitioned by target and attempt outcome.",
		},
		[]string{"target", "outcome"},
	)

	snapshotFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentry_watchdog",
			Name:      "snapshot_failures_total",
			Help:      "State captures that failed before a recovery attempt.",
		},
		[]string{"target"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentry_watchdog",
			Name:      "notifications_total",
			Help:      "Operator notifications, partitioned by result.",
		},
		[]string{"result"},
	)

	openEpisodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentry_watchdog",
			Name:      "open_episodes",
			Help:      "Recovery episodes currently in progress.",
		},
	)
)

// Register attaches watchdog collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		probesTotal,
		probeDurationSeconds,
		episodesTotal,
		recoveryAttemptsTotal,
		snapshotFailuresTotal,
		notificationsTotal,
		openEpisodes,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveProbe records one probe result and its latency.
func ObserveProbe(result models.ProbeResult) {
	probesTotal.WithLabelValues(result.Target, string(result.Status)).Inc()
	d := result.Latency
	if d < 0 {
		d = 0
	}
	probeDurationSeconds.Observe(d.Seconds())
}

// ObserveEpisode records a closed episode and every attempt it carried.
func ObserveEpisode(episode *models.RecoveryEpisode) {
	if episode == nil || !episode.Closed() {
		return
	}
	episodesTotal.WithLabelValues(episode.Target, string(episode.FinalOutcome)).Inc()
	for _, att := range episode.Attempts {
		recoveryAttemptsTotal.WithLabelValues(episode.Target, string(att.Outcome)).Inc()
	}
}

// ObserveSnapshotFailure records a failed state capture.
func ObserveSnapshotFailure(target string) {
	snapshotFailuresTotal.WithLabelValues(target).Inc()
}

// ObserveNotification records a notification result label.
func ObserveNotification(result string) {
	notificationsTotal.WithLabelValues(result).Inc()
}

// EpisodeOpened and EpisodeClosed maintain the in-progress gauge.
func EpisodeOpened() { openEpisodes.Inc() }
func EpisodeClosed() { openEpisodes.Dec() }
