// Package metrics provides Prometheus instrumentation for the safety gate.
// It exposes counters for decisions and rule hits, histograms for gate and
// classifier latency, and gauges for the side-effect backlog.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Decisions counts gate decisions, labeled by action: "allow", "block",
	// "allow_and_escalate", "block_and_escalate".
	Decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "safetygate_decisions_total",
		Help: "Total number of gate decisions by action",
	}, []string{"action"})

	// PatternMatches counts pattern filter hits per reason code.
	PatternMatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "safetygate_pattern_matches_total",
		Help: "Pattern filter hits by reason code",
	}, []string{"reason"})

	// CrisisDetected counts crisis signals per concern type.
	CrisisDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "safetygate_crisis_detected_total",
		Help: "Crisis signals by concern type",
	}, []string{"type"})

	// EvaluateLatency records end-to-end Evaluate latency in seconds,
	// excluding the asynchronous side effects.
	EvaluateLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "safetygate_evaluate_latency_seconds",
		Help:    "Gate evaluation latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// ClassifierLatency records moderation classifier call latency.
	ClassifierLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "safetygate_classifier_latency_seconds",
		Help:    "Moderation classifier latency in seconds",
		Buckets: []float64{.01, .025, .05, .1, .2, .3, .5, 1},
	})

	// ClassifierUnavailable counts classifier calls that produced no
	// verdict, labeled by cause: "timeout", "error", "disabled".
	ClassifierUnavailable = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "safetygate_classifier_unavailable_total",
		Help: "Classifier calls without a verdict by cause",
	}, []string{"cause"})

	// SideEffects counts side-effect job outcomes, labeled by kind
	// ("concern", "audit", "history", "event") and result ("ok",
	// "retried", "dead_letter", "redriven").
	SideEffects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "safetygate_side_effects_total",
		Help: "Side-effect job outcomes by kind and result",
	}, []string{"kind", "result"})

	// DeadLetterSize tracks the number of jobs waiting for redrive.
	DeadLetterSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "safetygate_dead_letter_size",
		Help: "Side-effect jobs waiting in the dead-letter list",
	})

	// AuditRefused counts compliance-log writes refused because the
	// message carried a crisis concern.
	AuditRefused = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "safetygate_audit_refused_total",
		Help: "Filtered-content records refused for crisis messages",
	})

	// ConcernsCreated counts newly opened concerns by type.
	ConcernsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "safetygate_concerns_created_total",
		Help: "Concerns opened by concern type",
	}, []string{"type"})

	// RuleSetInfo is 1 for the active rule-set version.
	RuleSetInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "safetygate_ruleset_info",
		Help: "Active rule set version",
	}, []string{"version"})

	// RateLimited counts review API requests rejected by the rate limiter.
	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "safetygate_review_rate_limited_total",
		Help: "Review API requests rejected by the rate limiter",
	})
)

func init() {
	prometheus.MustRegister(
		Decisions,
		PatternMatches,
		CrisisDetected,
		EvaluateLatency,
		ClassifierLatency,
		ClassifierUnavailable,
		SideEffects,
		DeadLetterSize,
		AuditRefused,
		ConcernsCreated,
		RuleSetInfo,
		RateLimited,
	)
}

// SetRuleSetVersion marks version as the active rule set.
func SetRuleSetVersion(version string) {
	RuleSetInfo.Reset()
	RuleSetInfo.WithLabelValues(version).Set(1)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
