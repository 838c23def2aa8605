// Package telemetry tracks run, model and fetch activity for the service.
package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Telemetry aggregates counters and exposes them on a Prometheus registry.
type Telemetry struct {
	logger *log.Logger

	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRepaired  prometheus.Counter
	llmCalls      *prometheus.CounterVec
	llmLatency    prometheus.Histogram
	fetches       *prometheus.CounterVec

	mu          sync.Mutex
	totalRuns   int64
	failedRuns  int64
	repairedOK  int64
	totalFetch  int64
	failedFetch int64
}

// New builds a Telemetry registered on reg. Pass a fresh registry in tests
// to avoid duplicate registration.
func New(reg prometheus.Registerer, logger *log.Logger) *Telemetry {
	if logger == nil {
		logger = log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags)
	}
	t := &Telemetry{
		logger: logger,
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deepresearch_runs_started_total",
			Help: "Research runs accepted.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deepresearch_runs_finished_total",
			Help: "Research runs finished, by terminal status.",
		}, []string{"status"}),
		runsRepaired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deepresearch_runs_repaired_total",
			Help: "Runs that needed the repair pass.",
		}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deepresearch_llm_calls_total",
			Help: "Model generations, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		llmLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "deepresearch_llm_call_seconds",
			Help:    "Model generation latency.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deepresearch_source_fetches_total",
			Help: "Source fetch attempts, by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(t.runsStarted, t.runsCompleted, t.runsRepaired, t.llmCalls, t.llmLatency, t.fetches)
	}
	return t
}

// RecordRunStart registers run acceptance.
func (t *Telemetry) RecordRunStart(threadID string) {
	t.mu.Lock()
	t.totalRuns++
	t.mu.Unlock()
	t.runsStarted.Inc()
	t.logger.Printf("run started: %s", threadID)
}

// RecordRunFinish registers a terminal run status.
func (t *Telemetry) RecordRunFinish(threadID, status string, elapsed time.Duration) {
	t.mu.Lock()
	switch status {
	case "failed":
		t.failedRuns++
	case "completed_with_repair":
		t.repairedOK++
	}
	t.mu.Unlock()
	t.runsCompleted.WithLabelValues(status).Inc()
	if status == "completed_with_repair" {
		t.runsRepaired.Inc()
	}
	t.logger.Printf("run finished: %s status=%s elapsed=%s", threadID, status, elapsed.Round(time.Millisecond))
}

// RecordLLMCall registers one model generation attempt outcome.
func (t *Telemetry) RecordLLMCall(provider string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	t.llmCalls.WithLabelValues(provider, outcome).Inc()
	t.llmLatency.Observe(elapsed.Seconds())
}

// RecordFetch registers one source fetch outcome.
func (t *Telemetry) RecordFetch(failed bool) {
	t.mu.Lock()
	t.totalFetch++
	if failed {
		t.failedFetch++
	}
	t.mu.Unlock()
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	t.fetches.WithLabelValues(outcome).Inc()
}

// Snapshot reports aggregate counts for log summaries.
func (t *Telemetry) Snapshot() (runs, failedRuns, repaired, fetches, failedFetches int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalRuns, t.failedRuns, t.repairedOK, t.totalFetch, t.failedFetch
}
