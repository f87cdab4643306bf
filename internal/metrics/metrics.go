// Package metrics exposes Prometheus collectors for agent-recall.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agent_recall"

// Metrics owns a private registry.
type Metrics struct {
	reg *prometheus.Registry

	turns            *prometheus.CounterVec   // mode, status
	turnDuration     *prometheus.HistogramVec // mode
	promptEvalTokens *prometheus.CounterVec   // mode
	evalTokens       *prometheus.CounterVec   // mode
	contextTokens    prometheus.Gauge
	kvAnomalies      prometheus.Counter
	admissions       *prometheus.CounterVec // decision
	stores           *prometheus.CounterVec // status
	retrievals       *prometheus.CounterVec // status
	retrieved        prometheus.Histogram
	pruned           *prometheus.CounterVec // kind, table
	healthUp         *prometheus.GaugeVec   // target
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "turns_total", Help: "Conversation turns handled.",
		}, []string{"mode", "status"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "turn_duration_seconds", Help: "End-to-end turn latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"mode"}),
		promptEvalTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "prompt_eval_tokens_total", Help: "Prompt tokens evaluated by the backend.",
		}, []string{"mode"}),
		evalTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "eval_tokens_total", Help: "Tokens generated by the backend.",
		}, []string{"mode"}),
		contextTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "continuation_tokens", Help: "Length of the last committed continuation token.",
		}),
		kvAnomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "kv_anomalies_total", Help: "Generations that returned an empty continuation token.",
		}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "admissions_total", Help: "Admission decisions.",
		}, []string{"decision"}),
		stores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stores_total", Help: "Utterance store attempts.",
		}, []string{"status"}),
		retrievals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "retrievals_total", Help: "Retrieval attempts.",
		}, []string{"status"}),
		retrieved: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "retrieved_chunks", Help: "Chunks returned per retrieval.",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		}),
		pruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pruned_rows_total", Help: "Rows removed by pruning.",
		}, []string{"kind", "table"}),
		healthUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "dependency_up", Help: "1 when the last probe of a dependency succeeded.",
		}, []string{"target"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.turns, m.turnDuration, m.promptEvalTokens, m.evalTokens, m.contextTokens,
		m.kvAnomalies, m.admissions, m.stores, m.retrievals, m.retrieved, m.pruned, m.healthUp,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// RecordTurn records one handled turn.
func (m *Metrics) RecordTurn(mode, status string, d time.Duration) {
	m.turns.WithLabelValues(mode, status).Inc()
	m.turnDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// RecordGeneration records backend counters for one generation.
func (m *Metrics) RecordGeneration(mode string, promptEval, eval, tokenLen int, anomaly bool) {
	m.promptEvalTokens.WithLabelValues(mode).Add(float64(promptEval))
	m.evalTokens.WithLabelValues(mode).Add(float64(eval))
	if anomaly {
		m.kvAnomalies.Inc()
		return
	}
	m.contextTokens.Set(float64(tokenLen))
}

// RecordAdmission records an admission decision.
func (m *Metrics) RecordAdmission(admitted bool) {
	if admitted {
		m.admissions.WithLabelValues("admit").Inc()
		return
	}
	m.admissions.WithLabelValues("reject").Inc()
}

// RecordStore records an utterance write.
func (m *Metrics) RecordStore(err error) {
	m.stores.WithLabelValues(status(err)).Inc()
}

// RecordRetrieval records a retrieval and its result size.
func (m *Metrics) RecordRetrieval(n int, err error) {
	m.retrievals.WithLabelValues(status(err)).Inc()
	if err == nil {
		m.retrieved.Observe(float64(n))
	}
}

// RecordPrune records rows removed by one prune pass.
func (m *Metrics) RecordPrune(kind string, parents, chunks int64) {
	m.pruned.WithLabelValues(kind, "parents").Add(float64(parents))
	m.pruned.WithLabelValues(kind, "chunks").Add(float64(chunks))
}

// SetHealth records the latest probe result for target.
func (m *Metrics) SetHealth(target string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	m.healthUp.WithLabelValues(target).Set(v)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
