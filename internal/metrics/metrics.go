package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Статусы для меток status
const (
	StatusSuccess = "success"
	StatusTimeout = "timeout"
	StatusError   = "error"
	StatusBusy    = "busy"
)

var (
	generationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devlog_generation_requests_total",
		Help: "Total number of generation requests, partitioned by result kind and status.",
	}, []string{"kind", "status"})

	generationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "devlog_generation_duration_seconds",
		Help:    "Duration of generation requests.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"kind"})

	commitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devlog_commits_total",
		Help: "Total number of commit attempts, partitioned by flow and status.",
	}, []string{"flow", "status"})

	staleResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devlog_stale_responses_dropped_total",
		Help: "Total number of responses dropped because their session was abandoned or superseded.",
	}, []string{"operation"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "devlog_active_sessions",
		Help: "Number of open creation sessions.",
	})

	navigationResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devlog_area_resets_total",
		Help: "Total number of state resets triggered by leaving an area.",
	}, []string{"area"})
)

// ObserveGeneration записывает результат и длительность одного запроса генерации.
func ObserveGeneration(kind, status string, took time.Duration) {
	generationRequests.WithLabelValues(kind, status).Inc()
	if status != StatusBusy {
		generationDuration.WithLabelValues(kind).Observe(took.Seconds())
	}
}

// IncCommit увеличивает счетчик коммитов.
func IncCommit(flow, status string) {
	commitsTotal.WithLabelValues(flow, status).Inc()
}

// IncStaleResponse увеличивает счетчик отброшенных ответов ("generate" или "commit").
func IncStaleResponse(operation string) {
	staleResponses.WithLabelValues(operation).Inc()
}

func SessionOpened() { activeSessions.Inc() }

func SessionClosed() { activeSessions.Dec() }

// IncAreaReset увеличивает счетчик сбросов состояния области.
func IncAreaReset(area string) {
	navigationResets.WithLabelValues(area).Inc()
}
