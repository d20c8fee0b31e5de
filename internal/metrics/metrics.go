// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	MovesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "connect_moves_total",
		Help: "Move submissions by result",
	}, []string{"result"})
	GamesFinishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "connect_games_finished_total",
		Help: "Completed games by outcome",
	}, []string{"outcome"})
	QueueEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "connect_queue_events_total",
		Help: "Matchmaking queue events",
	}, []string{"event"})
	ConflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "connect_store_conflicts_total",
		Help: "Optimistic store conflicts seen by services",
	}, []string{"scope"})
	NotifyErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "connect_notify_errors_total",
		Help: "Failed chat bridge deliveries",
	})
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status"})
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

func init() {
	prometheus.MustRegister(
		MovesTotal, GamesFinishedTotal, QueueEventsTotal, ConflictsTotal,
		NotifyErrorsTotal, HTTPRequestsTotal, HTTPRequestDuration,
	)
}

// Move results.
const (
	MoveAccepted = "accepted"
	MoveRejected = "rejected"
	MoveFailed   = "failed"
)

func ObserveMove(result string) { MovesTotal.WithLabelValues(result).Inc() }

func ObserveFinish(outcome string) { GamesFinishedTotal.WithLabelValues(outcome).Inc() }

func ObserveQueue(event string) { QueueEventsTotal.WithLabelValues(event).Inc() }

func ObserveConflict(scope string) { ConflictsTotal.WithLabelValues(scope).Inc() }

func ObserveNotifyError() { NotifyErrorsTotal.Inc() }

// ObserveRequest records one served request. route should be a template, not a raw path.
func ObserveRequest(method, route string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	HTTPRequestsTotal.WithLabelValues(method, route, code).Inc()
	HTTPRequestDuration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
}

// Handler serves the default registry in the text exposition format.
func Handler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
}
