package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the portal.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	selectionsTotal *prometheus.CounterVec
	promotionsTotal prometheus.Counter
	promotedSeats   prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	selectionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admission_selections_total",
		Help: "Completed admission selections",
	}, []string{"outcome"})

	promotionsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "waitlist_promotions_total",
		Help: "Waitlist promotion runs that admitted at least one student",
	})

	promotedSeats := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "waitlist_promoted_students_total",
		Help: "Students admitted from waitlists",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, selectionsTotal, promotionsTotal, promotedSeats, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		selectionsTotal: selectionsTotal,
		promotionsTotal: promotionsTotal,
		promotedSeats:   promotedSeats,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// SelectionCompleted counts a finished admission selection.
func (m *MetricsService) SelectionCompleted(alreadySelected bool) {
	if m == nil {
		return
	}
	outcome := "committed"
	if alreadySelected {
		outcome = "idempotent"
	}
	m.selectionsTotal.WithLabelValues(outcome).Inc()
}

// PromotionCompleted counts a promotion run and the seats it filled.
func (m *MetricsService) PromotionCompleted(promoted int) {
	if m == nil || promoted <= 0 {
		return
	}
	m.promotionsTotal.Inc()
	m.promotedSeats.Add(float64(promoted))
}
