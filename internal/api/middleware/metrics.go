package middleware

import (
	"net/http"
	"sync/atomic"
	"time"
)

// Metrics holds request counters shared between the middleware and the
// /metrics endpoint.
type Metrics struct {
	Requests     atomic.Int64
	ClientErrors atomic.Int64
	ServerErrors atomic.Int64
	latencyMicro atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Requests      int64   `json:"request_count"`
	Errors        int64   `json:"error_count"`
	ClientErrors  int64   `json:"client_error_count"`
	ServerErrors  int64   `json:"server_error_count"`
	MeanLatencyMS float64 `json:"mean_latency_ms"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Requests:     m.Requests.Load(),
		ClientErrors: m.ClientErrors.Load(),
		ServerErrors: m.ServerErrors.Load(),
	}
	s.Errors = s.ClientErrors + s.ServerErrors
	if s.Requests > 0 {
		s.MeanLatencyMS = float64(m.latencyMicro.Load()) / float64(s.Requests) / 1000
	}
	return s
}

// Middleware counts requests, 4xx and 5xx responses and cumulative latency.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		m.Requests.Add(1)
		m.latencyMicro.Add(time.Since(start).Microseconds())
		switch {
		case rw.statusCode >= 500:
			m.ServerErrors.Add(1)
		case rw.statusCode >= 400:
			m.ClientErrors.Add(1)
		}
	})
}
