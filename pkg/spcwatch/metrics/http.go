package metrics

import (
	"net/http"
	"sync/atomic"
	"time"
)

// Observer receives the latency of every request seen by HTTPMetrics.
// The Monitor uses it to feed request latency into a control chart.
type Observer func(d time.Duration, status int)

// HTTPMetrics tracks request counts and latency for an instrumented handler.
type HTTPMetrics struct {
	requestCount      int64
	errorCount        int64
	totalResponseTime int64 // nanoseconds
	maxResponseTime   int64 // nanoseconds
	pendingRequests   int64
	startTime         time.Time

	observer Observer
}

func NewHTTPMetrics(observer Observer) *HTTPMetrics {
	return &HTTPMetrics{
		startTime: time.Now(),
		observer:  observer,
	}
}

// HTTPStats is a point-in-time view of HTTPMetrics.
type HTTPStats struct {
	RequestCount    int64     `json:"request_count"`
	ErrorCount      int64     `json:"error_count"`
	ErrorRate       float64   `json:"error_rate"`   // percent
	RequestRate     float64   `json:"request_rate"` // per second
	AvgResponseTime int64     `json:"avg_response_time"`
	MaxResponseTime int64     `json:"max_response_time"`
	PendingRequests int64     `json:"pending_requests"`
	Timestamp       time.Time `json:"timestamp"`
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	if !rw.written {
		rw.statusCode = http.StatusOK
		rw.written = true
	}
	return rw.ResponseWriter.Write(data)
}

// Middleware wraps next, recording status and latency of every request.
func (h *HTTPMetrics) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		atomic.AddInt64(&h.pendingRequests, 1)
		defer atomic.AddInt64(&h.pendingRequests, -1)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(wrapped, r)

		d := time.Since(start)
		ns := d.Nanoseconds()
		atomic.AddInt64(&h.requestCount, 1)
		atomic.AddInt64(&h.totalResponseTime, ns)
		for {
			current := atomic.LoadInt64(&h.maxResponseTime)
			if ns <= current || atomic.CompareAndSwapInt64(&h.maxResponseTime, current, ns) {
				break
			}
		}
		if wrapped.statusCode >= 400 {
			atomic.AddInt64(&h.errorCount, 1)
		}

		if h.observer != nil {
			h.observer(d, wrapped.statusCode)
		}
	}
}

func (h *HTTPMetrics) GetStats() HTTPStats {
	requestCount := atomic.LoadInt64(&h.requestCount)
	errorCount := atomic.LoadInt64(&h.errorCount)

	stats := HTTPStats{
		RequestCount:    requestCount,
		ErrorCount:      errorCount,
		MaxResponseTime: atomic.LoadInt64(&h.maxResponseTime),
		PendingRequests: atomic.LoadInt64(&h.pendingRequests),
		Timestamp:       time.Now(),
	}
	if requestCount > 0 {
		stats.ErrorRate = float64(errorCount) / float64(requestCount) * 100
		stats.AvgResponseTime = atomic.LoadInt64(&h.totalResponseTime) / requestCount
		if uptime := time.Since(h.startTime); uptime > 0 {
			stats.RequestRate = float64(requestCount) / uptime.Seconds()
		}
	}
	return stats
}
