package gateway

import (
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds gateway counters. Gauges from other components are
// registered with RegisterGauge.
type Metrics struct {
	Requests      atomic.Uint64
	ClientErrors  atomic.Uint64 // 4xx
	ServerErrors  atomic.Uint64 // 5xx
	Panics        atomic.Uint64
	StreamClients atomic.Int64
	EventsSent    atomic.Uint64
	EventsDropped atomic.Uint64

	mu     sync.Mutex
	gauges map[string]gauge
}

type gauge struct {
	help  string
	value func() float64
}

// RegisterGauge exposes value under name on /metrics. value is called on
// every scrape and must not block.
func (m *Metrics) RegisterGauge(name, help string, value func() float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gauges == nil {
		m.gauges = make(map[string]gauge)
	}
	m.gauges[name] = gauge{help: help, value: value}
}

func (m *Metrics) observe(status int) {
	m.Requests.Add(1)
	switch {
	case status >= 500:
		m.ServerErrors.Add(1)
	case status >= 400:
		m.ClientErrors.Add(1)
	}
}

func writeMetric(w http.ResponseWriter, name, kind, help string, value any) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(w, "%s %v\n", name, value)
}

// metricsHandler serves GET /metrics in the Prometheus text format.
func metricsHandler(m *Metrics, startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		writeMetric(w, "gpionode_requests_total", "counter", "API requests handled.", m.Requests.Load())
		writeMetric(w, "gpionode_request_client_errors_total", "counter", "API requests answered with 4xx.", m.ClientErrors.Load())
		writeMetric(w, "gpionode_request_server_errors_total", "counter", "API requests answered with 5xx.", m.ServerErrors.Load())
		writeMetric(w, "gpionode_handler_panics_total", "counter", "Recovered handler panics.", m.Panics.Load())
		writeMetric(w, "gpionode_stream_clients", "gauge", "Connected event stream clients.", m.StreamClients.Load())
		writeMetric(w, "gpionode_stream_events_sent_total", "counter", "Events queued to stream clients.", m.EventsSent.Load())
		writeMetric(w, "gpionode_stream_events_dropped_total", "counter", "Events dropped for slow stream clients.", m.EventsDropped.Load())

		m.mu.Lock()
		names := make([]string, 0, len(m.gauges))
		for name := range m.gauges {
			names = append(names, name)
		}
		sort.Strings(names)
		gauges := make([]gauge, len(names))
		for i, name := range names {
			gauges[i] = m.gauges[name]
		}
		m.mu.Unlock()
		for i, g := range gauges {
			writeMetric(w, names[i], "gauge", g.help, g.value())
		}

		writeMetric(w, "gpionode_uptime_seconds", "gauge", "Seconds since the gateway was created.",
			fmt.Sprintf("%.0f", time.Since(startTime).Seconds()))

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		writeMetric(w, "go_goroutines", "gauge", "Number of goroutines.", runtime.NumGoroutine())
		writeMetric(w, "go_memstats_alloc_bytes", "gauge", "Bytes of allocated heap objects.", mem.Alloc)
		writeMetric(w, "go_memstats_sys_bytes", "gauge", "Total bytes of memory obtained from the OS.", mem.Sys)
	}
}
