// Package telemetry keeps in-process counters, gauges and request-duration
// histograms and exposes them in the Prometheus text format.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// Default request-duration buckets in seconds.
var DefaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

const requestDuration = "http_server_request_duration_seconds"

// histogram stores non-cumulative bucket counts; export makes them
// cumulative.
type histogram struct {
	mu      sync.Mutex
	bounds  []float64
	buckets []int64
	count   int64
	sum     float64
}

func newHistogram(bounds []float64) *histogram {
	return &histogram{bounds: bounds, buckets: make([]int64, len(bounds))}
}

func (h *histogram) observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range h.bounds {
		if v <= b {
			h.buckets[i]++
			return
		}
	}
}

type histogramSnapshot struct {
	cumulative []int64
	count      int64
	sum        float64
}

func (h *histogram) snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := histogramSnapshot{cumulative: make([]int64, len(h.buckets)), count: h.count, sum: h.sum}
	var running int64
	for i, c := range h.buckets {
		running += c
		s.cumulative[i] = running
	}
	return s
}

type gaugeFunc struct {
	help string
	fn   func() float64
}

// Metrics is the registry. All methods are safe for concurrent use and a nil
// *Metrics ignores every call.
type Metrics struct {
	mu         sync.RWMutex
	help       map[string]string
	counters   map[string]map[string]*int64 // name -> rendered labels -> value
	durations  map[string]*histogram        // rendered labels -> histogram
	gauges     map[string]gaugeFunc
	bounds     []float64
	inFlight   int64
	constLabel string
}

// New creates a registry. Every exported sample carries service=name.
func New(service string) *Metrics {
	return &Metrics{
		help:       make(map[string]string),
		counters:   make(map[string]map[string]*int64),
		durations:  make(map[string]*histogram),
		gauges:     make(map[string]gaugeFunc),
		bounds:     DefaultDurationBuckets,
		constLabel: fmt.Sprintf("service=%q", service),
	}
}

// Describe sets the HELP text of a counter.
func (m *Metrics) Describe(name, help string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.help[name] = help
	m.mu.Unlock()
}

// Inc adds one to the counter name with the given label pairs
// ("status", "accepted", ...).
func (m *Metrics) Inc(name string, labelPairs ...string) {
	if m == nil {
		return
	}
	key := m.renderLabels(labelPairs...)

	m.mu.RLock()
	p, ok := m.counters[name][key]
	m.mu.RUnlock()
	if ok {
		atomic.AddInt64(p, 1)
		return
	}

	m.mu.Lock()
	if m.counters[name] == nil {
		m.counters[name] = make(map[string]*int64)
	}
	p, ok = m.counters[name][key]
	if !ok {
		p = new(int64)
		m.counters[name][key] = p
	}
	m.mu.Unlock()
	atomic.AddInt64(p, 1)
}

// Counter returns the current value of a counter.
func (m *Metrics) Counter(name string, labelPairs ...string) int64 {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.counters[name][m.renderLabels(labelPairs...)]; ok {
		return atomic.LoadInt64(p)
	}
	return 0
}

// GaugeFunc registers a gauge sampled at export time.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.gauges[name] = gaugeFunc{help: help, fn: fn}
	m.mu.Unlock()
}

// ObserveRequest records one HTTP request duration.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	key := m.renderLabels("method", method, "route", route, "status_code", strconv.Itoa(status))

	m.mu.RLock()
	h, ok := m.durations[key]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if h, ok = m.durations[key]; !ok {
			h = newHistogram(m.bounds)
			m.durations[key] = h
		}
		m.mu.Unlock()
	}
	h.observe(d.Seconds())
}

func (m *Metrics) renderLabels(pairs ...string) string {
	parts := []string{m.constLabel}
	for i := 0; i+1 < len(pairs); i += 2 {
		parts = append(parts, fmt.Sprintf("%s=%q", pairs[i], pairs[i+1]))
	}
	return strings.Join(parts, ",")
}

// Middleware records the duration and outcome of every request.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			atomic.AddInt64(&m.inFlight, 1)
			start := time.Now()
			err := next(c)
			atomic.AddInt64(&m.inFlight, -1)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.ObserveRequest(c.Request().Method, route, status, time.Since(start))
			return err
		}
	}
}

// Handler serves the registry in the Prometheus text exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(m.Export()))
	}
}

// Export renders every metric, sorted by name and labels.
func (m *Metrics) Export() string {
	if m == nil {
		return ""
	}
	var b strings.Builder

	m.mu.RLock()
	counterNames := sortedKeys(m.counters)
	for _, name := range counterNames {
		if help := m.help[name]; help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", name, help)
		}
		fmt.Fprintf(&b, "# TYPE %s counter\n", name)
		series := m.counters[name]
		for _, labels := range sortedKeys(series) {
			fmt.Fprintf(&b, "%s{%s} %d\n", name, labels, atomic.LoadInt64(series[labels]))
		}
	}

	for _, name := range sortedKeys(m.gauges) {
		g := m.gauges[name]
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s gauge\n", name, g.help, name)
		fmt.Fprintf(&b, "%s{%s} %s\n", name, m.constLabel, formatFloat(g.fn()))
	}

	b.WriteString("# HELP http_server_active_requests Number of in-flight HTTP requests.\n")
	b.WriteString("# TYPE http_server_active_requests gauge\n")
	fmt.Fprintf(&b, "http_server_active_requests{%s} %d\n", m.constLabel, atomic.LoadInt64(&m.inFlight))

	if len(m.durations) > 0 {
		fmt.Fprintf(&b, "# HELP %s Duration of HTTP requests in seconds.\n# TYPE %s histogram\n", requestDuration, requestDuration)
	}
	for _, labels := range sortedKeys(m.durations) {
		s := m.durations[labels].snapshot()
		for i, bound := range m.bounds {
			fmt.Fprintf(&b, "%s_bucket{%s,le=%q} %d\n", requestDuration, labels, formatFloat(bound), s.cumulative[i])
		}
		fmt.Fprintf(&b, "%s_bucket{%s,le=\"+Inf\"} %d\n", requestDuration, labels, s.count)
		fmt.Fprintf(&b, "%s_sum{%s} %s\n", requestDuration, labels, formatFloat(s.sum))
		fmt.Fprintf(&b, "%s_count{%s} %d\n", requestDuration, labels, s.count)
	}
	m.mu.RUnlock()

	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatFloat(v float64) string {
	if math.IsInf(v, 1) {
		return "+Inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
