// Package metrics2 is a thin wrapper around the Prometheus client which
// provides counters and liveness metrics keyed by name and tags. Metrics are
// served over HTTP once InitPrometheus has been called; before that, metric
// updates are collected but simply not exported.
package metrics2

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.testfarm.build/infra/go/sklog"
)

var (
	mtx        sync.Mutex
	counters   = map[string]*counter{}
	livenesses = map[string]*liveness{}
)

// Counter is a monotonically increasing metric.
type Counter interface {
	Inc(i int64)
	Get() int64
	Reset()
}

// Liveness tracks the wall time since the last Reset, for detecting stalled
// loops.
type Liveness interface {
	// Reset records that the tracked activity just happened.
	Reset()
	// Get returns the duration since the last Reset.
	Get() time.Duration
}

// InitPrometheus starts serving metrics on the given port, e.g. ":20000".
func InitPrometheus(port string) {
	r := http.NewServeMux()
	r.Handle("/metrics", promhttp.Handler())
	go func() {
		sklog.Infof("Serving Prometheus metrics on port %s", port)
		if err := http.ListenAndServe(port, r); err != nil {
			sklog.Errorf("Prometheus metrics server failed: %s", err)
		}
	}()
}

// metricKey builds a unique registry key from a name and tags.
func metricKey(name string, tags map[string]string) string {
	parts := make([]string, 0, len(tags)+1)
	parts = append(parts, name)
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, tags[k]))
	}
	return strings.Join(parts, ",")
}

type counter struct {
	mtx  sync.Mutex
	v    int64
	prom prometheus.Gauge
}

func (c *counter) Inc(i int64) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.v += i
	c.prom.Set(float64(c.v))
}

func (c *counter) Get() int64 {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.v
}

func (c *counter) Reset() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.v = 0
	c.prom.Set(0)
}

// GetCounter returns the Counter with the given name and tags, creating and
// registering it on first use.
func GetCounter(name string, tags map[string]string) Counter {
	mtx.Lock()
	defer mtx.Unlock()
	key := metricKey(name, tags)
	if c, ok := counters[key]; ok {
		return c
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        name,
		ConstLabels: prometheus.Labels(tags),
	})
	if err := prometheus.Register(g); err != nil {
		sklog.Errorf("Failed to register counter %q: %s", key, err)
	}
	c := &counter{prom: g}
	counters[key] = c
	return c
}

type liveness struct {
	mtx       sync.Mutex
	lastReset time.Time
	prom      prometheus.Gauge
}

func (l *liveness) Reset() {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.lastReset = time.Now()
	l.prom.SetToCurrentTime()
}

func (l *liveness) Get() time.Duration {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return time.Since(l.lastReset)
}

// NewLiveness returns the Liveness with the given name and tags, creating and
// registering it on first use. The exported gauge holds the Unix timestamp of
// the last Reset.
func NewLiveness(name string, tags map[string]string) Liveness {
	mtx.Lock()
	defer mtx.Unlock()
	key := metricKey(name, tags)
	if l, ok := livenesses[key]; ok {
		l.Reset()
		return l
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        fmt.Sprintf("liveness_%s_s", name),
		ConstLabels: prometheus.Labels(tags),
	})
	if err := prometheus.Register(g); err != nil {
		sklog.Errorf("Failed to register liveness %q: %s", key, err)
	}
	l := &liveness{lastReset: time.Now(), prom: g}
	g.SetToCurrentTime()
	livenesses[key] = l
	return l
}
