package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wippyai/wasm-fiber/driver"
	"github.com/wippyai/wasm-fiber/fiber"
)

const namespace = "fiber"

// Collector records driver and host capability activity. It implements
// driver.Observer and hostcall.Observer.
type Collector struct {
	Advances       *prometheus.CounterVec
	Suspensions    *prometheus.CounterVec
	Fuel           *prometheus.CounterVec
	Finished       *prometheus.CounterVec
	DriverDuration *prometheus.HistogramVec
	Active         prometheus.Gauge

	HostStarted  *prometheus.CounterVec
	HostFailed   *prometheus.CounterVec
	HostDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		Advances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advances_total",
			Help:      "Guest advances performed, by driver.",
		}, []string{"driver"}),
		Suspensions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suspensions_total",
			Help:      "Advances that ended pending, by driver.",
		}, []string{"driver"}),
		Fuel: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fuel_consumed_total",
			Help:      "Fuel units consumed by guest code, by driver.",
		}, []string{"driver"}),
		Finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drivers_finished_total",
			Help:      "Drivers that reached done, by outcome.",
		}, []string{"outcome"}),
		DriverDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "driver_duration_seconds",
			Help:      "Wall time from first turn to done.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drivers_active",
			Help:      "Drivers that have advanced at least once and are not done.",
		}),
		HostStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "host_operations_started_total",
			Help:      "Host operations started, by capability.",
		}, []string{"capability"}),
		HostFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "host_operations_failed_total",
			Help:      "Host operations that resolved with an error, by capability.",
		}, []string{"capability"}),
		HostDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "host_operation_duration_seconds",
			Help:      "Time from starting a host operation to the guest resuming past it.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"capability"}),
	}

	for _, col := range []prometheus.Collector{
		c.Advances, c.Suspensions, c.Fuel, c.Finished, c.DriverDuration, c.Active,
		c.HostStarted, c.HostFailed, c.HostDuration,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// DriverAdvanced implements driver.Observer.
func (c *Collector) DriverAdvanced(name string, p fiber.Progress, fuel uint64) {
	c.Advances.WithLabelValues(name).Inc()
	c.Fuel.WithLabelValues(name).Add(float64(fuel))
	if p.Pending() {
		c.Suspensions.WithLabelValues(name).Inc()
	}
}

// DriverFinished implements driver.Observer.
func (c *Collector) DriverFinished(r driver.Result) {
	outcome := r.Outcome.String()
	c.Finished.WithLabelValues(outcome).Inc()
	c.DriverDuration.WithLabelValues(outcome).Observe(r.Elapsed.Seconds())
}

// CapabilityStarted implements hostcall.Observer.
func (c *Collector) CapabilityStarted(name string) {
	c.HostStarted.WithLabelValues(name).Inc()
}

// CapabilityFinished implements hostcall.Observer.
func (c *Collector) CapabilityFinished(name string, elapsed time.Duration, err error) {
	if err != nil {
		c.HostFailed.WithLabelValues(name).Inc()
	}
	c.HostDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// Track returns an observer that also maintains the active drivers gauge.
func (c *Collector) Track() driver.Observer {
	return &tracker{c: c}
}

type tracker struct {
	c       *Collector
	started bool
}

func (t *tracker) DriverAdvanced(name string, p fiber.Progress, fuel uint64) {
	if !t.started {
		t.started = true
		t.c.Active.Inc()
	}
	t.c.DriverAdvanced(name, p, fuel)
}

func (t *tracker) DriverFinished(r driver.Result) {
	if t.started {
		t.c.Active.Dec()
	}
	t.c.DriverFinished(r)
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
