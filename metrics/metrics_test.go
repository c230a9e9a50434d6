package metrics

import (
	stderrors "errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wippyai/wasm-fiber/driver"
	"github.com/wippyai/wasm-fiber/fiber"
)

func newCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, reg
}

func TestDriverObserver(t *testing.T) {
	c, _ := newCollector(t)
	obs := c.Track()

	obs.DriverAdvanced("spin", fiber.Progress{Status: fiber.StatusPending}, 1200)
	if got := testutil.ToFloat64(c.Active); got != 1 {
		t.Errorf("active = %v after first advance", got)
	}
	obs.DriverAdvanced("spin", fiber.Progress{Status: fiber.StatusPending}, 1100)
	obs.DriverAdvanced("spin", fiber.Progress{Status: fiber.StatusCompleted}, 40)
	obs.DriverFinished(driver.Result{Name: "spin", Outcome: driver.OutcomeCompleted, Elapsed: time.Millisecond})

	tests := []struct {
		name string
		col  prometheus.Collector
		want float64
	}{
		{"advances", c.Advances.WithLabelValues("spin"), 3},
		{"suspensions", c.Suspensions.WithLabelValues("spin"), 2},
		{"fuel", c.Fuel.WithLabelValues("spin"), 2340},
		{"finished", c.Finished.WithLabelValues("completed"), 1},
		{"active", c.Active, 0},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(tt.col); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCanceledBeforeAdvanceKeepsGaugeAtZero(t *testing.T) {
	c, _ := newCollector(t)
	c.Track().DriverFinished(driver.Result{Outcome: driver.OutcomeCanceled})
	if got := testutil.ToFloat64(c.Active); got != 0 {
		t.Errorf("active = %v", got)
	}
	if got := testutil.ToFloat64(c.Finished.WithLabelValues("canceled")); got != 1 {
		t.Errorf("canceled = %v", got)
	}
}

func TestHostObserver(t *testing.T) {
	c, _ := newCollector(t)
	c.CapabilityStarted("sleep")
	c.CapabilityFinished("sleep", time.Second, nil)
	c.CapabilityStarted("sleep_ms")
	c.CapabilityFinished("sleep_ms", 0, stderrors.New("negative"))

	if got := testutil.ToFloat64(c.HostStarted.WithLabelValues("sleep")); got != 1 {
		t.Errorf("sleep started = %v", got)
	}
	if got := testutil.ToFloat64(c.HostFailed.WithLabelValues("sleep")); got != 0 {
		t.Errorf("sleep failed = %v", got)
	}
	if got := testutil.ToFloat64(c.HostFailed.WithLabelValues("sleep_ms")); got != 1 {
		t.Errorf("sleep_ms failed = %v", got)
	}
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatal(err)
	}
	if _, err := New(reg); err == nil {
		t.Error("second New on the same registry succeeded")
	}
}

func TestHandler(t *testing.T) {
	c, reg := newCollector(t)
	c.Advances.WithLabelValues("fib").Inc()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `fiber_advances_total{driver="fib"} 1`) {
		t.Errorf("metrics output missing advance counter:\n%s", body)
	}
}
