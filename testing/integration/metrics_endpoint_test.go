package integration

import (
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/zoobzio/hypertracez"
)

func scrape(t *testing.T, hub *hypertracez.Hub) string {
	t.Helper()
	_, port, err := net.SplitHostPort(hub.MetricsAddr())
	if err != nil {
		t.Fatalf("metrics address %q: %v", hub.MetricsAddr(), err)
	}
	resp, err := http.Get("http://127.0.0.1:" + port + "/metrics")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read scrape: %v", err)
	}
	return string(body)
}

func TestMetricsEndpointCountsCalls(t *testing.T) {
	hub := hypertracez.NewHub()
	t.Cleanup(func() { _ = hub.Shutdown(t.Context()) })

	err := hub.SetMetricsTarget(hypertracez.MetricsConfig{
		AllowedCustomProperties: []string{"pool"},
	})
	if err != nil {
		t.Fatalf("SetMetricsTarget: %v", err)
	}

	pool := NewPool(t, hub, "primary")
	conn := pool.Acquire(t)
	for i := 0; i < 3; i++ {
		conn.Query("q")
	}

	body := scrape(t, hub)

	// Pool carries the promoted label, Conn has no pool prop and omits it.
	wantPool := `hypertrace_function_calls_total{caller_classname="Pool",caller_filename="/fixtures_test.go",caller_functionname="Acquire",caller_object_id="1",pool="primary"} 1`
	if !strings.Contains(body, wantPool) {
		t.Errorf("Expected %s in scrape:\n%s", wantPool, body)
	}
	wantConn := `hypertrace_function_calls_total{caller_classname="Conn",caller_filename="/fixtures_test.go",caller_functionname="Query",caller_object_id="1"} 3`
	if !strings.Contains(body, wantConn) {
		t.Errorf("Expected %s in scrape:\n%s", wantConn, body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("Expected Go runtime metrics by default")
	}
}

func TestMetricsAndTraceSinksTogether(t *testing.T) {
	hub, collector := NewTracedHub(t)
	if err := hub.SetMetricsTarget(hypertracez.MetricsConfig{DisableRuntimeDefaults: true}); err != nil {
		t.Fatalf("SetMetricsTarget: %v", err)
	}

	pool := NewPool(t, hub, "p")
	pool.Acquire(t).Exec("x")

	collector.AssertEventCount(2)
	body := scrape(t, hub)
	if !strings.Contains(body, `caller_functionname="Exec"`) {
		t.Errorf("Expected Exec series in scrape:\n%s", body)
	}
	if strings.Contains(body, "go_goroutines") {
		t.Error("Expected runtime metrics disabled")
	}
}

func TestMetricsTargetFromEnv(t *testing.T) {
	t.Setenv("HTZ_IT_METRICS_PORT", "0")
	t.Setenv("HTZ_IT_METRICS_RUNTIME_DEFAULTS", "false")

	cfg, err := hypertracez.MetricsConfigFromEnv("HTZ_IT")
	if err != nil {
		t.Fatalf("MetricsConfigFromEnv: %v", err)
	}

	hub := hypertracez.NewHub()
	t.Cleanup(func() { _ = hub.Shutdown(t.Context()) })
	if err := hub.SetMetricsTarget(cfg); err != nil {
		t.Fatalf("SetMetricsTarget: %v", err)
	}
	if hub.MetricsAddr() == "" {
		t.Error("Expected a listening metrics endpoint")
	}
}
