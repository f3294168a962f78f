package reliability

import (
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/hypertracez"
)

// Collector saturation tests - verify the collector stays stable under extreme
// event ingestion from traced code.

func TestCollectorSaturation(t *testing.T) {
	config := getReliabilityConfig()

	switch config.Level {
	case "basic":
		t.Run("basic_backpressure", testBasicBackpressure)
		t.Run("export_under_load", testExportUnderLoad)
	case "stress":
		t.Run("sustained_pressure", func(t *testing.T) { testSustainedPressure(t, config) })
	default:
		t.Skip("HYPERTRACEZ_RELIABILITY_LEVEL not set, skipping reliability tests")
	}
}

// testBasicBackpressure verifies the collector drops when full and keeps working.
func testBasicBackpressure(t *testing.T) {
	collector := hypertracez.NewCollector(10)
	hub := hypertracez.NewHub()
	hub.SetTraceFunction(collector.Trace)

	w := newWorker(t, hub)
	for i := 0; i < 10000; i++ {
		w.run()
	}
	collector.Close()

	if collector.DroppedCount() == 0 {
		t.Log("No events dropped; consumer kept up")
	}
	if got := int64(collector.Count()) + collector.DroppedCount(); got != 10000 {
		t.Errorf("Expected 10000 collected+dropped, got %d", got)
	}
}

func testExportUnderLoad(t *testing.T) {
	collector := hypertracez.NewCollector(1000)
	defer collector.Close()
	hub := hypertracez.NewHub()
	hub.SetTraceFunction(collector.Trace)

	stop := make(chan struct{})
	var exported int
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				exported += len(collector.Export())
				time.Sleep(time.Millisecond)
			}
		}
	}()

	w := newWorker(t, hub)
	for i := 0; i < 50000; i++ {
		w.run()
	}
	close(stop)
	wg.Wait()

	t.Logf("Exported %d events under load, dropped %d", exported, collector.DroppedCount())
}

func testSustainedPressure(t *testing.T, config ReliabilityConfig) {
	collector := hypertracez.NewCollector(4096)
	defer collector.Close()
	hub := hypertracez.NewHub()
	hub.SetTraceFunction(collector.Trace)

	goroutines := config.MaxGoroutines
	if goroutines < 1 {
		goroutines = 1
	}
	deadline := time.Now().Add(config.Duration)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := newWorker(t, hub)
			for time.Now().Before(deadline) {
				w.run()
			}
		}()
	}

	var exported int
	for time.Now().Before(deadline) {
		exported += len(collector.Export())
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()
	exported += len(collector.Export())

	total := float64(exported) + float64(collector.DroppedCount())
	if total > 0 {
		dropRate := float64(collector.DroppedCount()) / total
		t.Logf("Exported %d, dropped %d (%.2f%%)", exported, collector.DroppedCount(), dropRate*100)
	}
}
