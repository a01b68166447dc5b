package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// Metrics exposes a Prometheus-compatible /metrics endpoint for the
// admission queue.
type Metrics struct {
	// Queue
	QueueDepth    atomic.Int64
	Admissions    atomic.Uint64
	Rejections    atomic.Uint64
	Evictions     atomic.Uint64
	Cancellations atomic.Uint64
	Timeouts      atomic.Uint64
	Activations   atomic.Uint64
	Completions   atomic.Uint64
	FeeBumps      atomic.Uint64

	// Economics
	BondVolume  atomic.Uint64
	FeeVolume   atomic.Uint64
	MinFloorFee atomic.Uint64

	// API
	APIRequests atomic.Uint64
	APIErrors   atomic.Uint64

	logger log.Logger
}

// New creates a new Metrics instance.
func New() *Metrics {
	return &Metrics{
		logger: log.New("module", "metrics"),
	}
}

// Serve starts the Prometheus metrics HTTP endpoint.
func (m *Metrics) Serve(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", m.handleMetrics)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":"slotqueued","timestamp":%d}`, time.Now().Unix())
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		m.logger.Info("Metrics server starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Metrics server error", "err", err)
		}
	}()
}

func (m *Metrics) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	gauge := func(name, help string, v int64) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s gauge\n", name)
		fmt.Fprintf(w, "%s %d\n\n", name, v)
	}
	counter := func(name, help string, v uint64) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s counter\n", name)
		fmt.Fprintf(w, "%s %d\n\n", name, v)
	}

	gauge("slotqueue_depth", "Current number of queued proposals", m.QueueDepth.Load())
	gauge("slotqueue_min_floor_fee", "Current occupancy-based fee floor", int64(m.MinFloorFee.Load()))

	counter("slotqueue_admissions_total", "Total proposals admitted", m.Admissions.Load())
	counter("slotqueue_rejections_total", "Total admissions rejected", m.Rejections.Load())
	counter("slotqueue_evictions_total", "Total proposals evicted by higher-priority admissions", m.Evictions.Load())
	counter("slotqueue_cancellations_total", "Total proposals cancelled by their submitter", m.Cancellations.Load())
	counter("slotqueue_timeouts_total", "Total top-of-queue timeout evictions", m.Timeouts.Load())
	counter("slotqueue_activations_total", "Total proposals activated", m.Activations.Load())
	counter("slotqueue_completions_total", "Total activated proposals completed", m.Completions.Load())
	counter("slotqueue_fee_bumps_total", "Total queued fee increases", m.FeeBumps.Load())

	counter("slotqueue_bond_volume_total", "Cumulative bond value admitted", m.BondVolume.Load())
	counter("slotqueue_fee_volume_total", "Cumulative priority fees admitted", m.FeeVolume.Load())

	counter("slotqueue_api_requests_total", "Total API requests", m.APIRequests.Load())
	counter("slotqueue_api_errors_total", "Total API errors", m.APIErrors.Load())
}
