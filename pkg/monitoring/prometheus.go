package monitoring

import (
	"context"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sh_queries_total",
			Help: "Diameter Sh requests by command and outcome",
		},
		[]string{"command", "outcome"},
	)

	InflightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sh_inflight_requests",
			Help: "Diameter Sh requests currently awaiting an answer",
		},
	)

	WatchdogFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sh_watchdog_failures_total",
			Help: "Device-Watchdog requests that could not be sent",
		},
	)

	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_events_total",
			Help: "Call-control events by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	VariableWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_variable_write_failures_total",
			Help: "Channel variable writes that failed",
		},
	)
)

func init() {
	prometheus.MustRegister(QueriesTotal, InflightRequests, WatchdogFailures, EventsTotal, VariableWriteFailures)
}

// Serve runs the /metrics listener until ctx is canceled. A listener that
// cannot start or dies is reported to the caller, not fatal here.
func Serve(ctx context.Context, addr string) error {
	log.Printf("starting prometheus metrics server on %s", addr)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		srv.Shutdown(context.Background())
		return nil
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
