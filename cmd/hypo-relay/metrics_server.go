package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var metricsShutdownTimeout = 5 * time.Second

// newMetricsServer exposes /metrics on its own listener so scrapes
// stay off the relay port. The aggressive timeouts are safe here;
// nothing on this mux upgrades or streams.
func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
}
