// Command adsyncd serves the HTTP trigger for ads sync runs.
//
// Usage:
//
//	adsyncd -addr :8080
//	curl -X POST localhost:8080/sync-ads-insights
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"adsync/internal/config"
	"adsync/internal/httpapi"
	"adsync/internal/metrics"
	"adsync/internal/metrics/datadog"
	"adsync/internal/metrics/prompush"
	"adsync/internal/pipeline"

	// register all backends with the warehouse factory.
	_ "adsync/internal/warehouse/all"
)

func main() {
	var (
		addr              string
		cfgPath           string
		metricsBackendFlg string
		pushGatewayURLFlg string
		statsdAddrFlg     string
	)

	flag.StringVar(&addr, "addr", ":8080", "listen address")
	flag.StringVar(&cfgPath, "config", "", "config JSON path (optional; env vars apply on top)")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend to use (prometheus, datadog, none)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flag.StringVar(&statsdAddrFlg, "statsd-addr", "", "DogStatsD address (overrides env STATSD_ADDR)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}
	issues := cfg.Validate()
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if err := config.AsError(issues); err != nil {
		fatalf("configuration is invalid")
	}

	setupMetrics(metricsBackendFlg, pushGatewayURLFlg, statsdAddrFlg)

	runner, cleanup, err := pipeline.BuildRunner(context.Background(), cfg)
	if err != nil {
		fatalf("%v", err)
	}
	defer cleanup()

	srv, err := httpapi.NewServer(httpapi.Config{Addr: addr}, runner)
	if err != nil {
		fatalf("%v", err)
	}
	log.Printf("listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}

// setupMetrics installs the selected metrics backend: flag → env → nop.
// The daemon pushes after every run via the run-level flush, so the
// backend stays installed for the process lifetime.
func setupMetrics(backendName, gwURL, statsdAddr string) {
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "prometheus", "pushgateway":
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend("ads_sync", gwURL)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
			return
		}
		log.Printf("metrics: url=%v, backend=%v", gwURL, backendName)
		metrics.SetBackend(b)

	case "datadog":
		if statsdAddr == "" {
			statsdAddr = os.Getenv("STATSD_ADDR")
		}
		if statsdAddr == "" {
			statsdAddr = "127.0.0.1:8125"
		}
		b, err := datadog.NewBackend(datadog.Config{Addr: statsdAddr})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return
		}
		log.Printf("metrics: addr=%v, backend=%v", statsdAddr, backendName)
		metrics.SetBackend(b)

	case "", "none", "nop":
		// metrics disabled; nop backend remains

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}
}
