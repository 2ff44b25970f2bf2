// Command adsync runs one ads sync: fetch insights from the Meta Graph
// API, validate and transform them against the registered schema, and
// reconcile them into the configured warehouse. The structured run
// result is printed to stdout as JSON.
//
// Usage:
//
//	adsync -mode incremental -days-back 7
//	adsync -mode daterange -start-date 2024-03-01 -end-date 2024-03-14
//	adsync -mode validate -v
//	adsync -check-config
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"adsync/internal/config"
	"adsync/internal/metrics"
	"adsync/internal/metrics/datadog"
	"adsync/internal/metrics/prompush"
	"adsync/internal/pipeline"

	// register all backends with the warehouse factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "adsync/internal/warehouse/all"
)

// main loads configuration, optionally initializes a metrics backend,
// and executes one pipeline run.
func main() {
	var (
		cfgPath           string
		mode              string
		daysBack          int
		startDate         string
		endDate           string
		dryRun            bool
		checkConfig       bool
		metricsBackendFlg string
		pushGatewayURLFlg string
		statsdAddrFlg     string
	)

	flag.StringVar(&cfgPath, "config", "", "config JSON path (optional; env vars apply on top)")
	flag.StringVar(&mode, "mode", pipeline.ModeIncremental, "sync mode: full, incremental, daterange, validate")
	flag.IntVar(&daysBack, "days-back", 7, "window size in days for incremental mode")
	flag.StringVar(&startDate, "start-date", "", "range start, YYYY-MM-DD (daterange mode)")
	flag.StringVar(&endDate, "end-date", "", "range end, YYYY-MM-DD (daterange mode)")
	flag.BoolVar(&dryRun, "dry-run", false, "fetch and validate but write nothing")
	flag.BoolVar(&checkConfig, "check-config", false, "validate the configuration and exit")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend to use (prometheus, datadog, none)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flag.StringVar(&statsdAddrFlg, "statsd-addr", "", "DogStatsD address (overrides env STATSD_ADDR)")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}

	// Surface every validation finding; only errors block the run.
	issues := cfg.Validate()
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if err := config.AsError(issues); err != nil {
		log.Printf("configuration is invalid")
		os.Exit(1)
	}
	if checkConfig {
		log.Printf("configuration is valid")
		if *verbose {
			out, _ := json.MarshalIndent(cfg.Redacted(), "", "  ")
			fmt.Println(string(out))
		}
		os.Exit(0)
	}

	opts, err := runOptions(mode, daysBack, startDate, endDate, dryRun)
	if err != nil {
		fatalf("%v", err)
	}

	// Decide metrics backend: flag → env → default.
	backendName := metricsBackendFlg
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "prometheus", "pushgateway":
		// Decide Pushgateway URL: flag → env → default.
		gwURL := pushGatewayURLFlg
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}

		b, err := prompush.NewBackend("ads_sync", gwURL)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
		} else {
			log.Printf("metrics: url=%v, backend=%v", gwURL, backendName)
			metrics.SetBackend(b)
			defer func() {
				if err := metrics.Flush(); err != nil {
					log.Printf("metrics: flush error: %v", err)
				}
			}()
		}

	case "datadog":
		addr := statsdAddrFlg
		if addr == "" {
			addr = os.Getenv("STATSD_ADDR")
		}
		if addr == "" {
			addr = "127.0.0.1:8125"
		}

		b, err := datadog.NewBackend(datadog.Config{Addr: addr})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
		} else {
			log.Printf("metrics: addr=%v, backend=%v", addr, backendName)
			metrics.SetBackend(b)
			defer func() {
				if err := metrics.Flush(); err != nil {
					log.Printf("metrics: flush error: %v", err)
				}
			}()
		}

	case "", "none", "nop":
		// metrics disabled; nop backend remains
		if *verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}

	ctx := context.Background()
	start := time.Now()

	runner, cleanup, err := pipeline.BuildRunner(ctx, cfg)
	if err != nil {
		fatalf("%v", err)
	}
	defer cleanup()

	if *verbose {
		log.Printf("adsync: mode=%s accounts=%d warehouse=%s table=%s",
			opts.Mode, len(cfg.Facebook.AdAccountIDs), cfg.Warehouse.Kind, cfg.Warehouse.MetaAdsTable)
	}

	res, runErr := runner.Run(ctx, opts)
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		fatalf("marshal run result: %v", err)
	}
	fmt.Println(string(out))

	if *verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
	if runErr != nil {
		os.Exit(1)
	}
}

// runOptions maps the date flags onto pipeline options. Range bounds are
// checked here so a bad flag fails before any collaborator is built.
func runOptions(mode string, daysBack int, startDate, endDate string, dryRun bool) (pipeline.Options, error) {
	opts := pipeline.Options{Mode: mode, DaysBack: daysBack, DryRun: dryRun}
	if mode == pipeline.ModeDateRange && (startDate == "" || endDate == "") {
		return opts, fmt.Errorf("daterange mode needs -start-date and -end-date")
	}
	if startDate != "" {
		t, err := time.Parse("2006-01-02", startDate)
		if err != nil {
			return opts, fmt.Errorf("bad -start-date %q: want YYYY-MM-DD", startDate)
		}
		opts.Start = t
	}
	if endDate != "" {
		t, err := time.Parse("2006-01-02", endDate)
		if err != nil {
			return opts, fmt.Errorf("bad -end-date %q: want YYYY-MM-DD", endDate)
		}
		opts.End = t
	}
	return opts, nil
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
