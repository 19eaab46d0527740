package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"catalog-crawler/pkg/config"
	"catalog-crawler/pkg/metrics"
	"catalog-crawler/pkg/orchestrate"
	"catalog-crawler/pkg/sink"
	"catalog-crawler/pkg/utils"
)

func main() {
	// --- Early Initialization & Flags ---
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel) // Default level

	configFileFlag := flag.String("config", "config.yaml", "Path to YAML config file")
	siteKeyFlag := flag.String("site", "", "Site key from config file (empty = all sites)")
	logLevelFlag := flag.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	maxPagesFlag := flag.Int("max-pages", -1, "Override max listing pages (-1 = use config, 0 = unbounded)")
	sinkFlag := flag.String("sink", "csv", "Sink backend: csv or badger")
	outputDirFlag := flag.String("output", "output", "Output directory for the csv sink")
	metricsAddrFlag := flag.String("metrics", "", "Address for Prometheus metrics endpoint (empty to disable)")
	flag.Parse()

	// --- Logger Configuration ---
	level, err := logrus.ParseLevel(*logLevelFlag)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", *logLevelFlag, err)
	} else {
		log.SetLevel(level)
	}

	// --- Load Application Configuration ---
	log.Infof("Loading configuration from %s", *configFileFlag)
	appCfg, err := config.Load(*configFileFlag)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	appWarnings, err := appCfg.Validate()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	for _, w := range appWarnings {
		log.Warn(w)
	}
	if len(appCfg.Sites) == 0 {
		log.Fatalf("Configuration error: no sites defined in '%s'", *configFileFlag)
	}
	if *maxPagesFlag >= 0 {
		appCfg.MaxPages = *maxPagesFlag
	}

	var siteKeys []string
	if *siteKeyFlag != "" {
		if _, ok := appCfg.Sites[*siteKeyFlag]; !ok {
			log.Fatalf("Error: Site key '%s' not found in config file '%s'", *siteKeyFlag, *configFileFlag)
		}
		siteKeys = []string{*siteKeyFlag}
	}

	// --- Metrics Endpoint (Optional) ---
	m := metrics.New()
	if *metricsAddrFlag != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
			log.Infof("Serving metrics on http://%s/metrics", *metricsAddrFlag)
			if err := http.ListenAndServe(*metricsAddrFlag, mux); err != nil {
				log.Errorf("Metrics server failed: %v", err)
			}
		}()
	}

	// --- Global Context & Signal Handling ---
	crawlCtx, cancelCrawl := context.WithCancel(context.Background())
	defer cancelCrawl()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancelCrawl()
		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()
	defer signal.Stop(sigChan)

	// --- Sink Factory ---
	var sinkFactory orchestrate.SinkFactory
	switch *sinkFlag {
	case "csv":
		sinkFactory = func(siteKey string, _ config.SiteConfig) (sink.Sink, error) {
			return sink.NewCSVSink(filepath.Join(*outputDirFlag, utils.SanitizeFilename(siteKey)), log)
		}
	case "badger":
		sinkFactory = func(_ string, siteCfg config.SiteConfig) (sink.Sink, error) {
			return sink.NewBadgerSink(appCfg.StateDir, siteCfg.AllowedDomain,
				log.WithField("component", "badger_sink"))
		}
	default:
		log.Fatalf("Unknown sink backend '%s' (expected csv or badger)", *sinkFlag)
	}

	// --- Run ---
	orchestrator := orchestrate.New(appCfg, siteKeys, sinkFactory, log)
	orchestrator.SetMetrics(m)
	results := orchestrator.Run(crawlCtx)

	// --- Exit ---
	failures := 0
	for _, res := range results {
		if !res.Success {
			failures++
			if errors.Is(res.Err, context.Canceled) {
				log.Warnf("Site '%s' cancelled.", res.SiteKey)
			}
		}
	}
	if crawlCtx.Err() != nil {
		log.Warn("Crawl cancelled gracefully.")
		os.Exit(0)
	}
	if failures > 0 {
		log.Errorf("Crawl finished with %d failed site(s).", failures)
		os.Exit(1)
	}
	log.Info("Crawl completed successfully.")
}
