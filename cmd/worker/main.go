// Package main runs the search export Temporal worker.
package main

import (
	"errors"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/nucleus/search-export/activities"
	"github.com/nucleus/search-export/internal/artifact"
	"github.com/nucleus/search-export/internal/config"
	"github.com/nucleus/search-export/internal/logging"
	"github.com/nucleus/search-export/internal/metrics"
	"github.com/nucleus/search-export/internal/search"
	"github.com/nucleus/search-export/internal/workflows"
)

func main() {
	// Configuration from file and environment
	cfg, err := config.Load(os.Getenv("EXPORT_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting search export worker: address=%s namespace=%s queue=%s",
		cfg.Temporal.Address, cfg.Temporal.Namespace, cfg.Temporal.TaskQueue)

	logger := logging.New(logging.ParseLevel(cfg.LogLevel))

	// Create Temporal client
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.Address,
		Namespace: cfg.Temporal.Namespace,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("Failed to create Temporal client: %v", err)
	}
	defer c.Close()

	// Metrics endpoint
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, reg)
	}

	// Collaborators
	searcher := search.NewClient(&cfg.Search)
	var publisher activities.Publisher
	if cfg.Artifact.Enabled() {
		p, err := artifact.NewPublisher(cfg.Artifact, logger)
		if err != nil {
			log.Fatalf("Failed to create artifact publisher: %v", err)
		}
		publisher = p
	}

	// Create worker
	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})

	w.RegisterWorkflowWithOptions(workflows.SearchExportWorkflow, workflow.RegisterOptions{
		Name: workflows.SearchExportWorkflowName,
	})

	acts := activities.NewActivities(searcher, publisher, m)
	acts.BatchSize = cfg.ConsolidateBatch
	w.RegisterActivity(acts)

	log.Printf("Registered workflow %s and activities: CreateRunDirectory, SearchAndWritePage, ConsolidateOutputFiles, PublishArtifact (publication enabled=%t)",
		workflows.SearchExportWorkflowName, publisher != nil)

	// Run worker
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("Worker failed: %v", err)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	log.Printf("Serving metrics on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("Metrics server stopped: %v", err)
	}
}
