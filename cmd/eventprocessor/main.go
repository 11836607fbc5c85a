// Command eventprocessor is the AWS Health Organizations event
// pipeline: it wires the health-feed adapter, LLM analyzer, per-account
// status resolver, record store, counter materializer, fan-out
// dispatcher, work-unit worker, change-stream reactor, and scheduler
// into one long-running service, fronted by a small HTTP surface for
// health checks, metrics, and manual trigger delivery.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/health"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/cloudops-platform/orgevents/infrastructure/awsadapters"
	"github.com/cloudops-platform/orgevents/infrastructure/resilience"
	"github.com/cloudops-platform/orgevents/internal/config"
	"github.com/cloudops-platform/orgevents/internal/router"
	"github.com/cloudops-platform/orgevents/pkg/accountdirectory"
	"github.com/cloudops-platform/orgevents/pkg/analyzer"
	"github.com/cloudops-platform/orgevents/pkg/changestream"
	"github.com/cloudops-platform/orgevents/pkg/counters"
	"github.com/cloudops-platform/orgevents/pkg/dispatch"
	"github.com/cloudops-platform/orgevents/pkg/healthfeed"
	"github.com/cloudops-platform/orgevents/pkg/logger"
	"github.com/cloudops-platform/orgevents/pkg/queue"
	"github.com/cloudops-platform/orgevents/pkg/statusresolver"
	"github.com/cloudops-platform/orgevents/pkg/store"
	"github.com/cloudops-platform/orgevents/pkg/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("eventprocessor: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	appLog := logger.New(logger.LoggingConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	healthfeed.LoadSimplifiedDescriptionRulesOrDefault()
	analyzer.LoadFallbackAnalysisRulesOrDefault()

	probes := newProbeManager(30 * time.Second)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(rootCtx, awsconfig.WithRegion(cfg.Store.Region))
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	healthClient := health.NewFromConfig(awsCfg)
	orgClient := organizations.NewFromConfig(awsCfg)
	bedrockClient := bedrockruntime.NewFromConfig(awsCfg)
	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	sqsClient := sqs.NewFromConfig(awsCfg)

	feed := healthfeed.New(healthClient, appLog)

	directory, err := accountdirectory.New(accountdirectory.Config{
		Client:    awsadapters.NewOrganizations(orgClient),
		TTL:       cfg.AccountDirectory.TTL,
		RedisAddr: cfg.AccountDirectory.RedisAddr,
		Logger:    appLog,
	})
	if err != nil {
		return fmt.Errorf("build account directory: %w", err)
	}

	backoff := resilience.DefaultBackoffConfig()
	backoff.BaseDelay = cfg.Analyzer.BaseDelay
	backoff.MaxDelay = cfg.Analyzer.MaxDelay

	an := analyzer.New(bedrockClient, analyzer.Config{
		ModelID:        cfg.Analyzer.ModelID,
		MaxAttempts:    cfg.Analyzer.MaxRetries,
		Temperature:    0.2,
		TopP:           0.9,
		MaxTokens:      1024,
		Backoff:        backoff,
		Breaker:        resilience.DefaultConfig(),
		WorkerIdentity: workerIdentity(),
	}, appLog)

	statusResolver := statusresolver.New(feed, appLog)

	retentionWindow := time.Duration(cfg.Store.EventsTableTTLDays) * 24 * time.Hour
	recordStore := store.New(dynamoClient, cfg.Store.EventsTable, retentionWindow, appLog)
	counterTable := store.NewCounterTable(dynamoClient, cfg.Store.CountersTable, appLog)
	materializer := counters.New(recordStore, counterTable, appLog)

	q := queue.New(sqsClient, cfg.Queue.URL, appLog)

	w := worker.New(feed, statusResolver, an, directory, recordStore, appLog)
	d := dispatch.New(feed, an, recordStore, q, w, cfg.Pipeline.ExcludedServicesList(), appLog)
	reactor := changestream.New(materializer, recordStore, appLog)

	r := router.New(feed, d, w, reactor, materializer, cfg.Pipeline.EventCategoriesList(), appLog)

	if err := materializer.Bootstrap(rootCtx); err != nil {
		return fmt.Errorf("bootstrap counters: %w", err)
	}

	sched, err := router.NewScheduler(r, cfg.Routing.SyncSchedule, cfg.Routing.RecomputeSchedule, cfg.Pipeline.AnalysisWindowDays, appLog)
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}
	sched.Start(rootCtx)
	defer sched.Stop()

	go pollQueue(rootCtx, q, w, appLog)

	engine := newEngine(r, probes, cfg.Pipeline.AnalysisWindowDays, appLog)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: engine}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	probes.setReady(true)
	appLog.WithField("addr", cfg.HTTPAddr).Info("event processor listening")

	select {
	case <-rootCtx.Done():
		appLog.Info("shutdown signal received")
	case err := <-errCh:
		probes.setLive(false)
		return fmt.Errorf("http server: %w", err)
	}

	probes.setReady(false)
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// workerIdentity names this process instance for the analyzer's
// per-caller retry stagger, falling back to the pod/host name.
func workerIdentity() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "eventprocessor"
}
