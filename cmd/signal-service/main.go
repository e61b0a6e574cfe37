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

	"golang-stock-pulse/internal/catalog"
	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/internal/indicator"
	"golang-stock-pulse/internal/scheduler/config"
	delivery "golang-stock-pulse/internal/scheduler/delivery/http"
	_ "golang-stock-pulse/internal/scheduler/docs"
	"golang-stock-pulse/internal/scheduler/repository"
	"golang-stock-pulse/internal/scheduler/service"
	"golang-stock-pulse/internal/scheduler/strategy"
	"golang-stock-pulse/internal/sentiment"
	stocksignal "golang-stock-pulse/internal/signal"
	"golang-stock-pulse/internal/tsstore"
	"golang-stock-pulse/pkg/logger"
	"golang-stock-pulse/pkg/metrics"
	"golang-stock-pulse/pkg/postgres"
	"golang-stock-pulse/pkg/redis"
	"golang-stock-pulse/pkg/telegram"
	"golang-stock-pulse/pkg/trace"
	"golang-stock-pulse/pkg/utils"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	swagger "github.com/swaggo/echo-swagger"
	"google.golang.org/genai"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the signal service",
	Run:   runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.New(cfg.Logger.Level, cfg.Logger.Encoding)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	appLogger.Info("Starting Signal Service", logger.Field("name", cfg.App.Name), logger.Field("version", cfg.App.Version))

	if err := trace.Init(cfg.Trace, cfg.App.Version); err != nil {
		appLogger.Fatal("Failed to initialize tracing", logger.ErrorField(err))
	}
	defer func() { _ = trace.Shutdown(context.Background()) }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(registry)

	// Initialize database
	db, err := postgres.NewDB(postgres.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		TimeZone:        cfg.Database.TimeZone,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		LogLevel:        cfg.Database.LogLevel,
	})
	if err != nil {
		appLogger.Fatal("Failed to initialize database", logger.ErrorField(err))
	}
	if sqlDB, err := db.DB.DB(); err == nil {
		defer sqlDB.Close()
	}

	// Time-series store, mirrored to Postgres when enabled
	tsRepos := repository.NewTimeSeriesRepositories(db.DB)
	var mirrors tsstore.Mirrors
	if cfg.Store.Mirror {
		mirrors = tsstore.Mirrors{
			Prices:      tsRepos.Prices,
			Technicals:  tsRepos.Technicals,
			News:        tsRepos.News,
			Sentiments:  tsRepos.Sentiments,
			Predictions: tsRepos.Predictions,
			Signals:     tsRepos.Signals,
		}
	}
	store, err := tsstore.New(tsstore.DefaultPolicies(), mirrors, tsstore.Options{Logger: appLogger, Metrics: recorder})
	if err != nil {
		appLogger.Fatal("Failed to initialize time-series store", logger.ErrorField(err))
	}

	stockCatalog := catalog.New(repository.NewStocksRepository(db.DB), utils.ParseDurationOr(cfg.Catalog.CacheTTL, 10*time.Minute), appLogger)
	if err := stockCatalog.Seed(ctx, cfg.Catalog.Tickers); err != nil {
		appLogger.Warn("Some tickers could not be registered", logger.ErrorField(err))
	}

	computer := indicator.NewComputer(appLogger)
	aggregator := sentiment.NewAggregator(cfg.Sentiment, nil, appLogger)

	if cfg.Store.Mirror {
		warmup := service.NewWarmupService(tsRepos, store, computer, aggregator, cfg.Sentiment.Window, appLogger)
		report, err := warmup.Warmup(ctx)
		if err != nil {
			appLogger.Fatal("Failed to warm up from the database", logger.ErrorField(err))
		}
		appLogger.Info("Warm-up finished",
			logger.IntField("indicator_tickers", report.IndicatorTickers),
			logger.IntField("sentiment_observed", report.SentimentObserved))
	}

	// Sentiment analyzers: Gemini first when configured, lexicon as the fallback
	var analyzers sentiment.Fallback
	if cfg.Gemini.APIKey != "" {
		genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.Gemini.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			appLogger.Fatal("Failed to initialize Gemini client", logger.ErrorField(err))
		}
		analyzers = append(analyzers, repository.NewGeminiAIRepository(cfg, appLogger, recorder, genaiClient))
	}
	analyzers = append(analyzers, sentiment.NewLexicon())

	composer := stocksignal.NewComposer(cfg.Signal, appLogger, recorder)
	screener := stocksignal.NewScreener(composer, stockCatalog, store, aggregator, nil, appLogger)

	// Redis backs the distributed job lock and the signal stream
	publisher := repository.NewNopSignalPublisher()
	var jobLock repository.JobLockRepository
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(redis.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			appLogger.Fatal("Failed to initialize Redis", logger.ErrorField(err))
		}
		defer redisClient.Close()
		publisher = repository.NewSignalPublisherRepository(redisClient.Client, cfg.Redis.StreamMaxLen)
		if cfg.Scheduler.DistributedLock {
			jobLock = repository.NewJobLockRepository(redisClient.Client)
		}
	} else if cfg.Scheduler.DistributedLock {
		appLogger.Warn("Distributed lock requested without Redis, running with the in-process guard only")
	}

	notifier := telegram.NewNopNotifier()
	if cfg.Telegram.BotToken != "" {
		notifier, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			appLogger.Fatal("Failed to initialize Telegram client", logger.ErrorField(err))
		}
	}

	strategies := []strategy.JobExecutionStrategy{
		strategy.NewPriceIngestionStrategy(cfg, appLogger, stockCatalog, repository.NewYahooFinanceRepository(cfg, appLogger, recorder), store, computer),
		strategy.NewNewsIngestionStrategy(cfg, appLogger, stockCatalog, repository.NewGoogleNewsRepository(cfg, appLogger, recorder), analyzers, store, aggregator),
		strategy.NewScreeningStrategy(appLogger, screener, store, publisher),
		strategy.NewDailyPredictionStrategy(appLogger, screener, store, notifier),
		strategy.NewStoreMaintenanceStrategy(appLogger, store),
	}

	var jobs []entity.Job
	for _, j := range cfg.Scheduler.Jobs {
		if !j.Enabled {
			appLogger.Info("Job disabled", logger.StringField("job_type", j.Type))
			continue
		}
		jobs = append(jobs, j.Entity())
	}

	historyRepo := repository.NewTaskExecutionHistoryRepository(db.DB)
	schedulerSvc, err := service.NewSchedulerService(jobs, strategies, historyRepo, appLogger, service.Options{
		Lock:     jobLock,
		LockTTL:  utils.ParseDurationOr(cfg.Scheduler.LockTTL, 30*time.Minute),
		Notifier: notifier,
		Metrics:  recorder,
	})
	if err != nil {
		appLogger.Fatal("Invalid job registry", logger.ErrorField(err))
	}
	historySvc := service.NewExecutionHistoryService(historyRepo, appLogger, cfg.Scheduler.HistoryLimit)

	go schedulerSvc.Start(ctx)

	// Initialize Echo server
	e := echo.New()
	e.HideBanner = true

	apiV1 := e.Group("/api/v1")
	jobsGroup := apiV1.Group("/jobs")
	delivery.NewJobHandler(schedulerSvc, appLogger).RegisterRoutes(jobsGroup)

	historyHandler := delivery.NewExecutionHistoryHandler(historySvc, appLogger)
	historyHandler.RegisterRoutes(apiV1.Group("/executions"))
	historyHandler.RegisterJobRoutes(jobsGroup)

	var gatherer prometheus.Gatherer
	if cfg.Metrics.Enabled {
		gatherer = registry
	}
	delivery.NewHealthHandler(gatherer).RegisterRoutes(e, cfg.Metrics.Path)

	e.GET("/swagger/*", swagger.WrapHandler)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		appLogger.Info("HTTP server starting", logger.Field("address", addr))
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			appLogger.Error("HTTP server failed to start", logger.ErrorField(err))
			stop()
		}
	}()

	<-ctx.Done()

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", logger.ErrorField(err))
	}

	appLogger.Info("Server exiting")
}

// @title Stock Pulse Signal API
// @version 1.0
// @description Job control and execution history of the signal service.
// @BasePath /api/v1
func main() {
	rootCmd := &cobra.Command{Use: "signal-service"}

	serveCmd.Flags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to the configuration file")

	rootCmd.AddCommand(serveCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing signal-service CLI: %s\n", err)
		os.Exit(1)
	}
}
