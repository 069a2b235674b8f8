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

	"ticket-service/config"
	"ticket-service/internal/api"
	"ticket-service/internal/broker"
	"ticket-service/internal/ocr"
	"ticket-service/internal/redisclient"
	"ticket-service/internal/service"
	"ticket-service/internal/store"
	"ticket-service/internal/store/memory"
	"ticket-service/internal/util"
	"ticket-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting ticket service")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	loc, err := cfg.Ticket.Location()
	if err != nil {
		log.Fatalf("Invalid ticket timezone %q: %v", cfg.Ticket.Timezone, err)
	}

	var repo store.Repository
	switch cfg.Database.Driver {
	case "memory":
		repo = memory.New()
		logger.Warn("Using in-memory store, data is lost on restart")
	default:
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if cfg.Database.Migrate {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := db.Migrate(ctx)
			cancel()
			if err != nil {
				log.Fatalf("Failed to apply schema: %v", err)
			}
			logger.Info("Database schema applied")
		}
		repo = db
		logger.Info("Database connected")
	}

	// Optional collaborators stay nil interfaces when their backend is missing
	var (
		cache     service.ExtractionCache
		uploads   service.UploadStager
		publisher service.EventPublisher
		ingested  service.IngestedPublisher
	)

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, extraction cache and submission disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
		cache = redisClient
		uploads = redisClient
		logger.Info("Redis connected")
	}

	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicTicket)
		defer producer.Close()
		eventPublisher := broker.NewEventPublisher(producer)
		publisher = eventPublisher
		ingested = eventPublisher
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	ocrClient := ocr.NewClient(ocr.Config{
		BaseURL: cfg.Intelligence.URL,
		APIKey:  cfg.Intelligence.APIKey,
		Timeout: cfg.Intelligence.Timeout,
		Retry: ocr.RetryPolicy{
			MaxRetries: cfg.Intelligence.MaxRetries,
			BaseDelay:  cfg.Intelligence.BaseBackoff,
			MaxDelay:   cfg.Intelligence.MaxBackoff,
		},
		RateLimit: cfg.Intelligence.RateLimitRPS,
	})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ocrClient.Health(ctx); err != nil {
			logger.Warn("Extraction service not reachable", zap.String("url", cfg.Intelligence.URL), zap.Error(err))
		}
	}()

	ingestor := service.NewIngestor(repo, ingested, loc)
	ticketService := service.NewTicketService(repo, ingestor, ocrClient, cache, uploads, publisher, service.Options{
		CacheTTL:   cfg.Ticket.CacheTTL,
		StagingTTL: cfg.Ticket.StagingTTL,
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var ingestionWorker *worker.IngestionWorker
	if cfg.Kafka.Enabled && uploads != nil {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicTicket, cfg.Kafka.ConsumerGroup)
		ingestionWorker = worker.NewIngestionWorker(consumer, ticketService)
		go func() {
			if err := ingestionWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
				logger.Error("Ingestion worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(ticketService, repo)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if ingestionWorker != nil {
		if err := ingestionWorker.Stop(); err != nil {
			logger.Warn("Failed to stop ingestion worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
