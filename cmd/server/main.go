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

	"stock-service/config"
	"stock-service/internal/api"
	"stock-service/internal/broker"
	"stock-service/internal/redisclient"
	"stock-service/internal/service"
	"stock-service/internal/store"
	"stock-service/internal/util"
	"stock-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting stock service")

	tp, err := util.InitTracer("stock-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	stockProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicStock)
	defer stockProducer.Close()
	orderProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer orderProducer.Close()
	log.Println("Kafka producers initialized")

	eventPublisher := broker.NewEventPublisher(stockProducer, orderProducer)

	persister := worker.NewPersister(db, redisClient,
		cfg.Business.PersisterWorkers, cfg.Business.PersisterQueueSize)

	reserveTTL := time.Duration(cfg.Business.ReserveTTLSeconds) * time.Second
	lockWait := time.Duration(cfg.Business.LockWaitSeconds) * time.Second

	reservationService := service.NewReservationService(
		redisClient, redisClient, db, persister, eventPublisher, reserveTTL, lockWait)
	flashSaleService := service.NewFlashSaleService(
		redisClient, redisClient, db, reservationService, persister, eventPublisher, reserveTTL, lockWait)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if seeded, err := reservationService.WarmUpCache(bootCtx); err != nil {
		log.Printf("Boot warm-up failed: %v", err)
	} else {
		log.Printf("Boot warm-up seeded %d counters", seeded)
	}
	if err := flashSaleService.PreloadUpcomingSessions(bootCtx,
		time.Duration(cfg.Business.WarmupLookaheadMinutes)*time.Minute); err != nil {
		log.Printf("Boot flash-sale preload failed: %v", err)
	}
	bootCancel()

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	persister.Start(workerCtx)

	orderConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	stockWorker := worker.NewStockWorker(orderConsumer, reservationService, flashSaleService, eventPublisher)
	go func() {
		if err := stockWorker.Start(workerCtx); err != nil {
			log.Printf("Stock worker error: %v", err)
		}
	}()

	reconciler := worker.NewReconciler(redisClient, reservationService,
		time.Duration(cfg.Business.ReconcileIntervalSeconds)*time.Second)
	go reconciler.Start(workerCtx)

	scheduler := worker.NewSessionScheduler(flashSaleService,
		time.Duration(cfg.Business.SessionSweepSeconds)*time.Second,
		time.Duration(cfg.Business.WarmupLookaheadMinutes)*time.Minute)
	go scheduler.Start(workerCtx)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(reservationService, flashSaleService)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	stockWorker.Stop()
	persister.Stop()

	log.Println("Server exited")
}
