package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gorilla/mux"

	"md5cracker/internal/artifact"
	"md5cracker/internal/broker"
	"md5cracker/internal/config"
	"md5cracker/internal/events"
	"md5cracker/internal/handler"
	"md5cracker/internal/metrics"
	"md5cracker/internal/repository"
	"md5cracker/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize repository
	repo, err := repository.NewSQLiteRepository(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to initialize repository: %v", err)
	}
	defer repo.Close()

	// Initialize broker
	queues, err := broker.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("failed to connect to broker: %v", err)
	}
	defer queues.Close()

	if requeued, err := queues.Recover(ctx, broker.ResultsQueue); err != nil {
		log.Fatalf("failed to recover results queue: %v", err)
	} else if requeued > 0 {
		log.Printf("requeued %d orphaned result batches", requeued)
	}

	// Optional artifact archival
	var archiver service.Archiver
	if cfg.Archive.Endpoint != "" {
		a, err := artifact.New(ctx, cfg.Archive.Endpoint, cfg.Archive.AccessKey, cfg.Archive.SecretKey, cfg.Archive.Bucket, cfg.Archive.UseSSL)
		if err != nil {
			log.Fatalf("failed to initialize archiver: %v", err)
		}
		archiver = a
		log.Printf("artifact archival enabled, bucket=%s", cfg.Archive.Bucket)
	}

	metricsInstance := metrics.NewMetrics()
	hub := events.NewHub()
	hub.SetDropCallback(metricsInstance.IncrementEventsDropped)

	rateLimiter := service.NewRateLimiter(cfg.UploadsPerMinute)
	jobService := service.NewJobService(repo, queues, hub, metricsInstance, archiver, cfg.BatchSize)
	jobHandler := handler.NewJobHandler(jobService, hub, metricsInstance, rateLimiter)

	// Results aggregation consumer pool
	var wg sync.WaitGroup
	for i := 0; i < cfg.AggregatorConcurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			err := queues.Consume(ctx, broker.ResultsQueue, func(ctx context.Context, payload []byte) error {
				rb, err := broker.DecodeResultBatch(payload)
				if err != nil {
					// Poison message: drop it rather than redeliver forever.
					log.Printf("consumer=%d: dropping undecodable result batch: %v", id, err)
					return nil
				}
				return jobService.HandleResultBatch(ctx, rb)
			})
			if err != nil && err != context.Canceled {
				log.Printf("consumer=%d: stopped with error: %v", id, err)
			}
		}(i)
	}
	log.Printf("aggregator started, consumers=%d", cfg.AggregatorConcurrency)

	// CORS middleware for the browser upload client
	router := mux.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})
	jobHandler.Register(router)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("coordinator starting on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-sigChan
	log.Println("shutting down coordinator...")
	cancel()
	if err := server.Close(); err != nil {
		log.Printf("error closing server: %v", err)
	}
	wg.Wait()
	log.Println("coordinator stopped")
}
