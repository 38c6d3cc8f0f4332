package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"md5cracker/internal/broker"
	"md5cracker/internal/config"
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

	if requeued, err := queues.Recover(ctx, broker.LookupQueue); err != nil {
		log.Fatalf("failed to recover lookup queue: %v", err)
	} else if requeued > 0 {
		log.Printf("requeued %d orphaned work units", requeued)
	}

	metricsInstance := metrics.NewMetrics()
	lookupService := service.NewLookupService(repo, queues, metricsInstance)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("shutting down worker...")
		cancel()
	}()

	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerConcurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			err := queues.Consume(ctx, broker.LookupQueue, func(ctx context.Context, payload []byte) error {
				batch, err := broker.DecodeHashBatch(payload)
				if err != nil {
					// Poison message: drop it rather than redeliver forever.
					log.Printf("consumer=%d: dropping undecodable work unit: %v", id, err)
					return nil
				}
				return lookupService.ProcessBatch(ctx, batch)
			})
			if err != nil && err != context.Canceled {
				log.Printf("consumer=%d: stopped with error: %v", id, err)
			}
		}(i)
	}

	log.Printf("worker started, consumers=%d", cfg.WorkerConcurrency)
	wg.Wait()
	log.Println("worker stopped")
}
