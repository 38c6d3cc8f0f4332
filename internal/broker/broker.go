package broker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue names. The lookup queue is load-balanced across workers; the results
// queue fans in to the coordinator.
const (
	LookupQueue  = "md5:lookup"
	ResultsQueue = "md5:results"
)

// Broker is a durable queue layer on top of Redis lists. Publishing is an
// LPUSH; consuming moves the message into a per-queue processing list
// (BLMOVE) so an in-flight message survives a consumer crash. A successful
// handler acks by removing the message from the processing list; a failed
// handler moves it back onto the queue for redelivery. Delivery is therefore
// at-least-once and handlers must be idempotent.
type Broker struct {
	client      *redis.Client
	pollTimeout time.Duration
}

// New connects to Redis and verifies the connection
func New(ctx context.Context, addr, password string, db int) (*Broker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Broker{client: client, pollTimeout: 5 * time.Second}, nil
}

// Close closes the underlying Redis client
func (b *Broker) Close() error {
	return b.client.Close()
}

func processingKey(queue string) string {
	return queue + ":processing"
}

// Publish appends a message to the tail of the queue
func (b *Broker) Publish(ctx context.Context, queue string, payload []byte) error {
	if err := b.client.LPush(ctx, queue, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	return nil
}

// Recover moves any messages left on the processing list back onto the
// queue. Called once at process start, before consumers run, to requeue
// units orphaned by a crash.
func (b *Broker) Recover(ctx context.Context, queue string) (int, error) {
	requeued := 0
	for {
		err := b.client.LMove(ctx, processingKey(queue), queue, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return requeued, nil
		}
		if err != nil {
			return requeued, fmt.Errorf("failed to recover %s: %w", queue, err)
		}
		requeued++
	}
}

// Consume reads messages from the queue one at a time and invokes the
// handler. It returns only when the context is cancelled. A nil handler
// error acks the message; any other error moves it back for redelivery.
func (b *Broker) Consume(ctx context.Context, queue string, handler func(ctx context.Context, payload []byte) error) error {
	processing := processingKey(queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		payload, err := b.client.BLMove(ctx, queue, processing, "RIGHT", "LEFT", b.pollTimeout).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			log.Printf("queue=%s: failed to pop message: %v", queue, err)
			time.Sleep(time.Second)
			continue
		}

		if err := handler(ctx, []byte(payload)); err != nil {
			log.Printf("queue=%s: handler failed, requeueing message: %v", queue, err)
			// Negative ack: put this message back for redelivery, then drop
			// it from the processing list. LRem by value keeps concurrent
			// consumers sharing the processing list out of each other's way.
			if pushErr := b.client.RPush(ctx, queue, payload).Err(); pushErr != nil {
				log.Printf("queue=%s: failed to requeue message: %v", queue, pushErr)
				continue
			}
			if remErr := b.client.LRem(ctx, processing, 1, payload).Err(); remErr != nil {
				log.Printf("queue=%s: failed to clear requeued message: %v", queue, remErr)
			}
			continue
		}

		// Ack: drop the message from the processing list.
		if err := b.client.LRem(ctx, processing, 1, payload).Err(); err != nil {
			log.Printf("queue=%s: failed to ack message: %v", queue, err)
		}
	}
}
