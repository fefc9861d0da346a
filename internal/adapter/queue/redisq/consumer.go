package redisq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/jarvis-ocr-service/internal/adapter/observability"
	"github.com/fairyhunter13/jarvis-ocr-service/internal/domain"
	obsctx "github.com/fairyhunter13/jarvis-ocr-service/internal/observability"
)

// popTimeout is the BRPOP blocking window; short enough that shutdown is
// responsive.
const popTimeout = 5 * time.Second

// Processor consumes one decoded inbound envelope.
type Processor interface {
	ProcessJob(ctx domain.Context, env domain.JobEnvelope) error
}

// Consumer runs the blocking dequeue loop against the inbound job queue and
// hands envelopes to a pool of processing workers.
type Consumer struct {
	client  *Client
	queue   string
	proc    Processor
	workers int
}

// NewConsumer builds a consumer. workers < 1 is treated as 1.
func NewConsumer(client *Client, queue string, proc Processor, workers int) *Consumer {
	if workers < 1 {
		workers = 1
	}
	return &Consumer{client: client, queue: queue, proc: proc, workers: workers}
}

// Start blocks until ctx is cancelled. Transient Redis failures back off
// exponentially; a successful pop resets the backoff.
func (c *Consumer) Start(ctx context.Context) error {
	lg := obsctx.LoggerFromContext(ctx).With("queue", c.queue, "workers", c.workers)
	lg.Info("queue consumer starting")

	jobs := make(chan domain.JobEnvelope)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for env := range jobs {
				wctx := obsctx.ContextWithLogger(ctx, lg.With("worker", id))
				if err := c.proc.ProcessJob(wctx, env); err != nil {
					lg.Error("job processing failed", "job_id", env.JobID, "error", err)
				}
			}
		}(i)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			lg.Info("queue consumer stopped")
			return ctx.Err()
		default:
		}

		raw, err := c.client.Dequeue(ctx, c.queue, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			wait := bo.NextBackOff()
			lg.Warn("dequeue failed, backing off", "error", err, "wait", wait.String())
			select {
			case <-time.After(wait):
			case <-ctx.Done():
			}
			continue
		}
		bo.Reset()
		if raw == nil {
			continue
		}

		observability.JobsConsumedTotal.Inc()
		var env domain.JobEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			// Undecodable payloads carry no reply_to we can trust; drop.
			observability.JobsDroppedTotal.WithLabelValues("undecodable").Inc()
			lg.Warn("dropping undecodable message", "error", err)
			continue
		}

		select {
		case jobs <- env:
		case <-ctx.Done():
		}
	}
}
