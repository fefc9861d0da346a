// Package redisq implements the Redis list queue client and the blocking
// dequeue loop for inbound OCR jobs.
package redisq

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/jarvis-ocr-service/internal/domain"
)

// rqProcessFunc is the import path the recipes service's RQ workers expect
// completion jobs to invoke.
const rqProcessFunc = "jarvis_recipes.app.services.queue_worker.process_job"

// rqJobTimeout is the RQ job timeout in seconds for dispatched completions.
const rqJobTimeout = 600

// Client publishes and pops messages on named Redis list queues.
type Client struct {
	rdb *redis.Client
}

// New wraps an existing go-redis client.
func New(rdb *redis.Client) *Client { return &Client{rdb: rdb} }

// NewFromURL connects from a redis:// URL.
func NewFromURL(url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("op=queue.parse_url: %w", err)
	}
	return &Client{rdb: redis.NewClient(opts)}, nil
}

// Redis exposes the underlying client for collaborators sharing the
// connection (state store, health checks).
func (c *Client) Redis() *redis.Client { return c.rdb }

// Enqueue JSON-encodes message onto queue. toBack selects RPUSH over the
// default LPUSH. Completion envelopes bound for the recipes queue are
// dispatched with RQ job framing instead of a raw list push, because the
// recipes workers only consume RQ jobs.
func (c *Client) Enqueue(ctx domain.Context, queue string, message any, toBack bool) error {
	tracer := otel.Tracer("queue.redis")
	ctx, span := tracer.Start(ctx, "queue.Enqueue")
	defer span.End()

	if env, ok := message.(domain.CompletionEnvelope); ok &&
		queue == domain.RecipesDispatchQueue && env.JobType == domain.JobTypeCompleted {
		return c.enqueueRQ(ctx, queue, env)
	}

	b, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("op=queue.marshal: %w", err)
	}
	if toBack {
		if err := c.rdb.RPush(ctx, queue, b).Err(); err != nil {
			return fmt.Errorf("op=queue.rpush queue=%s: %w", queue, err)
		}
		return nil
	}
	if err := c.rdb.LPush(ctx, queue, b).Err(); err != nil {
		return fmt.Errorf("op=queue.lpush queue=%s: %w", queue, err)
	}
	return nil
}

// enqueueRQ frames one completion envelope as an RQ job: a job hash under
// rq:job:<id> plus the job id pushed onto rq:queue:<name>. The envelope JSON
// is the single argument to the worker function.
func (c *Client) enqueueRQ(ctx domain.Context, queue string, env domain.CompletionEnvelope) error {
	envJSON, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("op=queue.rq_marshal: %w", err)
	}
	args, err := json.Marshal([]string{string(envJSON)})
	if err != nil {
		return fmt.Errorf("op=queue.rq_args: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	jobKey := "rq:job:" + env.JobID
	queueKey := "rq:queue:" + queue

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey, map[string]any{
		"func_name":   rqProcessFunc,
		"args":        string(args),
		"origin":      queue,
		"status":      "queued",
		"created_at":  now,
		"enqueued_at": now,
		"timeout":     rqJobTimeout,
	})
	pipe.RPush(ctx, queueKey, env.JobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=queue.rq_enqueue queue=%s: %w", queue, err)
	}
	return nil
}

// Dequeue blocks up to timeout for one raw message from queue. A nil slice
// with nil error means the timeout elapsed with no message.
func (c *Client) Dequeue(ctx domain.Context, queue string, timeout time.Duration) ([]byte, error) {
	res, err := c.rdb.BRPop(ctx, timeout, queue).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("op=queue.brpop queue=%s: %w", queue, err)
	}
	// BRPop returns [queue, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("op=queue.brpop queue=%s: unexpected reply shape", queue)
	}
	return []byte(res[1]), nil
}

// Status reports connectivity and the current length of queue.
func (c *Client) Status(ctx domain.Context, queue string) (Status, error) {
	n, err := c.rdb.LLen(ctx, queue).Result()
	if err != nil {
		return Status{QueueName: queue}, fmt.Errorf("op=queue.llen queue=%s: %w", queue, err)
	}
	return Status{RedisConnected: true, QueueName: queue, QueueLength: n}, nil
}

// Status is the queue introspection shape surfaced over HTTP.
type Status struct {
	RedisConnected bool   `json:"redis_connected"`
	QueueName      string `json:"queue_name"`
	QueueLength    int64  `json:"queue_length"`
}
