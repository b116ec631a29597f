package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"certverify/internal/metrics"
)

// ErrFull is returned by InMemory.Publish when no consumer keeps up.
var ErrFull = errors.New("queue: full")

// TypeCompose asks a worker to compose and upload a certificate document.
const TypeCompose = "compose"

const defaultKey = "certverify:compose"

// Message represents work to be processed.
type Message struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// ComposeJob is the body of a TypeCompose message.
type ComposeJob struct {
	CertificateID string `json:"certificate_id"`
	SourceURL     string `json:"source_url"`
	IsImage       bool   `json:"is_image"`
}

// NewComposeMessage wraps job in a message.
func NewComposeMessage(job ComposeJob) (Message, error) {
	if job.CertificateID == "" || job.SourceURL == "" {
		return Message{}, errors.New("queue: compose job needs certificate_id and source_url")
	}
	body, err := json.Marshal(job)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: TypeCompose, Body: body}, nil
}

// ComposeJob decodes the body of a TypeCompose message.
func (m Message) ComposeJob() (ComposeJob, error) {
	if m.Type != TypeCompose {
		return ComposeJob{}, fmt.Errorf("queue: message type %q is not %q", m.Type, TypeCompose)
	}
	var job ComposeJob
	if err := json.Unmarshal(m.Body, &job); err != nil {
		return ComposeJob{}, fmt.Errorf("queue: decoding compose job: %w", err)
	}
	return job, nil
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// InMemory is a minimal channel-backed queue for dev/testing.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

// Publish enqueues a message. It fails with ErrFull instead of waiting for room.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrFull
	}
}

// Consume returns a channel for workers.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue implements a Redis list-backed queue with JSON-encoded messages.
type RedisQueue struct {
	client *redis.Client
	key    string
	wait   time.Duration
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = defaultKey
	}
	return &RedisQueue{client: client, key: key, wait: 5 * time.Second}
}

// Publish enqueues a message.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: encoding message: %w", err)
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

// Consume streams messages using BRPOP. Malformed entries are counted and dropped.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, q.wait, q.key).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, redis.Nil) {
					time.Sleep(200 * time.Millisecond)
				}
				continue
			}
			if len(res) != 2 {
				continue
			}
			var msg Message
			if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
				metrics.QueueMessagesTotal.WithLabelValues("unknown", "malformed").Inc()
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
