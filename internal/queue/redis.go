package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cliptune/cliptune-server/internal/pipeline"
)

const (
	redisStream = "cliptune:jobs"
	redisGroup  = "cliptune-workers"

	// readBlock bounds how long a consumer read blocks so shutdown is
	// never stuck behind an idle stream.
	readBlock = 5 * time.Second
)

// RedisQueue is a Redis Streams backed queue. Jobs published here survive
// a server restart: spooled uploads stay on disk and their queue entries
// stay in the stream until a consumer acknowledges them.
type RedisQueue struct {
	client   *redis.Client
	logger   *slog.Logger
	consumer string
	maxLen   int64

	out       chan pipeline.Job
	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	wg        sync.WaitGroup
}

// NewRedisQueue connects to Redis at addr and prepares the job stream and
// consumer group. size bounds how many pending jobs Publish accepts before
// reporting ErrFull.
func NewRedisQueue(ctx context.Context, addr string, size int, logger *slog.Logger) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	err := client.XGroupCreateMkStream(ctx, redisStream, redisGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "cliptune"
	}

	qctx, cancel := context.WithCancel(context.Background())
	return &RedisQueue{
		client:   client,
		logger:   logger,
		consumer: fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		maxLen:   int64(size),
		out:      make(chan pipeline.Job),
		ctx:      qctx,
		cancel:   cancel,
	}, nil
}

// Publish appends the job to the stream. The stream length check is a
// best-effort bound; acknowledged entries are deleted so length reflects
// work still pending.
func (q *RedisQueue) Publish(ctx context.Context, job pipeline.Job) error {
	if q.ctx.Err() != nil {
		return ErrClosed
	}

	n, err := q.client.XLen(ctx, redisStream).Result()
	if err != nil {
		return fmt.Errorf("queue length: %w", err)
	}
	if n >= q.maxLen {
		return ErrFull
	}

	payload, err := encodeJob(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: redisStream,
		Values: map[string]any{"job": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Jobs starts the consumer loop on first call and returns the channel it
// delivers to.
func (q *RedisQueue) Jobs() <-chan pipeline.Job {
	q.startOnce.Do(func() {
		q.wg.Add(1)
		go q.consume()
	})
	return q.out
}

// Close stops the consumer loop and disconnects from Redis. Unacknowledged
// stream entries remain for the next run to recover.
func (q *RedisQueue) Close() error {
	q.cancel()
	q.wg.Wait()
	// If the consumer loop never ran, the channel is still open.
	q.startOnce.Do(func() { close(q.out) })
	return q.client.Close()
}

func (q *RedisQueue) consume() {
	defer q.wg.Done()
	defer close(q.out)

	// First drain entries this consumer read but never acknowledged in a
	// previous run, then switch to new messages.
	q.readLoop("0", true)
	q.readLoop(">", false)
}

// readLoop reads stream entries starting at cursor and hands them to
// workers. With drainOnly set it stops at the first empty read instead of
// blocking for new messages.
func (q *RedisQueue) readLoop(cursor string, drainOnly bool) {
	for {
		if q.ctx.Err() != nil {
			return
		}

		args := &redis.XReadGroupArgs{
			Group:    redisGroup,
			Consumer: q.consumer,
			Streams:  []string{redisStream, cursor},
			Count:    1,
			// Negative means no BLOCK argument; replaying the pending list
			// never blocks anyway.
			Block: -1,
		}
		if !drainOnly {
			args.Block = readBlock
		}

		streams, err := q.client.XReadGroup(q.ctx, args).Result()
		if err == redis.Nil {
			if drainOnly {
				return
			}
			continue
		}
		if err != nil {
			if q.ctx.Err() != nil {
				return
			}
			q.logger.Error("queue read failed", "error", err)
			select {
			case <-time.After(time.Second):
			case <-q.ctx.Done():
				return
			}
			continue
		}

		read := 0
		for _, stream := range streams {
			read += len(stream.Messages)
			for _, msg := range stream.Messages {
				if !q.deliver(msg) && q.ctx.Err() != nil {
					return
				}
			}
		}
		if drainOnly && read == 0 {
			return
		}
	}
}

// deliver decodes one stream entry, hands it to a worker, and removes it
// from the stream. Undecodable entries are acknowledged and dropped so a
// poison message cannot wedge the consumer.
func (q *RedisQueue) deliver(msg redis.XMessage) bool {
	raw, ok := msg.Values["job"].(string)
	if !ok {
		q.logger.Error("queue entry missing job payload", "entry_id", msg.ID)
		q.ack(msg.ID)
		return false
	}

	job, err := decodeJob(raw)
	if err != nil {
		q.logger.Error("queue entry undecodable", "entry_id", msg.ID, "error", err)
		q.ack(msg.ID)
		return false
	}

	select {
	case q.out <- job:
		q.ack(msg.ID)
		return true
	case <-q.ctx.Done():
		// Leave the entry unacknowledged for the next run.
		return false
	}
}

func (q *RedisQueue) ack(entryID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.client.XAck(ctx, redisStream, redisGroup, entryID).Err(); err != nil {
		q.logger.Error("queue ack failed", "entry_id", entryID, "error", err)
		return
	}
	if err := q.client.XDel(ctx, redisStream, entryID).Err(); err != nil {
		q.logger.Error("queue delete failed", "entry_id", entryID, "error", err)
	}
}

func encodeJob(job pipeline.Job) (string, error) {
	b, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJob(raw string) (pipeline.Job, error) {
	var job pipeline.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return pipeline.Job{}, err
	}
	if job.ID == "" {
		return pipeline.Job{}, fmt.Errorf("job payload missing id")
	}
	return job, nil
}
