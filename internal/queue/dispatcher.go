package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Queue names.
const (
	QueueTransaction = "transaction"
	QueueReport      = "report"
)

// Operation names carried by jobs.
const (
	OpDeposit     = "deposit"
	OpWithdraw    = "withdraw"
	OpTransfer    = "transfer"
	OpDailyReport = "dailyReport"
)

// Job statuses.
const (
	JobCompleted = "COMPLETED"
	JobFailed    = "FAILED"
)

// Job is the envelope that travels through Redis. Handlers see only the
// payload; the dispatcher owns the bookkeeping fields.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Operation   string          `json:"operation"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status,omitempty"`
	Error       string          `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Attempts    int             `json:"attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

// HandlerFunc processes one job payload. The returned value is stored on
// the completed job record; a returned error fails the job.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// Dispatcher is a Redis-list backed job queue: Enqueue pushes a job and
// returns immediately, workers pop and run the registered handler.
// Delivery is at-least-once; handlers must tolerate re-execution after a
// retryable failure. Terminal job records land in capped completed/failed
// lists so outcomes stay queryable.
type Dispatcher struct {
	redis       *redis.Client
	workers     int
	maxAttempts int
	keepRecords int64
	isRetryable func(error) bool

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	wg sync.WaitGroup
}

// NewDispatcher wires a dispatcher explicitly; isRetryable decides which
// handler errors are re-enqueued (nil means none are).
func NewDispatcher(redisClient *redis.Client, workers, maxAttempts int, isRetryable func(error) bool) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Dispatcher{
		redis:       redisClient,
		workers:     workers,
		maxAttempts: maxAttempts,
		keepRecords: 1000,
		isRetryable: isRetryable,
		handlers:    make(map[string]HandlerFunc),
	}
}

// Register binds an operation name to its handler. Registration must
// finish before Start.
func (d *Dispatcher) Register(operation string, handler HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[operation] = handler
}

// Enqueue pushes a job onto the named queue and returns it without
// waiting for execution.
func (d *Dispatcher) Enqueue(ctx context.Context, queue, operation string, payload any) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	job := &Job{
		ID:         uuid.NewString(),
		Queue:      queue,
		Operation:  operation,
		Payload:    data,
		Attempts:   0,
		EnqueuedAt: time.Now().UTC(),
	}

	raw, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}

	if err := d.redis.LPush(ctx, queueKey(queue), raw).Err(); err != nil {
		return nil, fmt.Errorf("enqueue %s/%s: %w", queue, operation, err)
	}

	log.Printf("[QUEUE] Enqueued job %s (%s/%s)", job.ID, queue, operation)
	return job, nil
}

// Start launches the worker pool consuming the given queues. It returns
// immediately; cancel ctx and call Wait to drain.
func (d *Dispatcher) Start(ctx context.Context, queues ...string) {
	keys := make([]string, len(queues))
	for i, q := range queues {
		keys[i] = queueKey(q)
	}

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func(worker int) {
			defer d.wg.Done()
			d.consume(ctx, worker, keys)
		}(i)
	}
	log.Printf("[QUEUE] Started %d workers on queues %v", d.workers, queues)
}

// Wait blocks until all workers have exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// ListCompleted returns the most recent completed job records.
func (d *Dispatcher) ListCompleted(ctx context.Context, limit int64) ([]Job, error) {
	return d.listRecords(ctx, recordKey(JobCompleted), limit)
}

// ListFailed returns the most recent failed job records with the error
// message each one terminated with.
func (d *Dispatcher) ListFailed(ctx context.Context, limit int64) ([]Job, error) {
	return d.listRecords(ctx, recordKey(JobFailed), limit)
}

func (d *Dispatcher) consume(ctx context.Context, worker int, keys []string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := d.redis.BRPop(ctx, 5*time.Second, keys...).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			log.Printf("[QUEUE] Worker %d pop failed: %v", worker, err)
			time.Sleep(time.Second)
			continue
		}
		if len(res) != 2 {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			log.Printf("[QUEUE] Worker %d dropped malformed job: %v", worker, err)
			continue
		}

		d.process(ctx, &job)
	}
}

// process runs the handler and records the terminal outcome. Retryable
// failures below the attempt cap are re-enqueued instead.
func (d *Dispatcher) process(ctx context.Context, job *Job) {
	job.Attempts++

	d.mu.RLock()
	handler, ok := d.handlers[job.Operation]
	d.mu.RUnlock()
	if !ok {
		d.finish(ctx, job, nil, fmt.Errorf("no handler registered for operation %q", job.Operation))
		return
	}

	result, err := d.invoke(ctx, handler, job)
	if err != nil && d.isRetryable != nil && d.isRetryable(err) && job.Attempts < d.maxAttempts {
		log.Printf("[QUEUE] Job %s retrying (attempt %d/%d): %v", job.ID, job.Attempts, d.maxAttempts, err)
		if raw, merr := json.Marshal(job); merr == nil {
			if perr := d.redis.LPush(ctx, queueKey(job.Queue), raw).Err(); perr == nil {
				return
			}
		}
		// Could not requeue; fall through and record the failure.
	}

	d.finish(ctx, job, result, err)
}

// invoke shields the worker from handler panics; a panic fails the job
// like any other error.
func (d *Dispatcher) invoke(ctx context.Context, handler HandlerFunc, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, job.Payload)
}

func (d *Dispatcher) finish(ctx context.Context, job *Job, result any, err error) {
	now := time.Now().UTC()
	job.ProcessedAt = &now

	if err != nil {
		job.Status = JobFailed
		job.Error = err.Error()
		log.Printf("[QUEUE] Job %s failed (%s/%s): %v", job.ID, job.Queue, job.Operation, err)
	} else {
		job.Status = JobCompleted
		if result != nil {
			if raw, merr := json.Marshal(result); merr == nil {
				job.Result = raw
			}
		}
		log.Printf("[QUEUE] Job %s completed (%s/%s)", job.ID, job.Queue, job.Operation)
	}

	raw, merr := json.Marshal(job)
	if merr != nil {
		log.Printf("[QUEUE] Failed to marshal job record %s: %v", job.ID, merr)
		return
	}

	key := recordKey(job.Status)
	if rerr := d.redis.LPush(ctx, key, raw).Err(); rerr != nil {
		log.Printf("[QUEUE] Failed to record job %s: %v", job.ID, rerr)
		return
	}
	d.redis.LTrim(ctx, key, 0, d.keepRecords-1)
}

func (d *Dispatcher) listRecords(ctx context.Context, key string, limit int64) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	raw, err := d.redis.LRange(ctx, key, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]Job, 0, len(raw))
	for _, item := range raw {
		var job Job
		if err := json.Unmarshal([]byte(item), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func queueKey(queue string) string {
	return "queue:" + queue
}

func recordKey(status string) string {
	if status == JobFailed {
		return "jobs:failed"
	}
	return "jobs:completed"
}
