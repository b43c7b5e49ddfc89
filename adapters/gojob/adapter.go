// Package gojob schedules the recurring maintenance work (token
// refresh, backup sync, health probes, outbox dispatch) through go-job
// queues and workers.
package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"

	"github.com/goliatone/go-hmrc/backup"
	"github.com/goliatone/go-hmrc/core"
	"github.com/goliatone/go-hmrc/health"
)

const (
	JobIDTokenRefresh   = "hmrc.token.refresh"
	JobIDBackupSync     = "hmrc.backup.sync"
	JobIDHealthCheck    = "hmrc.health.check"
	JobIDOutboxDispatch = "hmrc.outbox.dispatch"
)

// ErrUnknownJob reports a dequeued message with no registered handler.
var ErrUnknownJob = errors.New("gojob: unknown job id")

// RetryPolicy bounds queue retries so a poisoned message cannot spin
// forever.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// Normalize enforces the retry bounds for a nack at the given attempt.
func (p RetryPolicy) Normalize(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// HandlerFunc processes one dequeued job.
type HandlerFunc func(ctx context.Context, params map[string]any) error

// Runner routes dequeued messages to registered handlers, acking on
// success and nacking through the retry policy on failure.
type Runner struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	policy   RetryPolicy
	logger   job.Logger
}

func NewRunner(policy RetryPolicy, logger job.Logger) *Runner {
	return &Runner{
		handlers: make(map[string]HandlerFunc),
		policy:   policy,
		logger:   logger,
	}
}

func (r *Runner) Register(jobID string, handler HandlerFunc) error {
	if r == nil {
		return fmt.Errorf("gojob: runner is not configured")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("gojob: job id is required")
	}
	if handler == nil {
		return fmt.Errorf("gojob: handler is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[jobID]; exists {
		return fmt.Errorf("gojob: handler for %s already registered", jobID)
	}
	r.handlers[jobID] = handler
	return nil
}

func (r *Runner) handler(jobID string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[jobID]
	return handler, ok
}

// Handle runs one delivery end to end. attempt is the delivery count
// for this message, starting at 1.
func (r *Runner) Handle(ctx context.Context, delivery queue.Delivery, attempt int) error {
	if r == nil {
		return fmt.Errorf("gojob: runner is not configured")
	}
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	msg := delivery.Message()
	if msg == nil {
		return delivery.Nack(ctx, r.policy.Normalize(queue.NackOptions{
			DeadLetter: true,
			Reason:     "empty execution message",
		}, attempt))
	}

	handler, ok := r.handler(msg.JobID)
	if !ok {
		if r.logger != nil {
			r.logger.Error("no handler for job", "job_id", msg.JobID)
		}
		if err := delivery.Nack(ctx, r.policy.Normalize(queue.NackOptions{
			DeadLetter: true,
			Reason:     "unknown job id",
		}, attempt)); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrUnknownJob, msg.JobID)
	}

	if err := handler(ctx, msg.Parameters); err != nil {
		if r.logger != nil {
			r.logger.Error("job failed", "job_id", msg.JobID, "attempt", attempt, "error", err)
		}
		return delivery.Nack(ctx, r.policy.Normalize(queue.NackOptions{
			Delay:   backoffDelay(attempt),
			Requeue: true,
			Reason:  err.Error(),
		}, attempt))
	}
	return delivery.Ack(ctx)
}

// Run drains the dequeuer until the context is cancelled.
func (r *Runner) Run(ctx context.Context, dequeuer queue.Dequeuer) error {
	if r == nil || dequeuer == nil {
		return fmt.Errorf("gojob: runner and dequeuer are required")
	}
	attempts := make(map[string]int)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		delivery, err := dequeuer.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if r.logger != nil {
				r.logger.Error("dequeue failed", "error", err)
			}
			continue
		}
		key := deliveryKey(delivery)
		attempts[key]++
		if err := r.Handle(ctx, delivery, attempts[key]); err != nil && errors.Is(err, ErrUnknownJob) {
			delete(attempts, key)
		}
	}
}

func deliveryKey(delivery queue.Delivery) string {
	msg := delivery.Message()
	if msg == nil {
		return ""
	}
	if msg.IdempotencyKey != "" {
		return msg.IdempotencyKey
	}
	return msg.JobID
}

// 2s, 4s, 8s... capped at one minute.
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := 2 * time.Second
	for i := 1; i < attempt && delay < time.Minute; i++ {
		delay *= 2
	}
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}

// TokenRefreshMessage requests a proactive refresh for one user.
func TokenRefreshMessage(userID string) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:          JobIDTokenRefresh,
		Parameters:     map[string]any{"user_id": userID},
		IdempotencyKey: JobIDTokenRefresh + ":" + userID,
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}
}

// BackupSyncMessage requests a queue sync; an empty user id covers all
// users.
func BackupSyncMessage(userID string, force bool) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:          JobIDBackupSync,
		Parameters:     map[string]any{"user_id": userID, "force": force},
		IdempotencyKey: JobIDBackupSync + ":" + userID,
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}
}

func HealthCheckMessage() *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:          JobIDHealthCheck,
		IdempotencyKey: JobIDHealthCheck,
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}
}

func OutboxDispatchMessage(batchSize int) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:          JobIDOutboxDispatch,
		Parameters:     map[string]any{"batch_size": batchSize},
		IdempotencyKey: JobIDOutboxDispatch,
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}
}

// TokenRefresher is the slice of the auth service the refresh job uses.
type TokenRefresher interface {
	RefreshTokens(ctx context.Context, userID string) (core.TokenSet, error)
}

func TokenRefreshHandler(refresher TokenRefresher) HandlerFunc {
	return func(ctx context.Context, params map[string]any) error {
		if refresher == nil {
			return fmt.Errorf("gojob: token refresher is required")
		}
		userID, _ := params["user_id"].(string)
		if strings.TrimSpace(userID) == "" {
			return fmt.Errorf("gojob: token refresh requires user_id")
		}
		_, err := refresher.RefreshTokens(ctx, userID)
		return err
	}
}

func BackupSyncHandler(service *backup.Service) HandlerFunc {
	return func(ctx context.Context, params map[string]any) error {
		if service == nil {
			return fmt.Errorf("gojob: backup service is required")
		}
		userID, _ := params["user_id"].(string)
		force, _ := params["force"].(bool)
		var err error
		if force {
			_, err = service.ForceSyncAll(ctx, userID)
		} else {
			_, err = service.SyncPending(ctx, userID)
		}
		return err
	}
}

func HealthCheckHandler(service *health.Service) HandlerFunc {
	return func(ctx context.Context, _ map[string]any) error {
		if service == nil {
			return fmt.Errorf("gojob: health service is required")
		}
		service.CheckAll(ctx)
		return nil
	}
}

func OutboxDispatchHandler(dispatcher *core.OutboxDispatcher) HandlerFunc {
	return func(ctx context.Context, params map[string]any) error {
		if dispatcher == nil {
			return fmt.Errorf("gojob: outbox dispatcher is required")
		}
		batchSize := 0
		switch v := params["batch_size"].(type) {
		case int:
			batchSize = v
		case float64:
			batchSize = int(v)
		}
		_, err := dispatcher.DispatchPending(ctx, batchSize)
		return err
	}
}

// SchedulerConfig fixes the cadence of the recurring jobs.
type SchedulerConfig struct {
	BackupSyncInterval  time.Duration
	HealthCheckInterval time.Duration
	OutboxDispatchEvery time.Duration
	OutboxDispatchBatch int
}

func SchedulerConfigFromConfig(cfg core.Config) SchedulerConfig {
	out := SchedulerConfig{
		BackupSyncInterval:  cfg.Backup.SyncInterval,
		HealthCheckInterval: cfg.Health.CheckInterval,
		OutboxDispatchEvery: 10 * time.Second,
		OutboxDispatchBatch: cfg.Outbox.DispatchBatch,
	}
	if out.BackupSyncInterval <= 0 {
		out.BackupSyncInterval = 5 * time.Minute
	}
	if out.HealthCheckInterval <= 0 {
		out.HealthCheckInterval = 30 * time.Second
	}
	if out.OutboxDispatchBatch <= 0 {
		out.OutboxDispatchBatch = 25
	}
	return out
}

// Scheduler enqueues the recurring jobs on their intervals until the
// context is cancelled.
type Scheduler struct {
	enqueuer queue.Enqueuer
	config   SchedulerConfig
	logger   job.Logger
}

func NewScheduler(enqueuer queue.Enqueuer, config SchedulerConfig, logger job.Logger) (*Scheduler, error) {
	if enqueuer == nil {
		return nil, fmt.Errorf("gojob: enqueuer is required")
	}
	if config.BackupSyncInterval <= 0 || config.HealthCheckInterval <= 0 || config.OutboxDispatchEvery <= 0 {
		return nil, fmt.Errorf("gojob: scheduler intervals must be positive")
	}
	return &Scheduler{enqueuer: enqueuer, config: config, logger: logger}, nil
}

func (s *Scheduler) Run(ctx context.Context) error {
	if s == nil || s.enqueuer == nil {
		return fmt.Errorf("gojob: scheduler is not configured")
	}

	backupTicker := time.NewTicker(s.config.BackupSyncInterval)
	defer backupTicker.Stop()
	healthTicker := time.NewTicker(s.config.HealthCheckInterval)
	defer healthTicker.Stop()
	outboxTicker := time.NewTicker(s.config.OutboxDispatchEvery)
	defer outboxTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-backupTicker.C:
			s.enqueue(ctx, BackupSyncMessage("", false))
		case <-healthTicker.C:
			s.enqueue(ctx, HealthCheckMessage())
		case <-outboxTicker.C:
			s.enqueue(ctx, OutboxDispatchMessage(s.config.OutboxDispatchBatch))
		}
	}
}

func (s *Scheduler) enqueue(ctx context.Context, msg *job.ExecutionMessage) {
	if err := s.enqueuer.Enqueue(ctx, msg); err != nil && s.logger != nil {
		s.logger.Error("enqueue failed", "job_id", msg.JobID, "error", err)
	}
}
