package runner

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/nih-cfde/deriva-action-provider/internal/action"
	"github.com/nih-cfde/deriva-action-provider/internal/deriva"
	"github.com/nih-cfde/deriva-action-provider/internal/events"
	"github.com/nih-cfde/deriva-action-provider/internal/metrics"
)

// StatusMerger is the slice of the status store the runner needs.
type StatusMerger interface {
	Merge(ctx context.Context, actionID string, update action.Update) (*action.Record, error)
}

// mergeTimeout bounds the terminal status write so a wedged store cannot
// pin a worker forever.
const mergeTimeout = 30 * time.Second

// Runner executes ingest operations out of the request path. Every
// dispatched job ends with a terminal status merge, no matter how the
// operation fails: errors, panics, timeouts and nonsense results all
// collapse to FAILED with a captured message.
type Runner struct {
	op           deriva.Operation
	store        StatusMerger
	emitter      *metrics.Emitter
	publisher    *events.Publisher
	logger       *zap.Logger
	sem          *semaphore.Weighted
	wg           sync.WaitGroup
	opTimeout    time.Duration
	errorLogPath string

	mu sync.Mutex // guards the emergency log file
}

// New builds a Runner with at most concurrency jobs in flight. opTimeout
// bounds a single operation's runtime: an operation that never settles must
// still release its worker slot, otherwise a few wedged jobs starve the
// whole pool while admissions keep succeeding.
func New(op deriva.Operation, store StatusMerger, emitter *metrics.Emitter, publisher *events.Publisher, concurrency int64, opTimeout time.Duration, logger *zap.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = 1
	}
	if opTimeout <= 0 {
		opTimeout = time.Hour
	}
	return &Runner{
		op:           op,
		store:        store,
		emitter:      emitter,
		publisher:    publisher,
		logger:       logger.With(zap.String("component", "runner")),
		sem:          semaphore.NewWeighted(concurrency),
		opTimeout:    opTimeout,
		errorLogPath: "ERROR.log",
	}
}

// Dispatch launches the operation for an admitted action. It returns
// immediately; the admission response never waits on the job.
func (r *Runner) Dispatch(params deriva.Params) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer r.sem.Release(1)
		r.execute(params)
	}()
}

// Shutdown waits for in-flight jobs to finish or the context to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) execute(params deriva.Params) {
	started := time.Now()
	r.logger.Info("starting ingest operation",
		zap.String("action_id", params.ActionID),
		zap.String("operation", params.Operation))

	// Downstream consumers expect every detail key to exist, so the update
	// starts as a fully-populated failure and is improved from there.
	update := action.Update{
		Status: action.StatusFailed,
		Details: map[string]interface{}{
			"submission_id":   "",
			"submission_link": "",
			"message":         "",
			"error":           "Failed due to unknown error",
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opTimeout)
	defer cancel()

	r.runOperation(ctx, params, &update)
	r.finalize(params, update, started)
}

// runOperation invokes the opaque operation, translating its outcome (or
// panic) into the pending update. The context carries the runtime bound; an
// operation stuck past it fails with the context error.
func (r *Runner) runOperation(ctx context.Context, params deriva.Params, update *action.Update) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("ingest operation panicked",
				zap.String("action_id", params.ActionID), zap.Any("panic", p))
			update.Status = action.StatusFailed
			update.Details["error"] = fmt.Sprintf("Error ingesting to DERIVA: panic: %v", p)
		}
	}()

	result, err := r.op.Run(ctx, params)
	if err != nil {
		r.logger.Error("ingest operation failed",
			zap.String("action_id", params.ActionID), zap.Error(err))
		update.Details["error"] = fmt.Sprintf("Error ingesting to DERIVA: %v", err)
		return
	}
	if result == nil || !action.Terminal(result.Status) {
		update.Details["error"] = "Operation returned no terminal status"
		return
	}

	update.Status = result.Status
	if update.Status == action.StatusSucceeded {
		update.Details["error"] = false
	}
	for k, v := range result.Details {
		update.Details[k] = v
	}
}

// finalize writes the terminal status. If the store itself is unreachable
// the outcome is preserved in the emergency log: losing track of a job's
// result is a worse fault than the job failing.
func (r *Runner) finalize(params deriva.Params, update action.Update, started time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), mergeTimeout)
	defer cancel()

	rec, err := r.store.Merge(ctx, params.ActionID, update)
	if err != nil {
		r.logger.Error("terminal status update failed",
			zap.String("action_id", params.ActionID),
			zap.String("status", update.Status),
			zap.Error(err))
		r.emergencyLog(params.ActionID, update, err)
		return
	}

	elapsed := time.Since(rec.DateStarted)
	if rec.DateStarted.IsZero() {
		elapsed = time.Since(started)
	}
	r.emitter.ActionCompleted(ctx, rec.Status, elapsed)
	_ = r.publisher.Publish(ctx, events.LifecycleEvent{
		ActionID:  rec.ActionID,
		RequestID: rec.RequestID,
		Status:    rec.Status,
		Timestamp: time.Now().UTC(),
	})

	r.logger.Info("action completed",
		zap.String("action_id", params.ActionID),
		zap.String("status", rec.Status))
}

// emergencyLog appends the lost outcome to a local file so an operator can
// reconcile the status table by hand.
func (r *Runner) emergencyLog(actionID string, update action.Update, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	line := fmt.Sprintf("%s action=%s status=%s details=%v store_error=%v\n",
		time.Now().UTC().Format(time.RFC3339), actionID, update.Status, update.Details, cause)

	f, err := os.OpenFile(r.errorLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		r.logger.Error("emergency log unavailable", zap.String("entry", line), zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		r.logger.Error("emergency log write failed", zap.String("entry", line), zap.Error(err))
	}
}
