package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// NewServer builds an asynq worker server that logs through slog.
func NewServer(opt asynq.RedisConnOpt, concurrency int, logger *slog.Logger) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Logger:      &asynqLogger{logger: logger},
		LogLevel:    asynq.WarnLevel,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.WarnContext(ctx, "task failed", "type", task.Type(), "error", err)
		}),
	})
}

// RunServer processes tasks until ctx is done.
func RunServer(ctx context.Context, srv *asynq.Server, handler asynq.Handler) error {
	if err := srv.Start(handler); err != nil {
		return fmt.Errorf("start task server: %w", err)
	}
	<-ctx.Done()
	srv.Shutdown()
	return nil
}

// InlineQueue runs tasks on a goroutine of the current process. It stands in
// for redis when none is configured.
type InlineQueue struct {
	handler asynq.Handler
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewInlineQueue(handler asynq.Handler, logger *slog.Logger) *InlineQueue {
	return &InlineQueue{handler: handler, logger: logger}
}

func (q *InlineQueue) EnqueueContext(ctx context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	info := &asynq.TaskInfo{
		ID:      uuid.NewString(),
		Queue:   "inline",
		Type:    task.Type(),
		Payload: task.Payload(),
		State:   asynq.TaskStateActive,
	}
	bg := context.WithoutCancel(ctx)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if err := q.handler.ProcessTask(bg, task); err != nil {
			q.logger.WarnContext(bg, "inline task failed", "type", task.Type(), "error", err)
		}
	}()
	return info, nil
}

// Wait blocks until every enqueued task has run.
func (q *InlineQueue) Wait() {
	q.wg.Wait()
}

type asynqLogger struct {
	logger *slog.Logger
}

func (l *asynqLogger) Debug(args ...any) { l.logger.Debug(fmt.Sprint(args...), "component", "asynq") }
func (l *asynqLogger) Info(args ...any)  { l.logger.Info(fmt.Sprint(args...), "component", "asynq") }
func (l *asynqLogger) Warn(args ...any)  { l.logger.Warn(fmt.Sprint(args...), "component", "asynq") }
func (l *asynqLogger) Error(args ...any) { l.logger.Error(fmt.Sprint(args...), "component", "asynq") }
func (l *asynqLogger) Fatal(args ...any) {
	l.logger.Error(fmt.Sprint(args...), "component", "asynq")
	panic(fmt.Sprint(args...))
}
