// Package worker 运行 asynq 任务服务器，在租户快照下执行已注册的任务处理器。
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"leadhub/internal/config"
	"leadhub/internal/infra/queue"
	"leadhub/internal/jobs"
	"leadhub/internal/metrics"
	"leadhub/internal/tenant"
	"leadhub/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type envelopeKey struct{}

// Dispatcher 把 asynq 任务分发给 jobs.Processor
type Dispatcher struct {
	mux    *asynq.ServeMux
	logger *zap.Logger

	mu    sync.Mutex
	types map[string]struct{}
}

// NewDispatcher 创建分发器
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		mux:    asynq.NewServeMux(),
		logger: logger,
		types:  make(map[string]struct{}),
	}
	d.mux.Use(d.installSnapshot)
	return d
}

// RegisterProcessor 注册任务处理器
func (d *Dispatcher) RegisterProcessor(jobType string, fn jobs.Processor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.types[jobType]; dup {
		panic(fmt.Sprintf("worker: processor for %q registered twice", jobType))
	}
	d.types[jobType] = struct{}{}
	d.mux.Handle(jobType, d.handler(jobType, fn))
}

// ProcessTask 实现 asynq.Handler
func (d *Dispatcher) ProcessTask(ctx context.Context, t *asynq.Task) error {
	return d.mux.ProcessTask(ctx, t)
}

// installSnapshot 解开信封并安装任务携带的租户快照，调用方上下文中的快照不会透传
func (d *Dispatcher) installSnapshot(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		env, err := tasks.Unwrap(t)
		if err != nil {
			return skipRetry(err)
		}
		if err := jobs.ValidateSnapshot(env.Snapshot); err != nil {
			return skipRetry(err)
		}
		_, err = tenant.Install(tenant.WithoutSnapshot(ctx), env.Snapshot, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, next.ProcessTask(context.WithValue(ctx, envelopeKey{}, env), t)
		})
		return err
	})
}

func (d *Dispatcher) handler(jobType string, fn jobs.Processor) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		env, ok := ctx.Value(envelopeKey{}).(tasks.Envelope)
		if !ok {
			return skipRetry(tasks.ErrMalformedEnvelope)
		}
		job := &jobs.Job{
			Type:     jobType,
			Payload:  []byte(env.Payload),
			Snapshot: env.Snapshot,
			Status:   jobs.StatusProcessing,
		}
		if id, ok := asynq.GetTaskID(ctx); ok {
			job.ID = id
		}
		if n, ok := asynq.GetRetryCount(ctx); ok {
			job.Attempts = n
		}
		if n, ok := asynq.GetMaxRetry(ctx); ok {
			job.MaxAttempts = n + 1
		}

		err := fn(ctx, job)
		switch {
		case err == nil:
			metrics.JobsFinishedTotal.WithLabelValues(jobType, string(jobs.StatusCompleted)).Inc()
			return nil
		case jobs.IsPermanent(err):
			metrics.JobsFinishedTotal.WithLabelValues(jobType, string(jobs.StatusFailed)).Inc()
			return skipRetry(err)
		default:
			metrics.JobsRetriedTotal.WithLabelValues(jobType).Inc()
			return err
		}
	})
}

func skipRetry(err error) error {
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}

// RetryDelay 第 n 次重试前等待 (n+1)*base，与进程内队列的退避一致
func RetryDelay(base time.Duration) asynq.RetryDelayFunc {
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		return base * time.Duration(n+1)
	}
}

// Server asynq 任务服务器
type Server struct {
	*Dispatcher
	server *asynq.Server
	logger *zap.Logger
}

// NewServer 创建 Worker 服务器
func NewServer(redis config.RedisConfig, queueCfg config.QueueConfig, logger *zap.Logger) *Server {
	d := NewDispatcher(logger)
	srv := asynq.NewServer(
		queue.RedisOpt(redis),
		asynq.Config{
			Concurrency:    queueCfg.Concurrency,
			Queues:         tasks.Queues,
			RetryDelayFunc: RetryDelay(queueCfg.BaseDelay),
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				fields := []zap.Field{zap.String("type", task.Type()), zap.Error(err)}
				if env, uerr := tasks.Unwrap(task); uerr == nil {
					fields = append(fields, zap.String("tenant_id", env.Snapshot.TenantID))
				}
				if errors.Is(err, asynq.SkipRetry) {
					d.logger.Error("任务执行失败，不再重试", fields...)
					return
				}
				d.logger.Warn("任务执行失败", fields...)
			}),
		},
	)
	return &Server{Dispatcher: d, server: srv, logger: d.logger}
}

// Run 启动 Worker 服务器
func (s *Server) Run() error {
	s.logger.Info("Worker 服务器启动中...")
	return s.server.Run(s.Dispatcher)
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.logger.Info("Worker 服务器启动中 (后台)...")
	return s.server.Start(s.Dispatcher)
}

// Shutdown 停止 Worker 服务器
func (s *Server) Shutdown() {
	s.logger.Info("Worker 服务器停止中...")
	s.server.Shutdown()
}

var _ jobs.Registrar = (*Dispatcher)(nil)
