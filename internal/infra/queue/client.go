// Package queue 基于 asynq 的分布式任务投递，实现 jobs.Enqueuer。
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"leadhub/internal/config"
	"leadhub/internal/jobs"
	"leadhub/internal/metrics"
	"leadhub/internal/tenant"
	"leadhub/internal/worker/tasks"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// taskEnqueuer asynq.Client 的投递部分
type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client 任务队列客户端
type Client struct {
	client      taskEnqueuer
	maxAttempts int
	timeout     time.Duration
	clock       clock.Clock
	logger      *zap.Logger
}

// RedisOpt 由配置构造 asynq 的 redis 连接参数
func RedisOpt(cfg config.RedisConfig) asynq.RedisConnOpt {
	switch cfg.Mode {
	case "sentinel":
		return asynq.RedisFailoverClientOpt{
			MasterName:       cfg.MasterName,
			SentinelAddrs:    cfg.SentinelAddrs,
			SentinelPassword: cfg.SentinelPassword,
			Password:         cfg.Password,
			DB:               cfg.DB,
			PoolSize:         cfg.PoolSize,
		}
	case "cluster":
		return asynq.RedisClusterClientOpt{
			Addrs:    cfg.ClusterAddrs,
			Password: cfg.Password,
		}
	default:
		return asynq.RedisClientOpt{
			Addr:     cfg.Addr(),
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: cfg.PoolSize,
		}
	}
}

// NewClient 创建任务队列客户端
func NewClient(redis config.RedisConfig, queueCfg config.QueueConfig, clk clock.Clock, logger *zap.Logger) *Client {
	return newClient(asynq.NewClient(RedisOpt(redis)), queueCfg.MaxAttempts, clk, logger)
}

func newClient(enq taskEnqueuer, maxAttempts int, clk clock.Clock, logger *zap.Logger) *Client {
	if maxAttempts <= 0 {
		maxAttempts = jobs.DefaultConfig().MaxAttempts
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		client:      enq,
		maxAttempts: maxAttempts,
		timeout:     10 * time.Minute,
		clock:       clk,
		logger:      logger,
	}
}

// Enqueue 以 ctx 中的租户快照投递任务
func (c *Client) Enqueue(ctx context.Context, jobType string, payload any, opts jobs.EnqueueOptions) (string, error) {
	s, err := jobs.CaptureSnapshot(ctx)
	if err != nil {
		return "", err
	}
	return c.enqueue(ctx, s, jobType, payload, opts)
}

// EnqueueWithSnapshot 以显式快照投递任务
func (c *Client) EnqueueWithSnapshot(ctx context.Context, s tenant.Snapshot, jobType string, payload any, opts jobs.EnqueueOptions) (string, error) {
	if err := jobs.ValidateSnapshot(s); err != nil {
		return "", err
	}
	return c.enqueue(ctx, s, jobType, payload, opts)
}

func (c *Client) enqueue(ctx context.Context, s tenant.Snapshot, jobType string, payload any, opts jobs.EnqueueOptions) (string, error) {
	if jobType == "" {
		return "", errors.New("queue: job type is required")
	}
	data, err := jobs.EncodePayload(payload)
	if err != nil {
		return "", err
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = c.maxAttempts
	}

	id := uuid.New().String()
	taskOpts := []asynq.Option{
		asynq.TaskID(id),
		asynq.MaxRetry(maxAttempts - 1),
		asynq.Timeout(c.timeout),
		asynq.Queue(tasks.QueueDefault),
	}
	if opts.Delay > 0 {
		taskOpts = append(taskOpts, asynq.ProcessAt(c.clock.Now().Add(opts.Delay)))
	}

	task, err := tasks.NewTask(jobType, s, json.RawMessage(data))
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task, taskOpts...)
	if err != nil {
		return "", fmt.Errorf("enqueue task failed: %w", err)
	}
	metrics.JobsEnqueuedTotal.WithLabelValues(jobType).Inc()
	c.logger.Debug("task enqueued",
		zap.String("task_id", info.ID),
		zap.String("type", jobType),
		zap.String("queue", info.Queue),
		zap.String("tenant_id", s.TenantID),
	)
	return info.ID, nil
}

// Close 关闭客户端
func (c *Client) Close() error {
	return c.client.Close()
}

var _ jobs.Enqueuer = (*Client)(nil)
