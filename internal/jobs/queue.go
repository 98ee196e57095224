package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"leadhub/internal/metrics"
	"leadhub/internal/tenant"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

// Config 队列配置
type Config struct {
	Concurrency  int           // 单次 tick 并发执行数
	BaseDelay    time.Duration // 重试基础延迟，第 n 次失败后延迟 n*BaseDelay
	MaxAttempts  int           // 默认最大尝试次数
	PollInterval time.Duration // 轮询间隔
	Retention    time.Duration // 已结束任务保留时长
	ReapInterval time.Duration // 清理间隔
	// VisibilityTimeout 处理中任务的租约时长，超时未记录结果的任务会被重新领取。
	// 应大于最长的单次处理耗时
	VisibilityTimeout time.Duration
}

// DefaultConfig 默认队列配置
func DefaultConfig() Config {
	return Config{
		Concurrency:  1,
		BaseDelay:    5 * time.Second,
		MaxAttempts:  3,
		PollInterval: time.Second,
		Retention:    24 * time.Hour,
		ReapInterval: time.Hour,

		VisibilityTimeout: 10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = d.ReapInterval
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = d.VisibilityTimeout
	}
	return c
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock replaces the wall clock, e.g. with clock.NewMock() in tests.
func WithClock(c clock.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithLogger sets the queue logger.
func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithIDGenerator replaces the uuid job id generator.
func WithIDGenerator(fn func() string) Option {
	return func(q *Queue) { q.newID = fn }
}

// Queue is the in-process job queue and its runner.
type Queue struct {
	store  Store
	cfg    Config
	clock  clock.Clock
	logger *zap.Logger
	newID  func() string

	mu         sync.RWMutex
	processors map[string]Processor
}

// New 创建任务队列
func New(store Store, cfg Config, opts ...Option) *Queue {
	q := &Queue{
		store:      store,
		cfg:        cfg.withDefaults(),
		clock:      clock.New(),
		logger:     zap.NewNop(),
		newID:      func() string { return uuid.New().String() },
		processors: make(map[string]Processor),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Config returns the effective configuration.
func (q *Queue) Config() Config {
	return q.cfg
}

// RegisterProcessor binds fn to jobType, replacing any previous processor.
func (q *Queue) RegisterProcessor(jobType string, fn Processor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processors[jobType] = fn
}

// Processor returns the processor registered for jobType.
func (q *Queue) Processor(jobType string) (Processor, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	fn, ok := q.processors[jobType]
	return fn, ok
}

// Types lists the registered job types in lexical order.
func (q *Queue) Types() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	types := make([]string, 0, len(q.processors))
	for t := range q.processors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Enqueue schedules a job under the ambient snapshot of ctx. It fails with
// ErrMissingContext when ctx carries no tenant and is not super-admin.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload any, opts EnqueueOptions) (string, error) {
	s, err := CaptureSnapshot(ctx)
	if err != nil {
		return "", err
	}
	return q.enqueue(ctx, s, jobType, payload, opts)
}

// EnqueueWithSnapshot schedules a job under an explicit snapshot. System operations
// use it, since they have no ambient request context to capture.
func (q *Queue) EnqueueWithSnapshot(ctx context.Context, s tenant.Snapshot, jobType string, payload any, opts EnqueueOptions) (string, error) {
	if err := ValidateSnapshot(s); err != nil {
		return "", err
	}
	return q.enqueue(ctx, s, jobType, payload, opts)
}

func (q *Queue) enqueue(ctx context.Context, s tenant.Snapshot, jobType string, payload any, opts EnqueueOptions) (string, error) {
	if jobType == "" {
		return "", errors.New("jobs: job type is required")
	}
	data, err := EncodePayload(payload)
	if err != nil {
		return "", err
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.MaxAttempts
	}
	delay := opts.Delay
	if delay < 0 {
		delay = 0
	}

	now := q.clock.Now()
	job := &Job{
		ID:          q.newID(),
		Type:        jobType,
		Payload:     data,
		Snapshot:    s,
		Status:      StatusPending,
		MaxAttempts: maxAttempts,
		ProcessAt:   now.Add(delay),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := q.store.Insert(ctx, job); err != nil {
		return "", err
	}
	metrics.JobsEnqueuedTotal.WithLabelValues(jobType).Inc()
	q.logger.Debug("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("type", jobType),
		zap.String("tenant_id", s.TenantID),
		zap.Duration("delay", delay),
	)
	return job.ID, nil
}

// EncodePayload turns a payload into its stored JSON form. Raw JSON is stored as is.
func EncodePayload(payload any) (datatypes.JSON, error) {
	switch p := payload.(type) {
	case nil:
		return datatypes.JSON("null"), nil
	case datatypes.JSON:
		return p, nil
	case json.RawMessage:
		return datatypes.JSON(p), nil
	case []byte:
		if !json.Valid(p) {
			return nil, errors.New("jobs: payload is not valid JSON")
		}
		return datatypes.JSON(p), nil
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return datatypes.JSON(data), nil
	}
}

// GetJob returns a job by id.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	return q.store.Get(ctx, id)
}

// GetStats counts jobs by status.
func (q *Queue) GetStats(ctx context.Context) (Stats, error) {
	counts, err := q.store.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Pending:    counts[StatusPending],
		Processing: counts[StatusProcessing],
		Completed:  counts[StatusCompleted],
		Failed:     counts[StatusFailed],
	}, nil
}

// Tick claims the jobs that are due and runs them, at most Concurrency at a time.
// It returns the number of jobs run. Processor failures are recorded on the jobs and
// never returned; only store failures are.
func (q *Queue) Tick(ctx context.Context) (int, error) {
	now := q.clock.Now()
	due, err := q.store.ClaimDue(ctx, now, now.Add(-q.cfg.VisibilityTimeout), q.cfg.Concurrency)
	if err != nil && len(due) == 0 {
		return 0, err
	}

	var g errgroup.Group
	g.SetLimit(q.cfg.Concurrency)
	for _, job := range due {
		g.Go(func() error {
			return q.execute(ctx, job)
		})
	}
	if werr := g.Wait(); werr != nil {
		return len(due), werr
	}
	return len(due), err
}

// execute runs one claimed job. The outcome is written on a context detached from
// ctx's cancellation, so a shutdown mid-run still leaves the job in a recorded state.
func (q *Queue) execute(ctx context.Context, job *Job) error {
	saveCtx := context.WithoutCancel(ctx)
	log := q.logger.With(
		zap.String("job_id", job.ID),
		zap.String("type", job.Type),
		zap.String("tenant_id", job.Snapshot.TenantID),
	)

	var runErr error
	if fn, ok := q.Processor(job.Type); ok {
		_, runErr = tenant.Install(tenant.WithoutSnapshot(ctx), job.Snapshot, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, invoke(ctx, fn, job)
		})
	} else {
		runErr = Permanent(fmt.Errorf("%w: %s", ErrNoProcessor, job.Type))
	}

	now := q.clock.Now()
	job.UpdatedAt = now
	if runErr == nil {
		job.Status = StatusCompleted
		job.LastError = ""
		job.FinishedAt = &now
		metrics.JobsFinishedTotal.WithLabelValues(job.Type, string(StatusCompleted)).Inc()
		log.Debug("job completed")
		return q.store.Update(saveCtx, job)
	}

	// 运行器被停止打断的任务放回队列，不计入尝试次数
	if ctx.Err() != nil && !IsPermanent(runErr) {
		job.Status = StatusPending
		job.LastError = runErr.Error()
		job.ProcessAt = now
		log.Warn("job interrupted by shutdown, requeued", zap.Error(runErr))
		return q.store.Update(saveCtx, job)
	}

	job.Attempts++
	job.LastError = runErr.Error()
	if IsPermanent(runErr) || job.Attempts >= job.MaxAttempts {
		job.Status = StatusFailed
		job.FinishedAt = &now
		metrics.JobsFinishedTotal.WithLabelValues(job.Type, string(StatusFailed)).Inc()
		log.Error("job failed",
			zap.Int("attempts", job.Attempts),
			zap.Bool("permanent", IsPermanent(runErr)),
			zap.Error(runErr),
		)
		return q.store.Update(saveCtx, job)
	}

	job.Status = StatusPending
	job.ProcessAt = now.Add(q.cfg.BaseDelay * time.Duration(job.Attempts))
	metrics.JobsRetriedTotal.WithLabelValues(job.Type).Inc()
	log.Warn("job failed, retry scheduled",
		zap.Int("attempts", job.Attempts),
		zap.Time("process_at", job.ProcessAt),
		zap.Error(runErr),
	)
	return q.store.Update(saveCtx, job)
}

func invoke(ctx context.Context, fn Processor, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return fn(ctx, job.clone())
}

// Reap deletes terminal jobs older than the retention window.
func (q *Queue) Reap(ctx context.Context) (int64, error) {
	n, err := q.store.DeleteFinishedBefore(ctx, q.clock.Now().Add(-q.cfg.Retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.JobsReapedTotal.Add(float64(n))
		q.logger.Info("reaped finished jobs", zap.Int64("count", n))
	}
	return n, nil
}

// Run polls and reaps on the queue clock until ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	poll := q.clock.Ticker(q.cfg.PollInterval)
	defer poll.Stop()
	reap := q.clock.Ticker(q.cfg.ReapInterval)
	defer reap.Stop()

	q.logger.Info("job runner started",
		zap.Duration("poll_interval", q.cfg.PollInterval),
		zap.Int("concurrency", q.cfg.Concurrency),
	)
	for {
		select {
		case <-ctx.Done():
			q.logger.Info("job runner stopped")
			return nil
		case <-poll.C:
			if _, err := q.Tick(ctx); err != nil && ctx.Err() == nil {
				q.logger.Error("job tick failed", zap.Error(err))
			}
		case <-reap.C:
			if _, err := q.Reap(ctx); err != nil && ctx.Err() == nil {
				q.logger.Error("job reap failed", zap.Error(err))
			}
		}
	}
}

var _ Enqueuer = (*Queue)(nil)
var _ Registrar = (*Queue)(nil)
