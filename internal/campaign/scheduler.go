package campaign

import (
	"context"
	"errors"
	"time"

	"leadhub/internal/jobs"
	"leadhub/internal/resolver"
	"leadhub/internal/tenant"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// SchedulerActor 调度器以超级管理员身份扫描时使用的操作者 ID
const SchedulerActor = "campaign-scheduler"

// SnapshotResolver 解析系统任务的租户
type SnapshotResolver interface {
	Resolve(ctx context.Context, kind resolver.EntryPoint, req resolver.Request) (tenant.Snapshot, error)
}

// SchedulerConfig 调度器配置
type SchedulerConfig struct {
	Interval  time.Duration // 扫描间隔
	BatchSize int           // 单次扫描上限
}

// Scheduler 扫描到期营销活动并入队发送任务
type Scheduler struct {
	repo     *Repository
	resolver SnapshotResolver
	queue    jobs.Enqueuer
	cfg      SchedulerConfig
	clock    clock.Clock
	logger   *zap.Logger
}

// NewScheduler 创建调度器
func NewScheduler(repo *Repository, res SnapshotResolver, queue jobs.Enqueuer, cfg SchedulerConfig, clk clock.Clock, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		repo:     repo,
		resolver: res,
		queue:    queue,
		cfg:      cfg,
		clock:    clk,
		logger:   logger,
	}
}

// Scan 以超级管理员身份列出所有租户的到期活动，逐个按系统入口解析租户后入队。
// 解析失败的活动标记为 failed，不会入队。返回入队数量。
func (s *Scheduler) Scan(ctx context.Context) (int, error) {
	adminCtx := tenant.WithSnapshot(tenant.WithoutSnapshot(ctx), tenant.Snapshot{
		ActorID:      SchedulerActor,
		IsSuperAdmin: true,
	})
	now := s.clock.Now()
	due, err := s.repo.ListDue(adminCtx, now, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for i := range due {
		c := &due[i]
		log := s.logger.With(zap.String("campaign_id", c.ID), zap.String("tenant_id", c.TenantID))

		snap, err := s.resolver.Resolve(ctx, resolver.System, resolver.Request{
			Job: &resolver.SystemJob{TenantID: c.TenantID, CreatedByID: c.CreatedByID},
		})
		if err != nil {
			log.Error("campaign tenant resolution failed", zap.Error(err))
			if merr := s.repo.MarkFailed(adminCtx, c.ID, "tenant resolution failed", now); merr != nil {
				log.Error("mark campaign failed", zap.Error(merr))
			}
			continue
		}

		claimed, err := s.repo.MarkQueued(adminCtx, c.ID, now)
		if err != nil {
			return enqueued, err
		}
		if !claimed {
			continue
		}

		jobID, err := s.queue.EnqueueWithSnapshot(ctx, snap, TypeSend, SendPayload{CampaignID: c.ID}, jobs.EnqueueOptions{})
		if err != nil {
			log.Error("enqueue campaign send", zap.Error(err))
			if rerr := s.repo.Reschedule(adminCtx, c.ID, now); rerr != nil {
				log.Error("reschedule campaign", zap.Error(rerr))
			}
			continue
		}
		enqueued++
		log.Info("campaign queued", zap.String("job_id", jobID))
	}
	return enqueued, nil
}

// Run 按配置间隔扫描，直到 ctx 结束
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("campaign scheduler started", zap.Duration("interval", s.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("campaign scheduler stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Scan(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("campaign scan failed", zap.Error(err))
			}
		}
	}
}
