// Package campaign 营销活动：定时调度与按租户发送。
package campaign

import (
	"context"
	"fmt"

	"leadhub/internal/jobs"
	"leadhub/internal/lead"
	"leadhub/internal/notification"
	"leadhub/internal/tenant"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Sender 邮件发送
type Sender interface {
	Send(ctx context.Context, email notification.Email) error
}

// LeadSource 列出当前租户可发送邮件的线索
type LeadSource interface {
	ListWithEmail(ctx context.Context) ([]lead.Lead, error)
}

// Service 营销活动服务
type Service struct {
	repo   *Repository
	leads  LeadSource
	sender Sender
	clock  clock.Clock
	logger *zap.Logger
}

// NewService 创建营销活动服务
func NewService(repo *Repository, leads LeadSource, sender Sender, clk clock.Clock, logger *zap.Logger) *Service {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, leads: leads, sender: sender, clock: clk, logger: logger}
}

// Register 注册 campaign:send 处理器
func (s *Service) Register(r jobs.Registrar) {
	r.RegisterProcessor(TypeSend, s.HandleSend)
}

// HandleSend 处理 campaign:send 任务，运行在任务携带的租户上下文中
func (s *Service) HandleSend(ctx context.Context, job *jobs.Job) error {
	var p SendPayload
	if err := job.DecodePayload(&p); err != nil {
		return err
	}
	if p.CampaignID == "" {
		return jobs.Permanent(fmt.Errorf("campaign id is required"))
	}

	err := s.deliver(ctx, p.CampaignID)
	if err == nil || ctx.Err() != nil || !lastAttempt(job, err) {
		return err
	}
	// 最后一次尝试也失败了，活动不能停留在 queued
	markErr := s.repo.MarkFailed(context.WithoutCancel(ctx), p.CampaignID, err.Error(), s.clock.Now())
	if markErr != nil && !isNotFound(markErr) {
		s.logger.Error("mark campaign failed",
			append(tenant.LogFields(ctx), zap.String("campaign_id", p.CampaignID), zap.Error(markErr))...)
	}
	return err
}

// lastAttempt reports whether the queue will give up on job once err is recorded.
func lastAttempt(job *jobs.Job, err error) bool {
	if jobs.IsPermanent(err) {
		return true
	}
	return job.MaxAttempts > 0 && job.Attempts+1 >= job.MaxAttempts
}

func (s *Service) deliver(ctx context.Context, campaignID string) error {
	c, err := s.repo.Get(ctx, campaignID)
	if err != nil {
		if isNotFound(err) {
			return jobs.Permanent(fmt.Errorf("campaign %s: %w", campaignID, err))
		}
		return err
	}
	if c.Status == StatusSent {
		return nil
	}

	recipients, err := s.leads.ListWithEmail(ctx)
	if err != nil {
		return fmt.Errorf("list recipients: %w", err)
	}

	log := s.logger.With(append(tenant.LogFields(ctx), zap.String("campaign_id", c.ID))...)
	sent := 0
	var lastErr error
	for _, l := range recipients {
		err := s.sender.Send(ctx, notification.Email{
			To:       l.Email,
			Subject:  c.Subject,
			HTMLBody: c.Body,
			TemplateData: map[string]any{
				"Name":  l.Name,
				"Email": l.Email,
			},
		})
		if err != nil {
			lastErr = err
			log.Warn("campaign email failed", zap.String("lead_id", l.ID), zap.Error(err))
			continue
		}
		sent++
	}
	if sent == 0 && lastErr != nil {
		return fmt.Errorf("campaign %s: no email delivered: %w", c.ID, lastErr)
	}

	lastError := ""
	if lastErr != nil {
		lastError = lastErr.Error()
	}
	if err := s.repo.MarkSent(ctx, c.ID, sent, lastError, s.clock.Now()); err != nil {
		return err
	}
	log.Info("campaign sent", zap.Int("sent", sent), zap.Int("recipients", len(recipients)))
	return nil
}
