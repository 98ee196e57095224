// Package mailbox 拉取租户邮箱并把来信人记录为线索。
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"leadhub/internal/jobs"
	"leadhub/internal/lead"
	"leadhub/internal/tenant"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// TypeFetch 邮箱拉取任务类型
const TypeFetch = "EMAIL_FETCH"

const (
	defaultMailbox = "INBOX"
	defaultLimit   = 50
	maxLimit       = 500
)

// FetchPayload EMAIL_FETCH 任务负载
type FetchPayload struct {
	Mailbox string `json:"mailbox,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// Message 一封来信
type Message struct {
	FromAddress string
	FromName    string
	Subject     string
	ReceivedAt  time.Time
}

// Fetcher 邮箱客户端（IMAP 等），按账号拉取未处理的来信
type Fetcher interface {
	Fetch(ctx context.Context, account tenant.EmailSettings, limit int) ([]Message, error)
}

// TenantSource 读取上下文租户
type TenantSource interface {
	Current(ctx context.Context) (*tenant.Tenant, error)
}

// LeadWriter 按联系方式写入线索
type LeadWriter interface {
	UpsertByContact(ctx context.Context, c lead.Contact) (*lead.Lead, bool, error)
}

// Decrypter 解密凭据字段
type Decrypter interface {
	Decrypt(stored string) (string, error)
}

// Service 邮箱拉取服务
type Service struct {
	tenants TenantSource
	leads   LeadWriter
	fetcher Fetcher
	secrets Decrypter
	queue   jobs.Enqueuer
	clock   clock.Clock
	logger  *zap.Logger
}

// NewService 创建邮箱拉取服务。secrets 为空时密码按原样使用
func NewService(tenants TenantSource, leads LeadWriter, fetcher Fetcher, secrets Decrypter, queue jobs.Enqueuer, clk clock.Clock, logger *zap.Logger) *Service {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		tenants: tenants,
		leads:   leads,
		fetcher: fetcher,
		secrets: secrets,
		queue:   queue,
		clock:   clk,
		logger:  logger,
	}
}

// Register 注册 EMAIL_FETCH 处理器
func (s *Service) Register(r jobs.Registrar) {
	r.RegisterProcessor(TypeFetch, s.HandleFetch)
}

// RequestFetch 以当前请求的租户上下文入队拉取任务。已停用的租户不会入队
func (s *Service) RequestFetch(ctx context.Context, p FetchPayload) (string, error) {
	if s.queue == nil {
		return "", errors.New("mailbox: job queue not configured")
	}
	if snap, ok := tenant.FromContext(ctx); ok && snap.HasTenant() {
		t, err := s.tenants.Current(ctx)
		if err != nil {
			return "", err
		}
		if !t.IsActive(s.clock.Now()) {
			return "", fmt.Errorf("%w: %s", tenant.ErrTenantInactive, t.Status)
		}
	}
	return s.queue.Enqueue(ctx, TypeFetch, p, jobs.EnqueueOptions{})
}

// HandleFetch 处理 EMAIL_FETCH 任务
func (s *Service) HandleFetch(ctx context.Context, job *jobs.Job) error {
	var p FetchPayload
	if err := job.DecodePayload(&p); err != nil {
		return err
	}
	_, err := s.Fetch(ctx, p)
	return err
}

// Fetch 拉取上下文租户的邮箱并按发件人写入线索，返回新建线索数
func (s *Service) Fetch(ctx context.Context, p FetchPayload) (int, error) {
	t, err := s.tenants.Current(ctx)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) || errors.Is(err, tenant.ErrMissingTenantFilter) {
			return 0, jobs.Permanent(err)
		}
		return 0, err
	}
	if !t.IsActive(s.clock.Now()) {
		return 0, jobs.Permanent(fmt.Errorf("%w: %s is %s", tenant.ErrTenantInactive, t.ID, t.Status))
	}

	var account tenant.EmailSettings
	if err := t.CredentialBundle(tenant.SettingsEmail, &account); err != nil {
		return 0, jobs.Permanent(fmt.Errorf("email settings: %w", err))
	}
	if s.secrets != nil && account.Password != "" {
		plain, err := s.secrets.Decrypt(account.Password)
		if err != nil {
			return 0, jobs.Permanent(fmt.Errorf("decrypt email password: %w", err))
		}
		account.Password = plain
	}
	if p.Mailbox != "" {
		account.Mailbox = p.Mailbox
	}
	if account.Mailbox == "" {
		account.Mailbox = defaultMailbox
	}

	limit := p.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	messages, err := s.fetcher.Fetch(ctx, account, limit)
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", account.Mailbox, err)
	}

	created := 0
	for _, m := range messages {
		from := strings.TrimSpace(m.FromAddress)
		if from == "" {
			continue
		}
		at := m.ReceivedAt
		if at.IsZero() {
			at = s.clock.Now()
		}
		_, isNew, err := s.leads.UpsertByContact(ctx, lead.Contact{
			Name:    m.FromName,
			Email:   from,
			Source:  lead.SourceEmail,
			Message: m.Subject,
			At:      at,
		})
		if err != nil {
			return created, fmt.Errorf("upsert lead %s: %w", from, err)
		}
		if isNew {
			created++
		}
	}
	s.logger.Info("mailbox fetched",
		append(tenant.LogFields(ctx),
			zap.String("mailbox", account.Mailbox),
			zap.Int("messages", len(messages)),
			zap.Int("new_leads", created),
		)...,
	)
	return created, nil
}

// ErrFetcherDisabled 未配置邮箱客户端
var ErrFetcherDisabled = errors.New("mailbox: no mail client configured")

// DisabledFetcher 未接入 IMAP 时使用，任务按永久失败处理，不会反复重试
type DisabledFetcher struct{}

// Fetch 总是返回 ErrFetcherDisabled
func (DisabledFetcher) Fetch(context.Context, tenant.EmailSettings, int) ([]Message, error) {
	return nil, jobs.Permanent(ErrFetcherDisabled)
}
