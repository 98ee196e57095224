package whatsapp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"leadhub/internal/jobs"
	"leadhub/internal/lead"
	"leadhub/internal/tenant"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// TypeInbound 入站消息处理任务类型
const TypeInbound = "whatsapp:inbound"

// ErrChallengeRejected 订阅校验失败
var ErrChallengeRejected = errors.New("whatsapp: verification challenge rejected")

// CredentialSource 列出上下文租户的有效凭据
type CredentialSource interface {
	ListActive(ctx context.Context) ([]*tenant.WhatsAppCredential, error)
}

// LeadWriter 按联系方式写入线索
type LeadWriter interface {
	UpsertByContact(ctx context.Context, c lead.Contact) (*lead.Lead, bool, error)
}

// ChallengeQuery GET 订阅校验参数
type ChallengeQuery struct {
	Mode        string `form:"hub.mode"`
	VerifyToken string `form:"hub.verify_token"`
	Challenge   string `form:"hub.challenge"`
}

// Service WhatsApp 入站处理
type Service struct {
	credentials CredentialSource
	leads       LeadWriter
	queue       jobs.Enqueuer
	clock       clock.Clock
	logger      *zap.Logger
}

// NewService 创建服务
func NewService(credentials CredentialSource, leads LeadWriter, queue jobs.Enqueuer, clk clock.Clock, logger *zap.Logger) *Service {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{credentials: credentials, leads: leads, queue: queue, clock: clk, logger: logger}
}

// Register 注册 whatsapp:inbound 处理器
func (s *Service) Register(r jobs.Registrar) {
	r.RegisterProcessor(TypeInbound, s.HandleInbound)
}

// credential 在上下文租户内查找有效凭据
func (s *Service) credential(ctx context.Context, id string) (*tenant.WhatsAppCredential, error) {
	items, err := s.credentials.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range items {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, tenant.ErrNotFound
}

// VerifyChallenge 处理 Meta 的 GET 订阅握手，校验通过时返回 hub.challenge
func (s *Service) VerifyChallenge(ctx context.Context, credentialID string, q ChallengeQuery) (string, error) {
	if q.Mode != "subscribe" || q.VerifyToken == "" || q.Challenge == "" {
		return "", ErrChallengeRejected
	}
	cred, err := s.credential(ctx, credentialID)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			return "", ErrChallengeRejected
		}
		return "", err
	}
	if cred.VerifyToken == "" || subtle.ConstantTimeCompare([]byte(cred.VerifyToken), []byte(q.VerifyToken)) != 1 {
		return "", ErrChallengeRejected
	}
	return q.Challenge, nil
}

// Accept 解析 webhook 请求体并以上下文租户入队处理。没有消息时不入队，返回空任务 ID
func (s *Service) Accept(ctx context.Context, credentialID string, body []byte) (string, error) {
	messages, err := DecodeWebhook(body)
	if err != nil {
		return "", err
	}
	if len(messages) == 0 {
		return "", nil
	}
	return s.queue.Enqueue(ctx, TypeInbound, InboundPayload{CredentialID: credentialID, Messages: messages}, jobs.EnqueueOptions{})
}

// HandleInbound 处理 whatsapp:inbound 任务：按发送方号码写入线索。
// 只接受发往本租户号码的消息，其余丢弃。
func (s *Service) HandleInbound(ctx context.Context, job *jobs.Job) error {
	var p InboundPayload
	if err := job.DecodePayload(&p); err != nil {
		return err
	}
	cred, err := s.credential(ctx, p.CredentialID)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			return jobs.Permanent(fmt.Errorf("credential %s: %w", p.CredentialID, err))
		}
		return err
	}

	log := s.logger.With(append(tenant.LogFields(ctx), zap.String("credential_id", cred.ID))...)
	for _, m := range p.Messages {
		if cred.PhoneNumberID != "" && m.PhoneNumberID != cred.PhoneNumberID {
			log.Warn("dropping message for foreign phone number",
				zap.String("message_id", m.MessageID),
				zap.String("phone_number_id", m.PhoneNumberID),
			)
			continue
		}
		at := m.SentAt
		if at.IsZero() {
			at = s.clock.Now()
		}
		text := m.Text
		if text == "" {
			text = "[" + m.Type + "]"
		}
		if _, _, err := s.leads.UpsertByContact(ctx, lead.Contact{
			Name:    m.Name,
			Phone:   m.From,
			Source:  lead.SourceWhatsApp,
			Message: text,
			At:      at,
		}); err != nil {
			return fmt.Errorf("upsert lead %s: %w", m.MessageID, err)
		}
	}
	return nil
}
