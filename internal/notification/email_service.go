package notification

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"leadhub/internal/tenant"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EmailServiceConfig 邮件服务配置
type EmailServiceConfig struct {
	SMTPHost    string
	SMTPPort    int
	Username    string
	Password    string
	FromAddress string
	FromName    string
	UseTLS      bool
}

// Email 待发送邮件
type Email struct {
	To           string
	Subject      string
	HTMLBody     string
	TemplateData map[string]any // 非空时 HTMLBody 作为 html/template 渲染
}

// EmailLog 邮件发送日志，归属发送时上下文中的租户
type EmailLog struct {
	ID           string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	TenantID     string     `json:"-" gorm:"size:64;not null;index"`
	ToAddress    string     `json:"to_address" gorm:"size:255"`
	Subject      string     `json:"subject" gorm:"size:500"`
	Status       string     `json:"status" gorm:"size:20;index"` // sent, failed
	ErrorMessage string     `json:"error_message,omitempty" gorm:"type:text"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at" gorm:"index"`
}

func (EmailLog) TableName() string {
	return "email_logs"
}

func (l *EmailLog) OwnerTenantID() string      { return l.TenantID }
func (l *EmailLog) SetOwnerTenantID(id string) { l.TenantID = id }

// sendFunc 与 smtp.SendMail 签名一致，测试时替换
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailService 同步 SMTP 邮件发送
type EmailService struct {
	db     *gorm.DB
	config EmailServiceConfig
	clock  clock.Clock
	logger *zap.Logger
	send   sendFunc
}

// NewEmailService 创建邮件服务，db 为空时不记录发送日志
func NewEmailService(db *gorm.DB, config EmailServiceConfig, clk clock.Clock, logger *zap.Logger) *EmailService {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &EmailService{
		db:     db,
		config: config,
		clock:  clk,
		logger: logger,
	}
	if config.UseTLS {
		svc.send = svc.sendWithTLS
	} else {
		svc.send = smtp.SendMail
	}
	return svc
}

// AutoMigrate 创建邮件日志表
func (s *EmailService) AutoMigrate() error {
	if s.db == nil {
		return nil
	}
	return s.db.AutoMigrate(&EmailLog{})
}

// Send 发送邮件并记录日志。ctx 必须携带租户上下文
func (s *EmailService) Send(ctx context.Context, email Email) error {
	if strings.TrimSpace(email.To) == "" {
		return errors.New("收件人不能为空")
	}
	logEntry := &EmailLog{ID: uuid.New().String(), ToAddress: email.To, Subject: email.Subject}
	if err := tenant.AssignTenant(ctx, logEntry); err != nil {
		return err
	}

	body := email.HTMLBody
	if email.TemplateData != nil {
		rendered, err := renderTemplate(body, email.TemplateData)
		if err != nil {
			return fmt.Errorf("渲染邮件模板失败: %w", err)
		}
		body = rendered
	}

	msg := s.buildMessage(email.To, email.Subject, body)
	addr := fmt.Sprintf("%s:%d", s.config.SMTPHost, s.config.SMTPPort)
	auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.SMTPHost)
	err := s.send(addr, auth, s.config.FromAddress, []string{email.To}, msg)

	now := s.clock.Now()
	logEntry.CreatedAt = now
	if err != nil {
		logEntry.Status = "failed"
		logEntry.ErrorMessage = err.Error()
		s.logger.Warn("邮件发送失败",
			append(tenant.LogFields(ctx), zap.String("to", email.To), zap.Error(err))...)
	} else {
		logEntry.Status = "sent"
		logEntry.SentAt = &now
	}
	s.writeLog(ctx, logEntry)
	return err
}

func (s *EmailService) writeLog(ctx context.Context, entry *EmailLog) {
	if s.db == nil {
		return
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		s.logger.Warn("写入邮件日志失败", zap.Error(err))
	}
}

// Logs 查询当前租户的邮件日志
func (s *EmailService) Logs(ctx context.Context, limit int) ([]EmailLog, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var logs []EmailLog
	err := s.db.WithContext(ctx).Scopes(tenant.Scope(ctx)).
		Order("created_at DESC").Limit(limit).Find(&logs).Error
	return logs, err
}

// buildMessage 构建MIME消息
func (s *EmailService) buildMessage(to, subject, body string) []byte {
	var msg bytes.Buffer
	from := s.config.FromAddress
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", s.config.FromName), s.config.FromAddress)
	}
	msg.WriteString("From: " + from + "\r\n")
	msg.WriteString("To: " + to + "\r\n")
	msg.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return msg.Bytes()
}

// sendWithTLS 使用TLS发送邮件
func (s *EmailService) sendWithTLS(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: s.config.SMTPHost})
	if err != nil {
		return fmt.Errorf("TLS连接失败: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.config.SMTPHost)
	if err != nil {
		return fmt.Errorf("创建SMTP客户端失败: %w", err)
	}
	defer client.Close()

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP认证失败: %w", err)
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("设置发件人失败: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("设置收件人失败: %w", err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("获取数据写入器失败: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("写入邮件内容失败: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("关闭数据写入器失败: %w", err)
	}
	return client.Quit()
}

// renderTemplate 渲染 html/template，变量值自动转义
func renderTemplate(body string, data map[string]any) (string, error) {
	tmpl, err := template.New("email").Option("missingkey=zero").Parse(body)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
