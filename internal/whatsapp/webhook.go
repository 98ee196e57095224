// Package whatsapp 处理 WhatsApp Business webhook：订阅校验与入站消息。
package whatsapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidPayload webhook 请求体无法解析
var ErrInvalidPayload = errors.New("whatsapp: invalid webhook payload")

// WebhookPayload Meta webhook 回调结构
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry 单个 WhatsApp Business 账号的变更
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change 变更项，field=messages 时 Value 携带消息
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue 变更内容
type ChangeValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Metadata         Metadata          `json:"metadata"`
	Contacts         []WAContact       `json:"contacts"`
	Messages         []WAMessage       `json:"messages"`
	Statuses         []json.RawMessage `json:"statuses,omitempty"`
}

// Metadata 接收消息的企业号码
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// WAContact 发送方资料
type WAContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// WAMessage 单条消息
type WAMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
}

// InboundMessage 归一化后的入站消息，作为 whatsapp:inbound 任务负载
type InboundMessage struct {
	MessageID     string    `json:"messageId"`
	PhoneNumberID string    `json:"phoneNumberId"`
	From          string    `json:"from"`
	Name          string    `json:"name,omitempty"`
	Text          string    `json:"text,omitempty"`
	Type          string    `json:"type"`
	SentAt        time.Time `json:"sentAt"`
}

// InboundPayload whatsapp:inbound 任务负载
type InboundPayload struct {
	CredentialID string           `json:"credentialId"`
	Messages     []InboundMessage `json:"messages"`
}

// DecodeWebhook 解析 webhook 请求体并展开其中的消息。状态回执等非消息变更被忽略
func DecodeWebhook(body []byte) ([]InboundMessage, error) {
	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.Object != "" && p.Object != "whatsapp_business_account" {
		return nil, fmt.Errorf("%w: unexpected object %q", ErrInvalidPayload, p.Object)
	}

	var out []InboundMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range change.Value.Messages {
				from := normalizePhone(m.From)
				if from == "" {
					continue
				}
				msg := InboundMessage{
					MessageID:     m.ID,
					PhoneNumberID: change.Value.Metadata.PhoneNumberID,
					From:          from,
					Name:          names[m.From],
					Type:          m.Type,
					SentAt:        parseTimestamp(m.Timestamp),
				}
				if m.Text != nil {
					msg.Text = m.Text.Body
				}
				out = append(out, msg)
			}
		}
	}
	return out, nil
}

// normalizePhone 统一为 E.164 形式（带 + 前缀，仅数字）
func normalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "+" + b.String()
}

func parseTimestamp(raw string) time.Time {
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
