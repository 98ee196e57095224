// Package tasks 定义 asynq 任务的信封格式：租户快照与业务负载一起序列化。
package tasks

import (
	"encoding/json"
	"errors"
	"fmt"

	"leadhub/internal/tenant"

	"github.com/hibiken/asynq"
)

// QueueDefault 所有任务共用的队列。到期任务按入队顺序执行，不按类型区分优先级
const QueueDefault = "default"

// Queues worker 监听的队列
var Queues = map[string]int{QueueDefault: 1}

// ErrMalformedEnvelope 任务负载不是合法信封
var ErrMalformedEnvelope = errors.New("tasks: malformed envelope")

// Envelope 任务信封
type Envelope struct {
	Snapshot tenant.Snapshot `json:"context"`
	Payload  json.RawMessage `json:"payload"`
}

// NewTask 封装任务
func NewTask(jobType string, s tenant.Snapshot, payload json.RawMessage, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(Envelope{Snapshot: s, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return asynq.NewTask(jobType, data, opts...), nil
}

// Unwrap 解析任务信封
func Unwrap(t *asynq.Task) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(t.Payload(), &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if len(env.Payload) == 0 {
		env.Payload = json.RawMessage("null")
	}
	return env, nil
}
