// Package notify publishes realtime model events to interested clients.
// Events are fanned out over a Redis pub/sub channel so every API instance
// can forward them to its connected subscribers.
package notify

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/rdm-platform/rdm-backend/internal/pkg/redis"
)

// Event types understood by clients.
const (
	TypeLockStatusChanged   = "lock_status_changed"
	TypeParserStatusChanged = "parser_status_changed"
	TypeModelChanged        = "model_changed"
)

// Event 推送给客户端的事件信封
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// LockStatusData 锁状态变更负载
type LockStatusData struct {
	ContentType string `json:"content_type"`
	ID          string `json:"id"`
	Locked      bool   `json:"locked"`
	User        string `json:"user,omitempty"`
}

// ParserStatusData 文件解析状态变更负载
type ParserStatusData struct {
	ContentType string `json:"content_type"`
	ID          string `json:"id"`
	Status      string `json:"status"`
}

// ModelChangedData 模型内容变更负载
type ModelChangedData struct {
	ContentType string `json:"content_type"`
	ID          string `json:"id"`
	EditedBy    string `json:"edited_by,omitempty"`
}

// Notifier 事件发布接口
type Notifier interface {
	LockStatusChanged(ctx context.Context, contentType, id string, locked bool, user string)
	ParserStatusChanged(ctx context.Context, contentType, id, status string)
	ModelChanged(ctx context.Context, contentType, id, editedBy string)
}

// RedisNotifier 基于 Redis pub/sub 的事件发布器
type RedisNotifier struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisNotifier 创建 Redis 事件发布器
func NewRedisNotifier(client *redis.Client, channel string, logger *zap.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel, logger: logger}
}

// Channel 返回事件发布使用的频道名
func (n *RedisNotifier) Channel() string {
	return n.channel
}

func (n *RedisNotifier) publish(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("failed to marshal event", zap.String("type", event.Type), zap.Error(err))
		return
	}

	// 事件丢失不影响业务操作本身,只记录日志
	if _, err := n.client.Publish(ctx, n.channel, payload); err != nil {
		n.logger.Warn("failed to publish event",
			zap.String("type", event.Type),
			zap.String("channel", n.channel),
			zap.Error(err))
	}
}

func (n *RedisNotifier) LockStatusChanged(ctx context.Context, contentType, id string, locked bool, user string) {
	n.publish(ctx, Event{Type: TypeLockStatusChanged, Data: LockStatusData{
		ContentType: contentType,
		ID:          id,
		Locked:      locked,
		User:        user,
	}})
}

func (n *RedisNotifier) ParserStatusChanged(ctx context.Context, contentType, id, status string) {
	n.publish(ctx, Event{Type: TypeParserStatusChanged, Data: ParserStatusData{
		ContentType: contentType,
		ID:          id,
		Status:      status,
	}})
}

func (n *RedisNotifier) ModelChanged(ctx context.Context, contentType, id, editedBy string) {
	n.publish(ctx, Event{Type: TypeModelChanged, Data: ModelChangedData{
		ContentType: contentType,
		ID:          id,
		EditedBy:    editedBy,
	}})
}

// NopNotifier 空实现,用于测试与禁用推送的部署
type NopNotifier struct{}

func (NopNotifier) LockStatusChanged(ctx context.Context, contentType, id string, locked bool, user string) {
}
func (NopNotifier) ParserStatusChanged(ctx context.Context, contentType, id, status string) {}
func (NopNotifier) ModelChanged(ctx context.Context, contentType, id, editedBy string)      {}
