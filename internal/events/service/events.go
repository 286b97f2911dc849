package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rdm-platform/rdm-backend/internal/notify"
	"github.com/rdm-platform/rdm-backend/internal/pkg/redis"
	"github.com/rdm-platform/rdm-backend/internal/pkg/sse"
)

// eventsResource 所有客户端订阅同一个资源,事件不做按实体过滤
const eventsResource = "events"

const keepAliveInterval = 30 * time.Second

// EventService 实时事件推送接口。锁状态、解析状态与模型变更事件
// 经 Redis pub/sub 汇聚后,向所有 SSE 连接广播
type EventService struct {
	hub     *sse.Hub
	redis   *redis.Client
	channel string
	logger  *zap.Logger
	cancel  context.CancelFunc
}

// NewEventService 创建事件推送服务
func NewEventService(rc *redis.Client, channel string, logger *zap.Logger) *EventService {
	return &EventService{
		hub:     sse.NewHub(),
		redis:   rc,
		channel: channel,
		logger:  logger,
	}
}

// Start 启动 Redis 订阅泵
func (s *EventService) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.pump(ctx)
}

// Stop 停止订阅泵,已连接的客户端随请求上下文结束
func (s *EventService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *EventService) pump(ctx context.Context) {
	sub := s.redis.Subscribe(ctx, s.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev notify.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				s.logger.Warn("failed to decode event payload",
					zap.String("channel", s.channel),
					zap.Error(err))
				continue
			}
			s.hub.Broadcast(eventsResource, sse.Event{Type: ev.Type, Data: ev.Data})
		}
	}
}

// Stream SSE 事件流。认证 token 支持从查询参数携带,
// 以兼容浏览器 EventSource
func (s *EventService) Stream(c *gin.Context) {
	client := &sse.Client{
		ID:       uuid.NewString(),
		Channel:  make(chan sse.Event, 16),
		Resource: eventsResource,
	}
	sse.StreamResponse(c, client, s.hub, keepAliveInterval)
}

// ClientCount 当前连接的客户端数,用于健康检查与调试
func (s *EventService) ClientCount() int {
	return s.hub.GetClientCount(eventsResource)
}

// RegisterRoutes 注册路由
func (s *EventService) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/events", s.Stream)
}
