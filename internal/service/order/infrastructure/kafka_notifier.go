// internal/service/order/infrastructure/kafka_notifier.go
package infrastructure

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"storefront/internal/pkg/logger"
	"storefront/internal/pkg/mq"
)

// BroadcastEnvelope 是广播事件的统一信封，推送网关原样转发给前端。
type BroadcastEnvelope struct {
	Event     string      `json:"event"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// KafkaNotifier 把领域事件发到广播 topic，实现 port.Notifier。
// 通知失败只记日志：广播是尽力而为的旁路，不允许反向影响业务流程。
type KafkaNotifier struct {
	writer *kafka.Writer
}

func NewKafkaNotifier(writer *kafka.Writer) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

func (n *KafkaNotifier) Notify(ctx context.Context, event string, payload interface{}) {
	envelope := BroadcastEnvelope{
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	value, err := json.Marshal(envelope)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("event", event).Msg("Failed to marshal broadcast event")
		return
	}

	if err := mq.ProduceMessage(ctx, n.writer, []byte(event), value); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("event", event).Msg("Failed to publish broadcast event")
	}
}
