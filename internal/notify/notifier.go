package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"syncmesh/internal/ingest/service"
	"syncmesh/internal/platform/kafka"
)

// KafkaNotifier publishes accepted-event notifications to the event bus.
// Delivery is fire-and-forget: the producer's callback logs failures, the
// ingest response never waits on a broker.
type KafkaNotifier struct {
	producer *kafka.Producer
	topic    string
	logger   *slog.Logger
}

// NewKafka builds a notifier over an existing producer.
func NewKafka(producer *kafka.Producer, topic string, logger *slog.Logger) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic, logger: logger}
}

// EventReceived publishes one notification keyed by node id, so consumers
// see each source's events in publish order.
func (n *KafkaNotifier) EventReceived(ctx context.Context, notification service.Notification) {
	value, err := json.Marshal(notification)
	if err != nil {
		n.logger.Error("failed to marshal notification",
			"event_id", notification.EventID, "error", err)
		return
	}
	n.producer.Publish(ctx, n.topic, []byte(notification.NodeID), value)
}

// NopNotifier drops notifications. Used when no brokers are configured.
type NopNotifier struct{}

// EventReceived does nothing.
func (NopNotifier) EventReceived(context.Context, service.Notification) {}
