package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rl1809/order-pipeline/internal/core/domain"
)

// MessageWriter is the part of *kafka.Writer the notifier needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// StatusChangedEvent is published for every order that moved to a new status.
type StatusChangedEvent struct {
	EventType string       `json:"eventType"`
	OrderID   string       `json:"orderId"`
	BuyerID   string       `json:"buyerId"`
	Status    string       `json:"status"`
	Order     domain.Order `json:"order"`
	SentAt    time.Time    `json:"sentAt"`
}

// KafkaNotifier publishes order status changes keyed by order id, so every
// event for one order lands on the same partition.
type KafkaNotifier struct {
	writer MessageWriter
	now    func() time.Time
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func NewKafkaNotifier(writer MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer, now: time.Now}
}

func (n *KafkaNotifier) Name() string { return "kafka" }

func (n *KafkaNotifier) Notify(ctx context.Context, order domain.Order) error {
	event := StatusChangedEvent{
		EventType: "OrderStatusChanged",
		OrderID:   order.ID.String(),
		BuyerID:   order.BuyerID.String(),
		Status:    string(order.Status),
		Order:     order,
		SentAt:    n.now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: data,
		Time:  event.SentAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.EventType)},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish order %s: %w", event.OrderID, err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
