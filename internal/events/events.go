package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"retailerp/backend/internal/xid"
)

const (
	TypeOrderCompleted    = "order.completed"
	TypeOrderHeld         = "order.held"
	TypeOrderCancelled    = "order.cancelled"
	TypeOrderReturned     = "order.returned"
	TypePaymentRecorded   = "payment.recorded"
	TypePaymentRefunded   = "payment.refunded"
	TypeTransferChanged   = "transfer.status_changed"
	TypeShiftStarted      = "shift.started"
	TypeShiftEnded        = "shift.ended"
	TypeBusinessDayClosed = "business_day.closed"
	TypeInventoryLow      = "inventory.low_stock"
)

// Event is the envelope published after a state change commits.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	StoreID   string    `json:"store_id"`
	Subject   string    `json:"subject"`
	ActorID   string    `json:"actor_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func New(eventType string, storeID string, subject string, actorID string, data any) Event {
	return Event{
		ID:        xid.New("evt"),
		Type:      eventType,
		StoreID:   storeID,
		Subject:   subject,
		ActorID:   actorID,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }

func (NoopPublisher) Close() error { return nil }

// KafkaPublisher writes events to one topic keyed by subject, so every event
// for an order or transfer lands on the same partition in order.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
		logger: logger,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := Encode(event)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(event.Subject),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "event-id", Value: []byte(event.ID)},
			{Key: "store-id", Value: []byte(event.StoreID)},
		},
		Time: event.CreatedAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event.Type, p.writer.Topic, err)
	}
	p.logger.Debug("event published", zap.String("type", event.Type), zap.String("subject", event.Subject))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func Encode(event Event) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", event.Type, err)
	}
	return payload, nil
}
