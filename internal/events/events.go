package events

import (
	"context"
	"encoding/json"
	"time"

	"fanpay/internal/logger"

	"github.com/segmentio/kafka-go"
)

// LedgerEvent is published once per committed wallet posting.
type LedgerEvent struct {
	EntryID       string    `json:"entry_id"`
	WalletID      string    `json:"wallet_id"`
	UserID        string    `json:"user_id"`
	Type          string    `json:"type"`
	Amount        string    `json:"amount"`
	BalanceAfter  string    `json:"balance_after"`
	ReferenceID   string    `json:"reference_id,omitempty"`
	ReferenceType string    `json:"reference_type,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type NotificationEvent struct {
	NotificationID string          `json:"notification_id"`
	UserID         string          `json:"user_id"`
	Type           string          `json:"type"`
	Title          string          `json:"title"`
	Message        string          `json:"message"`
	Data           json.RawMessage `json:"data,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes ledger and notification events to their topics. A
// Publisher without writers drops events, which is how the service runs when
// no brokers are configured.
type Publisher struct {
	ledger        MessageWriter
	notifications MessageWriter
}

func NewPublisher(ledger, notifications MessageWriter) *Publisher {
	return &Publisher{ledger: ledger, notifications: notifications}
}

// NewKafkaPublisher builds async writers for both topics. It returns a
// no-op publisher when brokers is empty.
func NewKafkaPublisher(brokers []string, ledgerTopic, notificationTopic string) *Publisher {
	if len(brokers) == 0 {
		return NewPublisher(nil, nil)
	}
	return NewPublisher(newWriter(brokers, ledgerTopic), newWriter(brokers, notificationTopic))
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Log.Errorw("kafka delivery failed", "topic", topic, "messages", len(messages), "error", err)
			}
		},
	}
}

// PublishLedger keys messages by wallet so a wallet's postings stay ordered
// within a partition.
func (p *Publisher) PublishLedger(ctx context.Context, event LedgerEvent) error {
	return publish(ctx, p.ledger, event.WalletID, event)
}

func (p *Publisher) PublishNotification(ctx context.Context, event NotificationEvent) error {
	return publish(ctx, p.notifications, event.UserID, event)
}

func (p *Publisher) Close() error {
	var firstErr error
	for _, w := range []MessageWriter{p.ledger, p.notifications} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func publish(ctx context.Context, w MessageWriter, key string, event any) error {
	if w == nil {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
	})
}
