package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishLedgerKeyedByWallet(t *testing.T) {
	ledger := &recordingWriter{}
	p := NewPublisher(ledger, &recordingWriter{})

	err := p.PublishLedger(context.Background(), LedgerEvent{EntryID: "tx-1", WalletID: "wallet-1", Type: "DEPOSIT", Amount: "5000"})
	require.NoError(t, err)
	require.Len(t, ledger.messages, 1)
	assert.Equal(t, "wallet-1", string(ledger.messages[0].Key))

	var decoded LedgerEvent
	require.NoError(t, json.Unmarshal(ledger.messages[0].Value, &decoded))
	assert.Equal(t, "tx-1", decoded.EntryID)
	assert.Equal(t, "5000", decoded.Amount)
}

func TestPublishNotificationKeyedByUser(t *testing.T) {
	notifications := &recordingWriter{}
	p := NewPublisher(&recordingWriter{}, notifications)

	err := p.PublishNotification(context.Background(), NotificationEvent{NotificationID: "n-1", UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, notifications.messages, 1)
	assert.Equal(t, "user-1", string(notifications.messages[0].Key))
}

func TestPublisherWithoutBrokersDropsEvents(t *testing.T) {
	p := NewKafkaPublisher(nil, "ledger", "notifications")
	assert.NoError(t, p.PublishLedger(context.Background(), LedgerEvent{WalletID: "wallet-1"}))
	assert.NoError(t, p.PublishNotification(context.Background(), NotificationEvent{UserID: "user-1"}))
	assert.NoError(t, p.Close())
}

func TestPublisherPropagatesWriteError(t *testing.T) {
	p := NewPublisher(&recordingWriter{err: errors.New("broker down")}, nil)
	assert.EqualError(t, p.PublishLedger(context.Background(), LedgerEvent{WalletID: "wallet-1"}), "broker down")
}

func TestPublisherCloseClosesWriters(t *testing.T) {
	ledger := &recordingWriter{}
	notifications := &recordingWriter{}
	require.NoError(t, NewPublisher(ledger, notifications).Close())
	assert.True(t, ledger.closed)
	assert.True(t, notifications.closed)
}
