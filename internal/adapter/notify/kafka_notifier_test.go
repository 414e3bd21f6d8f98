package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

func TestKafkaNotifier_PublishesKeyedEvent(t *testing.T) {
	w := &mockWriter{}
	n := NewKafkaNotifier(w)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return fixed }

	order := sampleOrder()
	require.NoError(t, n.Notify(context.Background(), order))

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, order.ID.String(), string(msg.Key))

	var event StatusChangedEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, "OrderStatusChanged", event.EventType)
	assert.Equal(t, "PROCESSING", event.Status)
	assert.Equal(t, order.ID, event.Order.ID)
	assert.True(t, fixed.Equal(event.SentAt))

	require.NoError(t, n.Close())
	assert.True(t, w.closed)
}

func TestKafkaNotifier_WriteError(t *testing.T) {
	n := NewKafkaNotifier(&mockWriter{err: errors.New("leader not available")})
	err := n.Notify(context.Background(), sampleOrder())
	assert.ErrorContains(t, err, "leader not available")
}
