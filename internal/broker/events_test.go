package broker

import (
	"context"
	"encoding/json"
	"testing"

	"stock-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestHandleMessageRoutesOrderCompleted(t *testing.T) {
	handler := NewEventHandler()

	var got *models.OrderCompletedEvent
	handler.OnOrderCompleted(func(ctx context.Context, event *models.OrderCompletedEvent) error {
		got = event
		return nil
	})

	event := &models.OrderCompletedEvent{
		BaseEvent: models.BaseEvent{EventID: "e1", EventType: models.EventTypeOrderCompleted},
		OrderID:   "o1",
		UserID:    "u1",
		Items: []models.OrderLine{
			{ProductID: "p1", VariantID: "v1", Quantity: 2, FlashSale: true},
		},
	}

	err := handler.HandleMessage(context.Background(), message(t, event))
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "o1", got.OrderID)
	require.Len(t, got.Items, 1)
	assert.True(t, got.Items[0].FlashSale)
}

func TestHandleMessageRoutesOrderCancelled(t *testing.T) {
	handler := NewEventHandler()

	var got *models.OrderCancelledEvent
	handler.OnOrderCancelled(func(ctx context.Context, event *models.OrderCancelledEvent) error {
		got = event
		return nil
	})

	event := &models.OrderCancelledEvent{
		BaseEvent: models.BaseEvent{EventID: "e2", EventType: models.EventTypeOrderCancelled},
		OrderID:   "o2",
		Reason:    "payment timeout",
	}

	err := handler.HandleMessage(context.Background(), message(t, event))
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "o2", got.OrderID)
	assert.Equal(t, "payment timeout", got.Reason)
}

func TestHandleMessageIgnoresUnknownTypes(t *testing.T) {
	handler := NewEventHandler()
	handler.OnOrderCompleted(func(ctx context.Context, event *models.OrderCompletedEvent) error {
		t.Fatal("handler must not fire for unknown types")
		return nil
	})

	event := &models.BaseEvent{EventID: "e3", EventType: "SOMETHING_ELSE"}
	err := handler.HandleMessage(context.Background(), message(t, event))
	assert.NoError(t, err)
}

func TestHandleMessageRejectsMalformedPayload(t *testing.T) {
	handler := NewEventHandler()
	err := handler.HandleMessage(context.Background(), kafka.Message{Value: []byte("{not json")})
	assert.Error(t, err)
}
