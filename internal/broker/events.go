package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"stock-service/internal/models"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	stockProducer *Producer
	orderProducer *Producer
}

// NewEventPublisher creates a new event publisher. Stock and flash-sale
// notifications go to the stock topic; compensation records go back to the
// order topic.
func NewEventPublisher(stockProducer, orderProducer *Producer) *EventPublisher {
	return &EventPublisher{
		stockProducer: stockProducer,
		orderProducer: orderProducer,
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// PublishStockChanged publishes a StockChanged event keyed by product so
// downstream caches for one product replay in order.
func (ep *EventPublisher) PublishStockChanged(ctx context.Context, productID string) error {
	event := &models.StockChangedEvent{
		BaseEvent: newBaseEvent(models.EventTypeStockChanged),
		ProductID: productID,
	}
	key := fmt.Sprintf("product-%s", productID)
	return ep.stockProducer.PublishEvent(ctx, key, event)
}

// PublishFlashSaleStatus publishes the approval or rejection of a registration.
func (ep *EventPublisher) PublishFlashSaleStatus(ctx context.Context, reg *models.FlashSaleRegistration, status, reason string) error {
	eventType := models.EventTypeFlashSaleApproved
	if status == models.RegistrationStatusRejected {
		eventType = models.EventTypeFlashSaleRejected
	}

	event := &models.FlashSaleStatusEvent{
		BaseEvent:      newBaseEvent(eventType),
		RegistrationID: reg.ID,
		SessionID:      reg.SessionID,
		ProductID:      reg.ProductID,
		ShopID:         reg.ShopID,
		Status:         status,
		Reason:         reason,
	}
	key := fmt.Sprintf("registration-%s", reg.ID)
	return ep.stockProducer.PublishEvent(ctx, key, event)
}

// PublishOrderCompensation publishes an OrderCompensation event so order
// orchestration can reconcile a cancel that found nothing to roll back.
func (ep *EventPublisher) PublishOrderCompensation(ctx context.Context, orderID, userID, reason, details string) error {
	event := &models.OrderCompensationEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderCompensation),
		OrderID:   orderID,
		UserID:    userID,
		Reason:    reason,
		Details:   details,
	}
	key := fmt.Sprintf("order-%s", orderID)
	return ep.orderProducer.PublishEvent(ctx, key, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onOrderCompleted func(context.Context, *models.OrderCompletedEvent) error
	onOrderCancelled func(context.Context, *models.OrderCancelledEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnOrderCompleted registers a handler for OrderCompleted events
func (eh *EventHandler) OnOrderCompleted(handler func(context.Context, *models.OrderCompletedEvent) error) {
	eh.onOrderCompleted = handler
}

// OnOrderCancelled registers a handler for OrderCancelled events
func (eh *EventHandler) OnOrderCancelled(handler func(context.Context, *models.OrderCancelledEvent) error) {
	eh.onOrderCancelled = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	log.Printf("Handling event: type=%s, id=%s", baseEvent.EventType, baseEvent.EventID)

	switch baseEvent.EventType {
	case models.EventTypeOrderCompleted:
		if eh.onOrderCompleted != nil {
			var event models.OrderCompletedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderCompleted event: %w", err)
			}
			return eh.onOrderCompleted(ctx, &event)
		}

	case models.EventTypeOrderCancelled:
		if eh.onOrderCancelled != nil {
			var event models.OrderCancelledEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderCancelled event: %w", err)
			}
			return eh.onOrderCancelled(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
