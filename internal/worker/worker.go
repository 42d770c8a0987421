package worker

import (
	"context"
	"fmt"
	"log"

	"stock-service/internal/broker"
	"stock-service/internal/models"
	"stock-service/internal/service"
)

// StockWorker consumes order lifecycle events and settles the matching
// reservations: completed orders confirm, cancelled orders roll back.
type StockWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	reservations *service.ReservationService
	flashSales   *service.FlashSaleService
	publisher    *broker.EventPublisher
}

// NewStockWorker creates a new stock worker
func NewStockWorker(
	consumer *broker.Consumer,
	reservations *service.ReservationService,
	flashSales *service.FlashSaleService,
	publisher *broker.EventPublisher,
) *StockWorker {
	w := &StockWorker{
		consumer:     consumer,
		reservations: reservations,
		flashSales:   flashSales,
		publisher:    publisher,
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderCompleted(w.handleOrderCompleted)
	eventHandler.OnOrderCancelled(w.handleOrderCancelled)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *StockWorker) Start(ctx context.Context) error {
	log.Println("Starting stock worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *StockWorker) Stop() error {
	log.Println("Stopping stock worker...")
	return w.consumer.Close()
}

// handleOrderCompleted confirms every reserved line of a completed order.
// Confirm is idempotent, so redelivery of the event is harmless.
func (w *StockWorker) handleOrderCompleted(ctx context.Context, event *models.OrderCompletedEvent) error {
	for _, item := range event.Items {
		var err error
		if item.FlashSale {
			err = w.flashSales.Confirm(ctx, event.OrderID, item.ProductID, item.VariantID)
		} else {
			err = w.reservations.Confirm(ctx, event.OrderID, item.ProductID, item.VariantID)
		}
		if err != nil {
			return fmt.Errorf("confirm failed for order %s line %s:%s: %w",
				event.OrderID, item.ProductID, item.VariantID, err)
		}
	}
	return nil
}

// handleOrderCancelled rolls back every reserved line of a cancelled order.
// A line whose reservation already expired yields nothing to roll back;
// that gap is reported to order orchestration as a compensation event.
func (w *StockWorker) handleOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	for _, item := range event.Items {
		if item.FlashSale {
			if err := w.cancelFlashSaleLine(ctx, event, item); err != nil {
				return err
			}
			continue
		}

		result, err := w.reservations.Cancel(ctx, event.OrderID, item.ProductID, item.VariantID)
		if err != nil {
			return fmt.Errorf("cancel failed for order %s line %s:%s: %w",
				event.OrderID, item.ProductID, item.VariantID, err)
		}
		if result == 0 {
			w.publishCompensation(ctx, event, item)
		}
	}
	return nil
}

func (w *StockWorker) cancelFlashSaleLine(ctx context.Context, event *models.OrderCancelledEvent, item models.OrderLine) error {
	rolledBack, restoredToFlashSale, err := w.flashSales.Cancel(ctx,
		event.OrderID, item.ProductID, item.VariantID, event.UserID)
	if err != nil {
		return fmt.Errorf("flash-sale cancel failed for order %s line %s:%s: %w",
			event.OrderID, item.ProductID, item.VariantID, err)
	}

	if rolledBack == 0 {
		w.publishCompensation(ctx, event, item)
		return nil
	}

	// The session ended between reserve and cancel. The rolled-back units
	// belong to regular inventory now.
	if !restoredToFlashSale {
		if err := w.reservations.RestoreStock(ctx, item.ProductID, item.VariantID, rolledBack); err != nil {
			return fmt.Errorf("regular restore after lapsed flash sale failed for %s:%s: %w",
				item.ProductID, item.VariantID, err)
		}
	}
	return nil
}

func (w *StockWorker) publishCompensation(ctx context.Context, event *models.OrderCancelledEvent, item models.OrderLine) {
	details := fmt.Sprintf("no reservation found for %s:%s", item.ProductID, item.VariantID)
	if err := w.publisher.PublishOrderCompensation(ctx, event.OrderID, event.UserID,
		models.CompensationReasonReservationLost, details); err != nil {
		log.Printf("Failed to publish compensation for order %s: %v", event.OrderID, err)
	}
}
