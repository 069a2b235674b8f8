package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ticket-service/internal/models"
	"ticket-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrMalformedMessage marks messages that can never be decoded
var ErrMalformedMessage = errors.New("malformed message")

// EventPublisher handles publishing ticket events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// Messages of one ticket share a key so they land on the same partition
func ticketKey(ticketID, invoice string) string {
	if ticketID != "" {
		return "ticket-" + ticketID
	}
	return "invoice-" + invoice
}

// PublishTicketSubmitted publishes TicketSubmitted event
func (ep *EventPublisher) PublishTicketSubmitted(ctx context.Context, event *models.TicketSubmittedEvent) error {
	return ep.producer.PublishEvent(ctx, ticketKey(event.TicketID, ""), event)
}

// PublishTicketIngested publishes TicketIngested event
func (ep *EventPublisher) PublishTicketIngested(ctx context.Context, event *models.TicketIngestedEvent) error {
	return ep.producer.PublishEvent(ctx, ticketKey(event.TicketID, event.InvoiceNumber), event)
}

// PublishTicketRejected publishes TicketRejected event
func (ep *EventPublisher) PublishTicketRejected(ctx context.Context, event *models.TicketRejectedEvent) error {
	return ep.producer.PublishEvent(ctx, ticketKey(event.TicketID, ""), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onTicketSubmitted func(context.Context, *models.TicketSubmittedEvent) error
	logger            *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnTicketSubmitted registers a handler for TicketSubmitted events
func (eh *EventHandler) OnTicketSubmitted(handler func(context.Context, *models.TicketSubmittedEvent) error) {
	eh.onTicketSubmitted = handler
}

// HandleMessage routes messages to appropriate handlers. Outcome events
// published by this service on the same topic are skipped.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("%w: base event: %v", ErrMalformedMessage, err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeTicketSubmitted:
		if eh.onTicketSubmitted != nil {
			var event models.TicketSubmittedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("%w: TicketSubmitted event: %v", ErrMalformedMessage, err)
			}
			return eh.onTicketSubmitted(ctx, &event)
		}

	case models.EventTypeTicketIngested, models.EventTypeTicketRejected:

	default:
		eh.logger.Warn("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
