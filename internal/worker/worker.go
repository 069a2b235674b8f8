package worker

import (
	"context"
	"time"

	"ticket-service/internal/broker"
	"ticket-service/internal/models"
	"ticket-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// SubmissionProcessor ingests tickets submitted for background processing
type SubmissionProcessor interface {
	ProcessSubmitted(ctx context.Context, event *models.TicketSubmittedEvent) error
	RejectSubmitted(ctx context.Context, event *models.TicketSubmittedEvent, cause error) error
}

// MessageSource delivers messages to a handler until ctx is cancelled
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// RetryPolicy bounds how often a failing submission is attempted before it
// is rejected
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the policy used by NewIngestionWorker
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   2 * time.Second,
		MaxDelay:    time.Minute,
	}
}

// IngestionWorker handles background processing of submitted tickets
type IngestionWorker struct {
	consumer     MessageSource
	processor    SubmissionProcessor
	eventHandler *broker.EventHandler
	retry        RetryPolicy
	sleep        func(ctx context.Context, d time.Duration) error
	logger       *zap.Logger
}

// NewIngestionWorker creates a new ingestion worker
func NewIngestionWorker(consumer MessageSource, processor SubmissionProcessor) *IngestionWorker {
	w := &IngestionWorker{
		consumer:     consumer,
		processor:    processor,
		eventHandler: broker.NewEventHandler(),
		retry:        DefaultRetryPolicy(),
		sleep:        util.Sleep,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnTicketSubmitted(w.process)
	return w
}

// Start starts the worker
func (w *IngestionWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting ingestion worker")
	return w.consumer.StartConsuming(ctx, w.handle)
}

// Stop stops the worker
func (w *IngestionWorker) Stop() error {
	w.logger.Info("Stopping ingestion worker")
	return w.consumer.Close()
}

func (w *IngestionWorker) handle(ctx context.Context, msg kafka.Message) error {
	ctx, span := util.StartSpan(ctx, "IngestionWorker.handle")
	defer span.End()

	if err := w.eventHandler.HandleMessage(ctx, msg); err != nil {
		util.RecordError(ctx, err)
		return err
	}
	return nil
}

// process attempts a submission up to MaxAttempts times, then rejects it
func (w *IngestionWorker) process(ctx context.Context, event *models.TicketSubmittedEvent) error {
	logger := w.logger.With(zap.String("event_id", event.EventID), zap.String("ticket_id", event.TicketID))

	delay := w.retry.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		if err = w.processor.ProcessSubmitted(ctx, event); err == nil {
			return nil
		}
		if attempt >= w.retry.MaxAttempts {
			break
		}

		logger.Warn("Submission failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		if serr := w.sleep(ctx, delay); serr != nil {
			return serr
		}
		delay = util.Backoff(delay, w.retry.MaxDelay)
	}

	logger.Error("Submission retries exhausted, rejecting", zap.Int("attempts", w.retry.MaxAttempts), zap.Error(err))
	return w.processor.RejectSubmitted(ctx, event, err)
}
