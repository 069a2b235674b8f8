package service

import (
	"context"
	"time"

	"ticket-service/internal/apperr"
	"ticket-service/internal/catalog"
	"ticket-service/internal/models"
	"ticket-service/internal/normalize"
	"ticket-service/internal/store"
	"ticket-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// IngestedPublisher announces committed tickets
type IngestedPublisher interface {
	PublishTicketIngested(ctx context.Context, event *models.TicketIngestedEvent) error
}

// Ingestor commits an extraction as a purchase with its line items, catalog
// entries and original document, all in one transaction.
type Ingestor struct {
	repo      store.Repository
	resolver  *catalog.Resolver
	publisher IngestedPublisher
	location  *time.Location
	logger    *zap.Logger
}

// NewIngestor creates a new ingestor. Ticket wall-clock times are read in
// location; publisher may be nil.
func NewIngestor(repo store.Repository, publisher IngestedPublisher, location *time.Location) *Ingestor {
	if location == nil {
		location = time.Local
	}
	return &Ingestor{
		repo:      repo,
		resolver:  catalog.NewResolver(),
		publisher: publisher,
		location:  location,
		logger:    util.GetLogger(),
	}
}

// Ingest validates and normalizes the extraction, then writes it. Any
// failure leaves the store untouched.
func (i *Ingestor) Ingest(ctx context.Context, userEmail, attachmentB64, filename string, ext *models.Extraction) (summary *models.IngestionSummary, err error) {
	ctx, span := util.StartSpan(ctx, "Ingestor.Ingest")
	defer span.End()

	start := time.Now()
	defer func() {
		util.IngestionLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			util.TicketsRejectedTotal.WithLabelValues(string(apperr.KindOf(err))).Inc()
			util.RecordError(ctx, err)
		}
	}()

	if ext == nil || ext.InvoiceNumber == nil {
		return nil, apperr.New(apperr.MissingRequiredField, "the ticket has no invoice number")
	}
	invoice := normalize.InvoiceNumber(*ext.InvoiceNumber)
	if invoice == "" {
		return nil, apperr.New(apperr.MissingRequiredField, "the ticket has no invoice number")
	}
	span.SetAttributes(attribute.String("invoice", invoice))

	logger := i.logger.With(zap.String("invoice", invoice), zap.String("ticket_id", ext.TicketID))

	existing, err := i.repo.GetPurchase(ctx, invoice)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logger.Info("Duplicate ticket rejected")
		return nil, apperr.Duplicate(invoice)
	}

	timestamp, dateOnly, err := parseTimestamp(ext, i.location)
	if err != nil {
		return nil, err
	}
	if dateOnly {
		logger.Warn("Ticket has no time of day, assuming 12:00:00")
	}

	total, err := parseTotal(ext.Total)
	if err != nil {
		return nil, err
	}

	if len(ext.Products) == 0 && total.IsPositive() {
		return nil, apperr.New(apperr.InconsistentBasket, "the ticket total is greater than 0 but it contains no products")
	}

	content, err := normalize.DecodeAttachment(attachmentB64)
	if err != nil {
		return nil, err
	}
	if err := normalize.ValidateAttachment(filename, len(content)); err != nil {
		return nil, err
	}

	items := make([]models.PurchaseLineItem, 0, len(ext.Products))
	lineTotals := make([]decimal.Decimal, 0, len(ext.Products))
	for _, p := range ext.Products {
		item, coherent, err := lineItem(p)
		if err != nil {
			return nil, err
		}
		if !coherent {
			util.LineCoherenceWarningsTotal.Inc()
			logger.Warn("Line item does not add up",
				zap.String("product", item.ProductName),
				zap.String("quantity", item.Quantity.String()),
				zap.String("unit_price", item.UnitPrice.StringFixed(2)),
				zap.String("discount", item.Discount.StringFixed(2)),
				zap.String("line_total", item.LineTotal.StringFixed(2)))
		}
		item.InvoiceNumber = invoice
		items = append(items, item)
		lineTotals = append(lineTotals, item.LineTotal)
	}

	diff, err := normalize.ValidateTotals(lineTotals, total)
	if err != nil {
		return nil, err
	}
	if !diff.IsZero() {
		util.TotalMismatchWarningsTotal.Inc()
		logger.Warn("Line items differ from ticket total within tolerance", zap.String("difference", diff.StringFixed(2)))
	}

	purchase := &models.Purchase{
		InvoiceNumber:   invoice,
		UserEmail:       userEmail,
		Timestamp:       timestamp,
		Total:           total,
		Store:           optionalText(ext.Store),
		Location:        optionalText(ext.Location),
		OperationNumber: optionalText(ext.OperationNumber),
	}
	if ext.PaymentMethod != nil {
		if method, ok := normalize.PaymentMethod(*ext.PaymentMethod); ok {
			purchase.PaymentMethod = &method
		} else {
			logger.Debug("Unknown payment method ignored", zap.String("payment_method", *ext.PaymentMethod))
		}
	}

	document := &models.PurchaseDocument{
		InvoiceNumber: invoice,
		Content:       content,
		FileName:      filename,
	}

	var inserted int64
	err = i.repo.WithTx(ctx, func(w store.Writer) error {
		for idx := range items {
			price := items[idx].UnitPrice
			if _, err := i.resolver.Resolve(ctx, w, catalog.Observation{
				Name:  items[idx].ProductName,
				Unit:  items[idx].Unit,
				Price: &price,
			}); err != nil {
				return err
			}
		}

		if err := w.InsertPurchase(ctx, purchase); err != nil {
			return err
		}

		for idx := range items {
			n, err := w.InsertLineItem(ctx, &items[idx])
			if err != nil {
				return err
			}
			inserted += n
		}

		return w.InsertDocument(ctx, document)
	})
	if err != nil {
		if apperr.IsAlreadyExists(err) {
			logger.Info("Ticket committed concurrently by another request")
		} else {
			logger.Error("Ticket transaction rolled back", zap.Error(err))
		}
		return nil, err
	}

	util.TicketsIngestedTotal.Inc()
	util.LineItemsInsertedTotal.Add(float64(inserted))
	logger.Info("Ticket ingested",
		zap.String("user_email", userEmail),
		zap.String("total", total.StringFixed(2)),
		zap.Int64("items", inserted))

	summary = &models.IngestionSummary{
		Ingested:      true,
		InvoiceNumber: invoice,
		Total:         total,
		ItemsInserted: int(inserted),
		Timestamp:     timestamp,
	}
	i.publishIngested(ctx, ext.TicketID, userEmail, summary)
	return summary, nil
}

func (i *Ingestor) publishIngested(ctx context.Context, ticketID, userEmail string, summary *models.IngestionSummary) {
	if i.publisher == nil {
		return
	}

	event := &models.TicketIngestedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeTicketIngested,
			Timestamp: time.Now(),
		},
		TicketID:        ticketID,
		InvoiceNumber:   summary.InvoiceNumber,
		UserEmail:       userEmail,
		Total:           summary.Total,
		ItemsInserted:   summary.ItemsInserted,
		TicketTimestamp: summary.Timestamp,
	}
	if err := i.publisher.PublishTicketIngested(ctx, event); err != nil {
		i.logger.Error("Failed to publish TicketIngested event",
			zap.String("invoice", summary.InvoiceNumber),
			zap.Error(err))
	}
}
