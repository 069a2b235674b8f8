package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"ticket-service/internal/apperr"
	"ticket-service/internal/models"
	"ticket-service/internal/normalize"
	"ticket-service/internal/redisclient"
	"ticket-service/internal/store"
	"ticket-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const rawTextPreviewRunes = 320

// Extractor turns a ticket document into structured data
type Extractor interface {
	ProcessTicket(ctx context.Context, req *models.ProcessTicketRequest) (*models.Extraction, error)
}

// ExtractionCache stores extractions by document digest
type ExtractionCache interface {
	GetExtraction(ctx context.Context, digest string) (*models.Extraction, error)
	SetExtraction(ctx context.Context, digest string, extraction *models.Extraction, ttl time.Duration) error
}

// UploadStager keeps uploads until the background worker ingests them
type UploadStager interface {
	StageUpload(ctx context.Context, upload *redisclient.StagedUpload, ttl time.Duration) (string, error)
	LoadUpload(ctx context.Context, key string) (*redisclient.StagedUpload, error)
	DeleteUpload(ctx context.Context, key string) error
}

// EventPublisher publishes the ticket lifecycle events
type EventPublisher interface {
	IngestedPublisher
	PublishTicketSubmitted(ctx context.Context, event *models.TicketSubmittedEvent) error
	PublishTicketRejected(ctx context.Context, event *models.TicketRejectedEvent) error
}

// Options tunes cache and staging lifetimes
type Options struct {
	CacheTTL   time.Duration
	StagingTTL time.Duration
}

// TicketService handles ticket upload business logic
type TicketService struct {
	repo      store.Repository
	ingestor  *Ingestor
	extractor Extractor
	cache     ExtractionCache
	uploads   UploadStager
	publisher EventPublisher
	opts      Options
	logger    *zap.Logger
}

// NewTicketService creates a new ticket service. cache, uploads and
// publisher are optional; without uploads and publisher asynchronous
// submission is unavailable.
func NewTicketService(
	repo store.Repository,
	ingestor *Ingestor,
	extractor Extractor,
	cache ExtractionCache,
	uploads UploadStager,
	publisher EventPublisher,
	opts Options,
) *TicketService {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	if opts.StagingTTL <= 0 {
		opts.StagingTTL = time.Hour
	}
	return &TicketService{
		repo:      repo,
		ingestor:  ingestor,
		extractor: extractor,
		cache:     cache,
		uploads:   uploads,
		publisher: publisher,
		opts:      opts,
		logger:    util.GetLogger(),
	}
}

// ProcessTicketRequest represents an uploaded ticket
type ProcessTicketRequest struct {
	TicketID       string `json:"ticket_id"`
	FileName       string `json:"file_name" binding:"required"`
	FileContentB64 string `json:"file_content_b64" binding:"required"`
	MimeType       string `json:"mime_type,omitempty"`
	// UserEmail requests ingestion on behalf of this user
	UserEmail string `json:"usuario_email,omitempty"`
}

// OCRSummary is the extraction digest returned to the caller
type OCRSummary struct {
	TicketID          string                    `json:"ticket_id"`
	InvoiceNumber     *string                   `json:"numero_factura"`
	Date              *string                   `json:"fecha"`
	Total             *float64                  `json:"total"`
	ProductsDetected  int                       `json:"productos_detectados"`
	Products          []models.ExtractedProduct `json:"productos"`
	Store             *string                   `json:"tienda"`
	ProcessingProfile *string                   `json:"processing_profile"`
	Warnings          []string                  `json:"warnings"`
	RawTextPreview    string                    `json:"raw_text_preview"`
}

// ProcessTicketResponse combines extraction and the optional ingestion
type ProcessTicketResponse struct {
	OCR       OCRSummary               `json:"ocr"`
	Ingestion *models.IngestionSummary `json:"ingestion"`
}

// IngestRequest carries an extraction produced elsewhere
type IngestRequest struct {
	FileName       string            `json:"file_name" binding:"required"`
	FileContentB64 string            `json:"file_content_b64" binding:"required"`
	Extraction     models.Extraction `json:"extraction"`
}

// SubmitResponse acknowledges an asynchronous submission
type SubmitResponse struct {
	TicketID string `json:"ticket_id"`
	Status   string `json:"status"`
}

// ProcessTicket runs extraction for the authenticated user and, when the
// request names that user, ingests the result.
func (s *TicketService) ProcessTicket(ctx context.Context, authUser string, req *ProcessTicketRequest) (*ProcessTicketResponse, error) {
	ctx, span := util.StartSpan(ctx, "TicketService.ProcessTicket")
	defer span.End()

	if err := s.checkUpload(authUser, req); err != nil {
		return nil, err
	}
	if req.TicketID == "" {
		req.TicketID = uuid.New().String()
	}

	s.logger.Info("Processing ticket",
		zap.String("ticket_id", req.TicketID),
		zap.String("file_name", req.FileName),
		zap.String("user_email", authUser))

	ext, err := s.extract(ctx, req)
	if err != nil {
		util.RecordError(ctx, err)
		return nil, err
	}

	resp := &ProcessTicketResponse{OCR: summarize(ext)}
	if req.UserEmail == "" {
		s.logger.Info("Ingestion not requested", zap.String("ticket_id", req.TicketID))
		return resp, nil
	}

	summary, err := s.ingestor.Ingest(ctx, authUser, req.FileContentB64, req.FileName, ext)
	if err != nil {
		return nil, err
	}
	resp.Ingestion = summary
	return resp, nil
}

// IngestExtraction ingests a caller-provided extraction
func (s *TicketService) IngestExtraction(ctx context.Context, authUser string, req *IngestRequest) (*models.IngestionSummary, error) {
	if authUser == "" {
		return nil, apperr.New(apperr.Unauthorized, "missing authenticated user")
	}
	return s.ingestor.Ingest(ctx, authUser, req.FileContentB64, req.FileName, &req.Extraction)
}

// Submit stages the upload and queues it for background ingestion
func (s *TicketService) Submit(ctx context.Context, authUser string, req *ProcessTicketRequest) (*SubmitResponse, error) {
	ctx, span := util.StartSpan(ctx, "TicketService.Submit")
	defer span.End()

	if s.uploads == nil || s.publisher == nil {
		return nil, apperr.New(apperr.TransientUpstreamFailure, "asynchronous submission is not available")
	}
	if err := s.checkUpload(authUser, req); err != nil {
		return nil, err
	}

	content, err := normalize.DecodeAttachment(req.FileContentB64)
	if err != nil {
		return nil, err
	}
	if err := normalize.ValidateAttachment(req.FileName, len(content)); err != nil {
		return nil, err
	}

	if req.TicketID == "" {
		req.TicketID = uuid.New().String()
	}

	key, err := s.uploads.StageUpload(ctx, &redisclient.StagedUpload{
		TicketID:       req.TicketID,
		UserEmail:      authUser,
		FileName:       req.FileName,
		MimeType:       req.MimeType,
		FileContentB64: req.FileContentB64,
	}, s.opts.StagingTTL)
	if errors.Is(err, redisclient.ErrAlreadyStaged) {
		return nil, apperr.New(apperr.DuplicateRecord, "ticket %s is already submitted", req.TicketID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientUpstreamFailure, err, "failed to stage ticket")
	}

	event := &models.TicketSubmittedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeTicketSubmitted,
			Timestamp: time.Now(),
		},
		TicketID:   req.TicketID,
		UserEmail:  authUser,
		FileName:   req.FileName,
		MimeType:   req.MimeType,
		StagingKey: key,
	}
	if err := s.publisher.PublishTicketSubmitted(ctx, event); err != nil {
		if delErr := s.uploads.DeleteUpload(ctx, key); delErr != nil {
			s.logger.Warn("Failed to discard staged upload", zap.String("key", key), zap.Error(delErr))
		}
		return nil, apperr.Wrap(apperr.TransientUpstreamFailure, err, "failed to queue ticket")
	}

	util.TicketsSubmittedTotal.Inc()
	s.logger.Info("Ticket submitted",
		zap.String("ticket_id", req.TicketID),
		zap.String("user_email", authUser))

	return &SubmitResponse{TicketID: req.TicketID, Status: "accepted"}, nil
}

// ProcessSubmitted ingests a staged upload. Events are processed once;
// failures that may succeed later are returned for the caller to retry,
// every other failure is published as a rejection.
func (s *TicketService) ProcessSubmitted(ctx context.Context, event *models.TicketSubmittedEvent) error {
	ctx, span := util.StartSpan(ctx, "TicketService.ProcessSubmitted")
	defer span.End()

	logger := s.logger.With(zap.String("event_id", event.EventID), zap.String("ticket_id", event.TicketID))

	processed, err := s.repo.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if processed {
		logger.Info("Event already processed, skipping")
		return nil
	}

	upload, err := s.uploads.LoadUpload(ctx, event.StagingKey)
	if errors.Is(err, redisclient.ErrNotFound) {
		return s.reject(ctx, event, apperr.New(apperr.NotFound, "staged upload %s expired", event.StagingKey))
	}
	if err != nil {
		return err
	}

	ext, err := s.extract(ctx, &ProcessTicketRequest{
		TicketID:       upload.TicketID,
		FileName:       upload.FileName,
		FileContentB64: upload.FileContentB64,
		MimeType:       upload.MimeType,
	})
	if err == nil {
		_, err = s.ingestor.Ingest(ctx, upload.UserEmail, upload.FileContentB64, upload.FileName, ext)
	}
	if err != nil {
		if retryLater(err) {
			logger.Warn("Submitted ticket will be retried", zap.Error(err))
			return err
		}
		return s.reject(ctx, event, err)
	}

	return s.finish(ctx, event)
}

// RejectSubmitted gives up on a submission that kept failing: it publishes
// TICKET_REJECTED with the kind of cause and marks the event processed.
func (s *TicketService) RejectSubmitted(ctx context.Context, event *models.TicketSubmittedEvent, cause error) error {
	processed, err := s.repo.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if processed {
		return nil
	}
	return s.reject(ctx, event, cause)
}

// History lists the purchases of a user, newest first
func (s *TicketService) History(ctx context.Context, userEmail string, limit, offset int) ([]models.TicketHistoryItem, error) {
	if userEmail == "" {
		return nil, apperr.New(apperr.Unauthorized, "missing authenticated user")
	}
	return s.repo.TicketHistory(ctx, userEmail, limit, offset)
}

// Document returns the original attachment of a purchase owned by userEmail.
// Purchases of other users are reported as not found.
func (s *TicketService) Document(ctx context.Context, userEmail, invoice string) (*models.PurchaseDocument, error) {
	if userEmail == "" {
		return nil, apperr.New(apperr.Unauthorized, "missing authenticated user")
	}
	invoice = normalize.InvoiceNumber(invoice)

	purchase, err := s.repo.GetPurchase(ctx, invoice)
	if err != nil {
		return nil, err
	}
	if purchase == nil || purchase.UserEmail != userEmail {
		return nil, apperr.New(apperr.NotFound, "ticket %s not found", invoice)
	}

	doc, err := s.repo.GetDocument(ctx, invoice)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, apperr.New(apperr.NotFound, "ticket %s has no document", invoice)
	}
	return doc, nil
}

func (s *TicketService) checkUpload(authUser string, req *ProcessTicketRequest) error {
	if authUser == "" {
		return apperr.New(apperr.Unauthorized, "missing authenticated user")
	}
	if req.MimeType != "" && !strings.HasPrefix(req.MimeType, "image/") && req.MimeType != "application/pdf" {
		return apperr.New(apperr.BadRequest, "unsupported format %s, only PDF or image files are accepted", req.MimeType)
	}
	if req.UserEmail != "" && req.UserEmail != authUser {
		return apperr.New(apperr.Unauthorized, "cannot process tickets of another user")
	}
	return nil
}

// extract returns the extraction of the document, from cache when possible
func (s *TicketService) extract(ctx context.Context, req *ProcessTicketRequest) (*models.Extraction, error) {
	content, err := normalize.DecodeAttachment(req.FileContentB64)
	if err != nil {
		return nil, err
	}
	digest := redisclient.DocumentKey(content)

	if s.cache != nil {
		cached, err := s.cache.GetExtraction(ctx, digest)
		switch {
		case err != nil:
			util.ExtractionCacheTotal.WithLabelValues("error").Inc()
			s.logger.Warn("Extraction cache unavailable", zap.Error(err))
		case cached != nil:
			util.ExtractionCacheTotal.WithLabelValues("hit").Inc()
			cached.TicketID = req.TicketID
			s.logExtraction(cached)
			return cached, nil
		default:
			util.ExtractionCacheTotal.WithLabelValues("miss").Inc()
		}
	}

	ext, err := s.extractor.ProcessTicket(ctx, &models.ProcessTicketRequest{
		TicketID:       req.TicketID,
		FileName:       req.FileName,
		FileContentB64: req.FileContentB64,
		MimeType:       req.MimeType,
	})
	if err != nil {
		return nil, err
	}
	if ext.TicketID == "" {
		ext.TicketID = req.TicketID
	}
	s.logExtraction(ext)

	if s.cache != nil {
		if err := s.cache.SetExtraction(ctx, digest, ext, s.opts.CacheTTL); err != nil {
			s.logger.Warn("Failed to cache extraction", zap.Error(err))
		}
	}
	return ext, nil
}

func (s *TicketService) logExtraction(ext *models.Extraction) {
	fields := []zap.Field{
		zap.String("ticket_id", ext.TicketID),
		zap.Int("products", len(ext.Products)),
	}
	if ext.InvoiceNumber != nil {
		fields = append(fields, zap.String("invoice", *ext.InvoiceNumber))
	}
	if ext.Total != nil {
		fields = append(fields, zap.Float64("total", *ext.Total))
	}
	if ext.ProcessingProfile != nil {
		fields = append(fields, zap.String("profile", *ext.ProcessingProfile))
	}
	s.logger.Info("Extraction completed", fields...)

	for _, b := range ext.VATBreakdown {
		s.logger.Info("VAT bracket",
			zap.String("ticket_id", ext.TicketID),
			zap.Float64("percentage", b.Percentage),
			zap.Float64("tax_base", b.TaxBase),
			zap.Float64("amount", b.Amount))
	}

	for _, w := range ext.Warnings {
		s.logger.Warn("Extraction warning", zap.String("ticket_id", ext.TicketID), zap.String("warning", w))
	}
}

func (s *TicketService) reject(ctx context.Context, event *models.TicketSubmittedEvent, cause error) error {
	s.logger.Warn("Submitted ticket rejected",
		zap.String("ticket_id", event.TicketID),
		zap.String("kind", string(apperr.KindOf(cause))),
		zap.Error(cause))

	rejected := &models.TicketRejectedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeTicketRejected,
			Timestamp: time.Now(),
		},
		TicketID:  event.TicketID,
		UserEmail: event.UserEmail,
		Kind:      string(apperr.KindOf(cause)),
		Reason:    apperr.PublicMessage(cause),
	}
	if err := s.publisher.PublishTicketRejected(ctx, rejected); err != nil {
		s.logger.Error("Failed to publish TicketRejected event", zap.Error(err))
	}
	return s.finish(ctx, event)
}

func (s *TicketService) finish(ctx context.Context, event *models.TicketSubmittedEvent) error {
	if err := s.repo.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		return err
	}
	if err := s.uploads.DeleteUpload(ctx, event.StagingKey); err != nil {
		s.logger.Warn("Failed to delete staged upload", zap.String("key", event.StagingKey), zap.Error(err))
	}
	return nil
}

// retryLater reports failures caused by unavailable infrastructure
func retryLater(err error) bool {
	return apperr.IsRetryable(err) || apperr.IsKind(err, apperr.Internal)
}

func summarize(ext *models.Extraction) OCRSummary {
	preview := []rune(ext.RawText)
	if len(preview) > rawTextPreviewRunes {
		preview = preview[:rawTextPreviewRunes]
	}

	products := ext.Products
	if products == nil {
		products = []models.ExtractedProduct{}
	}
	warnings := ext.Warnings
	if warnings == nil {
		warnings = []string{}
	}

	return OCRSummary{
		TicketID:          ext.TicketID,
		InvoiceNumber:     ext.InvoiceNumber,
		Date:              ext.Date,
		Total:             ext.Total,
		ProductsDetected:  len(ext.Products),
		Products:          products,
		Store:             ext.Store,
		ProcessingProfile: ext.ProcessingProfile,
		Warnings:          warnings,
		RawTextPreview:    string(preview),
	}
}
