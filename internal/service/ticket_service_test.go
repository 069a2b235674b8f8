package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"ticket-service/internal/apperr"
	"ticket-service/internal/models"
	"ticket-service/internal/redisclient"
	"ticket-service/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeExtractor struct {
	ext   *models.Extraction
	err   error
	calls int
}

func (f *fakeExtractor) ProcessTicket(ctx context.Context, req *models.ProcessTicketRequest) (*models.Extraction, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	ext := *f.ext
	return &ext, nil
}

type fakeCache struct {
	entries map[string]models.Extraction
	getErr  error
}

func (c *fakeCache) GetExtraction(ctx context.Context, digest string) (*models.Extraction, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	e, ok := c.entries[digest]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (c *fakeCache) SetExtraction(ctx context.Context, digest string, e *models.Extraction, ttl time.Duration) error {
	c.entries[digest] = *e
	return nil
}

type fakeStager struct {
	uploads map[string]redisclient.StagedUpload
}

func (s *fakeStager) StageUpload(ctx context.Context, u *redisclient.StagedUpload, ttl time.Duration) (string, error) {
	key := redisclient.UploadKey(u.TicketID)
	if _, ok := s.uploads[key]; ok {
		return "", fmt.Errorf("ticket %s: %w", u.TicketID, redisclient.ErrAlreadyStaged)
	}
	s.uploads[key] = *u
	return key, nil
}

func (s *fakeStager) LoadUpload(ctx context.Context, key string) (*redisclient.StagedUpload, error) {
	u, ok := s.uploads[key]
	if !ok {
		return nil, redisclient.ErrNotFound
	}
	return &u, nil
}

func (s *fakeStager) DeleteUpload(ctx context.Context, key string) error {
	delete(s.uploads, key)
	return nil
}

type fixture struct {
	svc       *TicketService
	repo      *memory.Store
	extractor *fakeExtractor
	cache     *fakeCache
	stager    *fakeStager
	publisher *recordingPublisher
}

func newFixture() *fixture {
	f := &fixture{
		repo:      memory.New(),
		extractor: &fakeExtractor{ext: breadTicket()},
		cache:     &fakeCache{entries: map[string]models.Extraction{}},
		stager:    &fakeStager{uploads: map[string]redisclient.StagedUpload{}},
		publisher: &recordingPublisher{},
	}
	ingestor := NewIngestor(f.repo, f.publisher, time.UTC)
	f.svc = NewTicketService(f.repo, ingestor, f.extractor, f.cache, f.stager, f.publisher, Options{})
	return f
}

func uploadRequest() *ProcessTicketRequest {
	return &ProcessTicketRequest{
		TicketID:       "t-1",
		FileName:       "ticket.pdf",
		FileContentB64: pdfB64,
		MimeType:       "application/pdf",
	}
}

func TestProcessTicketWithoutIngestion(t *testing.T) {
	f := newFixture()
	f.extractor.ext.RawText = strings.Repeat("ñ", 400)

	resp, err := f.svc.ProcessTicket(context.Background(), testUser, uploadRequest())
	require.NoError(t, err)

	assert.Nil(t, resp.Ingestion)
	assert.Equal(t, "t-1", resp.OCR.TicketID)
	assert.Equal(t, 1, resp.OCR.ProductsDetected)
	assert.Equal(t, 320, len([]rune(resp.OCR.RawTextPreview)))
	assert.NotNil(t, resp.OCR.Warnings)

	purchases, _, _, _ := f.repo.Counts()
	assert.Zero(t, purchases)
}

func TestProcessTicketIngestsForAuthenticatedUser(t *testing.T) {
	f := newFixture()
	req := uploadRequest()
	req.UserEmail = testUser

	resp, err := f.svc.ProcessTicket(context.Background(), testUser, req)
	require.NoError(t, err)
	require.NotNil(t, resp.Ingestion)
	assert.Equal(t, "A-001", resp.Ingestion.InvoiceNumber)

	purchase, err := f.repo.GetPurchase(context.Background(), "A-001")
	require.NoError(t, err)
	assert.Equal(t, testUser, purchase.UserEmail)
}

func TestProcessTicketChecksUpload(t *testing.T) {
	f := newFixture()

	req := uploadRequest()
	req.UserEmail = "someone@example.com"
	_, err := f.svc.ProcessTicket(context.Background(), testUser, req)
	assert.True(t, apperr.IsKind(err, apperr.Unauthorized))

	req = uploadRequest()
	req.MimeType = "text/plain"
	_, err = f.svc.ProcessTicket(context.Background(), testUser, req)
	assert.True(t, apperr.IsKind(err, apperr.BadRequest))

	req = uploadRequest()
	req.MimeType = "image/webp"
	_, err = f.svc.ProcessTicket(context.Background(), testUser, req)
	assert.NoError(t, err)

	_, err = f.svc.ProcessTicket(context.Background(), "", uploadRequest())
	assert.True(t, apperr.IsKind(err, apperr.Unauthorized))

	assert.Equal(t, 1, f.extractor.calls)
}

func TestProcessTicketLogsVATBreakdown(t *testing.T) {
	f := newFixture()
	core, logs := observer.New(zapcore.InfoLevel)
	f.svc.logger = zap.New(core)
	f.extractor.ext.VATBreakdown = []models.VATBreakdown{
		{Percentage: 10, TaxBase: 9.09, Amount: 0.91},
		{Percentage: 21, TaxBase: 4.13, Amount: 0.87},
	}

	_, err := f.svc.ProcessTicket(context.Background(), testUser, uploadRequest())
	require.NoError(t, err)

	brackets := logs.FilterMessage("VAT bracket").All()
	require.Len(t, brackets, 2)
	assert.Equal(t, 21.0, brackets[1].ContextMap()["percentage"])
	assert.Equal(t, 0.87, brackets[1].ContextMap()["amount"])
}

func TestProcessTicketUsesExtractionCache(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.ProcessTicket(ctx, testUser, uploadRequest())
	require.NoError(t, err)

	req := uploadRequest()
	req.TicketID = "t-2"
	resp, err := f.svc.ProcessTicket(ctx, testUser, req)
	require.NoError(t, err)

	assert.Equal(t, 1, f.extractor.calls)
	assert.Equal(t, "t-2", resp.OCR.TicketID)
}

func TestProcessTicketCacheFailureDegradesToMiss(t *testing.T) {
	f := newFixture()
	f.cache.getErr = errors.New("connection refused")

	_, err := f.svc.ProcessTicket(context.Background(), testUser, uploadRequest())
	require.NoError(t, err)
	_, err = f.svc.ProcessTicket(context.Background(), testUser, uploadRequest())
	require.NoError(t, err)

	assert.Equal(t, 2, f.extractor.calls)
}

func TestProcessTicketPropagatesExtractorError(t *testing.T) {
	f := newFixture()
	f.extractor.err = apperr.New(apperr.UpstreamRejected, "unreadable image")

	_, err := f.svc.ProcessTicket(context.Background(), testUser, uploadRequest())
	assert.True(t, apperr.IsKind(err, apperr.UpstreamRejected))
}

func TestIngestExtraction(t *testing.T) {
	f := newFixture()

	summary, err := f.svc.IngestExtraction(context.Background(), testUser, &IngestRequest{
		FileName:       "ticket.png",
		FileContentB64: pdfB64,
		Extraction:     *breadTicket(),
	})
	require.NoError(t, err)
	assert.Equal(t, "A-001", summary.InvoiceNumber)
	assert.Zero(t, f.extractor.calls)
}

func TestSubmitAndProcessSubmitted(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	resp, err := f.svc.Submit(ctx, testUser, uploadRequest())
	require.NoError(t, err)
	assert.Equal(t, "t-1", resp.TicketID)
	assert.Equal(t, "accepted", resp.Status)

	require.Len(t, f.publisher.submitted, 1)
	event := f.publisher.submitted[0]
	assert.Equal(t, models.EventTypeTicketSubmitted, event.EventType)
	assert.Equal(t, testUser, event.UserEmail)
	assert.Contains(t, f.stager.uploads, event.StagingKey)

	require.NoError(t, f.svc.ProcessSubmitted(ctx, event))

	purchase, err := f.repo.GetPurchase(ctx, "A-001")
	require.NoError(t, err)
	require.NotNil(t, purchase)
	assert.Equal(t, testUser, purchase.UserEmail)

	processed, err := f.repo.IsEventProcessed(ctx, event.EventID)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.NotContains(t, f.stager.uploads, event.StagingKey)
	require.Len(t, f.publisher.ingested, 1)

	require.NoError(t, f.svc.ProcessSubmitted(ctx, event))
	assert.Equal(t, 1, f.extractor.calls)
	assert.Empty(t, f.publisher.rejected)
}

func TestSubmitValidatesAttachment(t *testing.T) {
	f := newFixture()

	req := uploadRequest()
	req.FileName = "ticket.exe"
	_, err := f.svc.Submit(context.Background(), testUser, req)
	assert.True(t, apperr.IsKind(err, apperr.AttachmentRejected))

	req = uploadRequest()
	req.FileContentB64 = base64.StdEncoding.EncodeToString(make([]byte, 10*1024*1024+1))
	_, err = f.svc.Submit(context.Background(), testUser, req)
	assert.True(t, apperr.IsKind(err, apperr.AttachmentRejected))

	assert.Empty(t, f.stager.uploads)
	assert.Empty(t, f.publisher.submitted)
}

func TestSubmitDiscardsStagingWhenPublishFails(t *testing.T) {
	f := newFixture()
	f.publisher.err = errors.New("broker down")

	_, err := f.svc.Submit(context.Background(), testUser, uploadRequest())
	assert.True(t, apperr.IsKind(err, apperr.TransientUpstreamFailure))
	assert.Empty(t, f.stager.uploads)
}

func TestSubmitRejectsResubmittedTicket(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, testUser, uploadRequest())
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, testUser, uploadRequest())
	assert.True(t, apperr.IsKind(err, apperr.DuplicateRecord))
	assert.Equal(t, http.StatusConflict, apperr.HTTPStatus(err))
	assert.Len(t, f.publisher.submitted, 1)
	assert.Len(t, f.stager.uploads, 1)
}

func TestSubmitUnavailableWithoutStaging(t *testing.T) {
	repo := memory.New()
	svc := NewTicketService(repo, NewIngestor(repo, nil, time.UTC), &fakeExtractor{ext: breadTicket()}, nil, nil, nil, Options{})

	_, err := svc.Submit(context.Background(), testUser, uploadRequest())
	assert.True(t, apperr.IsKind(err, apperr.TransientUpstreamFailure))
}

func TestProcessSubmittedPublishesRejection(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.ProcessTicket(ctx, testUser, &ProcessTicketRequest{
		TicketID: "t-0", FileName: "first.pdf", FileContentB64: base64.StdEncoding.EncodeToString([]byte("%PDF first")), UserEmail: testUser,
	})
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, testUser, uploadRequest())
	require.NoError(t, err)
	event := f.publisher.submitted[0]

	require.NoError(t, f.svc.ProcessSubmitted(ctx, event))

	require.Len(t, f.publisher.rejected, 1)
	assert.Equal(t, string(apperr.DuplicateRecord), f.publisher.rejected[0].Kind)
	assert.Equal(t, "t-1", f.publisher.rejected[0].TicketID)

	processed, err := f.repo.IsEventProcessed(ctx, event.EventID)
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestProcessSubmittedExpiredUpload(t *testing.T) {
	f := newFixture()
	event := &models.TicketSubmittedEvent{
		BaseEvent:  models.BaseEvent{EventID: "evt-gone", EventType: models.EventTypeTicketSubmitted},
		TicketID:   "t-9",
		StagingKey: redisclient.UploadKey("t-9"),
	}

	require.NoError(t, f.svc.ProcessSubmitted(context.Background(), event))
	require.Len(t, f.publisher.rejected, 1)
	assert.Equal(t, string(apperr.NotFound), f.publisher.rejected[0].Kind)
	assert.Zero(t, f.extractor.calls)
}

func TestProcessSubmittedRetriesTransientFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.extractor.err = apperr.New(apperr.TransientUpstreamFailure, "extraction service unavailable after retries")

	_, err := f.svc.Submit(ctx, testUser, uploadRequest())
	require.NoError(t, err)
	event := f.publisher.submitted[0]

	err = f.svc.ProcessSubmitted(ctx, event)
	assert.True(t, apperr.IsRetryable(err))

	processed, err := f.repo.IsEventProcessed(ctx, event.EventID)
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Contains(t, f.stager.uploads, event.StagingKey)
	assert.Empty(t, f.publisher.rejected)
}

func TestRejectSubmittedAfterRetries(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.extractor.err = apperr.New(apperr.TransientUpstreamFailure, "extraction service unavailable after retries")

	_, err := f.svc.Submit(ctx, testUser, uploadRequest())
	require.NoError(t, err)
	event := f.publisher.submitted[0]

	cause := f.svc.ProcessSubmitted(ctx, event)
	require.Error(t, cause)
	require.NoError(t, f.svc.RejectSubmitted(ctx, event, cause))

	require.Len(t, f.publisher.rejected, 1)
	assert.Equal(t, string(apperr.TransientUpstreamFailure), f.publisher.rejected[0].Kind)
	assert.Equal(t, "t-1", f.publisher.rejected[0].TicketID)

	processed, err := f.repo.IsEventProcessed(ctx, event.EventID)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.NotContains(t, f.stager.uploads, event.StagingKey)

	require.NoError(t, f.svc.RejectSubmitted(ctx, event, cause))
	require.NoError(t, f.svc.ProcessSubmitted(ctx, event))
	assert.Len(t, f.publisher.rejected, 1)
	assert.Equal(t, 1, f.extractor.calls)
}

func TestHistoryAndDocument(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	req := uploadRequest()
	req.UserEmail = testUser
	_, err := f.svc.ProcessTicket(ctx, testUser, req)
	require.NoError(t, err)

	history, err := f.svc.History(ctx, testUser, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "A-001", history[0].InvoiceNumber)
	assert.Equal(t, int64(1), history[0].ItemCount)

	other, err := f.svc.History(ctx, "other@example.com", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, other)

	doc, err := f.svc.Document(ctx, testUser, "a-001")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 ticket"), doc.Content)

	_, err = f.svc.Document(ctx, "other@example.com", "A-001")
	assert.True(t, apperr.IsKind(err, apperr.NotFound))

	_, err = f.svc.Document(ctx, testUser, "B-404")
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
}
