package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"ticket-service/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentKeyIsContentAddressed(t *testing.T) {
	a := DocumentKey([]byte("%PDF-1.4 ticket"))
	b := DocumentKey([]byte("%PDF-1.4 ticket"))
	c := DocumentKey([]byte("%PDF-1.4 other"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestUploadKey(t *testing.T) {
	assert.Equal(t, "ticket:upload:t-1", UploadKey("t-1"))
}

func newIntegrationClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Integration test - requires TEST_REDIS_ADDR")
	}

	c, err := NewClient(addr, os.Getenv("TEST_REDIS_PASSWORD"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestExtractionCacheRoundTrip(t *testing.T) {
	c := newIntegrationClient(t)
	ctx := context.Background()
	digest := DocumentKey([]byte(uuid.New().String()))

	got, err := c.GetExtraction(ctx, digest)
	require.NoError(t, err)
	assert.Nil(t, got)

	invoice := "A-001"
	require.NoError(t, c.SetExtraction(ctx, digest, &models.Extraction{TicketID: "t-1", InvoiceNumber: &invoice}, time.Minute))

	got, err = c.GetExtraction(ctx, digest)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "A-001", *got.InvoiceNumber)
}

func TestStageUploadLifecycle(t *testing.T) {
	c := newIntegrationClient(t)
	ctx := context.Background()
	upload := &StagedUpload{TicketID: uuid.New().String(), UserEmail: "u@example.com", FileName: "t.pdf", FileContentB64: "JVBERg=="}

	key, err := c.StageUpload(ctx, upload, time.Minute)
	require.NoError(t, err)

	_, err = c.StageUpload(ctx, upload, time.Minute)
	assert.ErrorIs(t, err, ErrAlreadyStaged)

	loaded, err := c.LoadUpload(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, upload.UserEmail, loaded.UserEmail)

	require.NoError(t, c.DeleteUpload(ctx, key))
	_, err = c.LoadUpload(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}
