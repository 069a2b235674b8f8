package redisclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ticket-service/internal/models"

	"github.com/go-redis/redis/v8"
)

const (
	extractionKeyPrefix = "ocr:extraction:"
	uploadKeyPrefix     = "ticket:upload:"
)

// ErrNotFound is returned when a staged upload has expired or never existed
var ErrNotFound = errors.New("redis: key not found")

// ErrAlreadyStaged is returned when a ticket id already has a staged upload
var ErrAlreadyStaged = errors.New("redis: upload already staged")

type Client struct {
	rdb redis.UniversalClient
}

// NewClient creates a new Redis client and checks connectivity
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewClientFrom wraps an existing connection
func NewClientFrom(rdb redis.UniversalClient) *Client {
	return &Client{rdb: rdb}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() redis.UniversalClient {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// DocumentKey returns the content address of a decoded document
func DocumentKey(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// GetExtraction returns a cached extraction for the document digest.
// A miss is reported as (nil, nil).
func (c *Client) GetExtraction(ctx context.Context, digest string) (*models.Extraction, error) {
	data, err := c.rdb.Get(ctx, extractionKeyPrefix+digest).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached extraction: %w", err)
	}

	var extraction models.Extraction
	if err := json.Unmarshal(data, &extraction); err != nil {
		return nil, fmt.Errorf("decode cached extraction: %w", err)
	}
	return &extraction, nil
}

// SetExtraction caches an extraction under the document digest
func (c *Client) SetExtraction(ctx context.Context, digest string, extraction *models.Extraction, ttl time.Duration) error {
	data, err := json.Marshal(extraction)
	if err != nil {
		return fmt.Errorf("encode extraction: %w", err)
	}
	return c.rdb.Set(ctx, extractionKeyPrefix+digest, data, ttl).Err()
}

// StagedUpload is an attachment waiting for background ingestion
type StagedUpload struct {
	TicketID       string `json:"ticket_id"`
	UserEmail      string `json:"user_email"`
	FileName       string `json:"file_name"`
	MimeType       string `json:"mime_type,omitempty"`
	FileContentB64 string `json:"file_content_b64"`
}

// UploadKey returns the staging key of a ticket
func UploadKey(ticketID string) string {
	return uploadKeyPrefix + ticketID
}

// StageUpload stores an upload until the worker picks it up
func (c *Client) StageUpload(ctx context.Context, upload *StagedUpload, ttl time.Duration) (string, error) {
	data, err := json.Marshal(upload)
	if err != nil {
		return "", fmt.Errorf("encode upload: %w", err)
	}

	key := UploadKey(upload.TicketID)
	ok, err := c.rdb.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("stage upload: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("ticket %s: %w", upload.TicketID, ErrAlreadyStaged)
	}
	return key, nil
}

// LoadUpload reads a staged upload
func (c *Client) LoadUpload(ctx context.Context, key string) (*StagedUpload, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load upload: %w", err)
	}

	var upload StagedUpload
	if err := json.Unmarshal(data, &upload); err != nil {
		return nil, fmt.Errorf("decode upload: %w", err)
	}
	return &upload, nil
}

// DeleteUpload removes a staged upload once it has been processed
func (c *Client) DeleteUpload(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}
