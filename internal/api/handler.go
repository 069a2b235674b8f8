package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ticket-service/internal/apperr"
	"ticket-service/internal/service"
	"ticket-service/internal/util"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HeaderUserEmail carries the caller identity set by the upstream auth layer
const HeaderUserEmail = "X-User-Email"

const userKey = "user_email"

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	ticketService *service.TicketService
	store         Pinger
	logger        *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(ticketService *service.TicketService, store Pinger) *Handler {
	return &Handler{
		ticketService: ticketService,
		store:         store,
		logger:        util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", requireUser())
	{
		v1.POST("/tickets/process", h.processTicket)
		v1.POST("/tickets/ingest", h.ingestTicket)
		v1.POST("/tickets/submit", h.submitTicket)
		v1.GET("/tickets/history", h.ticketHistory)
		v1.GET("/tickets/:invoice/document", h.ticketDocument)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when the store answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Readiness check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// processTicket runs extraction and optional ingestion
func (h *Handler) processTicket(c *gin.Context) {
	var req service.ProcessTicketRequest
	if !bind(c, &req) {
		return
	}

	resp, err := h.ticketService.ProcessTicket(c.Request.Context(), c.GetString(userKey), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ingestTicket ingests a caller-provided extraction
func (h *Handler) ingestTicket(c *gin.Context) {
	var req service.IngestRequest
	if !bind(c, &req) {
		return
	}

	summary, err := h.ticketService.IngestExtraction(c.Request.Context(), c.GetString(userKey), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, summary)
}

// submitTicket queues a ticket for background ingestion
func (h *Handler) submitTicket(c *gin.Context) {
	var req service.ProcessTicketRequest
	if !bind(c, &req) {
		return
	}

	resp, err := h.ticketService.Submit(c.Request.Context(), c.GetString(userKey), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

// ticketHistory lists the caller's purchases
func (h *Handler) ticketHistory(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}

	items, err := h.ticketService.History(c.Request.Context(), c.GetString(userKey), limit, offset)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tickets": items,
		"count":   len(items),
	})
}

// ticketDocument downloads the original attachment
func (h *Handler) ticketDocument(c *gin.Context) {
	doc, err := h.ticketService.Document(c.Request.Context(), c.GetString(userKey), c.Param("invoice"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.FileName))
	c.Data(http.StatusOK, mimetype.Detect(doc.Content).String(), doc.Content)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}

	c.JSON(status, gin.H{
		"error": apperr.PublicMessage(err),
	})
}

func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return false
	}
	return true
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid %s", key),
		})
		return 0, false
	}
	return v, true
}

// requireUser rejects requests without an authenticated caller
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		email := c.GetHeader(HeaderUserEmail)
		if email == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing authenticated user",
			})
			return
		}
		c.Set(userKey, email)
		c.Next()
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
