package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"checkpoint-service/internal/config"
	"checkpoint-service/internal/domain/checkpoint"
	"checkpoint-service/internal/feed"
	"checkpoint-service/internal/service"
)

type Handler struct {
	ingestion *service.IngestionService
	passages  *service.PassageService
	processor *service.ProcessorService
	config    *config.Config
	log       zerolog.Logger
}

func NewHandler(
	ingestion *service.IngestionService,
	passages *service.PassageService,
	processor *service.ProcessorService,
	cfg *config.Config,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		ingestion: ingestion,
		passages:  passages,
		processor: processor,
		config:    cfg,
		log:       log.With().Str("component", "http").Logger(),
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// Public endpoints: camera push and read-only gate queries
	public := r.Group("/api/v1")
	{
		public.GET("/health", h.health)
		public.POST("/detections", h.createDetection)
		public.GET("/detections", h.listDetections)
		public.GET("/plates/:plate", h.lookupPlate)
		public.POST("/pricing/quote", h.quote)
	}

	// Operator endpoints
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.POST("/ingest/poll", h.pollFeed)
		protected.POST("/detections/process", h.processDetections)
		protected.POST("/detections/:id/confirm", h.confirmDetection)
		protected.POST("/passages/entry", h.entry)
		protected.POST("/passages/exit", h.exit)
		protected.POST("/passages/:id/payment", h.confirmPayment)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) createDetection(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	item, err := feed.DecodeItem(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid detection payload"))
		return
	}

	target := h.config.Camera.Target()
	if id := feed.IntField(item.RawPayload, "station_id"); id != 0 {
		target.StationID = id
	}
	if id := feed.IntField(item.RawPayload, "gate_id"); id != 0 {
		target.GateID = id
	}

	stored, detection, err := h.ingestion.Accept(c.Request.Context(), target, item)
	if err != nil {
		h.handleError(c, err)
		return
	}

	status := http.StatusCreated
	if !stored {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"status":       "ok",
		"stored":       stored,
		"detection_id": detection.ID,
	})
}

func (h *Handler) listDetections(c *gin.Context) {
	var filter checkpoint.DetectionFilter
	if s := strings.TrimSpace(c.Query("status")); s != "" {
		status := checkpoint.ProcessingStatus(s)
		filter.Status = &status
	}
	if plate := strings.TrimSpace(c.Query("plate")); plate != "" {
		filter.Plate = &plate
	}

	filter.Limit = 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}
	if o := c.Query("offset"); o != "" {
		if parsed, err := parseInt(o); err == nil && parsed >= 0 {
			filter.Offset = parsed
		}
	}

	detections, err := h.processor.ListDetections(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(detections))
}

func (h *Handler) lookupPlate(c *gin.Context) {
	lookup, err := h.passages.QuickPlateLookup(c.Request.Context(), c.Param("plate"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(lookup))
}

type quoteRequest struct {
	Plate      string `json:"plate" binding:"required"`
	GateID     int64  `json:"gate_id" binding:"required"`
	BodyTypeID *int64 `json:"body_type_id"`
	AccountID  *int64 `json:"account_id"`
}

func (h *Handler) quote(c *gin.Context) {
	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	quote, err := h.passages.PreviewEntry(c.Request.Context(), checkpoint.PassageRequest{
		Plate:  req.Plate,
		GateID: req.GateID,
		Extra:  checkpoint.PassageExtra{BodyTypeID: req.BodyTypeID, AccountID: req.AccountID},
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(quote))
}

type pollRequest struct {
	Since *time.Time `json:"since"`
}

func (h *Handler) pollFeed(c *gin.Context) {
	var req pollRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
	}

	target := h.config.Camera.Target()
	if target.URL == "" {
		c.JSON(http.StatusBadRequest, errorResponse("camera feed is not configured"))
		return
	}

	result := h.ingestion.Ingest(c.Request.Context(), target, req.Since)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	c.JSON(status, successResponse(result))
}

func (h *Handler) processDetections(c *gin.Context) {
	summary, err := h.processor.ProcessPending(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(summary))
}

type confirmRequest struct {
	Action string                  `json:"action"`
	Extra  checkpoint.PassageExtra `json:"extra"`
}

func (h *Handler) confirmDetection(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid detection id"))
		return
	}

	var req confirmRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
	}

	result, err := h.processor.ConfirmDetection(c.Request.Context(), checkpoint.ConfirmRequest{
		DetectionID: id,
		OperatorID:  operatorFrom(c),
		Action:      checkpoint.ConfirmAction(req.Action),
		Extra:       req.Extra,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	if !result.Succeeded() {
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"reason":  result.Reason,
			"message": result.Message,
			"data":    result,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

type passageRequest struct {
	Plate  string                  `json:"plate" binding:"required"`
	GateID int64                   `json:"gate_id" binding:"required"`
	Extra  checkpoint.PassageExtra `json:"extra"`
}

func (r passageRequest) toDomain(operatorID *int64) checkpoint.PassageRequest {
	return checkpoint.PassageRequest{
		Plate:      r.Plate,
		GateID:     r.GateID,
		OperatorID: operatorID,
		Extra:      r.Extra,
	}
}

func (h *Handler) entry(c *gin.Context) {
	var req passageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	result, err := h.passages.ProcessVehicleEntry(c.Request.Context(), req.toDomain(operatorFrom(c)))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": result.Message, "data": result})
}

func (h *Handler) exit(c *gin.Context) {
	var req passageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	result, err := h.passages.ProcessVehicleExit(c.Request.Context(), req.toDomain(operatorFrom(c)))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": result.Message, "data": result})
}

func (h *Handler) confirmPayment(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid passage id"))
		return
	}

	var payment checkpoint.PaymentData
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payment); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
	}

	result, err := h.passages.ConfirmEntryPayment(c.Request.Context(), id, operatorFrom(c), payment)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	reason := checkpoint.ReasonOf(err)
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case reason == checkpoint.ReasonDetectionNotFound,
		reason == checkpoint.ReasonPassageNotFound,
		reason == checkpoint.ReasonGateNotFound:
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error(), "reason": reason})
	case checkpoint.IsRejection(err):
		c.JSON(http.StatusConflict, gin.H{
			"success":     false,
			"error":       err.Error(),
			"reason":      reason,
			"gate_action": checkpoint.GateActionFor(err),
		})
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
