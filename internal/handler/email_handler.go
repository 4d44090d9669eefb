package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zwy923/onebox/internal/model"
	"github.com/zwy923/onebox/internal/outbound"
	"github.com/zwy923/onebox/internal/service/email"
	"github.com/zwy923/onebox/internal/store"
	"github.com/zwy923/onebox/pkg/logger"
)

const maxSearchLimit = 500

type EmailHandler struct {
	svc    *email.Service
	logger *zap.Logger
}

func NewEmailHandler(svc *email.Service, logger *zap.Logger) *EmailHandler {
	return &EmailHandler{svc: svc, logger: logger}
}

// Search handles GET /api/emails?searchTerm=&account=&folder=&category=&limit=
func (h *EmailHandler) Search(c *gin.Context) {
	q := store.Query{
		Term:    c.Query("searchTerm"),
		Account: c.Query("account"),
		Folder:  model.Folder(c.Query("folder")),
		Limit:   maxSearchLimit,
	}
	if raw := c.Query("category"); raw != "" {
		cat, err := model.ParseCategory(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		q.Category = cat
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if n < maxSearchLimit {
			q.Limit = n
		}
	}

	msgs, err := h.svc.Search(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// Get handles GET /api/emails/:account/:id
func (h *EmailHandler) Get(c *gin.Context) {
	msg, err := h.svc.Open(c.Request.Context(), c.Param("account"), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

type setCategoryRequest struct {
	Category string `json:"category" binding:"required"`
}

// SetCategory handles PATCH /api/emails/:account/:id/category
func (h *EmailHandler) SetCategory(c *gin.Context) {
	var req setCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cat, err := model.ParseCategory(req.Category)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.svc.SetCategory(c.Request.Context(), c.Param("account"), c.Param("id"), cat)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// Recategorize handles POST /api/emails/:account/:id/recategorize
func (h *EmailHandler) Recategorize(c *gin.Context) {
	msg, decision, err := h.svc.Recategorize(c.Request.Context(), c.Param("account"), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": msg, "decision": decision})
}

type classifyRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Classify handles POST /api/classify
func (h *EmailHandler) Classify(c *gin.Context) {
	var req classifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.svc.Classify(req.Subject, req.Body))
}

// Send handles POST /api/emails/send
func (h *EmailHandler) Send(c *gin.Context) {
	var req email.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.svc.Send(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// fail maps service errors to HTTP responses. Failures are never turned into
// empty successful results.
func (h *EmailHandler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrUnknownCategory):
		status = http.StatusBadRequest
	case errors.Is(err, outbound.ErrNotConfigured):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
