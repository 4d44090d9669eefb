package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zwy923/onebox/internal/listener"
)

type StatusSource interface {
	Statuses() []listener.Status
}

type AccountHandler struct {
	source StatusSource
}

func NewAccountHandler(source StatusSource) *AccountHandler {
	return &AccountHandler{source: source}
}

// List handles GET /api/accounts
func (h *AccountHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.source.Statuses())
}
