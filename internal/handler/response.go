package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"predictpool/internal/service"
)

// Envelope is the uniform JSON response shape.
type Envelope struct {
	Code    string         `json:"code"`
	Message string         `json:"message,omitempty"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{Code: "ok", Data: data})
}

func Error(c *gin.Context, status int, code, message string) {
	c.JSON(status, Envelope{Code: code, Message: message})
}

// Fail maps an error to the envelope: domain errors carry their own stable
// code and optional meta, everything else is a 500.
func Fail(c *gin.Context, err error) {
	if de, ok := service.AsDomainError(err); ok {
		c.JSON(statusForCode(de.Code), Envelope{
			Code:    de.Code,
			Message: de.Message,
			Meta:    de.Meta,
		})
		return
	}
	Error(c, http.StatusInternalServerError, "internal_error", err.Error())
}

func statusForCode(code string) int {
	switch code {
	case service.CodeNotFound:
		return http.StatusNotFound
	case service.CodeLockBusy:
		return http.StatusConflict
	case service.CodeDuplicateEntry:
		return http.StatusConflict
	case service.CodeBettingDisabled:
		return http.StatusForbidden
	case service.CodeSettlementBlocked:
		return http.StatusConflict
	case service.CodeInsufficientEscrow:
		return http.StatusPaymentRequired
	default:
		return http.StatusBadRequest
	}
}
