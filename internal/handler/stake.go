package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"predictpool/internal/service"
)

type StakeHandler struct {
	Pipeline *service.StakePipeline
}

func (h *StakeHandler) Register(r *gin.Engine) {
	r.POST("/api/v1/stakes", h.place)
}

type placeStakeRequest struct {
	UserID       uint64 `json:"user_id" binding:"required"`
	PredictionID uint64 `json:"prediction_id" binding:"required"`
	OptionID     uint64 `json:"option_id" binding:"required"`
	Amount       string `json:"amount" binding:"required"`
	RequestID    string `json:"request_id"`
}

func (h *StakeHandler) place(c *gin.Context) {
	var req placeStakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		Error(c, http.StatusBadRequest, service.CodeInvalidAmount, "amount must be a decimal string")
		return
	}

	result, err := h.Pipeline.Place(c.Request.Context(), service.StakeRequest{
		UserID:       req.UserID,
		PredictionID: req.PredictionID,
		OptionID:     req.OptionID,
		Amount:       amount,
		RequestID:    req.RequestID,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, result)
}
