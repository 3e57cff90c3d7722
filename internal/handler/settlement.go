package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"predictpool/internal/repository"
	"predictpool/internal/service"
)

type SettlementHandler struct {
	Repo   repository.Repository
	Engine *service.SettlementEngine
	Relay  *service.SettlementRelayService
}

func (h *SettlementHandler) Register(r *gin.Engine) {
	r.POST("/api/v1/predictions/:id/settle", h.settle)
	r.POST("/api/v1/predictions/:id/void", h.void)
	r.POST("/api/v1/predictions/:id/reset", h.reset)
	r.POST("/api/v1/predictions/:id/finalize", h.finalize)
	r.GET("/api/v1/predictions/:id/claims", h.claims)
	r.GET("/api/v1/predictions/:id/claims/:address", h.proof)
	r.POST("/api/v1/predictions/:id/claims/:address", h.markClaimed)
	r.GET("/api/v1/claims", h.claimable)
}

type settleRequest struct {
	WinningOptionID uint64 `json:"winning_option_id" binding:"required"`
	Actor           string `json:"actor"`
}

func (h *SettlementHandler) settle(c *gin.Context) {
	predictionID, ok := paramUint(c, "id")
	if !ok {
		return
	}
	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	outcome, err := h.Engine.Settle(c.Request.Context(), predictionID, req.WinningOptionID, req.Actor)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, outcome)
}

type voidRequest struct {
	Actor string `json:"actor"`
}

func (h *SettlementHandler) void(c *gin.Context) {
	predictionID, ok := paramUint(c, "id")
	if !ok {
		return
	}
	var req voidRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		Error(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := h.Engine.Void(c.Request.Context(), predictionID, req.Actor); err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{"prediction_id": predictionID, "status": "voided"})
}

func (h *SettlementHandler) reset(c *gin.Context) {
	predictionID, ok := paramUint(c, "id")
	if !ok {
		return
	}
	if err := h.Engine.Reset(c.Request.Context(), predictionID); err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{"prediction_id": predictionID, "status": "reset"})
}

// finalize queues the Merkle root for on-chain posting.
func (h *SettlementHandler) finalize(c *gin.Context) {
	predictionID, ok := paramUint(c, "id")
	if !ok {
		return
	}
	job, err := h.Relay.Enqueue(c.Request.Context(), predictionID)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, job)
}

func (h *SettlementHandler) claims(c *gin.Context) {
	predictionID, ok := paramUint(c, "id")
	if !ok {
		return
	}
	root, claims, err := h.Engine.Claims(c.Request.Context(), predictionID)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{"merkle_root": root, "claims": claims})
}

func (h *SettlementHandler) proof(c *gin.Context) {
	predictionID, ok := paramUint(c, "id")
	if !ok {
		return
	}
	claim, err := h.Engine.ProofFor(c.Request.Context(), predictionID, c.Param("address"))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, claim)
}

type markClaimedRequest struct {
	TxHash string `json:"tx_hash" binding:"required"`
}

func (h *SettlementHandler) markClaimed(c *gin.Context) {
	predictionID, ok := paramUint(c, "id")
	if !ok {
		return
	}
	var req markClaimedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := h.Engine.MarkClaimed(c.Request.Context(), predictionID, c.Param("address"), req.TxHash); err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{"prediction_id": predictionID, "claim_status": "claimed"})
}

// claimable lists every unclaimed on-chain win for one address.
func (h *SettlementHandler) claimable(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		Error(c, http.StatusBadRequest, "bad_request", "address query parameter is required")
		return
	}
	results, err := h.Repo.ListClaimableResultsByAddress(c.Request.Context(), address)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, results)
}
