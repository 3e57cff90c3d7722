package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"predictpool/internal/repository"
	"predictpool/internal/service"
)

// AdminHandler exposes the operator surface: dead letters, relayer jobs,
// manual sweeps and audits.
type AdminHandler struct {
	Repo    repository.Repository
	Relay   *service.SettlementRelayService
	Watcher *service.DepositWatcher
	Reaper  *service.LockReaper
	Auditor *service.ReconciliationAuditor
}

func (h *AdminHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/admin/dead-letters", h.listDeadLetters)
	r.POST("/api/v1/admin/dead-letters/replay", h.replayDeadLetter)
	r.GET("/api/v1/admin/relayer-jobs", h.listRelayerJobs)
	r.POST("/api/v1/admin/relayer-jobs/:id/retry", h.retryRelayerJob)
	r.POST("/api/v1/admin/reaper/sweep", h.sweepLocks)
	r.POST("/api/v1/admin/audit/run", h.runAudit)
}

func (h *AdminHandler) listDeadLetters(c *gin.Context) {
	params := repository.ListDeadLettersParams{
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	}
	if txHash := c.Query("tx_hash"); txHash != "" {
		params.TxHash = &txHash
	}
	items, err := h.Repo.ListDeadLetters(c.Request.Context(), params)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items)
}

type replayDeadLetterRequest struct {
	TxHash string `json:"tx_hash" binding:"required"`
}

func (h *AdminHandler) replayDeadLetter(c *gin.Context) {
	var req replayDeadLetterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	credited, err := h.Watcher.ReplayTx(c.Request.Context(), req.TxHash)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{"tx_hash": req.TxHash, "credited": credited})
}

func (h *AdminHandler) listRelayerJobs(c *gin.Context) {
	params := repository.ListRelayerJobsParams{
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	}
	if status := c.Query("status"); status != "" {
		params.Status = &status
	}
	items, err := h.Repo.ListRelayerJobs(c.Request.Context(), params)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items)
}

func (h *AdminHandler) retryRelayerJob(c *gin.Context) {
	jobID, ok := paramUint(c, "id")
	if !ok {
		return
	}
	job, err := h.Relay.Retry(c.Request.Context(), jobID)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, job)
}

func (h *AdminHandler) sweepLocks(c *gin.Context) {
	expired, err := h.Reaper.RunOnce(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{"expired": expired})
}

func (h *AdminHandler) runAudit(c *gin.Context) {
	drifts, err := h.Auditor.RunOnce(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{"drifts": drifts, "count": len(drifts)})
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
