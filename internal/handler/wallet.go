package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"predictpool/internal/models"
	"predictpool/internal/repository"
	"predictpool/internal/service"
)

type WalletHandler struct {
	Repo       repository.Repository
	Reconciler *service.WalletReconciler
}

func (h *WalletHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/wallets/:user_id", h.summary)
	r.POST("/api/v1/wallets/:user_id/reconcile", h.reconcile)
	r.POST("/api/v1/wallets/:user_id/link", h.link)
}

func (h *WalletHandler) summary(c *gin.Context) {
	userID, ok := paramUint(c, "user_id")
	if !ok {
		return
	}
	snap, err := h.Reconciler.Reconcile(c.Request.Context(), service.ReconcileInput{UserID: userID})
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, snap)
}

type reconcileRequest struct {
	WalletAddress string `json:"wallet_address"`
	TxHash        string `json:"tx_hash"`
}

func (h *WalletHandler) reconcile(c *gin.Context) {
	userID, ok := paramUint(c, "user_id")
	if !ok {
		return
	}
	var req reconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		Error(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	snap, err := h.Reconciler.Reconcile(c.Request.Context(), service.ReconcileInput{
		UserID:        userID,
		WalletAddress: req.WalletAddress,
		TxHash:        req.TxHash,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, snap)
}

type linkWalletRequest struct {
	Address string `json:"address" binding:"required"`
}

// link records a new wallet address for the user. The latest link wins for
// rail resolution; older links stay for address-to-user lookups.
func (h *WalletHandler) link(c *gin.Context) {
	userID, ok := paramUint(c, "user_id")
	if !ok {
		return
	}
	var req linkWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	address := strings.TrimSpace(req.Address)
	if len(address) != 42 || !strings.HasPrefix(address, "0x") {
		Error(c, http.StatusBadRequest, "bad_request", "address must be a 0x-prefixed 20-byte hex string")
		return
	}

	link := &models.UserWallet{
		UserID:   userID,
		Address:  address,
		LinkedAt: time.Now().UTC(),
	}
	if err := h.Repo.LinkUserWallet(c.Request.Context(), link); err != nil {
		Fail(c, err)
		return
	}
	if _, err := h.Repo.GetOrCreateWallet(c.Request.Context(), userID); err != nil {
		Fail(c, err)
		return
	}
	Ok(c, link)
}

func paramUint(c *gin.Context, name string) (uint64, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		Error(c, http.StatusBadRequest, "bad_request", name+" must be a positive integer")
		return 0, false
	}
	return v, true
}
