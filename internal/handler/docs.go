package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const apiDocs = `# predictpool API

All endpoints return an envelope: {"code": "...", "message": "...", "data": ..., "meta": ...}.
Amounts are decimal strings in token units (6 decimal places).

## Staking

POST /api/v1/stakes
  {"user_id", "prediction_id", "option_id", "amount", "request_id"}
  Places (or tops up) a stake. request_id makes retries idempotent.
  Error codes: BETTING_DISABLED, PREDICTION_NOT_OPEN, OPTION_MISMATCH,
  duplicate_entry, INSUFFICIENT_ESCROW (meta: available/required), LOCK_BUSY.

## Wallets

GET  /api/v1/wallets/:user_id             reconciled balance snapshot
POST /api/v1/wallets/:user_id/reconcile   {"wallet_address", "tx_hash"} optional
POST /api/v1/wallets/:user_id/link        {"address"}

A "degraded" snapshot status means the chain read failed and the cached
figures were served instead.

## Settlement

POST /api/v1/predictions/:id/settle      {"winning_option_id", "actor"}
POST /api/v1/predictions/:id/void        refund everyone, no fees
POST /api/v1/predictions/:id/reset       unwind an unclaimed settlement
POST /api/v1/predictions/:id/finalize    queue the Merkle root for posting
GET  /api/v1/predictions/:id/claims      root + every winner's proof
GET  /api/v1/predictions/:id/claims/:address
POST /api/v1/predictions/:id/claims/:address  {"tx_hash"} mark claimed
GET  /api/v1/claims?address=0x...        unclaimed on-chain wins

## Operations

GET  /api/v1/admin/dead-letters
POST /api/v1/admin/dead-letters/replay   {"tx_hash"}
GET  /api/v1/admin/relayer-jobs
POST /api/v1/admin/relayer-jobs/:id/retry
POST /api/v1/admin/reaper/sweep
POST /api/v1/admin/audit/run
GET  /api/v1/admin/settings
PUT  /api/v1/admin/settings/:key         {"enabled"}

## Health

GET /healthz
GET /readyz
`

func RegisterDocs(r *gin.Engine) {
	r.GET("/docs", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(apiDocs))
	})
}
