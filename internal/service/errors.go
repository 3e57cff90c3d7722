package service

import "fmt"

// Stable error codes returned to API callers. Frontend behavior keys off
// these strings, so they never change.
const (
	CodeBettingDisabled    = "BETTING_DISABLED"
	CodePredictionNotOpen  = "PREDICTION_NOT_OPEN"
	CodeOptionMismatch     = "OPTION_MISMATCH"
	CodeDuplicateEntry     = "duplicate_entry"
	CodeInsufficientEscrow = "INSUFFICIENT_ESCROW"
	CodeWalletNotLinked    = "WALLET_NOT_LINKED"
	CodeLockBusy           = "LOCK_BUSY"
	CodeInvalidAmount      = "INVALID_AMOUNT"
	CodeSettlementBlocked  = "SETTLEMENT_BLOCKED"
	CodeNotFound           = "NOT_FOUND"
)

// DomainError carries a stable code plus optional structured detail (for
// INSUFFICIENT_ESCROW the available/required figures).
type DomainError struct {
	Code    string
	Message string
	Meta    map[string]any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

func (e *DomainError) WithMeta(key string, value any) *DomainError {
	if e.Meta == nil {
		e.Meta = make(map[string]any)
	}
	e.Meta[key] = value
	return e
}

// AsDomainError unwraps err into a *DomainError if it is one.
func AsDomainError(err error) (*DomainError, bool) {
	de, ok := err.(*DomainError)
	return de, ok
}
