package reserve

import (
	"errors"
	"net/http"

	"fiatreserve/core/state"
	nativecommon "fiatreserve/native/common"
	"fiatreserve/native/reserve/scale"
	"fiatreserve/native/reserve/strategy"
	"fiatreserve/native/token"
)

var (
	ErrNotOwner           = nativecommon.ErrNotOwner
	ErrNotPendingOwner    = nativecommon.ErrNotPendingOwner
	ErrNotCoordinator     = errors.New("reserve: caller is not the coordinator")
	ErrInvalidAllocation  = errors.New("reserve: allocation must be within [0, 1e18]")
	ErrInvalidAmount      = errors.New("reserve: amount must be positive")
	ErrInsufficientAssets = errors.New("reserve: insufficient assets")
	ErrNotInitialized     = errors.New("reserve: stable token custody not established")
	ErrTransferFailed     = errors.New("reserve: token transfer failed")
	ErrPaused             = nativecommon.ErrModulePaused
	ErrInvalidMarket      = strategy.ErrInvalidMarket
	ErrStrategyFailed     = strategy.ErrStrategyFailed
)

// Kind classifies a reserve failure for callers that surface errors over a
// transport.
type Kind string

const (
	KindAuthorization      Kind = "authorization"
	KindValidation         Kind = "validation"
	KindInsufficientAssets Kind = "insufficient_assets"
	KindTransfer           Kind = "transfer"
	KindStrategy           Kind = "strategy"
	KindUnavailable        Kind = "unavailable"
	KindInternal           Kind = "internal"
)

// KindOf maps err onto the reserve error taxonomy. Authorization is checked
// first so a wrapped role failure is never reported as something else.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotOwner), errors.Is(err, ErrNotCoordinator), errors.Is(err, ErrNotPendingOwner):
		return KindAuthorization
	case errors.Is(err, ErrInsufficientAssets):
		return KindInsufficientAssets
	case errors.Is(err, ErrStrategyFailed):
		return KindStrategy
	case errors.Is(err, ErrTransferFailed),
		errors.Is(err, state.ErrInsufficientBalance),
		errors.Is(err, state.ErrInsufficientAllowance):
		return KindTransfer
	case errors.Is(err, ErrInvalidAllocation),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidMarket),
		errors.Is(err, strategy.ErrInvalidAmount),
		errors.Is(err, token.ErrInvalidAmount),
		errors.Is(err, token.ErrZeroAddress),
		errors.Is(err, scale.ErrNegativeAmount),
		errors.Is(err, scale.ErrOverflow),
		errors.Is(err, state.ErrOverflow):
		return KindValidation
	case errors.Is(err, ErrNotInitialized), errors.Is(err, ErrPaused):
		return KindUnavailable
	default:
		return KindInternal
	}
}

// HTTPStatus returns the status code a transport should answer with.
func (k Kind) HTTPStatus() int {
	switch k {
	case "":
		return http.StatusOK
	case KindAuthorization:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindInsufficientAssets:
		return http.StatusConflict
	case KindTransfer:
		return http.StatusUnprocessableEntity
	case KindStrategy:
		return http.StatusBadGateway
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
