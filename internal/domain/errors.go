package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidFill     = errors.New("invalid fill")
	ErrInvalidSignal   = errors.New("invalid signal")
	ErrInvalidSnapshot = errors.New("invalid market snapshot")
	ErrLiquidityGate   = errors.New("liquidity gate failed")
	ErrRiskReject      = errors.New("rejected by risk manager")
	ErrAdapter         = errors.New("venue adapter error")
	ErrStale           = errors.New("trade stream stale")
	ErrPersistence     = errors.New("state persistence failed")
	ErrTradingDisabled = errors.New("live trading disabled")
	ErrDuplicateOrder  = errors.New("duplicate client order id")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrWSDisconnect    = errors.New("websocket disconnected")
	ErrLockHeld        = errors.New("lock already held")
)

// IsRecoverable reports whether a cycle failing with err may simply be
// retried on the next tick. Only persistence failures stop a bot.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	return !errors.Is(err, ErrPersistence)
}
