package shared

import "errors"

var (
	// ErrDataUnavailable is returned when a candle fetch yields empty or malformed data.
	ErrDataUnavailable = errors.New("market data unavailable")
	// ErrAuthenticationFailed is returned when the provider rejects a login or session.
	ErrAuthenticationFailed = errors.New("provider authentication failed")
	// ErrDeliveryFailed is returned when a notification could not be delivered.
	ErrDeliveryFailed = errors.New("notification delivery failed")
	// ErrEvaluationSkipped is returned when there is not enough indicator history to evaluate.
	ErrEvaluationSkipped = errors.New("evaluation skipped")
)
