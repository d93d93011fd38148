package sshterminal

import (
	"fmt"

	"golang.org/x/time/rate"
)

// Limits applied to input arriving from the calling layer.
const (
	// MaxInputMessageSize is the largest single write accepted.
	MaxInputMessageSize = 64 * 1024

	MaxTermCols = 500
	MaxTermRows = 200

	DefaultCols = 80
	DefaultRows = 24

	// MessageRateLimit is the sustained per-client input rate (messages/s).
	MessageRateLimit = 100
	// MessageRateBurst is the burst allowance on top of MessageRateLimit.
	MessageRateBurst = 200
)

// ValidateDimensions checks a terminal size against MaxTermCols/MaxTermRows.
func ValidateDimensions(cols, rows int) error {
	if cols < 1 || rows < 1 || cols > MaxTermCols || rows > MaxTermRows {
		return fmt.Errorf("%w: %dx%d (max %dx%d)", ErrInvalidDimensions, cols, rows, MaxTermCols, MaxTermRows)
	}
	return nil
}

// ValidateInput checks a write payload against MaxInputMessageSize.
func ValidateInput(p []byte) error {
	if len(p) > MaxInputMessageSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrInputTooLarge, len(p), MaxInputMessageSize)
	}
	return nil
}

// NewInputLimiter returns the per-client message limiter used by interactive
// terminal connections.
func NewInputLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(MessageRateLimit), MessageRateBurst)
}
