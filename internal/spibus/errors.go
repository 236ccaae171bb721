package spibus

import "errors"

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	// ErrTransport wraps any failure of the underlying SPI exchange. The
	// transaction had no effect on chip state; callers may retry on the next
	// status cycle.
	ErrTransport = errors.New("spi transport")

	// ErrBurstTooLarge rejects burst requests exceeding the per-transaction
	// message limit. Raised before any bus activity.
	ErrBurstTooLarge = errors.New("burst exceeds transaction limit")

	// ErrEmptyBurst rejects zero-length bursts; the wire format cannot
	// express them.
	ErrEmptyBurst = errors.New("empty burst")
)
