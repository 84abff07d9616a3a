package interactions

import "errors"

var (
	// ErrSellerNotFound means the seller ID resolves to nothing.
	ErrSellerNotFound = errors.New("interactions: seller not found")
	// ErrSellerDisabled means the seller exists but is switched off.
	ErrSellerDisabled = errors.New("interactions: seller disabled")
	// ErrSyncInFlight means a sync for the seller is already running; the
	// trigger was a no-op.
	ErrSyncInFlight = errors.New("interactions: sync already in flight")
	// ErrInteractionNotFound means the interaction ID resolves to nothing.
	ErrInteractionNotFound = errors.New("interactions: interaction not found")
)
