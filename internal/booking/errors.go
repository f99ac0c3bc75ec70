package booking

import "errors"

var (
	// ErrConflictExists means the user already holds a future reservation
	// with that provider. At most one is allowed per (user, provider).
	ErrConflictExists = errors.New("booking: active reservation already exists")

	// ErrSlotTaken means the requested slot failed the confirmation-time
	// re-validation: someone else took it between offer and confirm.
	ErrSlotTaken = errors.New("booking: slot no longer available")

	// ErrBookingFailed means the remote insert failed after validation
	// passed. No partial side effect remains.
	ErrBookingFailed = errors.New("booking: event creation failed")

	// ErrRescheduleLostSlot means the original reservation was deleted but
	// the replacement could not be created. The user holds nothing and must
	// be told to rebook.
	ErrRescheduleLostSlot = errors.New("booking: original cancelled but new booking failed")
)
