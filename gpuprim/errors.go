package gpuprim

import "errors"

// Sentinel errors shared by every primitive package. Callers should use
// errors.Is against these rather than comparing wrapped error strings.
var (
	// ErrInvalidValueLayout is returned when a ValueLayout's Size is zero
	// or not a multiple of 4 bytes, the WGSL-struct alignment constraint
	// textual monomorphization relies on.
	ErrInvalidValueLayout = errors.New("gpuprim: value layout size must be a non-zero multiple of 4 bytes")

	// ErrDeviceNil is returned when Init is called with a nil hal.Device.
	ErrDeviceNil = errors.New("gpuprim: device must not be nil")

	// ErrElementCountExceedsLimit is returned when an operand's element
	// count cannot be proven to stay below 2^30, the limit the packed
	// look-back status word assumes.
	ErrElementCountExceedsLimit = errors.New("gpuprim: element count exceeds the 2^30 packed-status-word limit")

	// ErrNotInitialized reports a primitive whose Init call failed or was
	// never made. No primitive in this module returns it: Encode does not
	// check whether its receiver was initialized.
	ErrNotInitialized = errors.New("gpuprim: primitive not initialized")
)

// MaxElementCount is the largest n any primitive in this module can
// process. Radix sort and bucket scatter pack a count into the low 30 bits
// of a per-workgroup, per-digit status word, so n must stay below 2^30.
const MaxElementCount = 1<<30 - 1
