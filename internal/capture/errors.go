package capture

import "errors"

var (
	// ErrSourceEnumeration is returned when the platform source enumeration call fails
	ErrSourceEnumeration = errors.New("capture source enumeration failed")

	// ErrSourceNotFound is returned when no screen source exists at the
	// position of the target display
	ErrSourceNotFound = errors.New("capture source not found")

	// ErrStreamAcquisition is returned when the media API rejects the
	// constraints or the stream never starts delivering frames
	ErrStreamAcquisition = errors.New("stream acquisition failed")

	// ErrEncoding is returned when an image or video cannot be encoded
	ErrEncoding = errors.New("encoding failed")

	// ErrAlreadyStopped is returned by a second Stop on a recording
	ErrAlreadyStopped = errors.New("recording already stopped")

	// ErrStreamStopped is returned when reading a frame from a released stream
	ErrStreamStopped = errors.New("stream stopped")
)
