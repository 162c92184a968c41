package rsm

import "errors"

var (
	// ErrSetup marks errors that stop a run before any frame is dispatched:
	// bad config, an empty input dir, unreadable dark/flat/standard files,
	// or a reference frame that can't be calibrated.
	ErrSetup = errors.New("setup failed")

	// ErrNoCalibration means no reference frame was found for a frame's
	// scan index. The frame is skipped.
	ErrNoCalibration = errors.New("no calibration for scan index")

	ErrDecode = errors.New("cannot decode frame")
	ErrShape  = errors.New("frame shape does not match calibration")
)
