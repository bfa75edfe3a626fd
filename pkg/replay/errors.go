package replay

import "errors"

var (
	// ErrDataUnavailable means the feed failed or returned no candles. The
	// feed's error, if any, is wrapped alongside it.
	ErrDataUnavailable   = errors.New("candle data unavailable")
	ErrEndOfData         = errors.New("end of data")
	ErrNotLoaded         = errors.New("session has no candles loaded")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionClosed     = errors.New("session closed")
	ErrBackwardSeek      = errors.New("cannot seek backwards")
	ErrInvalidSpeed      = errors.New("speed must be positive")
	ErrInvalidResolution = errors.New("resolution must be a multiple of the base resolution")
)
