package pgoutput

import "errors"

// Error taxonomy for decoder-level soft failures. These are recovered
// locally by the decoder and the session: the frame that triggered them
// is skipped or truncated, and streaming continues.
var (
	// ErrTruncatedFrame means the remaining payload was shorter than a
	// field it was asked to supply.
	ErrTruncatedFrame = errors.New("pgoutput: truncated frame")

	// ErrUnknownRelation means a tuple frame referenced a relation id with
	// no registered descriptor. The frame is skipped; no event is emitted.
	ErrUnknownRelation = errors.New("pgoutput: unknown relation")

	// ErrColumnCountMismatch means a tuple's column count disagreed with
	// its relation's registered column count. The decoder still emits a
	// best-effort event truncated to the shorter length.
	ErrColumnCountMismatch = errors.New("pgoutput: column count mismatch")
)
