package downloader

import "errors"

var (
	// ErrUnsupportedScheme is returned when no handler is registered for a
	// request's URL scheme. The request is never admitted.
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")

	// ErrCancelled is the outcome of requests dropped by slot collection or
	// by Close before their transfer finished.
	ErrCancelled = errors.New("download cancelled")

	// ErrClosed is returned by Fetch after Close.
	ErrClosed = errors.New("downloader closed")
)
