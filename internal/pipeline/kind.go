package pipeline

import (
	"context"
	"errors"

	"github.com/nao1215/crawlcore/internal/downloader"
	"github.com/nao1215/crawlcore/internal/signal"
	"github.com/nao1215/crawlcore/internal/transport"
)

// Error kinds reported by ErrorKind.
const (
	KindTimeout           = "timeout"
	KindConnect           = "connect"
	KindTunnel            = "tunnel"
	KindSizeExceeded      = "size_exceeded"
	KindDataLoss          = "dataloss"
	KindStopped           = "stopped"
	KindUnsupportedScheme = "unsupported_scheme"
	KindCancelled         = "cancelled"
	KindClosed            = "closed"
	KindTransfer          = "transfer"
	KindUnknown           = "error"
)

// ErrorKind classifies a fetch error for logs, metrics and reports.
// It returns an empty string for a nil error.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}

	var (
		timeoutErr  *transport.TimeoutError
		tunnelErr   *transport.TunnelError
		connectErr  *transport.ConnectError
		sizeErr     *transport.SizeExceededError
		dataLossErr *transport.DataLossError
		stopErr     *signal.StopDownload
		transferErr *transport.TransferError
	)

	switch {
	case errors.As(err, &timeoutErr):
		return KindTimeout
	case errors.As(err, &tunnelErr):
		return KindTunnel
	case errors.As(err, &connectErr):
		return KindConnect
	case errors.As(err, &sizeErr):
		return KindSizeExceeded
	case errors.As(err, &dataLossErr):
		return KindDataLoss
	case errors.As(err, &stopErr):
		return KindStopped
	case errors.Is(err, downloader.ErrUnsupportedScheme):
		return KindUnsupportedScheme
	case errors.Is(err, downloader.ErrClosed):
		return KindClosed
	case errors.Is(err, downloader.ErrCancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.As(err, &transferErr):
		return KindTransfer
	default:
		return KindUnknown
	}
}

// Retryable reports whether err is a transient transport failure worth
// another attempt.
func Retryable(err error) bool {
	switch ErrorKind(err) {
	case KindTimeout, KindConnect, KindTunnel, KindDataLoss:
		return true
	default:
		return false
	}
}
