// Package signal defines the notifications the downloader and the transport
// agent emit while a request moves through them.
//
// A Sink receives every notification. Implementations must not block: the
// downloader calls RequestReachedDownloader and RequestLeftDownloader from its
// event loop. HeadersReceived and BytesReceived may return a *StopDownload
// error to end a transfer early.
package signal

import (
	"net/http"

	"github.com/nao1215/crawlcore/internal/model"
)

// Sink receives downloader and transport notifications.
type Sink interface {
	// RequestReachedDownloader is called when a request is admitted.
	RequestReachedDownloader(req *model.Request)

	// RequestLeftDownloader is called once for every admitted request when
	// it leaves the downloader: completed, withdrawn or cancelled.
	RequestLeftDownloader(req *model.Request)

	// HeadersReceived is called once the response headers are in.
	// expectedSize is -1 when the length is unknown.
	HeadersReceived(req *model.Request, header http.Header, expectedSize int64) error

	// BytesReceived is called for every body chunk.
	BytesReceived(req *model.Request, chunk []byte) error

	// ResponseDownloaded is called right after a successful body read.
	ResponseDownloaded(req *model.Request, resp *model.Response)
}

// StopDownload is returned by HeadersReceived or BytesReceived to stop a
// transfer. The response received so far is flagged download_stopped; when
// Fail is set the fetch fails with this error and Response carries it.
type StopDownload struct {
	Fail     bool
	Response *model.Response
}

// Error implements error.
func (e *StopDownload) Error() string {
	if e.Fail {
		return "download stopped by signal handler"
	}
	return "download stopped by signal handler (response kept)"
}

// Nop is a Sink that ignores every notification.
type Nop struct{}

// RequestReachedDownloader implements Sink.
func (Nop) RequestReachedDownloader(*model.Request) {}

// RequestLeftDownloader implements Sink.
func (Nop) RequestLeftDownloader(*model.Request) {}

// HeadersReceived implements Sink.
func (Nop) HeadersReceived(*model.Request, http.Header, int64) error { return nil }

// BytesReceived implements Sink.
func (Nop) BytesReceived(*model.Request, []byte) error { return nil }

// ResponseDownloaded implements Sink.
func (Nop) ResponseDownloaded(*model.Request, *model.Response) {}

// Multi fans notifications out to several sinks in order. For the two
// hooks that can stop a transfer, the first error wins and later sinks are
// not called.
type Multi []Sink

// RequestReachedDownloader implements Sink.
func (m Multi) RequestReachedDownloader(req *model.Request) {
	for _, s := range m {
		s.RequestReachedDownloader(req)
	}
}

// RequestLeftDownloader implements Sink.
func (m Multi) RequestLeftDownloader(req *model.Request) {
	for _, s := range m {
		s.RequestLeftDownloader(req)
	}
}

// HeadersReceived implements Sink.
func (m Multi) HeadersReceived(req *model.Request, header http.Header, expectedSize int64) error {
	for _, s := range m {
		if err := s.HeadersReceived(req, header, expectedSize); err != nil {
			return err
		}
	}
	return nil
}

// BytesReceived implements Sink.
func (m Multi) BytesReceived(req *model.Request, chunk []byte) error {
	for _, s := range m {
		if err := s.BytesReceived(req, chunk); err != nil {
			return err
		}
	}
	return nil
}

// ResponseDownloaded implements Sink.
func (m Multi) ResponseDownloaded(req *model.Request, resp *model.Response) {
	for _, s := range m {
		s.ResponseDownloaded(req, resp)
	}
}
