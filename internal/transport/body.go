package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/nao1215/crawlcore/internal/model"
	"github.com/nao1215/crawlcore/internal/signal"
)

// readChunkSize is the size of a single body read.
const readChunkSize = 32 * 1024

// bodyReader streams one response body under the size ceilings and the
// data loss policy of its request.
type bodyReader struct {
	agent *Agent
	req   *model.Request
	url   string

	maxSize        int64
	warnSize       int64
	failOnDataloss bool

	// expected is the declared length, -1 when unknown.
	expected int64

	// closeDelimited is set when the body ends with the connection.
	closeDelimited bool

	head bool
	buf  bytes.Buffer

	warnedSize bool
}

func (a *Agent) newBodyReader(req *model.Request, resp *http.Response) *bodyReader {
	br := &bodyReader{
		agent:          a,
		req:            req,
		url:            req.URL.String(),
		maxSize:        a.opts.MaxSize,
		warnSize:       a.opts.WarnSize,
		failOnDataloss: a.opts.FailOnDataloss,
		expected:       resp.ContentLength,
		closeDelimited: resp.ContentLength < 0 && len(resp.TransferEncoding) == 0,
		head:           req.Method == http.MethodHead,
	}
	if v, ok := req.Meta.Int64(model.MetaMaxSize); ok {
		br.maxSize = v
	}
	if v, ok := req.Meta.Int64(model.MetaWarnSize); ok {
		br.warnSize = v
	}
	if v, ok := req.Meta.Bool(model.MetaFailOnDataloss); ok {
		br.failOnDataloss = v
	}
	return br
}

// read consumes body into resp and classifies how it ended. body is
// always closed.
func (br *bodyReader) read(ctx context.Context, body io.ReadCloser, resp *model.Response) (*model.Response, error) {
	defer body.Close()

	logger := br.agent.logger
	signals := br.agent.signals

	if br.expected >= 0 {
		resp.Header.Set("Content-Length", strconv.FormatInt(br.expected, 10))
	}

	if err := signals.HeadersReceived(br.req, resp.Header, br.expected); err != nil {
		return br.stopped(resp, err)
	}

	if br.head || br.expected == 0 {
		resp.Body = []byte{}
		signals.ResponseDownloaded(br.req, resp)
		return resp, nil
	}

	if br.maxSize > 0 && br.expected > br.maxSize {
		logger.Warn("cancelling download: expected response size larger than download max size",
			"url", br.url, "size", br.expected, "maxsize", br.maxSize)
		return nil, &SizeExceededError{URL: br.url, Size: br.expected, MaxSize: br.maxSize, Expected: true}
	}
	if br.warnSize > 0 && br.expected > br.warnSize {
		br.warnedSize = true
		logger.Warn("expected response size larger than download warn size",
			"url", br.url, "size", br.expected, "warnsize", br.warnSize)
	}

	chunk := make([]byte, readChunkSize)
	for {
		n, readErr := body.Read(chunk)
		if n > 0 {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			data := chunk[:n]
			br.buf.Write(data)

			if err := signals.BytesReceived(br.req, data); err != nil {
				return br.stopped(resp, err)
			}

			received := int64(br.buf.Len())
			if br.maxSize > 0 && received > br.maxSize {
				logger.Warn("received bytes larger than download max size",
					"url", br.url, "bytes", received, "maxsize", br.maxSize)
				br.buf.Reset()
				return nil, &SizeExceededError{URL: br.url, Size: received, MaxSize: br.maxSize}
			}
			if br.warnSize > 0 && received > br.warnSize && !br.warnedSize {
				br.warnedSize = true
				logger.Warn("received more bytes than download warn size",
					"url", br.url, "bytes", received, "warnsize", br.warnSize)
			}
		}

		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			return br.finish(resp)
		}
		return br.fail(ctx, resp, readErr)
	}
}

// finish completes a body that ended cleanly.
func (br *bodyReader) finish(resp *model.Response) (*model.Response, error) {
	resp.Body = br.buf.Bytes()
	if br.closeDelimited {
		resp.Flags = append(resp.Flags, model.FlagPartial)
	}
	br.agent.signals.ResponseDownloaded(br.req, resp)
	return resp, nil
}

// fail classifies a read error.
func (br *bodyReader) fail(ctx context.Context, resp *model.Response, err error) (*model.Response, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, &TransferError{URL: br.url, Err: err}
	}

	warnOnce := br.agent.datalossWarned.CompareAndSwap(false, true)
	if br.failOnDataloss {
		if warnOnce {
			br.agent.logger.Warn("got data loss; set download_fail_on_dataloss to false to process broken responses (shown once)",
				"url", br.url)
		}
		return nil, &DataLossError{URL: br.url, Received: int64(br.buf.Len()), Expected: br.expected}
	}

	if warnOnce {
		br.agent.logger.Warn("got data loss; the response was flagged dataloss and may be broken (shown once)",
			"url", br.url, "bytes", br.buf.Len(), "expected", br.expected)
	}

	resp.Body = br.buf.Bytes()
	resp.Flags = append(resp.Flags, model.FlagDataLoss)
	br.agent.signals.ResponseDownloaded(br.req, resp)
	return resp, nil
}

// stopped ends a transfer a signal handler asked to stop. Anything other
// than a *signal.StopDownload is a transfer failure.
func (br *bodyReader) stopped(resp *model.Response, err error) (*model.Response, error) {
	var stop *signal.StopDownload
	if !errors.As(err, &stop) {
		return nil, &TransferError{URL: br.url, Err: err}
	}

	resp.Body = br.buf.Bytes()
	resp.Flags = append(resp.Flags, model.FlagDownloadStopped)
	br.agent.logger.Debug("download stopped by signal handler", "url", br.url, "fail", stop.Fail)
	if stop.Fail {
		stop.Response = resp
		return nil, stop
	}
	return resp, nil
}
