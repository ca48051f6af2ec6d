package downloader

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/nao1215/crawlcore/internal/model"
)

// Handler performs one transfer for an admitted request.
// Execute must return promptly once ctx is cancelled.
type Handler interface {
	Execute(ctx context.Context, req *model.Request) (*model.Response, error)
	Close() error
}

// HandlerFunc adapts a function to Handler. Close is a no-op.
type HandlerFunc func(ctx context.Context, req *model.Request) (*model.Response, error)

// Execute calls f(ctx, req).
func (f HandlerFunc) Execute(ctx context.Context, req *model.Request) (*model.Response, error) {
	return f(ctx, req)
}

// Close implements Handler.
func (f HandlerFunc) Close() error { return nil }

// Handlers maps lower-case URL schemes to handlers.
type Handlers map[string]Handler

// Lookup returns the handler for scheme or an error wrapping ErrUnsupportedScheme.
func (h Handlers) Lookup(scheme string) (Handler, error) {
	if handler, ok := h[strings.ToLower(scheme)]; ok && handler != nil {
		return handler, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
}

// Close closes every distinct handler once, even when it is registered
// under several schemes.
func (h Handlers) Close() error {
	seen := make(map[Handler]struct{}, len(h))
	var errs []error
	for _, handler := range h {
		if handler == nil {
			continue
		}
		if reflect.TypeOf(handler).Comparable() {
			if _, ok := seen[handler]; ok {
				continue
			}
			seen[handler] = struct{}{}
		}
		if err := handler.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
