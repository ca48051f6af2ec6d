package downloader

import (
	"context"
	"strings"

	"github.com/nao1215/crawlcore/internal/model"
	"golang.org/x/net/idna"
)

// NormalizeHost lower-cases host and converts it to its ASCII (punycode)
// form. Hosts that fail IDNA conversion are returned lower-cased.
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return host
	}
	return ascii
}

// slotKey returns the slot of req and records it in the request meta.
// An explicit download_slot wins; otherwise the normalized host name is
// used, or its resolved address when per-IP concurrency is enabled.
func (d *Downloader) slotKey(ctx context.Context, req *model.Request) string {
	req.EnsureMeta()
	if key, ok := req.Meta.String(model.MetaDownloadSlot); ok {
		return key
	}

	key := NormalizeHost(req.URL.Hostname())
	if d.cfg.PerIPConcurrency > 0 && d.resolver != nil {
		addr, err := d.resolver.Resolve(ctx, key)
		if err != nil {
			d.logger.Debug("slot key resolution failed, keeping host name",
				"host", key, "error", err)
		} else {
			key = addr
		}
	}
	req.Meta[model.MetaDownloadSlot] = key
	return key
}
