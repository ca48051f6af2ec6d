// Package pipeline wraps the downloader's Fetch with an ordered chain of
// middlewares and fetches request batches concurrently.
//
// A Middleware decorates a DownloadFunc. The chain applies them outermost
// first, so the first middleware added sees the request first and the
// outcome last. The provided middlewares set default headers, apply a
// default proxy and its credentials, and retry transient transport
// failures. The core itself never retries; every retry is a fresh
// admission into the downloader.
//
// BatchFetcher runs a chain over many requests with errgroup, bounded by a
// concurrency limit and paused while the downloader asks for backout.
package pipeline
