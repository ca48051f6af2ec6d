// Package stats exports downloader and transport activity as Prometheus
// metrics. Collector implements signal.Sink and registers its metrics on
// its own registry, served by Handler.
package stats
