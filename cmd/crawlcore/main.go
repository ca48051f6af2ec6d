// Package main provides the crawlcore command line interface.
//
// crawlcore fetches URLs through the slot scheduled downloader and prints a
// report of every transfer.
//
// Usage:
//
//	crawlcore fetch https://example.com/ https://example.org/
//	crawlcore fetch --proxy http://proxy:3128 https://example.com/
//	crawlcore history --limit 50
//
// See --help for all available options.
package main

func main() {
	Execute()
}
