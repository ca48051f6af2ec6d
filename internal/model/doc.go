// Package model defines the request, response and result types shared by
// the downloader, the transport agent, the fetch pipeline and the reports.
//
// Request and Response carry the per-request Meta map. Result flattens one
// outcome for reports and the transfer log.
package model
