// Package crawler implements the disclosure ingestion engine: the resumable
// year/month/market/page traversal, the bounded detail worker pool, the page
// advance policy, and the retry and pacing primitives shared with the fetch
// client.
package crawler
