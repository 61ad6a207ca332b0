package models

import "time"

// Status is a pre-seeded, read-only reference row describing one outcome
// code a failure log entry can carry.
type Status struct {
	ID          int64
	StatusType  string
	StatusCode  string
	Description string
	CreatedAt   time.Time
}

// Well-known status codes seeded at migration time and referenced by the
// Batch Processor when it records a FailureLog row. These mirror spec §7's
// error taxonomy rather than the source's single generic
// "PREFETCH_BATCH_PROCESSING_ERROR" code.
const (
	StatusCodeSuccess        = "SUCCESS"
	StatusCodeNotFound       = "NOT_FOUND"
	StatusCodeTimeout        = "TIMEOUT"
	StatusCodeUpstreamError  = "UPSTREAM_ERROR"
	StatusCodeTransportError = "TRANSPORT_ERROR"
)

// FailureLog is a row in api_call_failure_log: one per block whose RPC
// fetch failed during a batch. Retained for audit; the core never consults
// it to drive retries.
type FailureLog struct {
	ID           int64
	ChainID      string
	BlockNumber  int64
	StatusCode   string
	ErrorMessage string
	CreatedAt    time.Time
}
