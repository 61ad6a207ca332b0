// Package models holds the plain data records the core reads and writes.
// These replace the source's mapper/entity/DTO hierarchy with a handful of
// flat structs: the requirement underneath all of that scaffolding is
// "idempotent insert by unique key" and "fetch by unique key", not an ORM.
package models

import "time"

// Chain is a row in chain_info: one per blockchain network the pipeline
// ingests. NextBlockNumber is the high-water mark; only the Bulk Writer's
// AdvanceHighWaterMark mutates it, and only by exactly the batch size.
type Chain struct {
	ID              int64
	ChainName       string
	ChainID         string
	NextBlockNumber int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
