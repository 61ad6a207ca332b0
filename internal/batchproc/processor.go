// Package batchproc orchestrates a single pass over a range of blocks:
// fan out RPC fetches under the shared rate limit, filter the discovered
// addresses through the address cache, bulk-write the misses, and
// advance the chain's high-water mark. It replaces the source's
// PreFetchBatchProcessorService, trading its non-atomic "is a batch
// running" boolean for a real atomic.Bool single-flight latch.
package batchproc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/address-scanner/internal/addresscache"
	"github.com/address-scanner/internal/circuitbreaker"
	batcherrors "github.com/address-scanner/internal/errors"
	"github.com/address-scanner/internal/logging"
	"github.com/address-scanner/internal/metrics"
	"github.com/address-scanner/internal/models"
	"github.com/address-scanner/internal/rpcclient"
)

// Config holds the tunables a Processor needs at construction time,
// drawn from config.BatchConfig and config.CacheConfig (spec §6).
type Config struct {
	Size                  int
	MaxConcurrentRPCCalls int
	ChainExternalID       string
	CacheEnabled          bool
}

// BulkWriter is the storage-side contract a Processor needs (spec §4.4).
// *storage.Store satisfies it; tests substitute an in-memory fake so the
// state-machine and single-flight properties (spec §8) are verifiable
// without a live Postgres instance.
type BulkWriter interface {
	UpsertAddresses(ctx context.Context, addresses []string) error
	LookupAddressIDs(ctx context.Context, addresses []string) (map[string]int64, error)
	UpsertAddressChainRelationships(ctx context.Context, addressIDs []int64, chainID int64) error
	LoadChainByExternalID(ctx context.Context, externalChainID string) (*models.Chain, error)
	AdvanceHighWaterMark(ctx context.Context, chainPK int64, blocksAdvanced int64) error
	InsertFailureLog(ctx context.Context, log *models.FailureLog) error
	OptimizeSession(ctx context.Context) error
	ResetSession(ctx context.Context) error
}

// BlockFetcher is the RPC-side contract a Processor needs (spec §4.2).
// *rpcclient.Client satisfies it.
type BlockFetcher interface {
	FetchBlock(ctx context.Context, blockNumber int64) (*rpcclient.Block, error)
}

// Limiter is the rate-limiting contract a Processor needs (spec §4.1).
// *ratelimit.TokenBucket satisfies it.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Processor runs at most one batch at a time, guarded by a
// compare-and-swap latch that is released on every exit path —
// success, cooperative stop, or error — via a single deferred cleanup.
type Processor struct {
	cfg     Config
	store   BulkWriter
	rpc     BlockFetcher
	limiter Limiter
	cache   *addresscache.Cache
	metrics *metrics.Metrics
	breaker *circuitbreaker.CircuitBreaker

	running       atomic.Bool
	stopRequested atomic.Bool
	batchSeq      atomic.Int64
}

// New builds a Processor over its already-constructed dependencies.
func New(cfg Config, store BulkWriter, rpc BlockFetcher, limiter Limiter, cache *addresscache.Cache, m *metrics.Metrics) *Processor {
	return &Processor{
		cfg:     cfg,
		store:   store,
		rpc:     rpc,
		limiter: limiter,
		cache:   cache,
		metrics: m,
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("rpc-fetch")),
	}
}

// IsRunning reports whether a batch is currently in flight.
func (p *Processor) IsRunning() bool {
	return p.running.Load()
}

// RequestStop sets the cooperative stop flag consulted between phases.
// The in-flight pre-fetch phase is allowed to finish; no partially
// issued RPC call is cancelled by this alone.
func (p *Processor) RequestStop() {
	p.stopRequested.Store(true)
}

// StatusSnapshot is the metrics snapshot augmented with the cache's
// current stats, matching getMetrics()'s public contract (spec §4.6).
type StatusSnapshot struct {
	metrics.Snapshot
	Cache addresscache.Stats `json:"cache"`
}

// GetMetrics returns the current job/batch metrics augmented with the
// address cache's stats.
func (p *Processor) GetMetrics() StatusSnapshot {
	return StatusSnapshot{
		Snapshot: p.metrics.CurrentSnapshot(),
		Cache:    p.cache.StatsSnapshot(),
	}
}

// ForceCacheCleanup runs one decay-and-evict pass against the address
// cache outside of a batch and returns the resulting stats, backing the
// operational surface's /batch/cache-cleanup endpoint.
func (p *Processor) ForceCacheCleanup() addresscache.Stats {
	p.cache.DecayAndEvict()
	return p.cache.StatsSnapshot()
}

// ProcessBatch performs at most one batch and returns only after it
// completes, stops, or errors. Concurrent invocations beyond the first
// return nil immediately without doing any work — the single-flight
// latch, not an error return, is how the caller learns a batch was
// already running.
func (p *Processor) ProcessBatch(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return nil
	}
	defer p.running.Store(false)

	p.stopRequested.Store(false)
	p.metrics.StartJob()

	chain, err := p.store.LoadChainByExternalID(ctx, p.cfg.ChainExternalID)
	if err != nil {
		p.metrics.ErrorJob(err)
		return err
	}
	if chain == nil {
		err := batcherrors.NewFatalError(fmt.Sprintf("chain %q is not seeded in chain_info", p.cfg.ChainExternalID), nil)
		p.metrics.ErrorJob(err)
		return err
	}

	batchSeq := p.batchSeq.Add(1)
	batchID := uuid.NewString()
	ctx = logging.WithLogger(ctx, logging.WithFields(map[string]interface{}{
		"batch_id": batchID,
		"chain_id": chain.ChainID,
	}))

	startBlock := chain.NextBlockNumber
	p.cache.ResetBatchCounters()
	p.metrics.StartBatch(batchSeq, startBlock, p.cfg.Size, batchID)

	// PreFetch: fan out one task per planned block number.
	p.metrics.StartPreFetchPhase()
	results := p.preFetch(ctx, chain.ChainID, startBlock)
	p.metrics.CompletePreFetchPhase()

	if p.stopRequested.Load() {
		p.metrics.StopJob()
		return nil
	}

	// Storage: filter the union of discovered addresses through the
	// cache, bulk-write the misses.
	p.metrics.StartStoragePhase()
	missSet, err := p.storagePhase(ctx, results, chain.ID)
	p.metrics.CompleteStoragePhase()
	if err != nil {
		p.metrics.ErrorJob(err)
		return err
	}

	// CacheUpdate: absorb the misses into the cache and record the
	// per-block outcome for the entire planned range; blocks whose fetch
	// failed are recorded as failed.
	p.metrics.StartCacheUpdatePhase()
	p.cache.AddAll(missSet)
	for blockNumber := startBlock; blockNumber < startBlock+int64(p.cfg.Size); blockNumber++ {
		outcome, ok := results[blockNumber]
		if ok && !outcome.failed {
			p.metrics.RecordBlockProcessed(len(outcome.addresses))
		} else {
			p.metrics.RecordBlockFailed()
		}
	}
	p.metrics.CompleteCacheUpdatePhase()

	// Advance: the high-water mark moves by exactly the planned batch
	// size regardless of per-block outcome (spec §9 decision 1).
	if err := p.store.AdvanceHighWaterMark(ctx, chain.ID, int64(p.cfg.Size)); err != nil {
		p.metrics.ErrorJob(err)
		return err
	}

	cacheStats := p.cache.StatsSnapshot()
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"batch":          batchSeq,
		"start_block":    startBlock,
		"cache_hits":     cacheStats.CacheHits,
		"cache_misses":   cacheStats.CacheMisses,
		"skipped_writes": cacheStats.SkippedDbOps,
	}).Info("batch cache performance")

	p.metrics.CompleteBatch()
	p.metrics.CompleteJob()
	return nil
}

// blockOutcome is the pre-fetch phase's per-block result: either the
// distinct addresses a successfully fetched block contributed, or a
// failure classification already durably recorded as a FailureLog row.
type blockOutcome struct {
	addresses map[string]struct{}
	failed    bool
}

// preFetch fans out one task per block number in
// [startBlock, startBlock+Size) to a worker pool bounded by
// MaxConcurrentRPCCalls, each acquiring a rate-limit token before
// calling the RPC client. Once the cooperative stop flag is observed it
// launches no further tasks, but it always waits for every task already
// launched to finish before returning.
func (p *Processor) preFetch(ctx context.Context, externalChainID string, startBlock int64) map[int64]blockOutcome {
	results := make(map[int64]blockOutcome, p.cfg.Size)
	var mu sync.Mutex
	var wg sync.WaitGroup

	sem := make(chan struct{}, p.cfg.MaxConcurrentRPCCalls)

	for i := 0; i < p.cfg.Size; i++ {
		if p.stopRequested.Load() {
			break
		}

		blockNumber := startBlock + int64(i)
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := p.fetchOne(ctx, externalChainID, blockNumber)

			mu.Lock()
			results[blockNumber] = outcome
			mu.Unlock()
		}()
	}

	wg.Wait()
	return results
}

// fetchOne acquires a rate-limit token, fetches one block through the
// circuit breaker, and on failure records a FailureLog row. A blockOutcome
// is always returned; fetchOne never panics the worker.
func (p *Processor) fetchOne(ctx context.Context, externalChainID string, blockNumber int64) blockOutcome {
	if err := p.limiter.Acquire(ctx); err != nil {
		p.logAndRecordFailure(ctx, externalChainID, blockNumber, models.StatusCodeTransportError, err.Error())
		return blockOutcome{failed: true}
	}

	var block *rpcclient.Block
	execErr := p.breaker.Execute(ctx, func() error {
		var fetchErr error
		block, fetchErr = p.rpc.FetchBlock(ctx, blockNumber)
		return fetchErr
	})
	if execErr != nil {
		statusCode, message := classifyFetchError(execErr)
		p.logAndRecordFailure(ctx, externalChainID, blockNumber, statusCode, message)
		return blockOutcome{failed: true}
	}

	return blockOutcome{addresses: block.Addresses}
}

func (p *Processor) logAndRecordFailure(ctx context.Context, externalChainID string, blockNumber int64, statusCode, message string) {
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"block_number": blockNumber,
		"status_code":  statusCode,
	}).Warn("block fetch failed: " + message)

	err := p.store.InsertFailureLog(ctx, &models.FailureLog{
		ChainID:      externalChainID,
		BlockNumber:  blockNumber,
		StatusCode:   statusCode,
		ErrorMessage: message,
	})
	if err != nil {
		logging.FromContext(ctx).WithError(err).Error("failed to record failure log")
	}
}

// classifyFetchError maps an RPC client failure (or the circuit
// breaker's own fail-fast error) onto spec §7's status-code catalogue.
func classifyFetchError(err error) (statusCode, message string) {
	if err == circuitbreaker.ErrCircuitOpen || err == circuitbreaker.ErrTooManyRequests {
		return models.StatusCodeTransportError, err.Error()
	}

	blockErr, ok := err.(*rpcclient.BlockError)
	if !ok {
		return models.StatusCodeTransportError, err.Error()
	}

	switch blockErr.Kind {
	case rpcclient.FailureNotFound:
		return models.StatusCodeNotFound, blockErr.Message
	case rpcclient.FailureTimeout:
		return models.StatusCodeTimeout, blockErr.Message
	case rpcclient.FailureUpstream:
		return models.StatusCodeUpstreamError, blockErr.Message
	default:
		return models.StatusCodeTransportError, blockErr.Message
	}
}

// storagePhase filters the union of every successfully fetched block's
// addresses through the cache, bulk-writes the misses and their chain
// relationships, and returns the miss set for the caller to fold back
// into the cache once storage has committed.
func (p *Processor) storagePhase(ctx context.Context, results map[int64]blockOutcome, chainPK int64) ([]string, error) {
	union := make(map[string]struct{})
	for _, outcome := range results {
		if outcome.failed {
			continue
		}
		for addr := range outcome.addresses {
			union[addr] = struct{}{}
		}
	}

	missSet := make([]string, 0, len(union))
	for addr := range union {
		if p.cfg.CacheEnabled && p.cache.CheckAndBoost(addr) {
			continue
		}
		missSet = append(missSet, addr)
	}

	if len(missSet) == 0 {
		return missSet, nil
	}

	if err := p.store.OptimizeSession(ctx); err != nil {
		logging.FromContext(ctx).WithError(err).Debug("session tuning for bulk insert failed, continuing untuned")
	}
	defer func() {
		if err := p.store.ResetSession(ctx); err != nil {
			logging.FromContext(ctx).WithError(err).Debug("session tuning reset failed")
		}
	}()

	if err := p.store.UpsertAddresses(ctx, missSet); err != nil {
		return nil, err
	}

	ids, err := p.store.LookupAddressIDs(ctx, missSet)
	if err != nil {
		return nil, err
	}

	addressIDs := make([]int64, 0, len(ids))
	for _, id := range ids {
		addressIDs = append(addressIDs, id)
	}

	if err := p.store.UpsertAddressChainRelationships(ctx, addressIDs, chainPK); err != nil {
		// StorageTransient: relationship rows failed but the addresses
		// themselves are already durably stored. Log and continue.
		logging.FromContext(ctx).WithError(err).Debug("address-chain relationship insert had transient failures")
	}

	return missSet, nil
}
