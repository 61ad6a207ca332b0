package api

import (
	"context"
	"net/http"
	"runtime"

	"github.com/address-scanner/internal/logging"
)

// handleHealth reports process liveness independent of batch state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "address-scanner",
	})
}

// handleBatchStart launches one batch asynchronously if none is in
// flight. The check-then-launch is inherently racy against a concurrent
// call to the same endpoint or a scheduler tick, but the processor's own
// CompareAndSwap latch — not this handler — is what actually enforces
// single-flight; a race here only means the response occasionally says
// "accepted" for a batch that its own CAS then declined to run.
func (s *Server) handleBatchStart(w http.ResponseWriter, r *http.Request) {
	if s.processor.IsRunning() {
		respondError(w, http.StatusBadRequest, "BATCH_ALREADY_RUNNING", "a batch is already in flight", nil)
		return
	}

	go func() {
		if err := s.processor.ProcessBatch(context.Background()); err != nil {
			logging.ErrorWithErr("batch started via /batch/start failed", err)
		}
	}()

	respondJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// handleBatchStop sets the cooperative stop flag on the active batch.
func (s *Server) handleBatchStop(w http.ResponseWriter, r *http.Request) {
	if !s.processor.IsRunning() {
		respondError(w, http.StatusBadRequest, "BATCH_NOT_RUNNING", "no batch is in flight", nil)
		return
	}

	s.processor.RequestStop()
	respondJSON(w, http.StatusOK, map[string]string{"status": "stop requested"})
}

// handleBatchStatus returns the metrics snapshot augmented with cache stats.
func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.processor.GetMetrics())
}

// memoryStatus is the /batch/memory-status response body.
type memoryStatus struct {
	HeapUsedBytes    uint64  `json:"heap_used_bytes"`
	HeapSysBytes     uint64  `json:"heap_sys_bytes"`
	HeapUsedPercent  float64 `json:"heap_used_percent"`
	CacheSize        int     `json:"cache_size"`
	CacheMaxSize     int     `json:"cache_max_size"`
	CacheUtilization float64 `json:"cache_utilization_percent"`
}

// handleMemoryStatus reports live heap usage alongside the cache's
// occupancy, the two inputs the address cache's own memory-pressure
// shrink rule (spec §4.3) consults.
func (s *Server) handleMemoryStatus(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	cacheStats := s.processor.GetMetrics().Cache

	var heapPercent float64
	if mem.Sys > 0 {
		heapPercent = float64(mem.HeapInuse) / float64(mem.Sys) * 100
	}

	var cacheUtil float64
	if cacheStats.MaxSize > 0 {
		cacheUtil = float64(cacheStats.Size) / float64(cacheStats.MaxSize) * 100
	}

	respondJSON(w, http.StatusOK, memoryStatus{
		HeapUsedBytes:    mem.HeapInuse,
		HeapSysBytes:     mem.Sys,
		HeapUsedPercent:  heapPercent,
		CacheSize:        cacheStats.Size,
		CacheMaxSize:     cacheStats.MaxSize,
		CacheUtilization: cacheUtil,
	})
}

// handleCacheCleanup forces one decay-and-evict pass against the address
// cache and returns the resulting stats.
func (s *Server) handleCacheCleanup(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.processor.ForceCacheCleanup())
}
