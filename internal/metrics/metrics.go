// Package metrics tracks the pre-fetch batch pipeline's running state:
// cumulative counters, the current job/batch/phase, and phase timings,
// exposed both as a JSON-friendly snapshot and as Prometheus collectors.
package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobStatus is the lifecycle state of the batch job, mirroring the
// source's BatchJobStatus enum.
type JobStatus string

const (
	JobIdle      JobStatus = "IDLE"
	JobStarting  JobStatus = "STARTING"
	JobRunning   JobStatus = "RUNNING"
	JobStopping  JobStatus = "STOPPING"
	JobStopped   JobStatus = "STOPPED"
	JobError     JobStatus = "ERROR"
	JobCompleted JobStatus = "COMPLETED"
)

// Phase labels the current stage within a batch, reported back through
// the status endpoint.
type Phase string

const (
	PhaseIdle        Phase = "Idle"
	PhaseStarting    Phase = "Starting"
	PhasePreFetch    Phase = "Pre-fetch"
	PhaseStorage     Phase = "Storage"
	PhaseCacheUpdate Phase = "Cache Update"
	PhaseCompleted   Phase = "Completed"
)

// Metrics holds every counter and timing field the operational surface
// reports. Cumulative atomics are safe to read concurrently with the
// batch processor updating them; the small set of string/time fields
// describing "where we are right now" are guarded by mu since they
// change together.
type Metrics struct {
	totalBlocksProcessed   atomic.Int64
	totalAddressesFound    atomic.Int64
	totalFailedBlocks      atomic.Int32
	consecutiveFailures    atomic.Int32
	totalBatchesCompleted  atomic.Int64
	totalBatchDurationNano atomic.Int64

	mu                sync.RWMutex
	jobStatus         JobStatus
	currentBatchNum   int64
	currentBatchID    string
	currentBlockNum   int64
	currentBatchSize  int
	currentPhase      Phase
	jobStartedAt      time.Time
	batchStartedAt    time.Time
	preFetchStart     time.Time
	preFetchEnd       time.Time
	dbActivityStart   time.Time
	dbActivityEnd     time.Time
	cacheUpdateStart  time.Time
	cacheUpdateEnd    time.Time
	lastError         string

	promBlocksProcessed prometheus.Counter
	promAddressesFound  prometheus.Counter
	promFailedBlocks    prometheus.Counter
	promBatchesDone     prometheus.Counter
	promJobStatus       *prometheus.GaugeVec
}

// New builds a Metrics instance and registers its Prometheus collectors
// against reg. Passing a fresh registry (rather than the global default)
// keeps repeated test construction from panicking on duplicate
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobStatus:    JobIdle,
		currentPhase: PhaseIdle,
		promBlocksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batch_blocks_processed_total",
			Help: "Total blocks processed by the pre-fetch batch pipeline.",
		}),
		promAddressesFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batch_addresses_found_total",
			Help: "Total distinct addresses observed across processed blocks.",
		}),
		promFailedBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batch_blocks_failed_total",
			Help: "Total blocks that failed to fetch or process.",
		}),
		promBatchesDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batch_batches_completed_total",
			Help: "Total completed batches.",
		}),
		promJobStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "batch_job_status",
			Help: "Current batch job status, one gauge per known status, 1 for the active one.",
		}, []string{"status"}),
	}

	if reg != nil {
		reg.MustRegister(m.promBlocksProcessed, m.promAddressesFound, m.promFailedBlocks, m.promBatchesDone, m.promJobStatus)
	}
	m.setJobStatusGauge(JobIdle)
	return m
}

func (m *Metrics) setJobStatusGauge(status JobStatus) {
	for _, s := range []JobStatus{JobIdle, JobStarting, JobRunning, JobStopping, JobStopped, JobError, JobCompleted} {
		v := 0.0
		if s == status {
			v = 1.0
		}
		m.promJobStatus.WithLabelValues(string(s)).Set(v)
	}
}

// StartJob transitions the job to STARTING and records the start time.
func (m *Metrics) StartJob() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobStatus = JobStarting
	m.jobStartedAt = time.Now()
	m.lastError = ""
	m.setJobStatusGauge(JobStarting)
}

// StartBatch records the beginning of a new batch at the given batch
// number, block number, and size, and flips the job into RUNNING.
// batchID is the correlation ID ProcessBatch assigns to this run, carried
// through to the snapshot so operators can tie a /batch/status read back
// to the log lines the same run produced.
func (m *Metrics) StartBatch(batchNum, blockNum int64, size int, batchID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobStatus = JobRunning
	m.currentBatchNum = batchNum
	m.currentBatchID = batchID
	m.currentBlockNum = blockNum
	m.currentBatchSize = size
	m.currentPhase = PhaseStarting
	m.batchStartedAt = time.Now()
	m.setJobStatusGauge(JobRunning)
}

// StartPreFetchPhase marks the pre-fetch phase as active.
func (m *Metrics) StartPreFetchPhase() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentPhase = PhasePreFetch
	m.preFetchStart = time.Now()
}

// CompletePreFetchPhase marks the pre-fetch phase as finished.
func (m *Metrics) CompletePreFetchPhase() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preFetchEnd = time.Now()
}

// StartStoragePhase marks the storage phase as active.
func (m *Metrics) StartStoragePhase() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentPhase = PhaseStorage
	m.dbActivityStart = time.Now()
}

// CompleteStoragePhase marks the storage phase as finished.
func (m *Metrics) CompleteStoragePhase() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dbActivityEnd = time.Now()
}

// StartCacheUpdatePhase marks the cache-update phase as active.
func (m *Metrics) StartCacheUpdatePhase() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentPhase = PhaseCacheUpdate
	m.cacheUpdateStart = time.Now()
}

// CompleteCacheUpdatePhase marks the cache-update phase as finished.
func (m *Metrics) CompleteCacheUpdatePhase() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheUpdateEnd = time.Now()
}

// CompleteBatch records a finished batch and sets the phase to Completed.
func (m *Metrics) CompleteBatch() {
	m.mu.Lock()
	m.currentPhase = PhaseCompleted
	started := m.batchStartedAt
	m.mu.Unlock()

	if !started.IsZero() {
		m.totalBatchDurationNano.Add(int64(time.Since(started)))
	}
	m.totalBatchesCompleted.Add(1)
	m.promBatchesDone.Inc()
}

// StopJob transitions the job to STOPPED.
func (m *Metrics) StopJob() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobStatus = JobStopped
	m.currentPhase = PhaseIdle
	m.setJobStatusGauge(JobStopped)
}

// CompleteJob transitions the job to COMPLETED.
func (m *Metrics) CompleteJob() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobStatus = JobCompleted
	m.currentPhase = PhaseIdle
	m.setJobStatusGauge(JobCompleted)
}

// ErrorJob transitions the job to ERROR and records the message.
func (m *Metrics) ErrorJob(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobStatus = JobError
	if err != nil {
		m.lastError = err.Error()
	}
	m.setJobStatusGauge(JobError)
}

// RecordBlockProcessed records a successfully processed block and the
// count of distinct addresses it contributed.
func (m *Metrics) RecordBlockProcessed(addressCount int) {
	m.totalBlocksProcessed.Add(1)
	m.totalAddressesFound.Add(int64(addressCount))
	m.consecutiveFailures.Store(0)
	m.promBlocksProcessed.Inc()
	m.promAddressesFound.Add(float64(addressCount))
}

// RecordBlockFailed records a failed block. Failures are still counted
// against totalBlocksProcessed for rate purposes the way the source's
// BatchMetricsService does, since the high-water mark always advances
// regardless of per-block outcome.
func (m *Metrics) RecordBlockFailed() {
	m.totalBlocksProcessed.Add(1)
	m.totalFailedBlocks.Add(1)
	m.consecutiveFailures.Add(1)
	m.promFailedBlocks.Inc()
}

// ShouldStopDueToFailures reports whether consecutive failures have
// reached threshold. threshold <= 0 disables the check.
func (m *Metrics) ShouldStopDueToFailures(threshold int) bool {
	if threshold <= 0 {
		return false
	}
	return int(m.consecutiveFailures.Load()) >= threshold
}

// ResetMetrics zeroes every counter and clears the current-batch state.
func (m *Metrics) ResetMetrics() {
	m.totalBlocksProcessed.Store(0)
	m.totalAddressesFound.Store(0)
	m.totalFailedBlocks.Store(0)
	m.consecutiveFailures.Store(0)
	m.totalBatchesCompleted.Store(0)
	m.totalBatchDurationNano.Store(0)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentBatchNum = 0
	m.currentBatchID = ""
	m.currentBlockNum = 0
	m.currentBatchSize = 0
	m.currentPhase = PhaseIdle
	m.lastError = ""
}

// Snapshot is the point-in-time view returned by the status/metrics
// endpoints.
type Snapshot struct {
	JobStatus             JobStatus `json:"job_status"`
	CurrentPhase          Phase     `json:"current_phase"`
	CurrentBatchNumber    int64     `json:"current_batch_number"`
	CurrentBatchID        string    `json:"current_batch_id,omitempty"`
	CurrentBlockNumber    int64     `json:"current_block_number"`
	CurrentBatchSize      int       `json:"current_batch_size"`
	TotalBlocksProcessed  int64     `json:"total_blocks_processed"`
	TotalAddressesFound   int64     `json:"total_addresses_found"`
	TotalFailedBlocks     int32     `json:"total_failed_blocks"`
	ConsecutiveFailures   int32     `json:"consecutive_failures"`
	TotalBatchesCompleted int64     `json:"total_batches_completed"`
	LastPreFetchDuration  string    `json:"last_pre_fetch_duration,omitempty"`
	LastStorageDuration   string    `json:"last_storage_duration,omitempty"`
	LastCacheUpdateDuration string  `json:"last_cache_update_duration,omitempty"`
	BlocksPerSecond       float64   `json:"blocks_per_second"`
	AddressesPerSecond    float64   `json:"addresses_per_second"`
	EstimatedTimeRemaining string   `json:"estimated_time_remaining,omitempty"`
	LastError             string    `json:"last_error,omitempty"`
}

// CurrentSnapshot computes and returns the current Snapshot.
func (m *Metrics) CurrentSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		JobStatus:             m.jobStatus,
		CurrentPhase:          m.currentPhase,
		CurrentBatchNumber:    m.currentBatchNum,
		CurrentBatchID:        m.currentBatchID,
		CurrentBlockNumber:    m.currentBlockNum,
		CurrentBatchSize:      m.currentBatchSize,
		TotalBlocksProcessed:  m.totalBlocksProcessed.Load(),
		TotalAddressesFound:   m.totalAddressesFound.Load(),
		TotalFailedBlocks:     m.totalFailedBlocks.Load(),
		ConsecutiveFailures:   m.consecutiveFailures.Load(),
		TotalBatchesCompleted: m.totalBatchesCompleted.Load(),
		LastError:             m.lastError,
	}

	if !m.preFetchStart.IsZero() && !m.preFetchEnd.IsZero() && m.preFetchEnd.After(m.preFetchStart) {
		snap.LastPreFetchDuration = formatDuration(m.preFetchEnd.Sub(m.preFetchStart))
	}
	if !m.dbActivityStart.IsZero() && !m.dbActivityEnd.IsZero() && m.dbActivityEnd.After(m.dbActivityStart) {
		snap.LastStorageDuration = formatDuration(m.dbActivityEnd.Sub(m.dbActivityStart))
	}
	if !m.cacheUpdateStart.IsZero() && !m.cacheUpdateEnd.IsZero() && m.cacheUpdateEnd.After(m.cacheUpdateStart) {
		snap.LastCacheUpdateDuration = formatDuration(m.cacheUpdateEnd.Sub(m.cacheUpdateStart))
	}

	if !m.jobStartedAt.IsZero() {
		elapsed := time.Since(m.jobStartedAt).Seconds()
		if elapsed > 0 {
			snap.BlocksPerSecond = float64(snap.TotalBlocksProcessed) / elapsed
			snap.AddressesPerSecond = float64(snap.TotalAddressesFound) / elapsed
		}
	}

	if completed := m.totalBatchesCompleted.Load(); completed > 0 && !m.batchStartedAt.IsZero() {
		avg := time.Duration(m.totalBatchDurationNano.Load() / completed)
		remaining := avg - time.Since(m.batchStartedAt)
		if remaining < 0 {
			remaining = 0
		}
		snap.EstimatedTimeRemaining = formatDuration(remaining)
	}

	return snap
}

func formatDuration(d time.Duration) string {
	seconds := int64(d.Seconds())
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	if seconds < 3600 {
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	}
	return fmt.Sprintf("%dh %dm %ds", seconds/3600, (seconds%3600)/60, seconds%60)
}
