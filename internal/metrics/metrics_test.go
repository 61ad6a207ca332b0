package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics() *Metrics {
	return New(prometheus.NewRegistry())
}

func TestStartJob_SetsStartingStatus(t *testing.T) {
	m := newTestMetrics()
	m.StartJob()
	assert.Equal(t, JobStarting, m.CurrentSnapshot().JobStatus)
}

func TestStartBatch_SetsRunningAndFields(t *testing.T) {
	m := newTestMetrics()
	m.StartBatch(3, 1000, 150, "batch-uuid-3")

	snap := m.CurrentSnapshot()
	assert.Equal(t, JobRunning, snap.JobStatus)
	assert.Equal(t, int64(3), snap.CurrentBatchNumber)
	assert.Equal(t, "batch-uuid-3", snap.CurrentBatchID)
	assert.Equal(t, int64(1000), snap.CurrentBlockNumber)
	assert.Equal(t, 150, snap.CurrentBatchSize)
}

func TestRecordBlockProcessed_UpdatesCountersAndResetsConsecutiveFailures(t *testing.T) {
	m := newTestMetrics()
	m.RecordBlockFailed()
	m.RecordBlockFailed()
	require.Equal(t, int32(2), m.CurrentSnapshot().ConsecutiveFailures)

	m.RecordBlockProcessed(5)
	snap := m.CurrentSnapshot()
	assert.Equal(t, int64(3), snap.TotalBlocksProcessed) // 2 failed + 1 processed
	assert.Equal(t, int64(5), snap.TotalAddressesFound)
	assert.Equal(t, int32(0), snap.ConsecutiveFailures)
}

func TestRecordBlockFailed_IncrementsFailureCounters(t *testing.T) {
	m := newTestMetrics()
	m.RecordBlockFailed()
	snap := m.CurrentSnapshot()
	assert.Equal(t, int32(1), snap.TotalFailedBlocks)
	assert.Equal(t, int32(1), snap.ConsecutiveFailures)
}

func TestShouldStopDueToFailures(t *testing.T) {
	m := newTestMetrics()
	assert.False(t, m.ShouldStopDueToFailures(0)) // disabled

	for i := 0; i < 3; i++ {
		m.RecordBlockFailed()
	}
	assert.False(t, m.ShouldStopDueToFailures(5))
	assert.True(t, m.ShouldStopDueToFailures(3))
}

func TestPhaseTimings_ReportedOnceBothEdgesRecorded(t *testing.T) {
	m := newTestMetrics()
	m.StartPreFetchPhase()
	time.Sleep(time.Millisecond)
	m.CompletePreFetchPhase()

	snap := m.CurrentSnapshot()
	assert.NotEmpty(t, snap.LastPreFetchDuration)
	assert.Empty(t, snap.LastStorageDuration)
}

func TestErrorJob_RecordsMessage(t *testing.T) {
	m := newTestMetrics()
	m.ErrorJob(errors.New("boom"))

	snap := m.CurrentSnapshot()
	assert.Equal(t, JobError, snap.JobStatus)
	assert.Equal(t, "boom", snap.LastError)
}

func TestResetMetrics_ZeroesCountersAndState(t *testing.T) {
	m := newTestMetrics()
	m.StartBatch(1, 1, 10, "batch-uuid-1")
	m.RecordBlockProcessed(3)
	m.RecordBlockFailed()

	m.ResetMetrics()
	snap := m.CurrentSnapshot()
	assert.Equal(t, int64(0), snap.TotalBlocksProcessed)
	assert.Equal(t, int64(0), snap.TotalAddressesFound)
	assert.Equal(t, int32(0), snap.TotalFailedBlocks)
	assert.Equal(t, int64(0), snap.CurrentBatchNumber)
	assert.Empty(t, snap.CurrentBatchID)
	assert.Equal(t, PhaseIdle, snap.CurrentPhase)
}

func TestCompleteBatch_IncrementsBatchCounter(t *testing.T) {
	m := newTestMetrics()
	m.CompleteBatch()
	m.CompleteBatch()
	assert.Equal(t, int64(2), m.CurrentSnapshot().TotalBatchesCompleted)
}
