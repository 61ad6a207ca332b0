package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/address-scanner/internal/addresscache"
	"github.com/address-scanner/internal/batchproc"
	"github.com/address-scanner/internal/metrics"
	"github.com/address-scanner/internal/models"
	"github.com/address-scanner/internal/rpcclient"
)

type fakeStore struct {
	chain models.Chain
}

func (f *fakeStore) UpsertAddresses(ctx context.Context, addresses []string) error { return nil }
func (f *fakeStore) LookupAddressIDs(ctx context.Context, addresses []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(addresses))
	for i, a := range addresses {
		ids[a] = int64(i + 1)
	}
	return ids, nil
}
func (f *fakeStore) UpsertAddressChainRelationships(ctx context.Context, addressIDs []int64, chainID int64) error {
	return nil
}
func (f *fakeStore) LoadChainByExternalID(ctx context.Context, externalChainID string) (*models.Chain, error) {
	c := f.chain
	return &c, nil
}
func (f *fakeStore) AdvanceHighWaterMark(ctx context.Context, chainPK int64, blocksAdvanced int64) error {
	f.chain.NextBlockNumber += blocksAdvanced
	return nil
}
func (f *fakeStore) InsertFailureLog(ctx context.Context, log *models.FailureLog) error { return nil }
func (f *fakeStore) OptimizeSession(ctx context.Context) error                          { return nil }
func (f *fakeStore) ResetSession(ctx context.Context) error                             { return nil }

type fakeFetcher struct{}

func (fakeFetcher) FetchBlock(ctx context.Context, blockNumber int64) (*rpcclient.Block, error) {
	return &rpcclient.Block{Addresses: map[string]struct{}{"0xA": {}}}, nil
}

type fakeLimiter struct{}

func (fakeLimiter) Acquire(ctx context.Context) error { return nil }

func newTestServer(t *testing.T) *Server {
	store := &fakeStore{chain: models.Chain{ID: 1, ChainID: "1", NextBlockNumber: 100}}
	cache := addresscache.New(addresscache.Config{MaxSize: 100, DefaultValue: 50, DecayAmount: 2, MinCacheSize: 10})
	m := metrics.New(prometheus.NewRegistry())
	processor := batchproc.New(batchproc.Config{
		Size: 2, MaxConcurrentRPCCalls: 2, ChainExternalID: "1", CacheEnabled: true,
	}, store, fakeFetcher{}, fakeLimiter{}, cache, m)

	return NewServer(&ServerConfig{
		Host: "127.0.0.1", Port: "0",
		ReadTimeout: time.Second, WriteTimeout: time.Second, IdleTimeout: time.Second,
		ShutdownTimeout: time.Second, RateLimitRPS: 1000, RateLimitBurst: 1000,
	}, processor)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/batch/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHandleBatchStart_AcceptsWhenIdle(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/batch/start", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleBatchStop_NoBatchRunning(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/batch/stop", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "BATCH_NOT_RUNNING", body.Error.Code)
}

func TestHandleBatchStatus(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/batch/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var snap batchproc.StatusSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
}

func TestHandleMemoryStatus(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/batch/memory-status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleCacheCleanup(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/batch/cache-cleanup", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware_BlocksAfterBurst(t *testing.T) {
	s := newTestServer(t)
	s.config.RateLimitRPS = 1
	s.config.RateLimitBurst = 1
	s.setupRouter()

	req1 := httptest.NewRequest(http.MethodGet, "/batch/health", nil)
	req1.RemoteAddr = "10.0.0.1:1234"
	rec1 := httptest.NewRecorder()
	s.router.ServeHTTP(rec1, req1)
	assert.Equal(t, http.StatusOK, rec1.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/batch/health", nil)
	req2.RemoteAddr = "10.0.0.1:1234"
	rec2 := httptest.NewRecorder()
	s.router.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusTooManyRequests, rec2.Code)
}
