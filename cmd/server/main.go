// Package main is the ingestion core's composition root: it wires
// Postgres, the optional Redis dedup-ahead cache, the upstream RPC
// client, the rate limiter, the address cache, metrics, the batch
// processor and its scheduler, and the operational HTTP surface, then
// runs until an interrupt signal triggers a graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/address-scanner/internal/addresscache"
	"github.com/address-scanner/internal/api"
	"github.com/address-scanner/internal/batchproc"
	"github.com/address-scanner/internal/config"
	"github.com/address-scanner/internal/logging"
	"github.com/address-scanner/internal/metrics"
	"github.com/address-scanner/internal/ratelimit"
	"github.com/address-scanner/internal/retry"
	"github.com/address-scanner/internal/rpcclient"
	"github.com/address-scanner/internal/storage"
)

func main() {
	fmt.Println("Address Scanner Ingestion Core")
	log.Println("starting...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("structured logging initialized")

	postgres := connectPostgres(cfg, logger)
	defer postgres.Close()

	var dedup *storage.DedupCache
	if cfg.Database.Redis.Enabled {
		redisCache, err := storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to Redis")
		}
		defer redisCache.Close()
		dedup = storage.NewDedupCache(redisCache, cfg.Database.Redis.TTL)
		logger.Info("dedup-ahead cache enabled")
	}

	store := storage.NewStore(postgres, dedup)

	rpcEndpoint := cfg.RPC.Endpoint
	if rpcEndpoint == "" {
		logger.Fatal("RPC_ENDPOINT is required")
	}
	rpc := rpcclient.New(rpcEndpoint, time.Duration(cfg.RPC.TimeoutSeconds)*time.Second)

	limiter := ratelimit.NewTokenBucket(cfg.Batch.RateLimitPerMinute)

	cache := addresscache.New(addresscache.Config{
		MaxSize:             cfg.Cache.MaxSize,
		DefaultValue:        cfg.Cache.DefaultValue,
		DecayAmount:         cfg.Cache.DecayAmount,
		LRUEvictionEnabled:  cfg.Cache.LRUEvictionEnabled,
		BatchEvictionSize:   cfg.Cache.BatchEvictionSize,
		MemoryCheckEnabled:  cfg.Cache.MemoryCheckEnabled,
		TargetMemoryPercent: cfg.Cache.TargetMemoryPercent,
		MinCacheSize:        cfg.Cache.MinCacheSize,
	})

	m := metrics.New(prometheus.DefaultRegisterer)

	processor := batchproc.New(batchproc.Config{
		Size:                  cfg.Batch.Size,
		MaxConcurrentRPCCalls: cfg.Batch.MaxConcurrentRPCCalls,
		ChainExternalID:       cfg.Batch.ChainID,
		CacheEnabled:          cfg.Cache.Enabled,
	}, store, rpc, limiter, cache, m)

	scheduler := batchproc.NewScheduler(cfg.Batch.ScheduleInterval, processor, cfg.Batch.PrefetchEnabled, cfg.Batch.MaxConsecutiveFailures)

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RateLimitRPS:    cfg.Server.RateLimitRPS,
		RateLimitBurst:  cfg.Server.RateLimitBurst,
	}
	server := api.NewServer(serverConfig, processor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scheduler.Start(ctx)

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("operational HTTP surface failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("ingestion core started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("operational HTTP surface forced to shutdown")
	}

	logger.Info("shutdown complete")
}

// connectPostgres retries the initial connection with exponential
// backoff, since the pipeline's own Postgres instance commonly starts a
// few seconds after this process does in a fresh environment.
func connectPostgres(cfg *config.Config, logger *logging.Logger) *storage.PostgresDB {
	var db *storage.PostgresDB

	result := retry.WithExponentialBackoff(context.Background(), retry.DefaultRetryConfig(), func(ctx context.Context, attempt int) error {
		conn, err := storage.NewPostgresDB(&cfg.Database.Postgres)
		if err != nil {
			logger.WithFields(map[string]interface{}{"attempt": attempt}).Warn("Postgres connection attempt failed")
			return err
		}
		db = conn
		return nil
	})

	if !result.Success {
		logger.WithError(result.LastError).Fatal("failed to connect to Postgres after retries")
	}

	return db
}
