package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/address-scanner/internal/errors"
	"github.com/address-scanner/internal/models"
)

// Store is the batch processor's single point of contact with Postgres:
// address/chain upserts, the chain high-water mark, and failure logging.
// Every bulk operation uses native ON CONFLICT DO NOTHING rather than
// the per-row try/catch insert loop the old pipeline relied on — a
// single bad row in a batch is not expected, and a batch failure here is
// a StorageIntegrity condition the caller surfaces rather than silently
// degrading to row-by-row inserts.
type Store struct {
	db    *PostgresDB
	dedup *DedupCache
}

// NewStore builds a Store over an already-connected PostgresDB. dedup may
// be nil, in which case every address is always sent to Postgres.
func NewStore(db *PostgresDB, dedup *DedupCache) *Store {
	return &Store{db: db, dedup: dedup}
}

// UpsertAddresses inserts every wallet address in addresses that is not
// already present, ignoring duplicates. Order is not significant; callers
// pass deduplicated addresses already filtered through the address cache.
// When a dedup cache is configured, addresses it has already marked seen
// within the configured TTL are skipped entirely before this statement
// runs; the ones that do reach Postgres are marked seen afterward.
func (s *Store) UpsertAddresses(ctx context.Context, addresses []string) error {
	if len(addresses) == 0 {
		return nil
	}

	toInsert := s.dedup.FilterUnseen(ctx, addresses)
	if len(toInsert) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, addr := range toInsert {
		batch.Queue(
			`INSERT INTO address (wallet_address, created_at, updated_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (wallet_address) DO NOTHING`,
			addr, now, now,
		)
	}

	br := s.db.Pool().SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return errors.NewStorageIntegrityError(
				fmt.Sprintf("bulk address insert failed at row %d of %d", i+1, batch.Len()), err,
			)
		}
	}

	s.dedup.MarkSeen(ctx, toInsert)
	return nil
}

// LookupAddressIDs resolves wallet addresses to their row ids. Addresses
// with no matching row (should not happen immediately after
// UpsertAddresses, but is not assumed) are simply absent from the result.
func (s *Store) LookupAddressIDs(ctx context.Context, addresses []string) (map[string]int64, error) {
	result := make(map[string]int64, len(addresses))
	if len(addresses) == 0 {
		return result, nil
	}

	rows, err := s.db.Pool().Query(ctx,
		`SELECT id, wallet_address FROM address WHERE wallet_address = ANY($1)`,
		addresses,
	)
	if err != nil {
		return nil, errors.NewStorageIntegrityError("address id lookup failed", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var addr string
		if err := rows.Scan(&id, &addr); err != nil {
			return nil, errors.NewStorageIntegrityError("address id lookup scan failed", err)
		}
		result[addr] = id
	}
	return result, rows.Err()
}

// UpsertAddressChainRelationships links each address id to chainID,
// ignoring pairs that already exist.
func (s *Store) UpsertAddressChainRelationships(ctx context.Context, addressIDs []int64, chainID int64) error {
	if len(addressIDs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, addrID := range addressIDs {
		batch.Queue(
			`INSERT INTO address_chain (wallet_address_id, chain_id, created_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (wallet_address_id, chain_id) DO NOTHING`,
			addrID, chainID, now,
		)
	}

	br := s.db.Pool().SendBatch(ctx, batch)
	defer br.Close()

	// A relationship-row failure is StorageTransient, not StorageIntegrity:
	// spec §7 treats it as non-fatal to the batch since the address rows
	// it would have linked are already durably stored.
	var firstErr error
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return errors.NewStorageTransientError("bulk address-chain relationship insert had failures", firstErr)
	}
	return nil
}

// LoadChainByExternalID fetches the chain_info row for the given
// external chain identifier (spec's "chain_id" configuration value, a
// string like "1" for Ethereum mainnet), returning nil if none exists.
func (s *Store) LoadChainByExternalID(ctx context.Context, externalChainID string) (*models.Chain, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT id, chain_name, chain_id, next_block_number, created_at, updated_at
		 FROM chain_info WHERE chain_id = $1`,
		externalChainID,
	)

	var c models.Chain
	err := row.Scan(&c.ID, &c.ChainName, &c.ChainID, &c.NextBlockNumber, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, errors.NewStorageIntegrityError("chain lookup failed", err)
	}
	return &c, nil
}

// AdvanceHighWaterMark moves chain_info.next_block_number forward by
// blocksAdvanced, unconditionally: per the source's invariant, the
// pointer advances by exactly the planned batch size regardless of how
// many individual blocks in that range succeeded or failed.
func (s *Store) AdvanceHighWaterMark(ctx context.Context, chainPK int64, blocksAdvanced int64) error {
	_, err := s.db.Pool().Exec(ctx,
		`UPDATE chain_info SET next_block_number = next_block_number + $1, updated_at = $2 WHERE id = $3`,
		blocksAdvanced, time.Now().UTC(), chainPK,
	)
	if err != nil {
		return errors.NewStorageIntegrityError("high-water mark advance failed", err)
	}
	return nil
}

// InsertFailureLog records one failed-block entry. Failure logs are
// insert-only; there is no updated_at.
func (s *Store) InsertFailureLog(ctx context.Context, log *models.FailureLog) error {
	_, err := s.db.Pool().Exec(ctx,
		`INSERT INTO api_call_failure_log (chain_id, block_number, status_code, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		log.ChainID, log.BlockNumber, log.StatusCode, log.ErrorMessage, time.Now().UTC(),
	)
	if err != nil {
		return errors.NewStorageIntegrityError("failure log insert failed", err)
	}
	return nil
}

// OptimizeSession raises Postgres session parameters for the duration of
// a bulk-insert-heavy storage phase, mirroring the source's
// optimizeForBulkOperations. Each SET runs through the pool and so
// applies only to the session of whichever pooled connection executes it;
// no connection is held across statements, so the bulk writes that follow
// and the later ResetSession may run on other connections.
func (s *Store) OptimizeSession(ctx context.Context) error {
	stmts := []string{
		"SET work_mem = '64MB'",
		"SET maintenance_work_mem = '128MB'",
		"SET synchronous_commit = OFF",
	}
	return s.execAll(ctx, stmts)
}

// ResetSession restores the session parameters OptimizeSession changed.
func (s *Store) ResetSession(ctx context.Context) error {
	stmts := []string{
		"RESET work_mem",
		"RESET maintenance_work_mem",
		"RESET synchronous_commit",
	}
	return s.execAll(ctx, stmts)
}

func (s *Store) execAll(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := s.db.Pool().Exec(ctx, stmt); err != nil {
			return errors.NewStorageTransientError(fmt.Sprintf("session tuning statement failed: %s", strings.TrimSpace(stmt)), err)
		}
	}
	return nil
}
