package syncstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists Sync State rows scoped by (tenant_id,
// provider_id), grounded on the teacher's pgx usage in
// pkg/tenant.provisioner (pgxpool.Pool, context-scoped exec/query), but
// chooses row-level tenant scoping over the teacher's per-tenant schema
// provisioning (see DESIGN.md's Open Question decisions).
type PostgresStore struct {
	pool *pgxpool.Pool

	// keyMus (guarded by mu) serializes concurrent WithLock calls for the same key
	// within this process; cross-process exclusion for the same key is
	// achieved by the caller's polling scheduler never running two
	// workers for one (tenant, provider) concurrently (spec §4.7).
	mu     sync.Mutex
	keyMus map[Key]*sync.Mutex
}

// NewPostgresStore creates a Store backed by pool. The gateway is expected
// to run schema migrations for the sync_state table out of band.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, keyMus: make(map[Key]*sync.Mutex)}
}

func (s *PostgresStore) lockFor(key Key) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.keyMus[key]
	if !ok {
		m = &sync.Mutex{}
		s.keyMus[key] = m
	}
	return m
}

// row is the JSON-serializable persisted form of a State, matching spec
// §6 "implementers may store the lastKnownState as serialized JSON".
type row struct {
	Status            Status                  `json:"status"`
	LastSyncTimestamp time.Time               `json:"lastSyncTimestamp"`
	SnapshotTimestamp time.Time               `json:"snapshotTimestamp"`
	SnapshotChecksum  string                  `json:"snapshotChecksum"`
	LastKnownState    json.RawMessage         `json:"lastKnownState"`
	UserCount         int                     `json:"userCount"`
	GroupCount        int                     `json:"groupCount"`
	DriftLog          json.RawMessage         `json:"driftLog"`
	ConflictLog       json.RawMessage         `json:"conflictLog"`
	ErrorLog          json.RawMessage         `json:"errorLog"`
}

// Load implements Store, reading the row for key or returning a fresh Idle
// record when none exists yet.
func (s *PostgresStore) Load(key Key) State {
	ctx := context.Background()

	var r row
	err := s.pool.QueryRow(ctx,
		`SELECT status, last_sync_timestamp, snapshot_timestamp, snapshot_checksum,
		        last_known_state, user_count, group_count, drift_log, conflict_log, error_log
		   FROM sync_state WHERE tenant_id = $1 AND provider_id = $2`,
		key.TenantID, key.ProviderID,
	).Scan(&r.Status, &r.LastSyncTimestamp, &r.SnapshotTimestamp, &r.SnapshotChecksum,
		&r.LastKnownState, &r.UserCount, &r.GroupCount, &r.DriftLog, &r.ConflictLog, &r.ErrorLog)

	if err == pgx.ErrNoRows || err != nil {
		return State{TenantID: key.TenantID, ProviderID: key.ProviderID, Status: StatusIdle}
	}

	return fromRow(key, r)
}

// WithLock implements Store: it takes the in-process per-key lock, loads
// the current row, runs fn, and upserts the result with a single
// INSERT ... ON CONFLICT statement (no explicit transaction).
func (s *PostgresStore) WithLock(key Key, fn func(State) State) State {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	current := s.Load(key)
	updated := fn(current)

	if err := s.persist(key, updated); err != nil {
		// on a persistence failure fn's result is discarded: the caller
		// gets back the state as loaded, and the error itself is not
		// returned since the Store interface has no error result.
		return current
	}
	return updated
}

func (s *PostgresStore) persist(key Key, st State) error {
	ctx := context.Background()
	r := toRow(st)

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_state (tenant_id, provider_id, status, last_sync_timestamp,
		        snapshot_timestamp, snapshot_checksum, last_known_state, user_count,
		        group_count, drift_log, conflict_log, error_log)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (tenant_id, provider_id) DO UPDATE SET
		        status = EXCLUDED.status,
		        last_sync_timestamp = EXCLUDED.last_sync_timestamp,
		        snapshot_timestamp = EXCLUDED.snapshot_timestamp,
		        snapshot_checksum = EXCLUDED.snapshot_checksum,
		        last_known_state = EXCLUDED.last_known_state,
		        user_count = EXCLUDED.user_count,
		        group_count = EXCLUDED.group_count,
		        drift_log = EXCLUDED.drift_log,
		        conflict_log = EXCLUDED.conflict_log,
		        error_log = EXCLUDED.error_log`,
		key.TenantID, key.ProviderID, r.Status, r.LastSyncTimestamp, r.SnapshotTimestamp,
		r.SnapshotChecksum, r.LastKnownState, r.UserCount, r.GroupCount, r.DriftLog, r.ConflictLog, r.ErrorLog,
	)
	if err != nil {
		return fmt.Errorf("persisting sync state for %s/%s: %w", key.TenantID, key.ProviderID, err)
	}
	return nil
}

func toRow(st State) row {
	lastKnown, _ := json.Marshal(st.LastKnownState)
	driftLog, _ := json.Marshal(st.DriftLog)
	conflictLog, _ := json.Marshal(st.ConflictLog)
	errorLog, _ := json.Marshal(st.ErrorLog)
	return row{
		Status: st.Status, LastSyncTimestamp: st.LastSyncTimestamp, SnapshotTimestamp: st.SnapshotTimestamp,
		SnapshotChecksum: st.SnapshotChecksum, LastKnownState: lastKnown, UserCount: st.UserCount,
		GroupCount: st.GroupCount, DriftLog: driftLog, ConflictLog: conflictLog, ErrorLog: errorLog,
	}
}

func fromRow(key Key, r row) State {
	st := State{
		TenantID: key.TenantID, ProviderID: key.ProviderID, Status: r.Status,
		LastSyncTimestamp: r.LastSyncTimestamp, SnapshotTimestamp: r.SnapshotTimestamp,
		SnapshotChecksum: r.SnapshotChecksum, UserCount: r.UserCount, GroupCount: r.GroupCount,
	}
	_ = json.Unmarshal(r.LastKnownState, &st.LastKnownState)
	_ = json.Unmarshal(r.DriftLog, &st.DriftLog)
	_ = json.Unmarshal(r.ConflictLog, &st.ConflictLog)
	_ = json.Unmarshal(r.ErrorLog, &st.ErrorLog)
	return st
}
