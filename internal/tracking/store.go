package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ggonzalez94/xfer-core/internal/engine"
	"github.com/ggonzalez94/xfer-core/internal/logging"
	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// DefaultNamespace is used when OpenStore is given an empty namespace.
const DefaultNamespace = "transfers"

// Store is a namespaced sqlite table of transfer records keyed by transfer
// id. Writes hold both an in-process mutex and a file lock so several
// processes can share the database.
type Store struct {
	db        *sql.DB
	lock      *flock.Flock
	mu        sync.Mutex
	namespace string
	logger    *slog.Logger
}

type StoreOption func(*Store)

// WithStoreLogger sets the logger used to report rows that cannot be read.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

func OpenStore(path, lockPath, namespace string, opts ...StoreOption) (*Store, error) {
	if strings.TrimSpace(namespace) == "" {
		namespace = DefaultNamespace
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create transfer store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create transfer lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open transfer sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS transfers (
			namespace TEXT NOT NULL,
			transfer_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (namespace, transfer_id)
		);`,
		"CREATE INDEX IF NOT EXISTS idx_transfers_status ON transfers(namespace, status);",
		`CREATE TABLE IF NOT EXISTS store_meta (
			namespace TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init transfer schema: %w", err)
		}
	}
	s := &Store{db: db, lock: flock.New(lockPath), namespace: namespace}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDefault(s.logger)
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Namespace() string { return s.namespace }

func (s *Store) withLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	locked, err := s.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock transfer store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock transfer store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

// migrate upgrades every row of the namespace written by an older version.
func (s *Store) migrate(ctx context.Context) error {
	return s.withLock(ctx, func() error {
		var version int
		err := s.db.QueryRowContext(ctx, "SELECT schema_version FROM store_meta WHERE namespace = ?", s.namespace).Scan(&version)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read store version: %w", err)
		}
		if version == SchemaVersion {
			return nil
		}
		if version > SchemaVersion {
			return fmt.Errorf("transfer store version %d is newer than supported version %d", version, SchemaVersion)
		}

		rows, err := s.db.QueryContext(ctx, "SELECT transfer_id, payload FROM transfers WHERE namespace = ?", s.namespace)
		if err != nil {
			return fmt.Errorf("scan transfers for migration: %w", err)
		}
		upgraded := map[string][]byte{}
		for rows.Next() {
			var id string
			var payload []byte
			if err := rows.Scan(&id, &payload); err != nil {
				rows.Close()
				return fmt.Errorf("scan transfer row: %w", err)
			}
			rec, migrated, err := decodeRecord(payload)
			if err != nil {
				s.logger.Warn("skipping unreadable transfer record", logging.TransferID(id), logging.Error(err))
				continue
			}
			if !migrated {
				continue
			}
			if upgraded[id], err = encodeRecord(rec); err != nil {
				rows.Close()
				return fmt.Errorf("encode transfer %s: %w", id, err)
			}
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("iterate transfer rows: %w", err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		for id, payload := range upgraded {
			if _, err := tx.ExecContext(ctx, "UPDATE transfers SET payload = ? WHERE namespace = ? AND transfer_id = ?", payload, s.namespace, id); err != nil {
				return fmt.Errorf("write migrated transfer %s: %w", id, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO store_meta (namespace, schema_version) VALUES (?, ?)
			ON CONFLICT(namespace) DO UPDATE SET schema_version = excluded.schema_version
		`, s.namespace, SchemaVersion); err != nil {
			return fmt.Errorf("write store version: %w", err)
		}
		return tx.Commit()
	})
}

// Add inserts rec, replacing any record with the same transfer id.
func (s *Store) Add(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.Transfer.ID) == "" {
		return fmt.Errorf("add transfer: missing transfer id")
	}
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().UnixMilli()
	}
	payload, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encode transfer: %w", err)
	}
	return s.withLock(ctx, func() error {
		now := time.Now().UnixMilli()
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO transfers (namespace, transfer_id, status, created_at, updated_at, payload)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(namespace, transfer_id) DO UPDATE SET
				status=excluded.status,
				created_at=excluded.created_at,
				updated_at=excluded.updated_at,
				payload=excluded.payload
		`, s.namespace, rec.Transfer.ID, string(rec.Transfer.Status), rec.Timestamp, now, payload)
		if err != nil {
			return fmt.Errorf("add transfer: %w", err)
		}
		return nil
	})
}

// Get returns the record for id; ok is false when there is none.
func (s *Store) Get(ctx context.Context, id string) (rec Record, ok bool, err error) {
	var payload []byte
	err = s.db.QueryRowContext(ctx, "SELECT payload FROM transfers WHERE namespace = ? AND transfer_id = ?", s.namespace, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("read transfer: %w", err)
	}
	rec, _, err = decodeRecord(payload)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// List returns every record, newest first. Rows whose payload cannot be
// decoded are logged and left out.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	return s.query(ctx, "SELECT transfer_id, payload FROM transfers WHERE namespace = ? ORDER BY created_at DESC, transfer_id", s.namespace)
}

// Pending returns the records whose transfer has not reached a terminal
// status.
func (s *Store) Pending(ctx context.Context) ([]Record, error) {
	args := []any{s.namespace}
	for _, st := range engine.PendingStatuses {
		args = append(args, string(st))
	}
	q := "SELECT transfer_id, payload FROM transfers WHERE namespace = ? AND status IN (" + placeholders(len(engine.PendingStatuses)) + ") ORDER BY created_at, transfer_id"
	return s.query(ctx, q, args...)
}

// Update replaces the transfer of an existing record. Unknown ids are left
// alone and reported with false.
func (s *Store) Update(ctx context.Context, transfer engine.Transfer) (bool, error) {
	var updated bool
	err := s.withLock(ctx, func() error {
		rec, ok, err := s.Get(ctx, transfer.ID)
		if err != nil || !ok {
			return err
		}
		if transfer.Quote.ID == "" {
			transfer.Quote = rec.Transfer.Quote
		}
		rec.Transfer = transfer
		payload, err := encodeRecord(rec)
		if err != nil {
			return fmt.Errorf("encode transfer: %w", err)
		}
		res, err := s.db.ExecContext(ctx,
			"UPDATE transfers SET status = ?, updated_at = ?, payload = ? WHERE namespace = ? AND transfer_id = ?",
			string(transfer.Status), time.Now().UnixMilli(), payload, s.namespace, transfer.ID)
		if err != nil {
			return fmt.Errorf("update transfer: %w", err)
		}
		n, _ := res.RowsAffected()
		updated = n > 0
		return nil
	})
	return updated, err
}

func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	n, err := s.delete(ctx, "DELETE FROM transfers WHERE namespace = ? AND transfer_id = ?", s.namespace, id)
	return n > 0, err
}

// ClearCompleted drops every record whose status is terminal.
func (s *Store) ClearCompleted(ctx context.Context) (int, error) {
	return s.delete(ctx, "DELETE FROM transfers WHERE namespace = ? AND status IN (?, ?)",
		s.namespace, string(engine.StatusCompleted), string(engine.StatusFailed))
}

func (s *Store) ClearAll(ctx context.Context) (int, error) {
	return s.delete(ctx, "DELETE FROM transfers WHERE namespace = ?", s.namespace)
}

func (s *Store) delete(ctx context.Context, q string, args ...any) (int, error) {
	var n int64
	err := s.withLock(ctx, func() error {
		res, err := s.db.ExecContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("delete transfers: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return int(n), err
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan transfer row: %w", err)
		}
		rec, _, err := decodeRecord(payload)
		if err != nil {
			s.logger.Warn("skipping unreadable transfer record", logging.TransferID(id), logging.Error(err))
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer rows: %w", err)
	}
	return out, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
