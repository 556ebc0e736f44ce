package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"github.com/gravitas-games/forge/internal/inventory"
)

// SQLite persists ledger entries in a single table. One row per (owner,
// material) with a positive quantity; deducting to zero deletes the row.
type SQLite struct {
	db     *sql.DB
	locks  *ownerLocks
	closed atomic.Bool
}

// OpenSQLite opens or creates the ledger database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection makes every transaction a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db, locks: newOwnerLocks()}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS ledger (
		owner TEXT NOT NULL,
		material TEXT NOT NULL,
		qty INTEGER NOT NULL CHECK (qty > 0),
		PRIMARY KEY (owner, material)
	);`)
	return err
}

// CheckAndDeduct implements Ledger.
func (s *SQLite) CheckAndDeduct(ctx context.Context, owner inventory.OwnerID, required inventory.Counts) (inventory.Counts, error) {
	return s.apply(ctx, owner, required, planDeduct)
}

// Credit implements Ledger.
func (s *SQLite) Credit(ctx context.Context, owner inventory.OwnerID, items inventory.Counts) (inventory.Counts, error) {
	return s.apply(ctx, owner, items, func(current, items inventory.Counts) (inventory.Counts, error) {
		return planCredit(current, items), nil
	})
}

// Balance implements Ledger.
func (s *SQLite) Balance(ctx context.Context, owner inventory.OwnerID) (inventory.Counts, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return loadOwner(ctx, s.db, owner)
}

// Close implements Ledger.
func (s *SQLite) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadOwner(ctx context.Context, q queryer, owner inventory.OwnerID) (inventory.Counts, error) {
	rows, err := q.QueryContext(ctx, `SELECT material, qty FROM ledger WHERE owner = ?`, string(owner))
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger for %s: %w", owner, err)
	}
	defer rows.Close()

	counts := make(inventory.Counts)
	for rows.Next() {
		var (
			material string
			qty      int
		)
		if err := rows.Scan(&material, &qty); err != nil {
			return nil, err
		}
		counts[inventory.MaterialID(material)] = qty
	}
	return counts, rows.Err()
}

func (s *SQLite) apply(ctx context.Context, owner inventory.OwnerID, items inventory.Counts, plan func(current, items inventory.Counts) (inventory.Counts, error)) (inventory.Counts, error) {
	if err := checkCounts(owner, items); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	unlock := s.locks.lock(owner)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := loadOwner(ctx, tx, owner)
	if err != nil {
		return nil, err
	}
	next, err := plan(current, items)
	if err != nil {
		return nil, err
	}

	for _, id := range items.Materials() {
		if qty, ok := next[id]; ok {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO ledger (owner, material, qty) VALUES (?, ?, ?)
				 ON CONFLICT(owner, material) DO UPDATE SET qty = excluded.qty`,
				string(owner), string(id), qty)
		} else {
			_, err = tx.ExecContext(ctx, `DELETE FROM ledger WHERE owner = ? AND material = ?`, string(owner), string(id))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to write ledger entry %s/%s: %w", owner, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit ledger transaction: %w", err)
	}
	return next, nil
}
