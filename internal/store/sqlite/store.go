// Package sqlite persists vault records in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"veilvault/internal/vault"
)

const schema = `
CREATE TABLE IF NOT EXISTS vaults (
	id           BLOB PRIMARY KEY,
	authority    BLOB NOT NULL,
	total_shares TEXT NOT NULL,
	rwa_hash     BLOB NOT NULL,
	watermark    INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS proofs (
	vault_id  BLOB PRIMARY KEY REFERENCES vaults(id),
	hash      BLOB NOT NULL,
	timestamp INTEGER NOT NULL,
	seal      BLOB
);`

// Store is a vault.Store on SQLite. uint64 share counts are stored as decimal
// text because SQLite integers are signed.
type Store struct {
	db *sql.DB
}

var _ vault.Store = (*Store)(nil)

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault database: %w", err)
	}
	// One writer: SQLite serializes writes anyway, and a single connection
	// keeps immediate transactions from failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create vault schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Create(ctx context.Context, rec vault.Record, apply func() error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM vaults WHERE id = ?`, rec.ID[:]).Scan(&exists)
	switch {
	case err == nil:
		return vault.ErrAlreadyInitialized
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("lookup vault: %w", err)
	}

	if err := insertVault(ctx, tx, rec); err != nil {
		return err
	}
	if err := writeProof(ctx, tx, rec); err != nil {
		return err
	}
	if apply != nil {
		if err := apply(); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id vault.ID) (vault.Record, error) {
	return getRecord(ctx, s.db, id)
}

func (s *Store) Update(ctx context.Context, id vault.ID, fn func(*vault.Record) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rec, err := getRecord(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := fn(&rec); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE vaults SET total_shares = ?, watermark = ?, updated_at = ? WHERE id = ?`,
		strconv.FormatUint(rec.TotalShares, 10), rec.Watermark, rec.UpdatedAt.UnixNano(), id[:])
	if err != nil {
		return fmt.Errorf("update vault: %w", err)
	}
	if err := writeProof(ctx, tx, rec); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) Range(ctx context.Context, fn func(vault.Record) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM vaults ORDER BY id`)
	if err != nil {
		return fmt.Errorf("list vaults: %w", err)
	}
	var ids []vault.ID
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			rows.Close()
			return fmt.Errorf("scan vault id: %w", err)
		}
		var id vault.ID
		copy(id[:], raw)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("list vaults: %w", err)
	}
	rows.Close()

	// The single connection must be free before fn runs: fn may call back into the store.
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRecord(ctx context.Context, q querier, id vault.ID) (vault.Record, error) {
	var (
		authority, hash []byte
		total           string
		watermark       int64
		created, update int64
		proofHash, seal []byte
		proofTS         sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `
		SELECT v.authority, v.total_shares, v.rwa_hash, v.watermark, v.created_at, v.updated_at,
		       p.hash, p.timestamp, p.seal
		FROM vaults v LEFT JOIN proofs p ON p.vault_id = v.id
		WHERE v.id = ?`, id[:]).
		Scan(&authority, &total, &hash, &watermark, &created, &update, &proofHash, &proofTS, &seal)
	if errors.Is(err, sql.ErrNoRows) {
		return vault.Record{}, vault.ErrNotFound
	}
	if err != nil {
		return vault.Record{}, fmt.Errorf("load vault: %w", err)
	}

	shares, err := strconv.ParseUint(total, 10, 64)
	if err != nil {
		return vault.Record{}, fmt.Errorf("corrupt total_shares %q: %w", total, err)
	}
	rec := vault.Record{Vault: vault.Vault{
		ID:          id,
		TotalShares: shares,
		RWAHash:     hash,
		Watermark:   watermark,
		CreatedAt:   time.Unix(0, created),
		UpdatedAt:   time.Unix(0, update),
	}}
	if len(authority) != len(rec.Authority) {
		return vault.Record{}, fmt.Errorf("corrupt authority: %d bytes", len(authority))
	}
	copy(rec.Authority[:], authority)
	if proofTS.Valid {
		rec.Proof = &vault.OracleProof{Hash: proofHash, Timestamp: proofTS.Int64}
		if len(seal) > 0 {
			rec.Proof.Seal = seal
		}
	}
	return rec, nil
}

func insertVault(ctx context.Context, tx *sql.Tx, rec vault.Record) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO vaults (id, authority, total_shares, rwa_hash, watermark, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID[:], rec.Authority[:], strconv.FormatUint(rec.TotalShares, 10), []byte(rec.RWAHash),
		rec.Watermark, rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert vault: %w", err)
	}
	return nil
}

func writeProof(ctx context.Context, tx *sql.Tx, rec vault.Record) error {
	if rec.Proof == nil {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO proofs (vault_id, hash, timestamp, seal) VALUES (?, ?, ?, ?)
		ON CONFLICT(vault_id) DO UPDATE SET hash = excluded.hash, timestamp = excluded.timestamp, seal = excluded.seal`,
		rec.ID[:], []byte(rec.Proof.Hash), rec.Proof.Timestamp, []byte(rec.Proof.Seal))
	if err != nil {
		return fmt.Errorf("write proof: %w", err)
	}
	return nil
}
