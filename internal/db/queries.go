package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/namecall/internal/errors"
	"github.com/hpungsan/namecall/internal/store"
)

const metaLastUpdated = "last_updated"

// MappingStore persists store snapshots in SQLite.
type MappingStore struct {
	db *sql.DB
}

// NewMappingStore wraps an initialized database.
func NewMappingStore(db *sql.DB) *MappingStore {
	return &MappingStore{db: db}
}

// LoadMappings reads both tables. A database that has never been saved
// returns store.ErrNoMappings.
func (m *MappingStore) LoadMappings(ctx context.Context) (*store.Snapshot, error) {
	var lastUpdated string
	err := m.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaLastUpdated).Scan(&lastUpdated)
	if err == sql.ErrNoRows {
		return nil, store.ErrNoMappings
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	snap := &store.Snapshot{
		StaticNames:  make(map[string]string),
		LearnedNames: make(map[string]store.Record),
	}
	if t, err := time.Parse(time.RFC3339, lastUpdated); err == nil {
		snap.LastUpdated = t
	}

	rows, err := m.db.QueryContext(ctx, `SELECT token, name FROM static_names`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	for rows.Next() {
		var token, name string
		if err := rows.Scan(&token, &name); err != nil {
			rows.Close()
			return nil, errors.NewInternal(err)
		}
		snap.StaticNames[token] = name
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = m.db.QueryContext(ctx, `SELECT token, name, confidence, source FROM learned_names`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	for rows.Next() {
		var (
			token string
			rec   store.Record
		)
		if err := rows.Scan(&token, &rec.Name, &rec.Confidence, &rec.Source); err != nil {
			rows.Close()
			return nil, errors.NewInternal(err)
		}
		snap.LearnedNames[token] = rec
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	return snap, nil
}

// SaveMappings makes both tables equal to snap in one transaction. Rows are
// upserted per token and rows missing from snap are deleted. learned_at keeps
// the time a token was first learned under its current name.
func (m *MappingStore) SaveMappings(ctx context.Context, snap *store.Snapshot) error {
	if snap == nil {
		snap = &store.Snapshot{}
	}
	updated := snap.LastUpdated
	if updated.IsZero() {
		updated = time.Now()
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	staticKeys := make(map[string]bool, len(snap.StaticNames))
	for token, name := range snap.StaticNames {
		staticKeys[token] = true
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO static_names (token, name) VALUES (?, ?)
			 ON CONFLICT(token) DO UPDATE SET name = excluded.name`,
			token, name,
		); err != nil {
			return errors.NewInternal(err)
		}
	}
	if err := deleteMissing(ctx, tx, "static_names", staticKeys); err != nil {
		return err
	}

	learnedAt := updated.Unix()
	learnedKeys := make(map[string]bool, len(snap.LearnedNames))
	for token, rec := range snap.LearnedNames {
		learnedKeys[token] = true
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO learned_names (token, name, confidence, source, learned_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(token) DO UPDATE SET
			   learned_at = CASE WHEN learned_names.name = excluded.name
			                     THEN learned_names.learned_at ELSE excluded.learned_at END,
			   name       = excluded.name,
			   confidence = excluded.confidence,
			   source     = excluded.source`,
			token, rec.Name, rec.Confidence, rec.Source, learnedAt,
		); err != nil {
			return errors.NewInternal(err)
		}
	}
	if err := deleteMissing(ctx, tx, "learned_names", learnedKeys); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		metaLastUpdated, updated.UTC().Format(time.RFC3339),
	); err != nil {
		return errors.NewInternal(err)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// deleteMissing removes rows of table whose token is not in keep. table is
// one of the two mapping tables, never user input.
func deleteMissing(ctx context.Context, tx *sql.Tx, table string, keep map[string]bool) error {
	rows, err := tx.QueryContext(ctx, `SELECT token FROM `+table)
	if err != nil {
		return errors.NewInternal(err)
	}
	var stale []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			rows.Close()
			return errors.NewInternal(err)
		}
		if !keep[token] {
			stale = append(stale, token)
		}
	}
	if err := closeRows(rows); err != nil {
		return err
	}

	for _, token := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE token = ?`, token); err != nil {
			return errors.NewInternal(err)
		}
	}
	return nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return errors.NewInternal(err)
	}
	if err := rows.Close(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}
