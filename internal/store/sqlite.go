// Package store provides the durable client-side state: the pending vote
// queue and per-song cooldown timestamps. State survives restarts; pending
// entries are removed only after a confirmed submission.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog/log"
)

const (
	// CurrentSchemaVersion is the current database schema version.
	CurrentSchemaVersion = "1"

	// DefaultDBPath is the default path for the client state database.
	DefaultDBPath = "data/halcyon.db"
)

// PendingVote is one queued vote awaiting submission. Value holds the star
// count for rating votes and the tag text for mood/genre votes.
type PendingVote struct {
	ID       int64
	SongID   string
	Value    string
	Kind     string
	QueuedAt time.Time
}

// DB is the SQLite-backed client state store.
type DB struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// NewDB creates a store instance. Open must be called before use.
func NewDB(path string) *DB {
	if path == "" {
		path = DefaultDBPath
	}
	return &DB{path: path}
}

// Open opens the database and initializes the schema.
func (d *DB) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", d.path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	d.db = db

	if err := d.initSchema(); err != nil {
		d.db.Close()
		d.db = nil
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", d.path).Msg("State database opened")
	return nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		err := d.db.Close()
		d.db = nil
		return err
	}
	return nil
}

func (d *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pending_votes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		song_id TEXT NOT NULL,
		value TEXT NOT NULL,
		kind TEXT NOT NULL,
		queued_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cooldowns (
		song_id TEXT PRIMARY KEY,
		voted_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := d.db.Exec(schema); err != nil {
		return err
	}

	currentVersion := d.getMeta("schema_version")
	if currentVersion == "" {
		return d.setMeta("schema_version", CurrentSchemaVersion)
	}
	if currentVersion != CurrentSchemaVersion {
		log.Info().
			Str("current", currentVersion).
			Str("target", CurrentSchemaVersion).
			Msg("Migrating state schema")
		return d.setMeta("schema_version", CurrentSchemaVersion)
	}
	return nil
}

func (d *DB) getMeta(key string) string {
	var value string
	err := d.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		return ""
	}
	return value
}

func (d *DB) setMeta(key, value string) error {
	_, err := d.db.Exec(
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	return err
}

// AppendPendingVote adds a vote to the tail of the pending queue and
// returns its assigned id.
func (d *DB) AppendPendingVote(v PendingVote) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.db.Exec(
		"INSERT INTO pending_votes (song_id, value, kind, queued_at) VALUES (?, ?, ?, ?)",
		v.SongID, v.Value, v.Kind, v.QueuedAt.Unix())
	if err != nil {
		return 0, fmt.Errorf("append pending vote: %w", err)
	}
	return res.LastInsertId()
}

// PendingVotes returns all queued votes in enqueue order.
func (d *DB) PendingVotes() ([]PendingVote, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.db.Query(
		"SELECT id, song_id, value, kind, queued_at FROM pending_votes ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("list pending votes: %w", err)
	}
	defer rows.Close()

	var out []PendingVote
	for rows.Next() {
		var v PendingVote
		var queuedAt int64
		if err := rows.Scan(&v.ID, &v.SongID, &v.Value, &v.Kind, &queuedAt); err != nil {
			return nil, err
		}
		v.QueuedAt = time.Unix(queuedAt, 0)
		out = append(out, v)
	}
	return out, rows.Err()
}

// RemovePendingVote deletes a confirmed entry from the queue.
func (d *DB) RemovePendingVote(id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec("DELETE FROM pending_votes WHERE id = ?", id)
	return err
}

// PendingCount returns the number of queued votes.
func (d *DB) PendingCount() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var n int
	err := d.db.QueryRow("SELECT COUNT(*) FROM pending_votes").Scan(&n)
	return n, err
}

// SetCooldown records the last accepted vote time for a song id,
// replacing any earlier record.
func (d *DB) SetCooldown(songID string, votedAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(
		"INSERT INTO cooldowns (song_id, voted_at) VALUES (?, ?) ON CONFLICT(song_id) DO UPDATE SET voted_at = excluded.voted_at",
		songID, votedAt.Unix())
	return err
}

// Cooldown returns the last accepted vote time for a song id, if any.
func (d *DB) Cooldown(songID string) (time.Time, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var votedAt int64
	err := d.db.QueryRow("SELECT voted_at FROM cooldowns WHERE song_id = ?", songID).Scan(&votedAt)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(votedAt, 0), true, nil
}

// PruneCooldowns removes cooldown records older than the cutoff. Expired
// records have no effect on submission, so pruning is housekeeping only.
func (d *DB) PruneCooldowns(cutoff time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec("DELETE FROM cooldowns WHERE voted_at < ?", cutoff.Unix())
	return err
}
