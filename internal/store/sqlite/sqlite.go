package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/wirechat-p2p/internal/store"
)

// schema is applied on open. The identity table holds a single row (slot = 1).
const schema = `
CREATE TABLE IF NOT EXISTS identity (
	slot         INTEGER PRIMARY KEY CHECK (slot = 1),
	id           TEXT NOT NULL,
	display_name TEXT NOT NULL,
	settings     BLOB,
	updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS friends (
	owner_id     TEXT NOT NULL,
	friend_id    TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	added_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (owner_id, friend_id)
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, migrate)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection; also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== IdentityStore implementation ====

// SaveIdentity stores the identity, replacing any previous one.
func (s *SQLiteStore) SaveIdentity(ctx context.Context, identity *store.Identity) error {
	if identity.UpdatedAt.IsZero() {
		identity.UpdatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO identity (slot, id, display_name, settings, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			id = excluded.id,
			display_name = excluded.display_name,
			settings = excluded.settings,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, identity.ID, identity.DisplayName, identity.Settings, identity.UpdatedAt); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

// LoadIdentity returns the stored identity or store.ErrNotFound.
func (s *SQLiteStore) LoadIdentity(ctx context.Context) (*store.Identity, error) {
	query := `
		SELECT id, display_name, settings, updated_at
		FROM identity
		WHERE slot = 1
	`
	var identity store.Identity
	err := s.db.QueryRowContext(ctx, query).Scan(
		&identity.ID,
		&identity.DisplayName,
		&identity.Settings,
		&identity.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query identity: %w", err)
	}

	return &identity, nil
}

// ==== FriendStore implementation ====

// SaveFriend inserts or updates a friend record.
func (s *SQLiteStore) SaveFriend(ctx context.Context, friend *store.Friend) error {
	if friend.AddedAt.IsZero() {
		friend.AddedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO friends (owner_id, friend_id, display_name, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(owner_id, friend_id) DO UPDATE SET
			display_name = excluded.display_name
	`
	if _, err := s.db.ExecContext(ctx, query, friend.OwnerID, friend.FriendID, friend.DisplayName, friend.AddedAt); err != nil {
		return fmt.Errorf("save friend: %w", err)
	}
	return nil
}

// ListFriends lists friends of ownerID ordered by friend id.
func (s *SQLiteStore) ListFriends(ctx context.Context, ownerID string) ([]*store.Friend, error) {
	query := `
		SELECT owner_id, friend_id, display_name, added_at
		FROM friends
		WHERE owner_id = ?
		ORDER BY friend_id
	`
	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query friends: %w", err)
	}
	defer rows.Close()

	var friends []*store.Friend
	for rows.Next() {
		var f store.Friend
		if err := rows.Scan(&f.OwnerID, &f.FriendID, &f.DisplayName, &f.AddedAt); err != nil {
			return nil, fmt.Errorf("scan friend: %w", err)
		}
		friends = append(friends, &f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friends: %w", err)
	}

	return friends, nil
}

// DeleteFriend removes a friend record.
func (s *SQLiteStore) DeleteFriend(ctx context.Context, ownerID, friendID string) error {
	query := `DELETE FROM friends WHERE owner_id = ? AND friend_id = ?`
	if _, err := s.db.ExecContext(ctx, query, ownerID, friendID); err != nil {
		return fmt.Errorf("delete friend: %w", err)
	}
	return nil
}
