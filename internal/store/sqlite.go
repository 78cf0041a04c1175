package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrForbidden = errors.New("record belongs to another user")
)

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; one connection also keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS records (
        id TEXT PRIMARY KEY, -- UUID
        owner_id TEXT NOT NULL,
        kind TEXT NOT NULL DEFAULT 'chat',
        title TEXT NOT NULL,
        turns_json TEXT NOT NULL DEFAULT '[]',
        thread_id TEXT,
        metadata_json TEXT,
        bookmarked BOOLEAN NOT NULL DEFAULT FALSE,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL,
        deleted_at DATETIME
    );

    CREATE INDEX IF NOT EXISTS idx_records_owner ON records (owner_id, deleted_at, updated_at);
    `
	_, err := s.db.Exec(schema)
	return err
}

func encodeTurns(turns []Turn) (string, error) {
	if turns == nil {
		turns = []Turn{}
	}
	b, err := json.Marshal(turns)
	if err != nil {
		return "", fmt.Errorf("failed to marshal turns: %w", err)
	}
	return string(b), nil
}

func encodeMetadata(metadata map[string]any) (sql.NullString, error) {
	if len(metadata) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// CreateRecord inserts rec under a freshly allocated id and fills in ID and timestamps.
func (s *SQLiteStore) CreateRecord(ctx context.Context, rec *Record) error {
	if rec.OwnerID == "" {
		return fmt.Errorf("owner id is required")
	}
	if rec.Kind == "" {
		rec.Kind = KindChat
	}
	turnsJSON, err := encodeTurns(rec.Turns)
	if err != nil {
		return err
	}
	metadataJSON, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	now := s.now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, owner_id, kind, title, turns_json, thread_id, metadata_json, bookmarked, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rec.OwnerID, rec.Kind, rec.Title, turnsJSON, nullString(rec.ThreadID), metadataJSON, rec.Bookmarked, now, now)
	if err != nil {
		return fmt.Errorf("failed to execute record insert: %w", err)
	}

	rec.ID = id
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return nil
}

// UpdateRecord overwrites turns, title, thread and metadata of an existing record.
func (s *SQLiteStore) UpdateRecord(ctx context.Context, rec *Record) error {
	turnsJSON, err := encodeTurns(rec.Turns)
	if err != nil {
		return err
	}
	metadataJSON, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET title = ?, turns_json = ?, thread_id = ?, metadata_json = ?, updated_at = ?
         WHERE id = ? AND owner_id = ? AND deleted_at IS NULL`,
		rec.Title, turnsJSON, nullString(rec.ThreadID), metadataJSON, now, rec.ID, rec.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to execute record update: %w", err)
	}
	if err := s.expectOne(ctx, res, rec.ID, rec.OwnerID); err != nil {
		return err
	}
	rec.UpdatedAt = now
	return nil
}

// GetRecord returns ErrNotFound for unknown or deleted ids and ErrForbidden when
// the record exists but ownerID does not own it.
func (s *SQLiteStore) GetRecord(ctx context.Context, id, ownerID string) (*Record, error) {
	var (
		rec          Record
		turnsJSON    string
		threadID     sql.NullString
		metadataJSON sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, kind, title, turns_json, thread_id, metadata_json, bookmarked, created_at, updated_at
         FROM records WHERE id = ? AND deleted_at IS NULL`, id).
		Scan(&rec.ID, &rec.OwnerID, &rec.Kind, &rec.Title, &turnsJSON, &threadID, &metadataJSON, &rec.Bookmarked, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	if rec.OwnerID != ownerID {
		return nil, ErrForbidden
	}

	if err := json.Unmarshal([]byte(turnsJSON), &rec.Turns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal turns for record %s: %w", id, err)
	}
	if threadID.Valid {
		rec.ThreadID = &threadID.String
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for record %s: %w", id, err)
		}
	}
	return &rec, nil
}

// ListRecords returns the owner's live records, bookmarked first, newest first.
// An empty kind lists every kind.
func (s *SQLiteStore) ListRecords(ctx context.Context, ownerID, kind string) ([]RecordSummary, error) {
	query := `SELECT id, kind, title, bookmarked, updated_at FROM records
              WHERE owner_id = ? AND deleted_at IS NULL`
	args := []any{ownerID}
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY bookmarked DESC, updated_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	summaries := []RecordSummary{}
	for rows.Next() {
		var sum RecordSummary
		if err := rows.Scan(&sum.ID, &sum.Kind, &sum.Title, &sum.Bookmarked, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return summaries, nil
}

func (s *SQLiteStore) RenameRecord(ctx context.Context, id, ownerID, title string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE records SET title = ?, updated_at = ? WHERE id = ? AND owner_id = ? AND deleted_at IS NULL",
		title, s.now(), id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to execute record rename: %w", err)
	}
	return s.expectOne(ctx, res, id, ownerID)
}

// ToggleBookmark flips the bookmark flag and returns the new value.
func (s *SQLiteStore) ToggleBookmark(ctx context.Context, id, ownerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE records SET bookmarked = NOT bookmarked WHERE id = ? AND owner_id = ? AND deleted_at IS NULL",
		id, ownerID)
	if err != nil {
		return false, fmt.Errorf("failed to execute bookmark toggle: %w", err)
	}
	if err := s.expectOne(ctx, res, id, ownerID); err != nil {
		return false, err
	}

	var bookmarked bool
	if err := s.db.QueryRowContext(ctx, "SELECT bookmarked FROM records WHERE id = ?", id).Scan(&bookmarked); err != nil {
		return false, fmt.Errorf("failed to read bookmark state: %w", err)
	}
	return bookmarked, nil
}

// DeleteRecord soft-deletes; the row stays but is invisible to every other call.
func (s *SQLiteStore) DeleteRecord(ctx context.Context, id, ownerID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE records SET deleted_at = ? WHERE id = ? AND owner_id = ? AND deleted_at IS NULL",
		s.now(), id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to execute record delete: %w", err)
	}
	return s.expectOne(ctx, res, id, ownerID)
}

// expectOne turns a zero-row write into ErrNotFound or ErrForbidden.
func (s *SQLiteStore) expectOne(ctx context.Context, res sql.Result, id, ownerID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var owner string
	err = s.db.QueryRowContext(ctx, "SELECT owner_id FROM records WHERE id = ? AND deleted_at IS NULL", id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to resolve record %s: %w", id, err)
	}
	if owner != ownerID {
		return ErrForbidden
	}
	return ErrNotFound
}
