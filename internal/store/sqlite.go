package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperengineering/mealclarify/internal/keylock"
	"github.com/hyperengineering/mealclarify/internal/types"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width ISO-8601 in UTC so that created_at compares
// correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const memoryPath = ":memory:"

// Compile-time interface check
var _ ClarificationStore = (*SQLiteStore)(nil)

// SQLiteStore is the SQLite-backed ClarificationStore. Every mutation is a
// single committed transaction with synchronous=FULL, so a record is on disk
// before Store returns.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	now   func() time.Time
	locks *keylock.Map
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock injects the clock used for CreatedAt defaults and expiry.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSQLiteStore opens (or creates) the database at dbPath, runs migrations
// and verifies integrity. A corrupt or unreadable database is an error; the
// caller must not fall back to an empty store.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	if dbPath != memoryPath {
		if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", pragmaDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Each connection to :memory: is a separate database.
	if dbPath == memoryPath {
		db.SetMaxOpenConns(1)
	}

	if err := checkIntegrity(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &SQLiteStore{
		db:    db,
		path:  dbPath,
		now:   time.Now,
		locks: keylock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// pragmaDSN attaches pragmas to the DSN so they apply to every pooled
// connection, not just the first one.
func pragmaDSN(dbPath string) string {
	pragmas := []string{
		"_pragma=busy_timeout(5000)",
		"_pragma=foreign_keys(ON)",
		"_pragma=synchronous(FULL)",
	}
	if dbPath != memoryPath {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	return dbPath + "?" + strings.Join(pragmas, "&")
}

// checkIntegrity runs PRAGMA quick_check and fails unless SQLite reports ok.
func checkIntegrity(db *sql.DB) error {
	var result string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database path the store was opened with.
func (s *SQLiteStore) Path() string {
	return s.path
}

// HasPending reports whether a record exists for userID.
func (s *SQLiteStore) HasPending(ctx context.Context, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM pending_clarifications WHERE user_id = ?", userID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query pending: %w", err)
	}
	return true, nil
}

// Store upserts rec. On success rec.ID holds the new record ID and
// rec.CreatedAt the persisted timestamp. A replacement never moves CreatedAt
// backwards.
func (s *SQLiteStore) Store(ctx context.Context, rec *types.PendingClarification) error {
	if rec == nil || rec.UserID == "" || rec.Media == nil {
		return ErrInvalidRecord
	}

	mediaType, payload, text, filename, err := encodeMedia(rec.Media)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	items, err := encodeList(rec.UncertainItems)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	reasons, err := encodeList(rec.UncertaintyReasons)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	unlock := s.locks.Lock(rec.UserID)
	defer unlock()

	now := s.now().UTC()
	createdAt := rec.CreatedAt.UTC()
	if rec.CreatedAt.IsZero() {
		createdAt = now
	}

	id := ulid.Make().String()

	// One autocommit statement: a deferred read-then-write transaction
	// would fail with SQLITE_BUSY on lock upgrade when another user's write
	// is in flight. Timestamps are fixed width, so MAX compares them in
	// time order.
	var persisted string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO pending_clarifications (
			user_id, record_id, media_type, payload, payload_text, filename,
			original_summary, uncertain_items, uncertainty_reasons, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			record_id = excluded.record_id,
			media_type = excluded.media_type,
			payload = excluded.payload,
			payload_text = excluded.payload_text,
			filename = excluded.filename,
			original_summary = excluded.original_summary,
			uncertain_items = excluded.uncertain_items,
			uncertainty_reasons = excluded.uncertainty_reasons,
			created_at = MAX(pending_clarifications.created_at, excluded.created_at),
			updated_at = excluded.updated_at
		RETURNING created_at
	`, rec.UserID, id, mediaType, payload, text, filename,
		rec.OriginalSummary, items, reasons,
		createdAt.Format(timeLayout), now.Format(timeLayout)).Scan(&persisted)
	if err != nil {
		return fmt.Errorf("%w: upsert: %w", ErrPersistenceFailed, err)
	}
	if t, perr := time.Parse(timeLayout, persisted); perr == nil {
		createdAt = t
	}

	rec.ID = id
	rec.CreatedAt = createdAt
	return nil
}

const selectColumns = `
	user_id, record_id, media_type, payload, payload_text, filename,
	original_summary, uncertain_items, uncertainty_reasons, created_at`

// Get returns the pending record for userID or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, userID string) (*types.PendingClarification, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+selectColumns+" FROM pending_clarifications WHERE user_id = ?", userID)
	rec, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pending: %w", err)
	}
	return rec, nil
}

// Clear removes the record for userID. Clearing a user with nothing
// pending is not an error.
func (s *SQLiteStore) Clear(ctx context.Context, userID string) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM pending_clarifications WHERE user_id = ?", userID,
	); err != nil {
		return fmt.Errorf("%w: clear: %w", ErrPersistenceFailed, err)
	}
	return nil
}

// SweepExpired removes records created before now-maxAge and returns how
// many were removed. Each candidate is deleted under its user's lock with the
// age re-checked, so a record rewritten by a concurrent Store survives.
func (s *SQLiteStore) SweepExpired(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge < 0 {
		return 0, fmt.Errorf("max age must not be negative: %s", maxAge)
	}
	cutoff := s.now().UTC().Add(-maxAge).Format(timeLayout)

	candidates, err := s.expiredUsers(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	var removed int64
	for _, userID := range candidates {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		n, err := s.removeIfExpired(ctx, userID, cutoff)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

func (s *SQLiteStore) expiredUsers(ctx context.Context, cutoff string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM pending_clarifications WHERE created_at < ? ORDER BY created_at", cutoff)
	if err != nil {
		return nil, fmt.Errorf("query expired: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan expired: %w", err)
		}
		users = append(users, userID)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) removeIfExpired(ctx context.Context, userID, cutoff string) (int64, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM pending_clarifications WHERE user_id = ? AND created_at < ?", userID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired %s: %w", userID, err)
	}
	return res.RowsAffected()
}

// List returns every pending record, oldest first.
func (s *SQLiteStore) List(ctx context.Context) ([]*types.PendingClarification, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM pending_clarifications ORDER BY created_at, user_id")
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var out []*types.PendingClarification
	for rows.Next() {
		rec, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of pending records.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_clarifications").Scan(&count)
	return count, err
}

// GenerateSnapshot writes a consistent copy of the database to
// <db dir>/snapshots/current.db and returns its path.
func (s *SQLiteStore) GenerateSnapshot(ctx context.Context) (string, error) {
	if s.path == memoryPath {
		return "", ErrSnapshotUnavailable
	}

	dir := filepath.Join(filepath.Dir(s.path), "snapshots")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}

	final := filepath.Join(dir, "current.db")
	tmp := final + ".tmp"
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("remove stale snapshot: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", tmp); err != nil {
		return "", fmt.Errorf("vacuum into snapshot: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("publish snapshot: %w", err)
	}
	return final, nil
}

// scanPending scans a row into a PendingClarification, decoding the media
// union and JSON list columns.
func scanPending(scanner interface{ Scan(...any) error }) (*types.PendingClarification, error) {
	var rec types.PendingClarification
	var mediaType, text, filename, items, reasons, createdAt string
	var payload []byte

	err := scanner.Scan(
		&rec.UserID,
		&rec.ID,
		&mediaType,
		&payload,
		&text,
		&filename,
		&rec.OriginalSummary,
		&items,
		&reasons,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Media, err = decodeMedia(types.MediaType(mediaType), payload, text, filename)
	if err != nil {
		return nil, err
	}
	if rec.UncertainItems, err = decodeList(items); err != nil {
		return nil, fmt.Errorf("parse uncertain_items: %w", err)
	}
	if rec.UncertaintyReasons, err = decodeList(reasons); err != nil {
		return nil, fmt.Errorf("parse uncertainty_reasons: %w", err)
	}
	if rec.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &rec, nil
}

func encodeMedia(m types.Media) (mediaType string, payload []byte, text, filename string, err error) {
	switch v := m.(type) {
	case types.Photo:
		return string(types.MediaPhoto), v.Data, "", "", nil
	case types.Audio:
		return string(types.MediaAudio), v.Data, "", v.Filename, nil
	case types.Text:
		return string(types.MediaText), nil, v.Body, "", nil
	default:
		return "", nil, "", "", fmt.Errorf("unsupported media %T", m)
	}
}

func decodeMedia(t types.MediaType, payload []byte, text, filename string) (types.Media, error) {
	switch t {
	case types.MediaPhoto:
		return types.Photo{Data: payload}, nil
	case types.MediaAudio:
		return types.Audio{Data: payload, Filename: filename}, nil
	case types.MediaText:
		return types.Text{Body: text}, nil
	default:
		return nil, fmt.Errorf("unknown media type %q", t)
	}
}

// encodeList keeps nil and empty distinct ("null" vs "[]") so a round trip
// returns the slice it was given.
func encodeList(v []string) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

func decodeList(s string) ([]string, error) {
	var out []string
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}
