package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"feedscribe/pkg/types"
)

// Sentinel errors returned by ledger operations.
var (
	// ErrDuplicateFeed is returned when a feed URL is already subscribed.
	ErrDuplicateFeed = errors.New("feed already subscribed")
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
)

// Store is the SQLite-backed subscription ledger. It exclusively owns the
// persisted rows; every operation is a single statement or transaction, so
// concurrent pipeline invocations never conflict at this layer.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewStore opens (or creates) the ledger database and applies migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Ledger operations are short; a small pool is plenty.
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if err := store.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close database connection after init error")
		}
		return nil, err
	}

	logrus.WithField("db_path", dbPath).Info("Initialized ledger database")
	return store, nil
}

// initSchema applies all pending migrations
func (s *Store) initSchema() error {
	currentVersion := 0
	row := s.db.QueryRowContext(context.Background(), "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	_ = row.Scan(&currentVersion) // Ignore error - schema_version table may not exist yet

	for _, migration := range Migrations {
		if migration.Version <= currentVersion {
			continue
		}

		logrus.WithField("version", migration.Version).Info("Applying schema migration")

		if _, err := s.db.ExecContext(context.Background(), migration.SQL); err != nil {
			return fmt.Errorf("failed to apply migration v%d: %w", migration.Version, err)
		}

		if _, err := s.db.ExecContext(context.Background(),
			"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
			migration.Version,
			time.Now().Unix(),
		); err != nil {
			return fmt.Errorf("failed to record migration v%d: %w", migration.Version, err)
		}

		currentVersion = migration.Version
	}

	return nil
}

// ListSubscriptions returns all subscriptions, newest first.
func (s *Store) ListSubscriptions(ctx context.Context) ([]*types.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, rss_url, title, schedule_minutes, last_run_at, last_error, created_at
		 FROM feeds ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close database rows")
		}
	}()

	var subs []*types.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscriptions: %w", err)
	}

	return subs, nil
}

// GetSubscription retrieves one subscription by ID.
func (s *Store) GetSubscription(ctx context.Context, id int64) (*types.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, rss_url, title, schedule_minutes, last_run_at, last_error, created_at
		 FROM feeds WHERE id = ?`, id)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("subscription %d: %w", id, ErrNotFound)
		}
		return nil, err
	}

	return sub, nil
}

// AddSubscription inserts a new subscription. The feed URL is unique; adding
// an already-subscribed URL fails with ErrDuplicateFeed and writes nothing.
func (s *Store) AddSubscription(ctx context.Context, feedURL, title string, scheduleMinutes int) (*types.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := types.FormatTime(time.Now())
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO feeds (rss_url, title, schedule_minutes, created_at) VALUES (?, ?, ?, ?)",
		feedURL, title, scheduleMinutes, createdAt)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, fmt.Errorf("%s: %w", feedURL, ErrDuplicateFeed)
		}
		return nil, fmt.Errorf("failed to insert subscription: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription id: %w", err)
	}

	return &types.Subscription{
		ID:              id,
		FeedURL:         feedURL,
		Title:           title,
		ScheduleMinutes: scheduleMinutes,
		CreatedAt:       createdAt,
	}, nil
}

// RemoveSubscription deletes a subscription and cascades to its completed
// markers and transcripts. It is a no-op for unknown IDs.
func (s *Store) RemoveSubscription(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				logrus.WithError(rollbackErr).Warn("Failed to rollback transaction")
			}
		}
	}()

	for _, stmt := range []string{
		"DELETE FROM episode_done WHERE feed_id = ?",
		"DELETE FROM transcripts WHERE feed_id = ?",
		"DELETE FROM feeds WHERE id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to delete subscription rows: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return nil
}

// IsCompleted reports whether a media URL has already been processed for a
// subscription.
func (s *Store) IsCompleted(ctx context.Context, subID int64, mediaURL string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM episode_done WHERE feed_id = ? AND mp3_url = ?",
		subID, mediaURL).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to query completed marker: %w", err)
	}

	return true, nil
}

// MarkCompleted inserts the completed-episode marker if absent. Safe to call
// twice for the same (subscription, media URL) pair.
func (s *Store) MarkCompleted(ctx context.Context, subID int64, mediaURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO episode_done (feed_id, mp3_url) VALUES (?, ?)",
		subID, mediaURL)
	if err != nil {
		return fmt.Errorf("failed to mark episode completed: %w", err)
	}

	return nil
}

// RecordTranscript appends a transcript row and returns its ID. The table is
// append-only; dedup is the marker's job, not this method's.
func (s *Store) RecordTranscript(ctx context.Context, subID int64, episodeTitle, episodeURL, mediaURL, text string, createdAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts (feed_id, episode_title, episode_url, mp3_url, transcript_text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		subID, episodeTitle, episodeURL, mediaURL, text, types.FormatTime(createdAt))
	if err != nil {
		return 0, fmt.Errorf("failed to insert transcript: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get transcript id: %w", err)
	}

	return id, nil
}

// ListTranscripts returns transcripts newest first, optionally filtered by
// subscription (subID <= 0 means all).
func (s *Store) ListTranscripts(ctx context.Context, subID int64) ([]*types.Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, feed_id, episode_title, episode_url, mp3_url, transcript_text, created_at
		 FROM transcripts`
	args := []interface{}{}
	if subID > 0 {
		query += " WHERE feed_id = ?"
		args = append(args, subID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcripts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close database rows")
		}
	}()

	var transcripts []*types.Transcript
	for rows.Next() {
		t := &types.Transcript{}
		if err := rows.Scan(&t.ID, &t.SubscriptionID, &t.EpisodeTitle, &t.EpisodeURL,
			&t.MediaURL, &t.Text, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transcript: %w", err)
		}
		transcripts = append(transcripts, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transcripts: %w", err)
	}

	return transcripts, nil
}

// GetTranscript retrieves one transcript by ID.
func (s *Store) GetTranscript(ctx context.Context, id int64) (*types.Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := &types.Transcript{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, feed_id, episode_title, episode_url, mp3_url, transcript_text, created_at
		 FROM transcripts WHERE id = ?`, id).
		Scan(&t.ID, &t.SubscriptionID, &t.EpisodeTitle, &t.EpisodeURL, &t.MediaURL, &t.Text, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transcript %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}

	return t, nil
}

// SetLastRun records when a subscription's pipeline last completed
// successfully. Failed runs never advance this, so the next tick retries.
func (s *Store) SetLastRun(ctx context.Context, subID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE feeds SET last_run_at = ? WHERE id = ?",
		types.FormatTime(at), subID)
	if err != nil {
		return fmt.Errorf("failed to set last run: %w", err)
	}

	return nil
}

// SetLastError records the most recent pipeline failure for a subscription.
func (s *Store) SetLastError(ctx context.Context, subID int64, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE feeds SET last_error = ? WHERE id = ?", message, subID)
	if err != nil {
		return fmt.Errorf("failed to set last error: %w", err)
	}

	return nil
}

// ClearLastError nulls the stored error; called on the success path.
func (s *Store) ClearLastError(ctx context.Context, subID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE feeds SET last_error = NULL WHERE id = ?", subID)
	if err != nil {
		return fmt.Errorf("failed to clear last error: %w", err)
	}

	return nil
}

// GetSetting returns a settings value, or "" when the key is absent.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to query setting: %w", err)
	}

	return value, nil
}

// SetSetting upserts a settings value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*types.Subscription, error) {
	sub := &types.Subscription{}
	var lastRunAt, lastError sql.NullString
	if err := row.Scan(&sub.ID, &sub.FeedURL, &sub.Title, &sub.ScheduleMinutes,
		&lastRunAt, &lastError, &sub.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	if lastRunAt.Valid {
		sub.LastRunAt = &lastRunAt.String
	}
	if lastError.Valid {
		sub.LastError = &lastError.String
	}
	return sub, nil
}
