package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteSchema stores timestamps as Unix seconds so ordering and range
// deletes stay numeric.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS videos (
		video_id        TEXT PRIMARY KEY,
		creator_id      TEXT NOT NULL,
		creator_name    TEXT NOT NULL,
		video_url       TEXT NOT NULL,
		view_count      INTEGER NOT NULL,
		like_count      INTEGER NOT NULL,
		comment_count   INTEGER NOT NULL,
		share_count     INTEGER NOT NULL,
		post_date       INTEGER NOT NULL,
		fetch_date      INTEGER NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		music_title     TEXT NOT NULL DEFAULT '',
		music_author    TEXT NOT NULL DEFAULT '',
		hashtags        TEXT NOT NULL DEFAULT '',
		engagement_rate REAL NOT NULL DEFAULT 0,
		like_rate       REAL NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS videos_fetch_date ON videos (fetch_date)`,
	`CREATE TABLE IF NOT EXISTS fetch_runs (
		id          TEXT PRIMARY KEY,
		mode        TEXT NOT NULL,
		source      TEXT NOT NULL,
		query       TEXT NOT NULL DEFAULT '',
		fetched     INTEGER NOT NULL,
		returned    INTEGER NOT NULL,
		skipped     INTEGER NOT NULL,
		started_at  INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		error       TEXT NOT NULL DEFAULT ''
	)`,
}

const sqliteUpsert = `INSERT INTO videos (
	video_id, creator_id, creator_name, video_url,
	view_count, like_count, comment_count, share_count,
	post_date, fetch_date, description, music_title, music_author, hashtags,
	engagement_rate, like_rate
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (video_id) DO UPDATE SET
	view_count      = excluded.view_count,
	like_count      = excluded.like_count,
	comment_count   = excluded.comment_count,
	share_count     = excluded.share_count,
	engagement_rate = excluded.engagement_rate,
	like_rate       = excluded.like_rate,
	fetch_date      = excluded.fetch_date`

const videoColumns = `video_id, creator_id, creator_name, video_url,
	view_count, like_count, comment_count, share_count,
	post_date, fetch_date, description, music_title, music_author, hashtags,
	engagement_rate, like_rate`

// SQLiteStore implements Store on a local SQLite file (pure Go driver).
type SQLiteStore struct {
	db     *sql.DB
	closed atomic.Bool
	now    func() time.Time
}

// OpenSQLite opens or creates the database at path and applies the schema.
// ":memory:" opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, &StorageError{Op: "open", Entity: "store", ID: path, Err: err}
			}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StorageError{Op: "open", Entity: "store", ID: path, Err: err}
	}
	db.SetMaxOpenConns(1) // single writer

	s := &SQLiteStore{db: db, now: time.Now}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &StorageError{Op: "open", Entity: "store", ID: path, Err: err}
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates missing tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &StorageError{Op: "migrate", Entity: "store", Err: err}
		}
	}
	return nil
}

func (s *SQLiteStore) check(op, entity string) error {
	if s.closed.Load() {
		return &StorageError{Op: op, Entity: entity, Err: ErrClosed}
	}
	return nil
}

// UpsertVideos implements Store.
func (s *SQLiteStore) UpsertVideos(ctx context.Context, videos []Video) (int, error) {
	if err := s.check("upsert", "video"); err != nil {
		return 0, err
	}
	if err := validateVideos(videos); err != nil {
		return 0, err
	}
	if len(videos) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &StorageError{Op: "upsert", Entity: "video", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsert)
	if err != nil {
		return 0, &StorageError{Op: "upsert", Entity: "video", Err: err}
	}
	defer stmt.Close()

	for _, v := range videos {
		_, err := stmt.ExecContext(ctx,
			v.VideoID, v.CreatorID, v.CreatorName, v.VideoURL,
			v.ViewCount, v.LikeCount, v.CommentCount, v.ShareCount,
			v.PostDate.Unix(), v.FetchDate.Unix(),
			v.Description, v.MusicTitle, v.MusicAuthor, v.Hashtags,
			v.EngagementRate, v.LikeRate)
		if err != nil {
			return 0, &StorageError{Op: "upsert", Entity: "video", ID: v.VideoID, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, &StorageError{Op: "upsert", Entity: "video", Err: err}
	}
	return len(videos), nil
}

// ListVideos implements Store.
func (s *SQLiteStore) ListVideos(ctx context.Context, opts ListOptions) ([]Video, error) {
	if err := s.check("list", "video"); err != nil {
		return nil, err
	}

	query := "SELECT " + videoColumns + " FROM videos"
	var args []any
	if opts.Search != "" {
		query += " WHERE creator_id LIKE ? OR hashtags LIKE ?"
		pattern := "%" + opts.Search + "%"
		args = append(args, pattern, pattern)
	}
	query += fmt.Sprintf(" ORDER BY %s DESC, video_id ASC LIMIT ? OFFSET ?", opts.column())
	args = append(args, opts.limit(), opts.offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: "list", Entity: "video", Err: err}
	}
	defer rows.Close()

	var out []Video
	for rows.Next() {
		var v Video
		var posted, fetched int64
		if err := rows.Scan(&v.VideoID, &v.CreatorID, &v.CreatorName, &v.VideoURL,
			&v.ViewCount, &v.LikeCount, &v.CommentCount, &v.ShareCount,
			&posted, &fetched, &v.Description, &v.MusicTitle, &v.MusicAuthor, &v.Hashtags,
			&v.EngagementRate, &v.LikeRate); err != nil {
			return nil, &StorageError{Op: "list", Entity: "video", Err: err}
		}
		v.PostDate = time.Unix(posted, 0).UTC()
		v.FetchDate = time.Unix(fetched, 0).UTC()
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list", Entity: "video", Err: err}
	}
	return out, nil
}

// Statistics implements Store.
func (s *SQLiteStore) Statistics(ctx context.Context) (Stats, error) {
	if err := s.check("stats", "video"); err != nil {
		return Stats{}, err
	}

	var st Stats
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*),
		COALESCE(AVG(view_count), 0), COALESCE(AVG(like_count), 0),
		COALESCE(AVG(comment_count), 0), COALESCE(AVG(share_count), 0)
		FROM videos`).Scan(&st.TotalVideos, &st.AvgViews, &st.AvgLikes, &st.AvgComments, &st.AvgShares)
	if err != nil {
		return Stats{}, &StorageError{Op: "stats", Entity: "video", Err: err}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT hashtags FROM videos WHERE hashtags <> ''`)
	if err != nil {
		return Stats{}, &StorageError{Op: "stats", Entity: "video", Err: err}
	}
	defer rows.Close()

	var fields []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return Stats{}, &StorageError{Op: "stats", Entity: "video", Err: err}
		}
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, &StorageError{Op: "stats", Entity: "video", Err: err}
	}
	st.TopHashtags = topHashtags(fields)
	return st, nil
}

// RecordFetchRun implements Store.
func (s *SQLiteStore) RecordFetchRun(ctx context.Context, run FetchRun) error {
	if err := s.check("record", "fetch_run"); err != nil {
		return err
	}
	run.fillDefaults(s.now())
	_, err := s.db.ExecContext(ctx, `INSERT INTO fetch_runs
		(id, mode, source, query, fetched, returned, skipped, started_at, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Mode, run.Source, run.Query, run.Fetched, run.Returned, run.Skipped,
		run.StartedAt.Unix(), run.Duration.Milliseconds(), run.Error)
	if err != nil {
		return &StorageError{Op: "record", Entity: "fetch_run", ID: run.ID, Err: err}
	}
	return nil
}

// FetchRuns returns the most recent runs, newest first.
func (s *SQLiteStore) FetchRuns(ctx context.Context, limit int) ([]FetchRun, error) {
	if err := s.check("list", "fetch_run"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, mode, source, query, fetched, returned, skipped,
		started_at, duration_ms, error FROM fetch_runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, &StorageError{Op: "list", Entity: "fetch_run", Err: err}
	}
	defer rows.Close()

	var out []FetchRun
	for rows.Next() {
		var r FetchRun
		var started, ms int64
		if err := rows.Scan(&r.ID, &r.Mode, &r.Source, &r.Query, &r.Fetched, &r.Returned, &r.Skipped,
			&started, &ms, &r.Error); err != nil {
			return nil, &StorageError{Op: "list", Entity: "fetch_run", Err: err}
		}
		r.StartedAt = time.Unix(started, 0).UTC()
		r.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list", Entity: "fetch_run", Err: err}
	}
	return out, nil
}

// PurgeOlderThan implements Store.
func (s *SQLiteStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.check("purge", "video"); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM videos WHERE fetch_date < ?`, cutoff.Unix())
	if err != nil {
		return 0, &StorageError{Op: "purge", Entity: "video", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &StorageError{Op: "purge", Entity: "video", Err: err}
	}
	return n, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
