package storage

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxPool is the subset of *pgxpool.Pool used by PostgresStore.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS videos (
		video_id        TEXT PRIMARY KEY,
		creator_id      TEXT NOT NULL,
		creator_name    TEXT NOT NULL,
		video_url       TEXT NOT NULL,
		view_count      BIGINT NOT NULL,
		like_count      BIGINT NOT NULL,
		comment_count   BIGINT NOT NULL,
		share_count     BIGINT NOT NULL,
		post_date       TIMESTAMPTZ NOT NULL,
		fetch_date      TIMESTAMPTZ NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		music_title     TEXT NOT NULL DEFAULT '',
		music_author    TEXT NOT NULL DEFAULT '',
		hashtags        TEXT NOT NULL DEFAULT '',
		engagement_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		like_rate       DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS videos_fetch_date ON videos (fetch_date)`,
	`CREATE TABLE IF NOT EXISTS fetch_runs (
		id          UUID PRIMARY KEY,
		mode        TEXT NOT NULL,
		source      TEXT NOT NULL,
		query       TEXT NOT NULL DEFAULT '',
		fetched     INTEGER NOT NULL,
		returned    INTEGER NOT NULL,
		skipped     INTEGER NOT NULL,
		started_at  TIMESTAMPTZ NOT NULL,
		duration_ms BIGINT NOT NULL,
		error       TEXT NOT NULL DEFAULT ''
	)`,
}

const postgresUpsert = `INSERT INTO videos (
	video_id, creator_id, creator_name, video_url,
	view_count, like_count, comment_count, share_count,
	post_date, fetch_date, description, music_title, music_author, hashtags,
	engagement_rate, like_rate
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (video_id) DO UPDATE SET
	view_count      = EXCLUDED.view_count,
	like_count      = EXCLUDED.like_count,
	comment_count   = EXCLUDED.comment_count,
	share_count     = EXCLUDED.share_count,
	engagement_rate = EXCLUDED.engagement_rate,
	like_rate       = EXCLUDED.like_rate,
	fetch_date      = EXCLUDED.fetch_date`

// PostgresStore implements Store on PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool   pgxPool
	closed atomic.Bool
	now    func() time.Time
}

// OpenPostgres connects to dsn, checks the connection and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, &StorageError{Op: "open", Entity: "store", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &StorageError{Op: "open", Entity: "store", Err: err}
	}
	s := newPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func newPostgresStore(pool pgxPool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

// Migrate creates missing tables and indexes.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return &StorageError{Op: "migrate", Entity: "store", Err: err}
		}
	}
	return nil
}

func (s *PostgresStore) check(op, entity string) error {
	if s.closed.Load() {
		return &StorageError{Op: op, Entity: entity, Err: ErrClosed}
	}
	return nil
}

// UpsertVideos implements Store.
func (s *PostgresStore) UpsertVideos(ctx context.Context, videos []Video) (int, error) {
	if err := s.check("upsert", "video"); err != nil {
		return 0, err
	}
	if err := validateVideos(videos); err != nil {
		return 0, err
	}
	if len(videos) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, &StorageError{Op: "upsert", Entity: "video", Err: err}
	}
	defer tx.Rollback(ctx)

	for _, v := range videos {
		_, err := tx.Exec(ctx, postgresUpsert,
			v.VideoID, v.CreatorID, v.CreatorName, v.VideoURL,
			v.ViewCount, v.LikeCount, v.CommentCount, v.ShareCount,
			v.PostDate.UTC(), v.FetchDate.UTC(),
			v.Description, v.MusicTitle, v.MusicAuthor, v.Hashtags,
			v.EngagementRate, v.LikeRate)
		if err != nil {
			return 0, &StorageError{Op: "upsert", Entity: "video", ID: v.VideoID, Err: err}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, &StorageError{Op: "upsert", Entity: "video", Err: err}
	}
	return len(videos), nil
}

// ListVideos implements Store.
func (s *PostgresStore) ListVideos(ctx context.Context, opts ListOptions) ([]Video, error) {
	if err := s.check("list", "video"); err != nil {
		return nil, err
	}

	query := "SELECT " + videoColumns + " FROM videos"
	var args []any
	if opts.Search != "" {
		args = append(args, "%"+opts.Search+"%")
		query += " WHERE creator_id ILIKE $1 OR hashtags ILIKE $1"
	}
	args = append(args, opts.limit(), opts.offset())
	query += fmt.Sprintf(" ORDER BY %s DESC, video_id ASC LIMIT $%d OFFSET $%d", opts.column(), len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: "list", Entity: "video", Err: err}
	}
	defer rows.Close()

	var out []Video
	for rows.Next() {
		var v Video
		if err := rows.Scan(&v.VideoID, &v.CreatorID, &v.CreatorName, &v.VideoURL,
			&v.ViewCount, &v.LikeCount, &v.CommentCount, &v.ShareCount,
			&v.PostDate, &v.FetchDate, &v.Description, &v.MusicTitle, &v.MusicAuthor, &v.Hashtags,
			&v.EngagementRate, &v.LikeRate); err != nil {
			return nil, &StorageError{Op: "list", Entity: "video", Err: err}
		}
		v.PostDate = v.PostDate.UTC()
		v.FetchDate = v.FetchDate.UTC()
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list", Entity: "video", Err: err}
	}
	return out, nil
}

// Statistics implements Store.
func (s *PostgresStore) Statistics(ctx context.Context) (Stats, error) {
	if err := s.check("stats", "video"); err != nil {
		return Stats{}, err
	}

	var st Stats
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*),
		COALESCE(AVG(view_count), 0)::float8, COALESCE(AVG(like_count), 0)::float8,
		COALESCE(AVG(comment_count), 0)::float8, COALESCE(AVG(share_count), 0)::float8
		FROM videos`).Scan(&st.TotalVideos, &st.AvgViews, &st.AvgLikes, &st.AvgComments, &st.AvgShares)
	if err != nil {
		return Stats{}, &StorageError{Op: "stats", Entity: "video", Err: err}
	}

	rows, err := s.pool.Query(ctx, `SELECT hashtags FROM videos WHERE hashtags <> ''`)
	if err != nil {
		return Stats{}, &StorageError{Op: "stats", Entity: "video", Err: err}
	}
	fields, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return Stats{}, &StorageError{Op: "stats", Entity: "video", Err: err}
	}
	st.TopHashtags = topHashtags(fields)
	return st, nil
}

// RecordFetchRun implements Store.
func (s *PostgresStore) RecordFetchRun(ctx context.Context, run FetchRun) error {
	if err := s.check("record", "fetch_run"); err != nil {
		return err
	}
	run.fillDefaults(s.now())
	_, err := s.pool.Exec(ctx, `INSERT INTO fetch_runs
		(id, mode, source, query, fetched, returned, skipped, started_at, duration_ms, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.Mode, run.Source, run.Query, run.Fetched, run.Returned, run.Skipped,
		run.StartedAt.UTC(), run.Duration.Milliseconds(), run.Error)
	if err != nil {
		return &StorageError{Op: "record", Entity: "fetch_run", ID: run.ID, Err: err}
	}
	return nil
}

// PurgeOlderThan implements Store.
func (s *PostgresStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.check("purge", "video"); err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM videos WHERE fetch_date < $1`, cutoff.UTC())
	if err != nil {
		return 0, &StorageError{Op: "purge", Entity: "video", Err: err}
	}
	return tag.RowsAffected(), nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.pool.Close()
	}
	return nil
}
