package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newPostgresStore(mock), mock
}

var videoRowColumns = []string{
	"video_id", "creator_id", "creator_name", "video_url",
	"view_count", "like_count", "comment_count", "share_count",
	"post_date", "fetch_date", "description", "music_title", "music_author", "hashtags",
	"engagement_rate", "like_rate",
}

func TestPostgresMigrate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS videos").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS videos_fetch_date").WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS fetch_runs").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertVideos(t *testing.T) {
	s, mock := newMockStore(t)
	v := video("v1", "bob", 100, 50, "#a", base)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO videos").
		WithArgs(v.VideoID, v.CreatorID, v.CreatorName, v.VideoURL,
			v.ViewCount, v.LikeCount, v.CommentCount, v.ShareCount,
			v.PostDate, v.FetchDate, v.Description, v.MusicTitle, v.MusicAuthor, v.Hashtags,
			v.EngagementRate, v.LikeRate).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.UpsertVideos(context.Background(), []Video{v})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO videos").WillReturnError(errors.New("connection lost"))
	mock.ExpectRollback()

	_, err := s.UpsertVideos(context.Background(), []Video{video("v1", "bob", 1, 1, "", base)})
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "upsert", se.Op)
	assert.Equal(t, "v1", se.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListVideos(t *testing.T) {
	s, mock := newMockStore(t)

	rows := pgxmock.NewRows(videoRowColumns).
		AddRow("v3", "alice", "Alice", "u3", int64(200), int64(30), int64(0), int64(0),
			base, base, "", "", "", "", 0.15, 0.15)
	mock.ExpectQuery(`WHERE creator_id ILIKE \$1 OR hashtags ILIKE \$1 ORDER BY like_count DESC, video_id ASC LIMIT \$2 OFFSET \$3`).
		WithArgs("%ali%", 5, 0).
		WillReturnRows(rows)

	got, err := s.ListVideos(context.Background(), ListOptions{SortBy: "likes", Search: "ali", Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].CreatorID)
	assert.Equal(t, int64(200), got[0].ViewCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListVideosWithoutSearch(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`ORDER BY view_count DESC, video_id ASC LIMIT \$1 OFFSET \$2`).
		WithArgs(DefaultListLimit, 0).
		WillReturnRows(pgxmock.NewRows(videoRowColumns))

	got, err := s.ListVideos(context.Background(), ListOptions{Offset: -3})
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStatistics(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"count", "v", "l", "c", "s"}).
			AddRow(int64(2), 150.0, 20.0, 3.0, 1.5))
	mock.ExpectQuery("SELECT hashtags FROM videos").
		WillReturnRows(pgxmock.NewRows([]string{"hashtags"}).AddRow("#a #b").AddRow("#b"))

	st, err := s.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.TotalVideos)
	assert.InDelta(t, 150.0, st.AvgViews, 1e-9)
	assert.InDelta(t, 1.5, st.AvgShares, 1e-9)
	assert.Equal(t, []HashtagCount{{Tag: "#b", Count: 2}, {Tag: "#a", Count: 1}}, st.TopHashtags)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordFetchRun(t *testing.T) {
	s, mock := newMockStore(t)
	s.now = func() time.Time { return base }

	mock.ExpectExec("INSERT INTO fetch_runs").
		WithArgs(pgxmock.AnyArg(), "trending", "remote", "count=5", 5, 5, 0, base, int64(250), "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.RecordFetchRun(context.Background(), FetchRun{
		Mode: "trending", Source: "remote", Query: "count=5",
		Fetched: 5, Returned: 5, Duration: 250 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPurge(t *testing.T) {
	s, mock := newMockStore(t)
	cutoff := base.AddDate(0, 0, -30)

	mock.ExpectExec("DELETE FROM videos WHERE fetch_date").
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := s.PurgeOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClosed(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectClose()
	require.NoError(t, s.Close())

	_, err := s.Statistics(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
