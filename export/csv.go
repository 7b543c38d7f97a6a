// Package export writes saved videos to CSV files.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"tokstats/internal/fileutil"
	"tokstats/storage"
)

// bom makes spreadsheet tools detect UTF-8.
var bom = []byte{0xEF, 0xBB, 0xBF}

// Header is the CSV column order.
var Header = []string{
	"video_id", "creator_id", "creator_name", "video_url",
	"view_count", "like_count", "comment_count", "share_count",
	"post_date", "fetch_date", "description", "music_title", "music_author",
	"hashtags", "engagement_rate", "like_rate",
}

// Sealer encrypts a finished export. *protect.Sealer implements it.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
}

// WriteCSV writes a BOM, the header and one row per video. Values are
// written as stored.
func WriteCSV(w io.Writer, videos []storage.Video) error {
	if _, err := w.Write(bom); err != nil {
		return fmt.Errorf("export: write bom: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	for _, v := range videos {
		if err := cw.Write(row(v)); err != nil {
			return fmt.Errorf("export: write %s: %w", v.VideoID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export: flush: %w", err)
	}
	return nil
}

func row(v storage.Video) []string {
	return []string{
		v.VideoID,
		v.CreatorID,
		v.CreatorName,
		v.VideoURL,
		strconv.FormatInt(v.ViewCount, 10),
		strconv.FormatInt(v.LikeCount, 10),
		strconv.FormatInt(v.CommentCount, 10),
		strconv.FormatInt(v.ShareCount, 10),
		formatTime(v.PostDate),
		formatTime(v.FetchDate),
		v.Description,
		v.MusicTitle,
		v.MusicAuthor,
		v.Hashtags,
		strconv.FormatFloat(v.EngagementRate, 'f', 6, 64),
		strconv.FormatFloat(v.LikeRate, 'f', 6, 64),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.DateTime)
}

// ToFile writes the CSV to path atomically. A non-nil sealer encrypts the
// whole file.
func ToFile(path string, videos []storage.Video, sealer Sealer) error {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, videos); err != nil {
		return err
	}
	data := buf.Bytes()
	if sealer != nil {
		sealed, err := sealer.Seal(data)
		if err != nil {
			return fmt.Errorf("export: encrypt: %w", err)
		}
		data = sealed
	}
	if err := fileutil.WriteFile(path, data); err != nil {
		return fmt.Errorf("export: %s: %w", path, err)
	}
	return nil
}
