package export

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokstats/internal/protect"
	"tokstats/storage"
)

var sample = []storage.Video{
	{
		VideoID:     "71",
		CreatorID:   "bob",
		CreatorName: "ボブ",
		VideoURL:    "https://example.com/71",
		ViewCount:   1000,
		LikeCount:   100,
		PostDate:    time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		FetchDate:   time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		Description: "line one, with comma\n#a",
		Hashtags:    "#a",
		LikeRate:    0.1,
	},
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sample))

	data := buf.Bytes()
	require.True(t, bytes.HasPrefix(data, bom))

	records, err := csv.NewReader(bytes.NewReader(data[len(bom):])).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, Header, records[0])

	got := records[1]
	assert.Equal(t, "71", got[0])
	assert.Equal(t, "ボブ", got[2])
	assert.Equal(t, "1000", got[4])
	assert.Equal(t, "2026-03-01 09:30:00", got[8])
	assert.Equal(t, "line one, with comma\n#a", got[10])
	assert.Equal(t, "0.100000", got[15])
}

func TestWriteCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	records, err := csv.NewReader(bytes.NewReader(buf.Bytes()[len(bom):])).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "videos.csv")
	require.NoError(t, ToFile(path, sample, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "https://example.com/71")
}

func TestToFileEncrypted(t *testing.T) {
	sealer, err := protect.NewSealer(bytes.Repeat([]byte{9}, protect.KeySize))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "videos.csv.enc")
	require.NoError(t, ToFile(path, sample, sealer))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "example.com")

	plain, err := sealer.Open(data)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(plain, bom))
	assert.Contains(t, string(plain), "https://example.com/71")
}
