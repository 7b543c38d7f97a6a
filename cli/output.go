package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"tokstats/storage"
	"tokstats/tiktok"
)

// printer writes status lines and tables.
type printer struct {
	out io.Writer
	err io.Writer
}

func newPrinter(out, err io.Writer) *printer {
	return &printer{out: out, err: err}
}

// Info prints an informational message.
func (p *printer) Info(format string, args ...any) {
	color.New(color.FgCyan).Fprintf(p.out, format+"\n", args...)
}

// Success prints a success message.
func (p *printer) Success(format string, args ...any) {
	color.New(color.FgGreen).Fprintf(p.out, "✓ "+format+"\n", args...)
}

// Warn prints a warning to the error stream.
func (p *printer) Warn(format string, args ...any) {
	color.New(color.FgYellow).Fprintf(p.err, "⚠ "+format+"\n", args...)
}

// Error prints err with a hint for the API failures a user can act on.
func (p *printer) Error(err error) {
	color.New(color.FgRed, color.Bold).Fprintf(p.err, "Error: %v\n", err)

	var apiErr *tiktok.APIError
	if !errors.As(err, &apiErr) {
		return
	}
	hint := ""
	switch apiErr.Kind {
	case tiktok.KindRateLimitExceeded:
		hint = "the request budget is spent, wait for the window to reset"
		if apiErr.RetryAfter > 0 {
			hint = fmt.Sprintf("retry in %s", apiErr.RetryAfter.Round(time.Second))
		}
	case tiktok.KindAuthenticationFailed:
		hint = "check TIKTOK_ACCESS_TOKEN or api.access_token"
	case tiktok.KindAccessForbidden:
		hint = "the token lacks a required scope"
	case tiktok.KindUpstreamServer:
		hint = "the API is having trouble, try again later"
	}
	if hint != "" {
		color.New(color.FgCyan).Fprintf(p.err, "  Suggestion: %s\n", hint)
	}
}

func newTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoWrap: tw.WrapNone},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
			Header: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoFormat: tw.On},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Separators: tw.Separators{ShowHeader: tw.Off},
			},
		}),
	)
}

var videoHeader = []string{"video id", "creator", "views", "likes", "comments", "shares", "engagement", "posted", "hashtags"}

// Videos renders one row per video.
func (p *printer) Videos(videos []storage.Video) error {
	rows := make([][]string, 0, len(videos))
	for _, v := range videos {
		rows = append(rows, []string{
			v.VideoID,
			v.CreatorID,
			strconv.FormatInt(v.ViewCount, 10),
			strconv.FormatInt(v.LikeCount, 10),
			strconv.FormatInt(v.CommentCount, 10),
			strconv.FormatInt(v.ShareCount, 10),
			fmt.Sprintf("%.2f%%", v.EngagementRate*100),
			v.PostDate.UTC().Format("2006-01-02"),
			truncate(v.Hashtags, 40),
		})
	}
	t := newTable(p.out)
	t.Header(videoHeader)
	if err := t.Bulk(rows); err != nil {
		return err
	}
	return t.Render()
}

// Stats renders the summary and the top hashtags.
func (p *printer) Stats(s storage.Stats) error {
	t := newTable(p.out)
	t.Header([]string{"metric", "value"})
	if err := t.Bulk([][]string{
		{"total videos", strconv.FormatInt(s.TotalVideos, 10)},
		{"average views", fmt.Sprintf("%.0f", s.AvgViews)},
		{"average likes", fmt.Sprintf("%.0f", s.AvgLikes)},
		{"average comments", fmt.Sprintf("%.0f", s.AvgComments)},
		{"average shares", fmt.Sprintf("%.0f", s.AvgShares)},
	}); err != nil {
		return err
	}
	if err := t.Render(); err != nil {
		return err
	}
	if len(s.TopHashtags) == 0 {
		return nil
	}

	fmt.Fprintln(p.out)
	tags := newTable(p.out)
	tags.Header([]string{"hashtag", "videos"})
	rows := make([][]string, 0, len(s.TopHashtags))
	for _, h := range s.TopHashtags {
		rows = append(rows, []string{h.Tag, strconv.Itoa(h.Count)})
	}
	if err := tags.Bulk(rows); err != nil {
		return err
	}
	return tags.Render()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := s[:maxLen-3]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}
