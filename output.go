package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/xeptore/xmfetch/store"
	"github.com/xeptore/xmfetch/unit"
	"github.com/xeptore/xmfetch/ximalaya/engine"
	"github.com/xeptore/xmfetch/ximalaya/types"
)

func colored() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	if colored() {
		t.SetStyle(table.StyleColoredBright)
	} else {
		t.SetStyle(table.StyleLight)
	}

	return t
}

func printTrackURL(w io.Writer, trackID, albumID int64, url string) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Album", "Track", "URL"})
	t.AppendRow(table.Row{albumID, trackID, url})
	t.Render()
}

func printTracks(w io.Writer, tracks []types.Track) {
	t := newTable(w)
	t.AppendHeader(table.Row{"#", "ID", "Title", "Duration", "Page", "URL"})
	for i, tr := range tracks {
		url := tr.URL
		if !tr.Resolved() {
			url = "-"
			if colored() {
				url = text.FgYellow.Sprint("unresolved")
			}
		}
		t.AppendRow(table.Row{i + 1, tr.ID, tr.Title, tr.Duration, tr.Page, url})
	}
	t.AppendFooter(table.Row{"", "", "Total", len(tracks)})
	t.Render()
}

func printCachedTracks(w io.Writer, tracks []store.CachedTrackURL) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Track", "Title", "Cached At", "Verified At", "Failures", "URL"})
	for _, tr := range tracks {
		t.AppendRow(table.Row{
			tr.TrackID,
			tr.Title,
			tr.CacheTime.Local().Format("2006-01-02 15:04:05"),
			tr.LastVerified.Local().Format("2006-01-02 15:04:05"),
			tr.VerifyFailures,
			tr.DecryptedURL,
		})
	}
	t.AppendFooter(table.Row{"", "Total", len(tracks)})
	t.Render()
}

func printStats(w io.Writer, s store.Stats) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Tracks", s.Total},
		{"Valid tracks", s.Valid},
		{"Invalid tracks", s.Invalid},
		{"Expired tracks", s.Expired},
		{"Albums with tracks", s.Albums},
		{"Pages", s.PagesTotal},
		{"Valid pages", s.PagesValid},
		{"Expired pages", s.PagesExpired},
		{"Albums with pages", s.PagedAlbums},
		{"Store path", s.Path},
		{"Store size", unit.FormatBytes(s.SizeBytes)},
	})
	t.Render()
}

func newProgressPrinter(w io.Writer) engine.ProgressFunc {
	var mux sync.Mutex

	return func(completed, total int) {
		mux.Lock()
		defer mux.Unlock()

		_, _ = fmt.Fprintf(w, "\rresolved %d/%d", completed, total)
		if completed == total {
			_, _ = fmt.Fprintln(w)
		}
	}
}
