package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/Diacious/yolo-guns-knife-detection/src/commons"
	"github.com/Diacious/yolo-guns-knife-detection/src/datastructures"
	"github.com/Diacious/yolo-guns-knife-detection/src/history"
	"github.com/Diacious/yolo-guns-knife-detection/src/report"
	"github.com/Diacious/yolo-guns-knife-detection/src/stats"
)

func readHistory(c *cli.Context) (entries []datastructures.HistoryEntry, err error) {
	store, err := history.Open(commons.Config{
		HistoryFile:         c.String(flagHistoryFile),
		HistoryBackend:      c.String(flagHistoryBackend),
		RedisAddress:        c.String(flagRedisAddress),
		RedisMaxConnections: 1,
		RedisKey:            c.String(flagRedisKey),
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, store.Close())
	}()
	return store.ReadAll(c.Context)
}

// HistoryCommand prints one table row per history entry.
func HistoryCommand(c *cli.Context) error {
	entries, err := readHistory(c)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "ID", "Timestamp", "File", "Kind", "Detections", "Time (sec)", "Memory (MB)"})
	for i, e := range entries {
		kind, detections := "image", len(e.Result.Detections)
		if e.Result.IsVideo() {
			kind = fmt.Sprintf("video (%d frames)", len(e.Result.VideoDetections))
			if e.Truncated {
				kind += ", truncated"
			}
			detections = 0
			for _, f := range e.Result.VideoDetections {
				detections += len(f.Detections)
			}
		}
		t.AppendRow(table.Row{
			i + 1,
			e.Id,
			e.Timestamp,
			e.FileName,
			kind,
			detections,
			fmt.Sprintf("%.2f", e.ProcessingTime),
			fmt.Sprintf("%.2f", e.MemoryUsed),
		})
	}
	fmt.Fprintln(c.App.Writer, t.Render())
	return nil
}

func SummaryCommand(c *cli.Context) error {
	entries, err := readHistory(c)
	if err != nil {
		return err
	}
	summary := stats.Summarize(entries)

	t := table.NewWriter()
	t.AppendRows([]table.Row{
		{"Requests", summary.TotalRequests},
		{"Images", summary.ImageRequests},
		{"Videos", summary.VideoRequests},
		{"Truncated videos", summary.TruncatedVideos},
		{"Detections", summary.TotalDetections},
		{"Avg processing time (sec)", fmt.Sprintf("%.2f", summary.AvgProcessingTime)},
		{"Avg memory used (MB)", fmt.Sprintf("%.2f", summary.AvgMemoryUsed)},
	})
	fmt.Fprintln(c.App.Writer, t.Render())

	if len(summary.Labels) == 0 {
		return nil
	}
	labels := table.NewWriter()
	labels.AppendHeader(table.Row{"Label", "Count", "Avg confidence"})
	for label, stat := range summary.Labels {
		labels.AppendRow(table.Row{label, stat.Count, fmt.Sprintf("%.2f", stat.AvgConfidence)})
	}
	labels.SortBy([]table.SortBy{{Name: "Label", Mode: table.Asc}})
	fmt.Fprintln(c.App.Writer, labels.Render())
	return nil
}

func ReportCommand(c *cli.Context) error {
	entries, err := readHistory(c)
	if err != nil {
		return err
	}
	format := report.ParseFormat(c.String(flagFormat))

	path := c.String(flagOut)
	if path == "" {
		if err := commons.EnsureDir(c.String(flagOutputDir)); err != nil {
			return errors.Wrap(err, "couldn't create output directory")
		}
		path, err = report.NewGenerator(c.String(flagOutputDir)).WriteFile(entries, format)
		if err != nil {
			return err
		}
	} else if err := writeReport(path, entries, format); err != nil {
		return err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	fmt.Fprintf(c.App.Writer, "wrote %s report with %d entries to %s\n", format, len(entries), abs)
	return nil
}

func writeReport(path string, entries []datastructures.HistoryEntry, format report.Format) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "couldn't create report")
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	return report.Render(f, entries, format)
}

func QuarantineCommand(c *cli.Context) error {
	if c.String(flagHistoryBackend) != "file" {
		return errors.New("quarantine only applies to the file backend")
	}
	target, err := history.Quarantine(c.String(flagHistoryFile), time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "moved corrupt history to %s\n", target)
	return nil
}
