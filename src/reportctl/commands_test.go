package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Diacious/yolo-guns-knife-detection/src/datastructures"
	"github.com/Diacious/yolo-guns-knife-detection/src/history"
)

func seedHistory(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "request_history.json")
	store := history.NewFileStore(path)
	defer store.Close()

	entries := []datastructures.HistoryEntry{
		{
			Id:             "img-1",
			FileName:       "street.jpg",
			ProcessingTime: 0.25,
			Result:         datastructures.Result{Detections: []datastructures.Detection{{Confidence: 0.9, Class: 0}}},
			LabelStats:     datastructures.LabelStats{"gun": {Count: 1, TotalConfidence: 0.9, AvgConfidence: 0.9}},
		},
		{
			Id:        "vid-1",
			FileName:  "clip.mp4",
			Truncated: true,
			Result: datastructures.Result{VideoDetections: []datastructures.FrameDetections{
				{Frame: 0, Detections: []datastructures.Detection{{Confidence: 0.4, Class: 1}}},
				{Frame: 1, Detections: []datastructures.Detection{}},
			}},
			LabelStats: datastructures.LabelStats{"knife": {Count: 1, TotalConfidence: 0.4, AvgConfidence: 0.4}},
		},
	}
	for _, e := range entries {
		require.NoError(t, store.Append(context.Background(), e))
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	err := app.Run(append([]string{"reportctl"}, args...))
	return out.String(), err
}

func TestHistoryCommand(t *testing.T) {
	path := seedHistory(t)

	out, err := run(t, "--history-file", path, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "img-1")
	assert.Contains(t, out, "video (2 frames), truncated")
	assert.Contains(t, out, "0.25")
}

func TestSummaryCommand(t *testing.T) {
	path := seedHistory(t)

	out, err := run(t, "--history-file", path, "summary")
	require.NoError(t, err)
	assert.Contains(t, out, "Requests")
	assert.Contains(t, out, "knife")
	assert.True(t, strings.Index(out, "gun") < strings.Index(out, "knife"))
}

func TestReportCommand(t *testing.T) {
	path := seedHistory(t)
	out := filepath.Join(t.TempDir(), "history.pdf")

	stdout, err := run(t, "--history-file", path, "report", "--format", "pdf", "--out", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "wrote pdf report with 2 entries")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))

	dir := filepath.Join(t.TempDir(), "reports")
	_, err = run(t, "--history-file", path, "report", "--format", "excel", "--output-dir", dir)
	require.NoError(t, err)
	matches, err := filepath.Glob(filepath.Join(dir, "report_*.xlsx"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestQuarantineCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "request_history.json")
	require.NoError(t, os.WriteFile(path, []byte("[{"), 0644))

	_, err := run(t, "--history-file", path, "history")
	assert.Error(t, err)

	out, err := run(t, "--history-file", path, "quarantine")
	require.NoError(t, err)
	assert.Contains(t, out, ".corrupt-")
	assert.NoFileExists(t, path)

	out, err = run(t, "--history-file", path, "history")
	require.NoError(t, err)
	assert.NotContains(t, out, "img-1")
}
