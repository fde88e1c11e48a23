package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Diacious/yolo-guns-knife-detection/src/annotate"
	"github.com/Diacious/yolo-guns-knife-detection/src/commons"
	"github.com/Diacious/yolo-guns-knife-detection/src/datastructures"
	"github.com/Diacious/yolo-guns-knife-detection/src/history"
	"github.com/Diacious/yolo-guns-knife-detection/src/metrics"
	"github.com/Diacious/yolo-guns-knife-detection/src/report"
	"github.com/Diacious/yolo-guns-knife-detection/src/video"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeDetector struct {
	detections []datastructures.Detection
	err        error
}

func (d *fakeDetector) Detect(ctx context.Context, img image.Image) ([]datastructures.Detection, error) {
	return d.detections, d.err
}

type fakeSource struct {
	frames int
	next   int
	failAt int
}

func (s *fakeSource) Info() video.StreamInfo {
	return video.StreamInfo{Width: 4, Height: 4, FrameRate: "25"}
}

func (s *fakeSource) Next() (image.Image, error) {
	if s.next == s.failAt {
		return nil, errors.New("corrupt packet")
	}
	if s.next >= s.frames {
		return nil, io.EOF
	}
	s.next++
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

func (s *fakeSource) Close() error { return nil }

// fileSink writes a placeholder file so the handler has something to serve.
type fileSink struct {
	path   string
	frames int
}

func (s *fileSink) Write(img image.Image) error {
	s.frames++
	return nil
}

func (s *fileSink) Close() error {
	return os.WriteFile(s.path, []byte("fake mp4"), 0644)
}

type testEnv struct {
	server    *Server
	url       string
	outputDir string
	detector  *fakeDetector
	source    *fakeSource
	sink      *fileSink
}

func newTestEnv(t *testing.T) *testEnv {
	outputDir := t.TempDir()
	store := history.NewFileStore(filepath.Join(outputDir, "request_history.json"))
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		outputDir: outputDir,
		detector:  &fakeDetector{},
		source:    &fakeSource{frames: 3, failAt: -1},
	}
	names := datastructures.ClassNames{"gun", "knife"}
	env.server = &Server{
		Detector:  env.detector,
		Annotator: annotate.New(names),
		Names:     names,
		History:   store,
		Reports:   report.NewGenerator(outputDir),
		Metrics:   metrics.New(),
		OutputDir: outputDir,
		OpenVideo: func(path string) (video.FrameSource, error) {
			if _, err := os.Stat(path); err != nil {
				return nil, err
			}
			return env.source, nil
		},
		CreateVideo: func(path string, info video.StreamInfo) (video.FrameSink, error) {
			env.sink = &fileSink{path: path}
			return env.sink, nil
		},
		now: func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	}

	ts := httptest.NewServer(env.server.Handler())
	t.Cleanup(ts.Close)
	env.url = ts.URL
	return env
}

func (env *testEnv) history(t *testing.T) []datastructures.HistoryEntry {
	entries, err := env.server.History.ReadAll(context.Background())
	require.NoError(t, err)
	return entries
}

func (env *testEnv) tempFiles(t *testing.T) []string {
	matches, err := filepath.Glob(filepath.Join(env.outputDir, "temp_*"))
	require.NoError(t, err)
	return matches
}

func blackPNG(t *testing.T) []byte {
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func upload(t *testing.T, url string, fileName string, contentType string, data []byte) *resty.Response {
	resp, err := resty.New().R().
		SetMultipartField("file", fileName, contentType, bytes.NewReader(data)).
		Post(url)
	require.NoError(t, err)
	return resp
}

func TestProcessImage(t *testing.T) {
	env := newTestEnv(t)

	resp := upload(t, env.url+"/process_image/", "black.png", "image/png", blackPNG(t))
	require.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, "image/jpeg", resp.Header().Get("Content-Type"))

	img, err := jpeg.Decode(bytes.NewReader(resp.Body()))
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dx())
	assert.Equal(t, 2, img.Bounds().Dy())

	entries := env.history(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "black.png", entries[0].FileName)
	assert.Equal(t, "2024-05-01T12:00:00Z", entries[0].Timestamp)
	assert.False(t, entries[0].Result.IsVideo())
	assert.Empty(t, entries[0].Result.Detections)
	assert.Empty(t, entries[0].LabelStats)
	// the entry holds the artifact name, not its location on the server
	assert.Regexp(t, `^processed_[0-9a-f]{32}\.jpg$`, entries[0].ProcessedFile)
	assert.FileExists(t, filepath.Join(env.outputDir, entries[0].ProcessedFile))
	assert.Contains(t, resp.Header().Get("Content-Disposition"), entries[0].ProcessedFile)
}

func TestProcessImageWithDetections(t *testing.T) {
	env := newTestEnv(t)
	env.detector.detections = []datastructures.Detection{
		{BBox: [4]float64{0, 0, 1, 1}, Confidence: 0.8, Class: 1},
		{BBox: [4]float64{0, 0, 2, 2}, Confidence: 0.6, Class: 1},
		{BBox: [4]float64{1, 1, 2, 2}, Confidence: 0.4, Class: 9},
	}

	resp := upload(t, env.url+"/process_image/", "black.png", "image/png", blackPNG(t))
	require.Equal(t, http.StatusOK, resp.StatusCode())

	entries := env.history(t)
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].Result.Detections, 3)
	assert.Equal(t, 2, entries[0].LabelStats["knife"].Count)
	assert.InDelta(t, 0.7, entries[0].LabelStats["knife"].AvgConfidence, 1e-9)
	assert.Equal(t, 1, entries[0].LabelStats["9"].Count)
}

func TestProcessImageRejectsWrongType(t *testing.T) {
	env := newTestEnv(t)

	resp := upload(t, env.url+"/process_image/", "notes.txt", "text/plain", []byte("hello"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())
	assert.Contains(t, resp.String(), "Invalid file type")
	assert.Empty(t, env.history(t))
}

func TestProcessImageRejectsUndecodable(t *testing.T) {
	env := newTestEnv(t)

	resp := upload(t, env.url+"/process_image/", "broken.png", "image/png", []byte("not a png"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())
	assert.Empty(t, env.history(t))
}

func TestProcessImageMissingFile(t *testing.T) {
	env := newTestEnv(t)

	resp, err := resty.New().R().SetFormData(map[string]string{"other": "x"}).Post(env.url + "/process_image/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())
}

func TestProcessImageDetectorFailure(t *testing.T) {
	env := newTestEnv(t)
	env.detector.err = commons.NewInferenceError(errors.New("model crashed"))

	resp := upload(t, env.url+"/process_image/", "black.png", "image/png", blackPNG(t))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode())
	assert.Empty(t, env.history(t))
}

func TestProcessVideo(t *testing.T) {
	env := newTestEnv(t)
	env.detector.detections = []datastructures.Detection{{BBox: [4]float64{0, 0, 2, 2}, Confidence: 0.9, Class: 0}}

	resp := upload(t, env.url+"/process_video/", "clip.mp4", "video/mp4", []byte("raw video bytes"))
	require.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, "video/mp4", resp.Header().Get("Content-Type"))
	assert.Empty(t, resp.Header().Get(truncatedHeader))
	assert.Equal(t, "fake mp4", resp.String())
	assert.Equal(t, 3, env.sink.frames)

	entries := env.history(t)
	require.Len(t, entries, 1)
	require.True(t, entries[0].Result.IsVideo())
	frames := entries[0].Result.VideoDetections
	require.Len(t, frames, 3)
	for i, f := range frames {
		assert.Equal(t, i, f.Frame)
	}
	assert.Equal(t, 3, entries[0].LabelStats["gun"].Count)
	assert.Regexp(t, `^processed_[0-9a-f]{32}\.mp4$`, entries[0].ProcessedFile)
	assert.FileExists(t, filepath.Join(env.outputDir, entries[0].ProcessedFile))
	assert.Contains(t, resp.Header().Get("Content-Disposition"), entries[0].ProcessedFile)
	assert.Empty(t, env.tempFiles(t))
}

func TestProcessVideoTruncated(t *testing.T) {
	env := newTestEnv(t)
	env.source = &fakeSource{frames: 10, failAt: 2}

	resp := upload(t, env.url+"/process_video/", "clip.avi", "video/avi", []byte("raw video bytes"))
	require.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, "true", resp.Header().Get(truncatedHeader))

	entries := env.history(t)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Truncated)
	assert.Len(t, entries[0].Result.VideoDetections, 2)
	assert.Empty(t, env.tempFiles(t))
}

func TestProcessVideoUnopenable(t *testing.T) {
	env := newTestEnv(t)
	env.server.OpenVideo = func(path string) (video.FrameSource, error) {
		return nil, commons.NewMediaFormatError("couldn't open video", errors.New("moov atom not found"))
	}

	resp := upload(t, env.url+"/process_video/", "clip.mov", "video/mov", []byte("garbage"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())
	assert.Empty(t, env.history(t))
	assert.Empty(t, env.tempFiles(t))
}

func TestProcessVideoRejectsWrongType(t *testing.T) {
	env := newTestEnv(t)

	resp := upload(t, env.url+"/process_video/", "notes.txt", "text/plain", []byte("hello"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())
	assert.Empty(t, env.tempFiles(t))
}

func TestProcessVideoDetectorFailure(t *testing.T) {
	env := newTestEnv(t)
	env.detector.err = errors.New("model crashed")

	resp := upload(t, env.url+"/process_video/", "clip.mp4", "video/mp4", []byte("raw video bytes"))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode())
	assert.Empty(t, env.history(t))
	assert.Empty(t, env.tempFiles(t))
}

func TestGetHistory(t *testing.T) {
	env := newTestEnv(t)

	resp, err := resty.New().R().Get(env.url + "/history/")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, "[]", resp.String())

	upload(t, env.url+"/process_image/", "black.png", "image/png", blackPNG(t))

	var entries []datastructures.HistoryEntry
	resp, err = resty.New().R().SetResult(&entries).Get(env.url + "/history/")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.Len(t, entries, 1)
	assert.Contains(t, resp.String(), `"detections":[]`)
}

func TestGetHistoryCorrupt(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.outputDir, "request_history.json"), []byte("{oops"), 0644))

	resp, err := resty.New().R().Get(env.url + "/history/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode())
	assert.Contains(t, resp.String(), "corrupt")
}

func TestGetHistorySummary(t *testing.T) {
	env := newTestEnv(t)
	env.detector.detections = []datastructures.Detection{{Confidence: 0.5, Class: 0}}
	upload(t, env.url+"/process_image/", "black.png", "image/png", blackPNG(t))
	upload(t, env.url+"/process_video/", "clip.mp4", "video/mp4", []byte("raw"))

	var summary struct {
		TotalRequests int `json:"total_requests"`
		VideoRequests int `json:"video_requests"`
		Labels        datastructures.LabelStats `json:"labels"`
	}
	resp, err := resty.New().R().SetResult(&summary).Get(env.url + "/history/summary/")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, 2, summary.TotalRequests)
	assert.Equal(t, 1, summary.VideoRequests)
	assert.Equal(t, 4, summary.Labels["gun"].Count)
}

func TestExcelReportEmptyHistory(t *testing.T) {
	env := newTestEnv(t)

	resp, err := resty.New().R().SetQueryParam("report_type", "excel").Get(env.url + "/report/")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, "application/octet-stream", resp.Header().Get("Content-Type"))
	assert.Contains(t, resp.Header().Get("Content-Disposition"), "report.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(resp.Body()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ID", rows[0][0])
	assert.Equal(t, "Label Stats", rows[0][6])
}

func TestPDFReport(t *testing.T) {
	env := newTestEnv(t)
	upload(t, env.url+"/process_image/", "black.png", "image/png", blackPNG(t))

	for _, reportType := range []string{"pdf", "unknown", ""} {
		req := resty.New().R()
		if reportType != "" {
			req.SetQueryParam("report_type", reportType)
		}
		resp, err := req.Get(env.url + "/report/")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode())
		assert.Contains(t, resp.Header().Get("Content-Disposition"), "report.pdf")
		assert.True(t, strings.HasPrefix(resp.String(), "%PDF-"))
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, err := resty.New().R().Get(env.url + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())

	env.server.HealthChecks = map[string]func(context.Context) error{
		"detector": func(context.Context) error { return errors.New("connection refused") },
	}
	resp, err = resty.New().R().Get(env.url + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode())
	assert.Contains(t, resp.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	upload(t, env.url+"/process_image/", "black.png", "image/png", blackPNG(t))
	upload(t, env.url+"/process_image/", "notes.txt", "text/plain", []byte("hello"))

	resp, err := resty.New().R().Get(env.url + "/metrics")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Contains(t, resp.String(), "detection_images_processed_total 1")
	assert.Contains(t, resp.String(), "detection_rejected_uploads_total 1")
}

func TestMetricsCountFailures(t *testing.T) {
	env := newTestEnv(t)
	env.detector.err = errors.New("model crashed")
	upload(t, env.url+"/process_image/", "black.png", "image/png", blackPNG(t))

	resp, err := resty.New().R().Get(env.url + "/metrics")
	require.NoError(t, err)
	assert.Contains(t, resp.String(), "detection_failed_requests_total 1")
	assert.Contains(t, resp.String(), "detection_rejected_uploads_total 0")
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	resp, err := resty.New().R().
		SetHeader("Origin", "http://localhost:8501").
		SetHeader("Access-Control-Request-Method", "POST").
		Options(env.url + "/process_image/")
	require.NoError(t, err)
	assert.Equal(t, "*", resp.Header().Get("Access-Control-Allow-Origin"))
}
