package main

import (
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Diacious/yolo-guns-knife-detection/src/commons"
	"github.com/Diacious/yolo-guns-knife-detection/src/datastructures"
	"github.com/Diacious/yolo-guns-knife-detection/src/report"
	"github.com/Diacious/yolo-guns-knife-detection/src/stats"
	"github.com/Diacious/yolo-guns-knife-detection/src/video"
)

const truncatedHeader = "X-Stream-Truncated"

func uploadedFile(c *gin.Context, allowed map[string]bool) (*multipart.FileHeader, error) {
	header, err := c.FormFile("file")
	if err != nil {
		return nil, commons.NewValidationError("file is missing", err)
	}
	if contentType := header.Header.Get("Content-Type"); !allowed[contentType] {
		return nil, commons.NewValidationError("Invalid file type: "+contentType, nil)
	}
	return header, nil
}

func newEntryID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", errors.Wrap(err, "couldn't generate request id")
	}
	return id.String(), nil
}

func (s *Server) observe(kind string, seconds float64, labelStats datastructures.LabelStats) {
	s.Metrics.ObserveProcessing(kind, seconds)
	for label, stat := range labelStats {
		s.Metrics.ObserveDetections(label, stat.Count)
	}
}

func (s *Server) processImage(c *gin.Context) {
	header, err := uploadedFile(c, imageContentTypes)
	if err != nil {
		s.fail(c, err)
		return
	}

	file, err := header.Open()
	if err != nil {
		s.fail(c, errors.Wrap(err, "couldn't read upload"))
		return
	}
	defer file.Close()

	img, err := imaging.Decode(file, imaging.AutoOrientation(true))
	if err != nil {
		s.fail(c, commons.NewValidationError("couldn't decode image", err))
		return
	}

	probe := commons.StartProbe()
	detections, err := s.Detector.Detect(c.Request.Context(), img)
	if err != nil {
		s.fail(c, commons.NewInferenceError(err))
		return
	}
	annotated := s.Annotator.Annotate(img, detections)
	seconds, memoryUsed := probe.Stop()

	name, err := commons.NewArtifactName("processed", ".jpg")
	if err != nil {
		s.fail(c, err)
		return
	}
	processedPath := commons.ArtifactPath(s.OutputDir, name)
	if err := imaging.Save(annotated, processedPath, imaging.JPEGQuality(95)); err != nil {
		s.fail(c, errors.Wrap(err, "couldn't save processed image"))
		return
	}

	id, err := newEntryID()
	if err != nil {
		s.fail(c, err)
		return
	}
	labelStats := stats.ComputeLabelStats(detections, s.Names)
	entry := datastructures.HistoryEntry{
		Id:             id,
		Timestamp:      s.timestamp(),
		FileName:       header.Filename,
		ProcessedFile:  name,
		Result:         datastructures.Result{Detections: detections},
		ProcessingTime: seconds,
		MemoryUsed:     memoryUsed,
		LabelStats:     labelStats,
	}
	if err := s.History.Append(c.Request.Context(), entry); err != nil {
		os.Remove(processedPath)
		s.fail(c, errors.Wrap(err, "couldn't save request history"))
		return
	}

	s.Metrics.ImagesProcessed.Add(1)
	s.observe("image", seconds, labelStats)
	log.WithFields(log.Fields{"id": id, "detections": len(detections), "seconds": seconds}).Debug("[API] Processed image ", header.Filename)

	c.Header("Content-Type", "image/jpeg")
	c.FileAttachment(processedPath, name)
}

// processVideo answers with an MP4 of the same frame size and rate as the
// upload (rotated streams keep their displayed orientation). If decoding
// stops early the frames seen so far are kept, the entry is marked truncated
// and the response carries X-Stream-Truncated: true.
func (s *Server) processVideo(c *gin.Context) {
	header, err := uploadedFile(c, videoContentTypes)
	if err != nil {
		s.fail(c, err)
		return
	}

	id, err := newEntryID()
	if err != nil {
		s.fail(c, err)
		return
	}

	// the decoder needs a seekable file, the upload is parked next to the outputs
	tempPath := commons.ArtifactPath(s.OutputDir, "temp_"+id+filepath.Ext(header.Filename))
	if err := c.SaveUploadedFile(header, tempPath); err != nil {
		os.Remove(tempPath)
		s.fail(c, errors.Wrap(err, "couldn't store upload"))
		return
	}
	defer func() {
		if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
			log.Debug("[API] Couldn't remove ", tempPath, ": ", err.Error())
		}
	}()

	src, err := s.OpenVideo(tempPath)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer src.Close()

	name, err := commons.NewArtifactName("processed", ".mp4")
	if err != nil {
		s.fail(c, err)
		return
	}
	processedPath := commons.ArtifactPath(s.OutputDir, name)
	sink, err := s.CreateVideo(processedPath, src.Info())
	if err != nil {
		s.fail(c, errors.Wrap(err, "couldn't create output video"))
		return
	}

	aggregator := video.NewAggregator(s.Detector.Detect, s.Annotator)
	aggregator.OnFrame = func(frame int, detections []datastructures.Detection) {
		s.Metrics.FramesProcessed.Add(1)
	}

	probe := commons.StartProbe()
	agg, err := aggregator.Process(c.Request.Context(), src, sink)
	seconds, memoryUsed := probe.Stop()
	if closeErr := sink.Close(); err == nil && closeErr != nil {
		err = errors.Wrap(closeErr, "couldn't finish output video")
	}
	if err != nil {
		os.Remove(processedPath)
		s.fail(c, err)
		return
	}

	labelStats := stats.ComputeLabelStats(agg.Detections, s.Names)
	entry := datastructures.HistoryEntry{
		Id:             id,
		Timestamp:      s.timestamp(),
		FileName:       header.Filename,
		ProcessedFile:  name,
		Result:         datastructures.Result{VideoDetections: agg.Frames},
		ProcessingTime: seconds,
		MemoryUsed:     memoryUsed,
		LabelStats:     labelStats,
		Truncated:      agg.Truncated,
	}
	if err := s.History.Append(c.Request.Context(), entry); err != nil {
		os.Remove(processedPath)
		s.fail(c, errors.Wrap(err, "couldn't save request history"))
		return
	}

	s.Metrics.VideosProcessed.Add(1)
	s.observe("video", seconds, labelStats)
	if agg.Truncated {
		s.Metrics.VideosTruncated.Add(1)
		log.WithFields(log.Fields{"id": id, "frames": len(agg.Frames)}).Info("[API] Video ", header.Filename, " was truncated: ", agg.Cause)
		c.Header(truncatedHeader, "true")
	}

	c.Header("Content-Type", "video/mp4")
	c.FileAttachment(processedPath, name)
}

func (s *Server) getHistory(c *gin.Context) {
	entries, err := s.History.ReadAll(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) getHistorySummary(c *gin.Context) {
	entries, err := s.History.ReadAll(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats.Summarize(entries))
}

func (s *Server) getReport(c *gin.Context) {
	format := report.ParseFormat(c.DefaultQuery("report_type", "pdf"))

	entries, err := s.History.ReadAll(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}

	reportPath, err := s.Reports.WriteFile(entries, format)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.Metrics.ReportsRendered.Add(1)

	c.Header("Content-Type", "application/octet-stream")
	c.FileAttachment(reportPath, format.DownloadName())
}

func (s *Server) getHealth(c *gin.Context) {
	failures := gin.H{}
	for name, check := range s.HealthChecks {
		if err := check(c.Request.Context()); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "errors": failures})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
