package main

import (
	"context"
	"image"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	"github.com/Diacious/yolo-guns-knife-detection/src/commons"
	"github.com/Diacious/yolo-guns-knife-detection/src/datastructures"
	"github.com/Diacious/yolo-guns-knife-detection/src/history"
	"github.com/Diacious/yolo-guns-knife-detection/src/metrics"
	"github.com/Diacious/yolo-guns-knife-detection/src/report"
	"github.com/Diacious/yolo-guns-knife-detection/src/video"
)

type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]datastructures.Detection, error)
}

type Annotator interface {
	Annotate(img image.Image, detections []datastructures.Detection) image.Image
}

var imageContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

var videoContentTypes = map[string]bool{
	"video/mp4": true,
	"video/mov": true,
	"video/avi": true,
}

// Server carries everything the handlers need. It is built once in main.
type Server struct {
	Detector      Detector
	Annotator     Annotator
	Names         datastructures.ClassNames
	History       history.Store
	Reports       *report.Generator
	Metrics       *metrics.Metrics
	OutputDir     string
	MaxUploadSize int64

	OpenVideo   func(path string) (video.FrameSource, error)
	CreateVideo func(path string, info video.StreamInfo) (video.FrameSink, error)

	// HealthChecks are run by /health, keyed by the dependency they probe.
	HealthChecks map[string]func(ctx context.Context) error

	now func() time.Time
}

func (s *Server) timestamp() string {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	return now().Format(time.RFC3339)
}

func (s *Server) Router() *gin.Engine {
	router := gin.Default()
	router.MaxMultipartMemory = 32 << 20

	uploads := router.Group("/", s.limitUploadSize)
	uploads.POST("/process_image/", s.processImage)
	uploads.POST("/process_video/", s.processVideo)

	router.GET("/history/", s.getHistory)
	router.GET("/history/summary/", s.getHistorySummary)
	router.GET("/report/", s.getReport)
	router.GET("/health", s.getHealth)
	router.GET("/metrics", gin.WrapH(s.Metrics.Handler()))

	return router
}

// Handler is the router wrapped in the CORS policy the web UI needs.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Requested-With", "X-File-Name", "Cache-Control"},
		ExposedHeaders: []string{"Content-Disposition", truncatedHeader},
	}).Handler(s.Router())
}

func (s *Server) limitUploadSize(c *gin.Context) {
	if s.MaxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.MaxUploadSize)
	}
	c.Next()
}

// fail answers with the status matching err. Server side failures are
// reported, rejected input is only logged.
func (s *Server) fail(c *gin.Context, err error) {
	if commons.IsClientError(err) {
		s.Metrics.RejectedUploads.Add(1)
		log.Debug("[API] Rejected request to ", c.FullPath(), ": ", err.Error())
	} else {
		s.Metrics.FailedRequests.Add(1)
		commons.ReportError(err, map[string]string{"route": c.FullPath()})
	}
	c.JSON(commons.StatusCode(err), gin.H{"error": err.Error()})
}
