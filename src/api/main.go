package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Diacious/yolo-guns-knife-detection/src/annotate"
	"github.com/Diacious/yolo-guns-knife-detection/src/commons"
	"github.com/Diacious/yolo-guns-knife-detection/src/datastructures"
	"github.com/Diacious/yolo-guns-knife-detection/src/history"
	"github.com/Diacious/yolo-guns-knife-detection/src/metrics"
	"github.com/Diacious/yolo-guns-knife-detection/src/predict"
	"github.com/Diacious/yolo-guns-knife-detection/src/report"
	"github.com/Diacious/yolo-guns-knife-detection/src/video"
)

const release = "yolo-guns-knife-detection@1.0.0"

func newPredictor(cfg commons.Config) (predict.Predictor, map[string]func(context.Context) error, error) {
	checks := make(map[string]func(context.Context) error)

	var predictor predict.Predictor
	switch cfg.Detector {
	case "tensorflow":
		p, err := predict.LoadTensorflowPredictor(cfg.ModelPath)
		if err != nil {
			return nil, nil, err
		}
		predictor = p
	default:
		p := predict.NewRemotePredictor(cfg.InferenceURL, cfg.ModelPath)
		checks["detector"] = p.CheckHealth
		predictor = p
	}

	if cfg.ConfidenceThreshold > 0 {
		predictor = predict.WithPostprocessor(predictor, predict.NewScoreFilter(cfg.ConfidenceThreshold))
	}
	return predictor, checks, nil
}

func loadClassNames(path string) datastructures.ClassNames {
	names, err := commons.LoadClassNames(path)
	if err != nil {
		log.Warning("[Main] Couldn't load class names, labels will be class indices: ", err.Error())
		return datastructures.ClassNames{}
	}
	log.Debug("[Main] Loaded ", len(names), " class names from ", path)
	return names
}

func run(cfg commons.Config) error {
	if cfg.ReleaseMode {
		log.Info("[Main] Starting gin in release mode!")
		gin.SetMode(gin.ReleaseMode)
	}
	if err := commons.SetupErrorReporting(cfg.SentryDSN, release); err != nil {
		return err
	}

	//creating output dir if it not already exists
	if err := commons.EnsureDir(cfg.OutputDir); err != nil {
		return errors.Wrap(err, "couldn't create output directory")
	}

	names := loadClassNames(cfg.ClassNamesFile)

	predictor, checks, err := newPredictor(cfg)
	if err != nil {
		return errors.Wrap(err, "couldn't set up detector")
	}
	defer predictor.Close()

	dispatcher := predict.NewDispatcher(predictor, cfg.MaxWorkers, cfg.MaxWorkerQueueSize)
	dispatcher.Run()
	defer dispatcher.Stop()

	store, err := history.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	if redisStore, ok := store.(*history.RedisStore); ok {
		checks["history"] = func(context.Context) error { return redisStore.Ping() }
	}

	server := &Server{
		Detector:      dispatcher,
		Annotator:     annotate.New(names),
		Names:         names,
		History:       store,
		Reports:       report.NewGenerator(cfg.OutputDir),
		Metrics:       metrics.New(),
		OutputDir:     cfg.OutputDir,
		MaxUploadSize: cfg.MaxUploadSize,
		OpenVideo:     video.OpenFFmpegSource,
		CreateVideo:   video.CreateFFmpegSink,
		HealthChecks:  checks,
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: server.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("[Main] Listening on ", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("[Main] Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func main() {
	loadConfig := commons.RegisterFlags(flag.CommandLine)
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal("[Main] Invalid configuration: ", err.Error())
	}
	if err := commons.SetupLogging(cfg.LogLevel); err != nil {
		log.Fatal("[Main] ", err.Error())
	}

	if err := run(cfg); err != nil {
		log.Fatal("[Main] ", err.Error())
	}
}
