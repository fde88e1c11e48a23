// Package main is the operator CLI for the detection history.
package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/Diacious/yolo-guns-knife-detection/src/commons"
)

const (
	flagHistoryFile    = "history-file"
	flagHistoryBackend = "history-backend"
	flagRedisAddress   = "redis-address"
	flagRedisKey       = "redis-key"
	flagFormat         = "format"
	flagOut            = "out"
	flagOutputDir      = "output-dir"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "reportctl",
		Usage: "inspect the detection history and render reports offline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagHistoryFile,
				Value:   "request_history.json",
				EnvVars: []string{"HISTORY_FILE"},
				Usage:   "location of the JSON history",
			},
			&cli.StringFlag{
				Name:    flagHistoryBackend,
				Value:   "file",
				EnvVars: []string{"HISTORY_BACKEND"},
				Usage:   "history backend (file, redis)",
			},
			&cli.StringFlag{
				Name:    flagRedisAddress,
				Value:   ":6379",
				EnvVars: []string{"REDIS_ADDRESS"},
				Usage:   "address to the Redis server",
			},
			&cli.StringFlag{
				Name:    flagRedisKey,
				Value:   "request_history",
				EnvVars: []string{"REDIS_KEY"},
				Usage:   "Redis list holding the history",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "history",
				Usage:  "list all history entries",
				Action: HistoryCommand,
			},
			{
				Name:   "summary",
				Usage:  "print aggregated statistics of the history",
				Action: SummaryCommand,
			},
			{
				Name:  "report",
				Usage: "render a pdf or excel report",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagFormat,
						Value: "pdf",
						Usage: "report format (pdf, excel)",
					},
					&cli.StringFlag{
						Name:  flagOut,
						Usage: "write the report to this file instead of the output directory",
					},
					&cli.StringFlag{
						Name:    flagOutputDir,
						Value:   "outputs",
						EnvVars: []string{"OUTPUT_DIR"},
						Usage:   "directory for generated reports",
					},
				},
				Action: ReportCommand,
			},
			{
				Name:      "quarantine",
				Usage:     "move a corrupt history file aside so the service starts fresh",
				UsageText: "reportctl [--history-file FILE] quarantine",
				Action:    QuarantineCommand,
			},
		},
	}
}

func main() {
	if err := commons.SetupLogging(commons.GetEnv("LOG_LEVEL", "info")); err != nil {
		log.Fatal(err)
	}
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
