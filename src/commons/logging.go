package commons

import (
	"github.com/getsentry/raven-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

func SetupLogging(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	return nil
}

// SetupErrorReporting configures Sentry. An empty DSN leaves reporting off.
func SetupErrorReporting(dsn string, release string) error {
	if dsn == "" {
		return nil
	}
	if err := raven.SetDSN(dsn); err != nil {
		return errors.Wrap(err, "couldn't configure sentry")
	}
	raven.SetRelease(release)
	return nil
}

// ReportError logs err and forwards it to Sentry if reporting is configured.
func ReportError(err error, tags map[string]string) {
	if err == nil {
		return
	}
	log.WithFields(toFields(tags)).Error(err.Error())
	if raven.ProjectID() != "" {
		raven.CaptureError(err, tags)
	}
}

func toFields(tags map[string]string) log.Fields {
	fields := make(log.Fields, len(tags))
	for k, v := range tags {
		fields[k] = v
	}
	return fields
}
