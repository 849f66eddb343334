package observability

import (
	"io"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the binaries' logger: text output with full timestamps.
// An unknown level falls back to info and is reported on the returned logger.
func NewLogger(level string, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.SetLevel(logrus.InfoLevel)
		logger.WithField("level", level).Warn("unknown log level, using info")
		return logger
	}
	logger.SetLevel(lvl)
	return logger
}
