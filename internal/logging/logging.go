package logging

import (
	"github.com/sirupsen/logrus"
)

// LogArgs can be embedded in a go-arg args struct to get a consistent
// --log-level flag across binaries.
type LogArgs struct {
	LogLevel string `arg:"--log-level" default:"info" help:"logging level: debug, info, warn, error"`
}

// NewLogger makes a logrus logger at the given level. An unknown level
// falls back to info rather than failing, so a bad flag value never
// stops a daemon from starting.
func NewLogger(level string) *logrus.Logger {
	log := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return log
}
