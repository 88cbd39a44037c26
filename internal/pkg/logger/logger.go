package logger

import (
	"github.com/sirupsen/logrus"
)

type UTCFormatter struct {
	logrus.Formatter
}

func (u UTCFormatter) Format(e *logrus.Entry) ([]byte, error) {
	e.Time = e.Time.UTC()
	return u.Formatter.Format(e)
}

// Init configures the process-wide logger. Race lines and reports go to
// stdout; log records go to stderr so they can be redirected separately.
func Init(verbose bool) {
	logrus.SetFormatter(UTCFormatter{&logrus.TextFormatter{FullTimestamp: true}})
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
}
