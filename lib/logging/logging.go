package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logger writing to stderr. format is `json` or `text`; level is
// any logrus level name, empty meaning info.
func New(level, format string) (*logrus.Logger, error) {
	return newLogger(os.Stderr, level, format)
}

func newLogger(w io.Writer, level, format string) (*logrus.Logger, error) {
	l := logrus.New()
	l.SetOutput(w)

	if level == `` {
		level = `info`
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf(`log level: %w`, err)
	}
	l.SetLevel(lvl)

	switch format {
	case ``, `text`:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: `15:04:05.000000`})
	case `json`:
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf(`log format %q: want text or json`, format)
	}
	return l, nil
}
