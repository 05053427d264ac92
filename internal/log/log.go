// Package log configures the process-wide logrus logger, the way
// _examples/firestige-Otus/internal/log wires it: one formatter chosen
// by a config string, one entry built at startup and handed to every
// component constructor, so no package configures its own logger.
package log

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// New builds a *logrus.Entry configured from level/format. format is
// "text" or "json"; level is any logrus.ParseLevel string.
func New(level, format string) (*logrus.Entry, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log: invalid level %q: %w", level, err)
	}

	logger := logrus.New()
	logger.SetLevel(lvl)

	switch format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("log: invalid format %q", format)
	}

	return logrus.NewEntry(logger), nil
}
