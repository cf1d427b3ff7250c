// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"strings"

	log "github.com/sirupsen/logrus"

	"mit.edu/dsg/topsales/common"
)

// Configure sets the level and format of the standard logger and directs it to out. Format is "text" (full
// timestamps) or "json".
func Configure(level, format string, out io.Writer) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return common.NewError(common.ConfigurationError, "invalid log level '%s'", level)
	}
	formatter, err := newFormatter(format)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	log.SetFormatter(formatter)
	log.SetOutput(out)
	return nil
}

func newFormatter(format string) (log.Formatter, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return &log.TextFormatter{FullTimestamp: true}, nil
	case "json":
		return &log.JSONFormatter{}, nil
	}
	return nil, common.NewError(common.ConfigurationError, "invalid log format '%s' (want text or json)", format)
}
