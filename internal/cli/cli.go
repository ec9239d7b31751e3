// Package cli holds small command-line helpers in the teacher's
// mainboilerplate style (go.gazette.dev/core/mainboilerplate), reimplemented
// locally since that package is not part of this repo's retrieved slice.
package cli

import (
	"os"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
)

// Must logs a fatal error and exits if err is non-nil, the way
// mbp.Must wraps a message around a startup failure.
func Must(err error, message string, args ...interface{}) {
	if err == nil {
		return
	}
	log.WithError(err).WithField("args", args).Fatal(message)
}

// MustParseArgs parses os.Args with parser, exiting 0 on -h/--help and 1 on
// any other parse error without printing a stack trace, mirroring
// mbp.MustParseArgs.
func MustParseArgs(parser *flags.Parser) {
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

// LogConfig groups the logging flags every subcommand shares.
type LogConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"info" description:"Logging level: debug, info, warn, error"`
	Format string `long:"format" env:"FORMAT" default:"text" choice:"text" choice:"json" description:"Logging output encoding"`
}

// Configure applies the configured level and formatter to logrus's standard
// logger, called once at process startup.
func (c LogConfig) Configure() error {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	if c.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
