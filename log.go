package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultLogLevel = zerolog.WarnLevel

// logger wraps zerolog for structured logging. It never writes to stdout,
// which is reserved for the result payload.
type logger struct {
	z zerolog.Logger
}

// newLogger creates a logger with console output.
func newLogger(out io.Writer) *logger {
	noColor := os.Getenv("NO_COLOR") != ""
	if f, ok := out.(*os.File); ok {
		if fi, err := f.Stat(); err == nil && (fi.Mode()&os.ModeCharDevice) == 0 {
			noColor = true
		}
	} else {
		noColor = true
	}

	cw := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    noColor,
	}
	zl := zerolog.New(cw).Level(defaultLogLevel).With().Timestamp().Logger()
	return &logger{z: zl}
}

// setLevel changes the minimum level. An empty string keeps the current one.
func (l *logger) setLevel(level string) error {
	level = strings.TrimSpace(level)
	if level == "" {
		return nil
	}
	lv, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	l.z = l.z.Level(lv)
	return nil
}

func (l *logger) info(msg string) { l.z.Info().Msg(msg) }
func (l *logger) warn(msg string) { l.z.Warn().Msg(msg) }
func (l *logger) err(msg string)  { l.z.Error().Msg(msg) }

func (l *logger) debugf(format string, args ...any) { l.z.Debug().Msg(fmt.Sprintf(format, args...)) }
func (l *logger) infof(format string, args ...any)  { l.info(fmt.Sprintf(format, args...)) }
func (l *logger) warnf(format string, args ...any)  { l.warn(fmt.Sprintf(format, args...)) }
