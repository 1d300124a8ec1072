package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

type Options struct {
	Level  string
	Format string
	Output io.Writer
}

// New builds the process logger. Logs go to stderr by default so stdout
// carries only the command's JSON result.
func New(opts Options) *logrus.Logger {
	base := logrus.New()
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	base.SetOutput(out)

	switch resolveFormat(opts.Format, out) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
			DisableColors:   !isTerminal(out),
		})
	}

	base.SetLevel(ParseLevel(opts.Level))
	return base
}

// Discard returns a logger that drops everything; handy for tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func resolveFormat(format string, out io.Writer) string {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "json", "text":
		return f
	}
	if isTerminal(out) {
		return "text"
	}
	return "json"
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
