package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var logrusLevels = map[Level]logrus.Level{
	DebugLevel: logrus.DebugLevel,
	InfoLevel:  logrus.InfoLevel,
	WarnLevel:  logrus.WarnLevel,
	ErrorLevel: logrus.ErrorLevel,
}

// LogrusLogger implements Logger on top of sirupsen/logrus.
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger creates a logrus backed logger tagged with component.
// Output is JSON unless cfg.Pretty is set.
func NewLogrusLogger(component string, cfg Config) Logger {
	return newLogrus(os.Stdout, component, cfg)
}

func newLogrus(out io.Writer, component string, cfg Config) *LogrusLogger {
	l := logrus.New()
	l.SetOutput(out)
	if cfg.Pretty {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	lvl, ok := logrusLevels[cfg.Level]
	if !ok {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return &LogrusLogger{entry: l.WithField("component", component)}
}

func (l *LogrusLogger) Debugf(format string, args ...any) {
	l.entry.Debugf(format, args...)
}

func (l *LogrusLogger) Debugw(msg string, fields map[string]any) {
	l.entry.WithFields(logrus.Fields(fields)).Debug(msg)
}

func (l *LogrusLogger) Infof(format string, args ...any) {
	l.entry.Infof(format, args...)
}

func (l *LogrusLogger) Warnf(format string, args ...any) {
	l.entry.Warnf(format, args...)
}

func (l *LogrusLogger) Errorf(format string, args ...any) {
	l.entry.Errorf(format, args...)
}
