package whatsapp

import (
	"github.com/sirupsen/logrus"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// logrusLogger routes whatsmeow's internal logging into logrus.
type logrusLogger struct {
	entry *logrus.Entry
}

func newLogrusLogger(logger *logrus.Logger, sessionID string) waLog.Logger {
	return &logrusLogger{entry: logger.WithFields(logrus.Fields{
		"component": "whatsmeow",
		"session":   sessionID,
	})}
}

func (l *logrusLogger) Warnf(msg string, args ...interface{})  { l.entry.Warnf(msg, args...) }
func (l *logrusLogger) Errorf(msg string, args ...interface{}) { l.entry.Errorf(msg, args...) }
func (l *logrusLogger) Infof(msg string, args ...interface{})  { l.entry.Infof(msg, args...) }
func (l *logrusLogger) Debugf(msg string, args ...interface{}) { l.entry.Debugf(msg, args...) }

func (l *logrusLogger) Sub(module string) waLog.Logger {
	return &logrusLogger{entry: l.entry.WithField("module", module)}
}
