package fanout

import (
	"context"

	"github.com/sirupsen/logrus"

	"gemwatch/internal/domain"
)

// LogAdapter fans out by writing a structured log line per alert. It
// never fails a recipient and never mutates the registry — used as the
// safe default adapter and in tests.
type LogAdapter struct {
	log logrus.FieldLogger
}

// NewLogAdapter builds a LogAdapter. log defaults to the standard logger.
func NewLogAdapter(log logrus.FieldLogger) *LogAdapter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogAdapter{log: log}
}

var _ Adapter = (*LogAdapter)(nil)

// Deliver logs rec at info level.
func (a *LogAdapter) Deliver(ctx context.Context, rec domain.AlertRecord) {
	a.log.WithFields(logrus.Fields{
		"id":       rec.ID,
		"token":    rec.Token,
		"tier":     rec.Tier,
		"level":    rec.Level,
		"contract": rec.Contract,
	}).Info("fanout: alert delivered")
}
