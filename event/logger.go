package event

import (
	"context"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/message"
)

// LoggingListener writes each event to a grip logger.
type LoggingListener struct {
	Logger   grip.Journaler
	Priority level.Priority
}

// NewLoggingListener returns a listener logging at priority; a nil
// logger means the process wide grip logger.
func NewLoggingListener(logger grip.Journaler, priority level.Priority) *LoggingListener {
	if !priority.IsValid() {
		priority = level.Debug
	}
	return &LoggingListener{Logger: logger, Priority: priority}
}

func (l *LoggingListener) OnEvent(_ context.Context, e Event) {
	msg := message.Fields{
		"message":    "document lifecycle event",
		"event":      e.Kind,
		"collection": e.Collection,
	}
	if e.Type != nil {
		msg["type"] = e.Type.String()
	}
	if e.Document != nil {
		msg["document"] = e.Document
	}

	if l.Logger == nil {
		grip.Log(l.Priority, msg)
		return
	}
	l.Logger.Log(l.Priority, msg)
}
