package audit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Sink receives audit events. Recording is fire-and-forget: implementations
// must never surface failures to the caller, only log them.
type Sink interface {
	Record(ctx context.Context, event Event)
}

// NopSink discards every event.
type NopSink struct{}

// Record does nothing.
func (NopSink) Record(ctx context.Context, event Event) {}

// LogSink writes audit events to a logrus logger as structured entries.
type LogSink struct {
	log *logrus.Logger
}

// NewLogSink creates a sink writing to log. A nil log falls back to the
// logrus standard logger.
func NewLogSink(log *logrus.Logger) *LogSink {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogSink{log: log}
}

// Record emits the event as an info-level structured log entry.
func (s *LogSink) Record(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	s.log.WithFields(logrus.Fields{
		"audit":          true,
		"event_type":     event.Type,
		"actor":          event.Actor,
		"member_id":      event.MemberID,
		"member_type":    event.MemberType,
		"reference_type": event.ReferenceType,
		"reference_id":   event.ReferenceID,
		"role_name":      event.RoleName,
		"source":         event.Source,
	}).Info("audit event")
}

// MultiSink fans an event out to several sinks.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a sink recording to each of the given sinks in order.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Record forwards the event to every sink.
func (s *MultiSink) Record(ctx context.Context, event Event) {
	for _, sink := range s.sinks {
		sink.Record(ctx, event)
	}
}
