package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DBSink persists audit events to the audit_events table. Insert failures
// are logged at warn level and swallowed.
type DBSink struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewDBSink creates a database-backed audit sink.
func NewDBSink(db *sql.DB, log *logrus.Logger) *DBSink {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &DBSink{db: db, log: log}
}

// Record inserts the event. Failures never propagate.
func (s *DBSink) Record(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var metadata []byte
	if event.Metadata != nil {
		var err error
		metadata, err = json.Marshal(event.Metadata)
		if err != nil {
			s.log.WithError(err).Warn("failed to marshal audit metadata")
			metadata = nil
		}
	}

	query := `
		INSERT INTO audit_events (id, event_type, actor, member_id, member_type, reference_type, reference_id, role_name, source, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.NewString(),
		string(event.Type),
		event.Actor,
		event.MemberID,
		event.MemberType,
		event.ReferenceType,
		event.ReferenceID,
		event.RoleName,
		event.Source,
		nullableJSON(metadata),
		event.Timestamp,
	)
	if err != nil {
		s.log.WithError(err).WithField("event_type", event.Type).Warn("failed to record audit event")
	}
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
