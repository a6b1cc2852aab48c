package audit

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(buf *bytes.Buffer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(buf)
	log.SetFormatter(&logrus.JSONFormatter{})
	return log
}

func TestLogSinkEmitsStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(testLogger(&buf))

	sink.Record(context.Background(), Event{
		Type:          EventOwnershipTransfer,
		Actor:         "alice",
		MemberID:      "bob",
		ReferenceType: "API",
		ReferenceID:   "api-1",
		RoleName:      "PRIMARY_OWNER",
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, true, entry["audit"])
	assert.Equal(t, string(EventOwnershipTransfer), entry["event_type"])
	assert.Equal(t, "alice", entry["actor"])
	assert.Equal(t, "api-1", entry["reference_id"])
}

func TestMultiSinkFansOut(t *testing.T) {
	var first, second []Event
	sink := NewMultiSink(
		sinkFunc(func(e Event) { first = append(first, e) }),
		sinkFunc(func(e Event) { second = append(second, e) }),
	)

	sink.Record(context.Background(), Event{Type: EventMembershipCreated})

	assert.Len(t, first, 1)
	assert.Len(t, second, 1)
}

// sinkFunc adapts a function to the Sink interface.
type sinkFunc func(Event)

func (f sinkFunc) Record(_ context.Context, event Event) { f(event) }

func TestDBSinkPersistsEvent(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE audit_events (
			id VARCHAR(64) PRIMARY KEY,
			event_type VARCHAR(64) NOT NULL,
			actor VARCHAR(255) NOT NULL DEFAULT '',
			member_id VARCHAR(255) NOT NULL DEFAULT '',
			member_type VARCHAR(16) NOT NULL DEFAULT '',
			reference_type VARCHAR(32) NOT NULL DEFAULT '',
			reference_id VARCHAR(255) NOT NULL DEFAULT '',
			role_name VARCHAR(255) NOT NULL DEFAULT '',
			source VARCHAR(255) NOT NULL DEFAULT '',
			metadata TEXT,
			created_at TIMESTAMP NOT NULL
		)
	`)
	require.NoError(t, err)

	sink := NewDBSink(db, nil)
	sink.Record(context.Background(), Event{
		Type:      EventReconcileApplied,
		Actor:     "idp-1",
		MemberID:  "carol",
		Source:    "idp-1",
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]interface{}{"writes": 3},
	})

	var eventType, metadata string
	err = db.QueryRow(`SELECT event_type, metadata FROM audit_events`).Scan(&eventType, &metadata)
	require.NoError(t, err)
	assert.Equal(t, string(EventReconcileApplied), eventType)
	assert.Contains(t, metadata, `"writes":3`)
}

func TestDBSinkSwallowsInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO audit_events").WillReturnError(sql.ErrConnDone)

	var buf bytes.Buffer
	sink := NewDBSink(db, testLogger(&buf))

	// Must not panic or surface the error.
	sink.Record(context.Background(), Event{Type: EventMembershipDeleted})

	assert.Contains(t, buf.String(), "failed to record audit event")
	assert.NoError(t, mock.ExpectationsWereMet())
}
