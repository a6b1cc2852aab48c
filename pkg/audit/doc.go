// Package audit provides the fire-and-forget audit sink consumed by the
// membership graph, ownership transactor, and provisioning reconciler.
//
// A Sink records Events describing membership and ownership changes. Sinks
// never surface failures to callers: a lost audit record is logged, a failed
// business operation is not. NopSink discards, LogSink writes structured
// logrus entries, DBSink persists to the audit_events table, and MultiSink
// fans out to several sinks.
package audit
