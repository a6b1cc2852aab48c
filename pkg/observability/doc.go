// Package observability provides structured logging and Prometheus metrics
// for the Gatehouse access-control core.
//
// Logging uses stdlib slog with a JSON handler behind a small Logger wrapper
// supporting contextual fields (WithField, WithFields, WithError). Metrics
// cover permission resolution, provisioning reconciliation, caches, and
// storage, registered against an injected prometheus.Registry so embedding
// services control exposure.
package observability
