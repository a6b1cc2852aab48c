// Package storage provides SQL-backed persistence for roles, membership
// edges, groups, environments, and audit events. The SQL is written with
// positional placeholders and ON CONFLICT upserts so that the same stores run
// against PostgreSQL in production and SQLite in tests.
package storage
