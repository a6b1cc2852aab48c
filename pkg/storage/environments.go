package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aquiline/gatehouse/pkg/observability"
)

// Environment is a deployment environment within the organization.
type Environment struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// EnvironmentStore persists environments and implements
// provisioning.EnvironmentCatalog.
type EnvironmentStore struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// NewEnvironmentStore creates an environment store. metrics may be nil.
func NewEnvironmentStore(db *sql.DB, metrics *observability.Metrics) *EnvironmentStore {
	return &EnvironmentStore{db: db, metrics: metrics}
}

// Create inserts a new environment with a generated id.
func (s *EnvironmentStore) Create(ctx context.Context, env *Environment) error {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	env.CreatedAt = time.Now().UTC()

	query := `INSERT INTO environments (id, name, created_at) VALUES ($1, $2, $3)`
	_, err := s.db.ExecContext(ctx, query, env.ID, env.Name, env.CreatedAt)
	s.track("environments", "create", err)
	if err != nil {
		return fmt.Errorf("failed to create environment: %w", err)
	}
	return nil
}

// FindAll returns every environment ordered by name.
func (s *EnvironmentStore) FindAll(ctx context.Context) ([]Environment, error) {
	query := `SELECT id, name, created_at FROM environments ORDER BY name`
	rows, err := s.db.QueryContext(ctx, query)
	s.track("environments", "find_all", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}
	defer rows.Close()

	var envs []Environment
	for rows.Next() {
		var env Environment
		if err := rows.Scan(&env.ID, &env.Name, &env.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan environment: %w", err)
		}
		envs = append(envs, env)
	}
	return envs, rows.Err()
}

// ListEnvironmentIDs returns the ids of every environment.
func (s *EnvironmentStore) ListEnvironmentIDs(ctx context.Context) ([]string, error) {
	query := `SELECT id FROM environments ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query)
	s.track("environments", "list_ids", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list environment ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan environment id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *EnvironmentStore) track(store, op string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.StorageOperationsTotal.WithLabelValues(store, op).Inc()
	if err != nil && err != sql.ErrNoRows {
		s.metrics.StorageErrorsTotal.WithLabelValues(store, op).Inc()
	}
	s.metrics.UpdateDBStats(s.db)
}
