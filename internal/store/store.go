// Package store persists finished projects. Records are written once and
// never updated.
package store

import (
	"context"
	"errors"

	"prompt2web_server/internal/types"
)

// ErrNotFound is returned when no record matches both account and id.
var ErrNotFound = errors.New("project not found")

// Store is the persistence collaborator. List returns records newest first.
type Store interface {
	Create(ctx context.Context, rec types.ProjectRecord) error
	List(ctx context.Context, accountID string) ([]types.ProjectRecord, error)
	Get(ctx context.Context, accountID, id string) (types.ProjectRecord, error)
	Close() error
}

// Backend names a store implementation for metrics and logs.
func Backend(s Store) string {
	switch s.(type) {
	case *Memory:
		return "memory"
	case *Redis:
		return "redis"
	case *Postgres:
		return "postgres"
	default:
		return "custom"
	}
}
