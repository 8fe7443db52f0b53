// Package store holds the client-local durable record of in-flight and
// recently finished generation jobs. The tracker writes through on every
// placeholder mutation and reads the store back once at cold start.
package store

import (
	"context"

	"genstudio/internal/domain"
)

// Store is the persistence contract for tracked job placeholders. Any backend
// with get/set/remove semantics satisfies it.
type Store interface {
	Put(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]domain.Job, error)
	Clear(ctx context.Context) error
}
