// Package repository aggregates the persistence ports behind one store
// with transactional scope.
package repository

import (
	"context"

	"github.com/antbot/course-bot/internal/domain/delivery"
	"github.com/antbot/course-bot/internal/domain/homework"
	"github.com/antbot/course-bot/internal/domain/progression"
)

// Repositories exposes every repository bound to one connection or transaction.
type Repositories interface {
	Enrollments() progression.EnrollmentRepository
	States() progression.StateRepository
	Homework() homework.Repository
	Deliveries() delivery.Repository
}

// Store is the persistence port. Repositories outside WithinTx run each
// call as its own atomic statement.
type Store interface {
	Repositories

	// WithinTx runs fn in a transaction. Any error from fn rolls it back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error
}
