package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/antbot/course-bot/internal/domain/delivery"
	"github.com/antbot/course-bot/internal/domain/homework"
	"github.com/antbot/course-bot/internal/domain/progression"
	"github.com/antbot/course-bot/internal/domain/repository"
)

// Store implements repository.Store. Outside WithinTx every repository
// call runs on the pool as a single statement.
type Store struct {
	conn *Connection
}

var _ repository.Store = (*Store)(nil)

// NewStore creates a Store on conn.
func NewStore(conn *Connection) *Store {
	return &Store{conn: conn}
}

func (s *Store) Enrollments() progression.EnrollmentRepository {
	return &EnrollmentRepository{q: s.conn.Pool()}
}

func (s *Store) States() progression.StateRepository {
	return &StateRepository{q: s.conn.Pool()}
}

func (s *Store) Homework() homework.Repository {
	return &HomeworkRepository{q: s.conn.Pool()}
}

func (s *Store) Deliveries() delivery.Repository {
	return &DeliveryRepository{q: s.conn.Pool()}
}

// WithinTx runs fn with repositories bound to one transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Repositories) error) error {
	return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, txRepositories{q: tx})
	})
}

// Ping checks the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

type txRepositories struct {
	q Querier
}

func (t txRepositories) Enrollments() progression.EnrollmentRepository {
	return &EnrollmentRepository{q: t.q}
}

func (t txRepositories) States() progression.StateRepository {
	return &StateRepository{q: t.q}
}

func (t txRepositories) Homework() homework.Repository {
	return &HomeworkRepository{q: t.q}
}

func (t txRepositories) Deliveries() delivery.Repository {
	return &DeliveryRepository{q: t.q}
}
