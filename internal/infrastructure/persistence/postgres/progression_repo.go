package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/antbot/course-bot/internal/domain/progression"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENROLLMENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// EnrollmentRepository implements progression.EnrollmentRepository.
type EnrollmentRepository struct {
	q Querier
}

const enrollmentColumns = `user_id, course_id, tier_id, current_lesson, enrolled_at, completed_at, updated_at`

func scanEnrollment(row pgx.Row) (*progression.Enrollment, error) {
	var e progression.Enrollment
	if err := row.Scan(
		&e.UserID,
		&e.CourseID,
		&e.TierID,
		&e.CurrentLesson,
		&e.EnrolledAt,
		&e.CompletedAt,
		&e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEnrollment returns the enrollment for (user, course).
func (r *EnrollmentRepository) GetEnrollment(ctx context.Context, userID int64, courseID string) (*progression.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE user_id = $1 AND course_id = $2`

	e, err := scanEnrollment(r.q.QueryRow(ctx, query, userID, courseID))
	if err != nil {
		if IsNoRows(err) {
			return nil, progression.ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}
	return e, nil
}

// CreateEnrollment inserts an enrollment. The primary key makes the
// existence check and the insert one atomic step.
func (r *EnrollmentRepository) CreateEnrollment(ctx context.Context, e *progression.Enrollment) error {
	query := `
		INSERT INTO enrollments (user_id, course_id, tier_id, current_lesson, enrolled_at, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.q.Exec(ctx, query,
		e.UserID,
		e.CourseID,
		e.TierID,
		e.CurrentLesson,
		e.EnrolledAt,
		e.CompletedAt,
		e.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return progression.ErrAlreadyEnrolled
		}
		return fmt.Errorf("failed to create enrollment: %w", err)
	}
	return nil
}

// AdvanceLesson moves current_lesson from `from` to from+1.
func (r *EnrollmentRepository) AdvanceLesson(ctx context.Context, userID int64, courseID string, from int, now time.Time) error {
	query := `
		UPDATE enrollments
		SET current_lesson = current_lesson + 1, updated_at = $4
		WHERE user_id = $1 AND course_id = $2 AND current_lesson = $3 AND completed_at IS NULL
	`

	tag, err := r.q.Exec(ctx, query, userID, courseID, from, now)
	if err != nil {
		return fmt.Errorf("failed to advance lesson: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetEnrollment(ctx, userID, courseID); err != nil {
			return err
		}
		return progression.ErrLessonMismatch
	}
	return nil
}

// MarkCompleted sets completed_at once.
func (r *EnrollmentRepository) MarkCompleted(ctx context.Context, userID int64, courseID string, now time.Time) error {
	query := `
		UPDATE enrollments
		SET completed_at = COALESCE(completed_at, $3), updated_at = $3
		WHERE user_id = $1 AND course_id = $2
	`

	tag, err := r.q.Exec(ctx, query, userID, courseID, now)
	if err != nil {
		return fmt.Errorf("failed to complete enrollment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return progression.ErrEnrollmentNotFound
	}
	return nil
}

// ListEnrollments returns the user's enrollments, newest first.
func (r *EnrollmentRepository) ListEnrollments(ctx context.Context, userID int64) ([]*progression.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE user_id = $1 ORDER BY enrolled_at DESC`

	rows, err := r.q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	defer rows.Close()

	var out []*progression.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// USER STATE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// StateRepository implements progression.StateRepository.
type StateRepository struct {
	q Querier
}

func scanState(row pgx.Row) (*progression.UserState, error) {
	var (
		s     progression.UserState
		state string
	)
	if err := row.Scan(&s.UserID, &state, &s.CourseID, &s.Lesson, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.State = progression.State(state)
	return &s, nil
}

// GetState returns the user's live state.
func (r *StateRepository) GetState(ctx context.Context, userID int64) (*progression.UserState, error) {
	query := `SELECT user_id, state, course_id, lesson, updated_at FROM user_states WHERE user_id = $1`

	s, err := scanState(r.q.QueryRow(ctx, query, userID))
	if err != nil {
		if IsNoRows(err) {
			return nil, progression.ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to get user state: %w", err)
	}
	return s, nil
}

// LockState takes a transaction-scoped advisory lock keyed by the user id,
// then reads the row FOR UPDATE. The advisory lock also covers users with
// no row yet, which FOR UPDATE alone cannot.
func (r *StateRepository) LockState(ctx context.Context, userID int64) (*progression.UserState, error) {
	if _, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, userID); err != nil {
		return nil, fmt.Errorf("failed to lock user state: %w", err)
	}

	query := `SELECT user_id, state, course_id, lesson, updated_at FROM user_states WHERE user_id = $1 FOR UPDATE`

	s, err := scanState(r.q.QueryRow(ctx, query, userID))
	if err != nil {
		if IsNoRows(err) {
			return nil, progression.ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to get user state: %w", err)
	}
	return s, nil
}

// UpsertState overwrites the user's state row.
func (r *StateRepository) UpsertState(ctx context.Context, s progression.UserState) error {
	query := `
		INSERT INTO user_states (user_id, state, course_id, lesson, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			state = EXCLUDED.state,
			course_id = EXCLUDED.course_id,
			lesson = EXCLUDED.lesson,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := r.q.Exec(ctx, query, s.UserID, string(s.State), s.CourseID, s.Lesson, s.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert user state: %w", err)
	}
	return nil
}

// ListByState returns users currently in state.
func (r *StateRepository) ListByState(ctx context.Context, state progression.State, limit int) ([]progression.UserState, error) {
	query := `
		SELECT user_id, state, course_id, lesson, updated_at
		FROM user_states
		WHERE state = $1
		ORDER BY user_id
		LIMIT NULLIF($2::int, 0)
	`

	rows, err := r.q.Query(ctx, query, string(state), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list user states: %w", err)
	}
	defer rows.Close()

	var out []progression.UserState
	for rows.Next() {
		s, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user state: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
