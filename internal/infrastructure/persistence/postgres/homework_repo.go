package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/antbot/course-bot/internal/domain/homework"
)

// HomeworkRepository implements homework.Repository.
type HomeworkRepository struct {
	q Querier
}

const submissionColumns = `
	id, user_id, course_id, lesson, status, content_ref, content_kind,
	submitted_at, reviewer_id, review_comment, reviewed_at, next_lesson_due_at`

func scanSubmission(row pgx.Row) (*homework.Submission, error) {
	var (
		s          homework.Submission
		status     string
		kind       string
		reviewerID *int64
	)
	if err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.CourseID,
		&s.Lesson,
		&status,
		&s.Content.FileID,
		&kind,
		&s.SubmittedAt,
		&reviewerID,
		&s.ReviewComment,
		&s.ReviewedAt,
		&s.NextLessonDueAt,
	); err != nil {
		return nil, err
	}
	s.Status = homework.Status(status)
	s.Content.Kind = homework.FileKind(kind)
	if reviewerID != nil {
		s.ReviewerID = *reviewerID
	}
	return &s, nil
}

// InsertSubmission stores a pending submission. The partial unique index
// uq_homework_pending rejects a second pending row for the same lesson.
func (r *HomeworkRepository) InsertSubmission(ctx context.Context, s *homework.Submission) error {
	query := `
		INSERT INTO homework_submissions (id, user_id, course_id, lesson, status, content_ref, content_kind, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.q.Exec(ctx, query,
		s.ID,
		s.UserID,
		s.CourseID,
		s.Lesson,
		string(s.Status),
		s.Content.FileID,
		string(s.Content.Kind),
		s.SubmittedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return homework.ErrDuplicateSubmission
		}
		return fmt.Errorf("failed to insert submission: %w", err)
	}
	return nil
}

// GetSubmission returns a submission by id.
func (r *HomeworkRepository) GetSubmission(ctx context.Context, id uuid.UUID) (*homework.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM homework_submissions WHERE id = $1`

	s, err := scanSubmission(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, homework.ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return s, nil
}

// UpdateReview writes the review fields while the row is still pending.
func (r *HomeworkRepository) UpdateReview(ctx context.Context, s *homework.Submission) error {
	query := `
		UPDATE homework_submissions
		SET status = $2, reviewer_id = $3, review_comment = $4, reviewed_at = $5, next_lesson_due_at = $6
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := r.q.Exec(ctx, query,
		s.ID,
		string(s.Status),
		s.ReviewerID,
		s.ReviewComment,
		s.ReviewedAt,
		s.NextLessonDueAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetSubmission(ctx, s.ID); err != nil {
			return err
		}
		return homework.ErrAlreadyReviewed
	}
	return nil
}

// ListPending returns pending submissions, oldest first.
func (r *HomeworkRepository) ListPending(ctx context.Context, limit int) ([]*homework.Submission, error) {
	query := `
		SELECT ` + submissionColumns + `
		FROM homework_submissions
		WHERE status = 'pending'
		ORDER BY submitted_at
		LIMIT NULLIF($1::int, 0)
	`

	rows, err := r.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending submissions: %w", err)
	}
	defer rows.Close()

	var out []*homework.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountPending counts a user's pending submissions.
func (r *HomeworkRepository) CountPending(ctx context.Context, userID int64) (int, error) {
	var n int
	err := r.q.QueryRow(ctx,
		`SELECT count(*) FROM homework_submissions WHERE user_id = $1 AND status = 'pending'`,
		userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending submissions: %w", err)
	}
	return n, nil
}
