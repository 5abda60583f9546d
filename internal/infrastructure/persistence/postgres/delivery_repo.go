package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/antbot/course-bot/internal/domain/course"
	"github.com/antbot/course-bot/internal/domain/delivery"
)

// DeliveryRepository implements delivery.Repository.
type DeliveryRepository struct {
	q Querier
}

const deliveryColumns = `
	id, user_id, course_id, lesson, content_item, path, kind, due_at,
	sent, sent_at, delivered_at, failed, last_error, created_at`

func scanDelivery(row pgx.Row) (delivery.ScheduledDelivery, error) {
	var (
		d    delivery.ScheduledDelivery
		kind string
	)
	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.CourseID,
		&d.Lesson,
		&d.ContentItem,
		&d.Path,
		&kind,
		&d.DueAt,
		&d.Sent,
		&d.SentAt,
		&d.DeliveredAt,
		&d.Failed,
		&d.LastError,
		&d.CreatedAt,
	)
	d.Kind = course.ContentKind(kind)
	return d, err
}

func collectDeliveries(rows pgx.Rows) ([]delivery.ScheduledDelivery, error) {
	defer rows.Close()

	var out []delivery.ScheduledDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ReplaceLesson re-arms a lesson: unsent rows are dropped and the new
// rows inserted. ON CONFLICT skips items that were already sent.
// Callers wanting atomicity run it inside WithinTx.
func (r *DeliveryRepository) ReplaceLesson(ctx context.Context, userID int64, courseID string, lesson int, rows []delivery.ScheduledDelivery) error {
	_, err := r.q.Exec(ctx, `
		DELETE FROM scheduled_deliveries
		WHERE user_id = $1 AND course_id = $2 AND lesson = $3 AND sent = FALSE
	`, userID, courseID, lesson)
	if err != nil {
		return fmt.Errorf("failed to clear lesson deliveries: %w", err)
	}

	if len(rows) == 0 {
		return nil
	}

	insert := `
		INSERT INTO scheduled_deliveries (user_id, course_id, lesson, content_item, path, kind, due_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, course_id, lesson, content_item) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(insert,
			userID,
			courseID,
			lesson,
			row.ContentItem,
			row.Path,
			string(row.Kind),
			row.DueAt,
			row.CreatedAt,
		)
	}

	br := r.q.SendBatch(ctx, batch)
	defer br.Close()

	for range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert delivery: %w", err)
		}
	}
	return nil
}

// ListDue returns unsent rows due at or before now, oldest due first.
func (r *DeliveryRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]delivery.ScheduledDelivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM scheduled_deliveries
		WHERE sent = FALSE AND due_at <= $1
		ORDER BY due_at, id
		LIMIT NULLIF($2::int, 0)
	`

	rows, err := r.q.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due deliveries: %w", err)
	}
	return collectDeliveries(rows)
}

// Claim is a compare-and-swap on the sent flag.
func (r *DeliveryRepository) Claim(ctx context.Context, id int64, now time.Time) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE scheduled_deliveries
		SET sent = TRUE, sent_at = $2
		WHERE id = $1 AND sent = FALSE AND due_at <= $2
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim delivery: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkDelivered records a successful dispatch.
func (r *DeliveryRepository) MarkDelivered(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE scheduled_deliveries
		SET delivered_at = $2, failed = FALSE, last_error = ''
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark delivery delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return delivery.ErrDeliveryNotFound
	}
	return nil
}

// MarkFailed records a terminal failure. The row keeps sent = TRUE.
func (r *DeliveryRepository) MarkFailed(ctx context.Context, id int64, reason string, _ time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE scheduled_deliveries
		SET failed = TRUE, last_error = $2
		WHERE id = $1
	`, id, reason)
	if err != nil {
		return fmt.Errorf("failed to mark delivery failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return delivery.ErrDeliveryNotFound
	}
	return nil
}

// LessonStatus counts the rows of a lesson by outcome.
func (r *DeliveryRepository) LessonStatus(ctx context.Context, userID int64, courseID string, lesson int) (delivery.LessonStatus, error) {
	var st delivery.LessonStatus
	err := r.q.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE NOT sent),
			count(*) FILTER (WHERE sent AND delivered_at IS NULL AND NOT failed),
			count(*) FILTER (WHERE delivered_at IS NOT NULL),
			count(*) FILTER (WHERE failed AND delivered_at IS NULL)
		FROM scheduled_deliveries
		WHERE user_id = $1 AND course_id = $2 AND lesson = $3
	`, userID, courseID, lesson).Scan(&st.Total, &st.Pending, &st.InFlight, &st.Delivered, &st.Failed)
	if err != nil {
		return delivery.LessonStatus{}, fmt.Errorf("failed to count lesson deliveries: %w", err)
	}
	return st, nil
}

// FailStale marks in-flight rows claimed before claimedBefore as failed.
func (r *DeliveryRepository) FailStale(ctx context.Context, claimedBefore time.Time, reason string, _ time.Time) ([]delivery.ScheduledDelivery, error) {
	query := `
		UPDATE scheduled_deliveries
		SET failed = TRUE, last_error = $2
		WHERE sent AND delivered_at IS NULL AND NOT failed AND sent_at < $1
		RETURNING ` + deliveryColumns

	rows, err := r.q.Query(ctx, query, claimedBefore, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to fail stale deliveries: %w", err)
	}
	return collectDeliveries(rows)
}

// ListFailed returns the failed rows of a lesson.
func (r *DeliveryRepository) ListFailed(ctx context.Context, userID int64, courseID string, lesson int) ([]delivery.ScheduledDelivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM scheduled_deliveries
		WHERE user_id = $1 AND course_id = $2 AND lesson = $3 AND failed AND delivered_at IS NULL
		ORDER BY id
	`

	rows, err := r.q.Query(ctx, query, userID, courseID, lesson)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed deliveries: %w", err)
	}
	return collectDeliveries(rows)
}

// NextDue returns the earliest pending due time for the user's course.
func (r *DeliveryRepository) NextDue(ctx context.Context, userID int64, courseID string) (time.Time, error) {
	var next *time.Time
	err := r.q.QueryRow(ctx, `
		SELECT min(due_at) FROM scheduled_deliveries
		WHERE user_id = $1 AND course_id = $2 AND sent = FALSE
	`, userID, courseID).Scan(&next)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get next due delivery: %w", err)
	}
	if next == nil {
		return time.Time{}, delivery.ErrDeliveryNotFound
	}
	return *next, nil
}

// DeleteDeliveredBefore removes delivered rows sent before t.
func (r *DeliveryRepository) DeleteDeliveredBefore(ctx context.Context, t time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, `
		DELETE FROM scheduled_deliveries
		WHERE delivered_at IS NOT NULL AND sent_at < $1
	`, t)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old deliveries: %w", err)
	}
	return tag.RowsAffected(), nil
}
