// Package lesson arms lessons and drives their delivery: it turns content
// items into scheduled rows, claims due rows exactly once and moves the
// user on when a lesson has been fully delivered.
package lesson

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/antbot/course-bot/internal/domain/course"
	"github.com/antbot/course-bot/internal/domain/delivery"
	"github.com/antbot/course-bot/internal/domain/notification"
	"github.com/antbot/course-bot/internal/domain/progression"
	"github.com/antbot/course-bot/internal/domain/repository"
	"github.com/antbot/course-bot/internal/domain/shared"
	"github.com/antbot/course-bot/pkg/logger"
	"github.com/antbot/course-bot/pkg/timeutil"
)

// ErrNothingToRedeliver is returned when the user's current lesson has no
// failed rows.
var ErrNothingToRedeliver = shared.NewDomainError("lesson", "Redeliver", shared.ErrNotFound, "no failed deliveries for the current lesson")

// ══════════════════════════════════════════════════════════════════════════════
// SERVICE
// ══════════════════════════════════════════════════════════════════════════════

// Service is the lesson delivery scheduler.
type Service struct {
	store     repository.Store
	content   course.ContentRepository
	sender    notification.Sender
	publisher shared.EventPublisher
	clock     timeutil.Clock
	policy    course.DelayPolicy
	logger    *slog.Logger

	batchSize   int
	concurrency int
	staleAfter  time.Duration
}

// Config contains configuration for the Service.
type Config struct {
	Policy course.DelayPolicy

	// BatchSize caps the rows claimed per DeliverDue call. Zero means no cap.
	BatchSize int

	// Concurrency is the number of users served in parallel (default 4).
	// Rows of one user are always sent in due order.
	Concurrency int

	// StaleAfter is how long a claimed row may go without a recorded
	// outcome before Reconcile marks it failed (default 5m). It must exceed
	// the dispatcher's full retry budget.
	StaleAfter time.Duration
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		Policy:      course.DefaultDelayPolicy(),
		BatchSize:   100,
		Concurrency: 4,
		StaleAfter:  5 * time.Minute,
	}
}

// NewService creates a lesson Service.
func NewService(
	store repository.Store,
	content course.ContentRepository,
	sender notification.Sender,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *slog.Logger,
	config Config,
) *Service {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = 5 * time.Minute
	}

	return &Service{
		store:       store,
		content:     content,
		sender:      sender,
		publisher:   publisher,
		clock:       clock,
		policy:      config.Policy,
		logger:      log.With(logger.Component("lesson")),
		batchSize:   config.BatchSize,
		concurrency: config.Concurrency,
		staleAfter:  config.StaleAfter,
	}
}

// Policy returns the delay policy in use.
func (s *Service) Policy() course.DelayPolicy {
	return s.policy
}

// ══════════════════════════════════════════════════════════════════════════════
// ARM
// ══════════════════════════════════════════════════════════════════════════════

// ArmLesson persists one unsent row per item, due at base plus the item's
// policy delay. Re-arming the same lesson replaces its unsent rows.
// repo is usually bound to the caller's transaction.
func (s *Service) ArmLesson(ctx context.Context, repo delivery.Repository, userID int64, courseID string, lesson int, items []course.ContentItem, base time.Time) error {
	if len(items) == 0 {
		return course.ErrLessonNotFound
	}

	rows := delivery.Plan(userID, courseID, lesson, items, base, s.policy, s.clock.Now())
	if err := repo.ReplaceLesson(ctx, userID, courseID, lesson, rows); err != nil {
		return fmt.Errorf("arm lesson %d: %w", lesson, err)
	}

	s.logger.Info("lesson armed",
		logger.UserID(userID),
		logger.CourseID(courseID),
		logger.Lesson(lesson),
		"items", len(rows),
		"base", base,
	)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DELIVER
// ══════════════════════════════════════════════════════════════════════════════

// DeliveryReport summarizes one DeliverDue pass.
type DeliveryReport struct {
	Due              int `json:"due"`
	Claimed          int `json:"claimed"`
	Delivered        int `json:"delivered"`
	Failed           int `json:"failed"`
	Skipped          int `json:"skipped"`
	LessonsCompleted int `json:"lessons_completed"`
}

func (r *DeliveryReport) add(o DeliveryReport) {
	r.Claimed += o.Claimed
	r.Delivered += o.Delivered
	r.Failed += o.Failed
	r.Skipped += o.Skipped
	r.LessonsCompleted += o.LessonsCompleted
}

// DeliverDue claims every due row and dispatches it. A row that loses the
// claim is skipped. A row whose dispatch fails stays claimed and is marked
// failed. Only a store error on listing fails the whole pass.
func (s *Service) DeliverDue(ctx context.Context) (DeliveryReport, error) {
	now := s.clock.Now()

	rows, err := s.store.Deliveries().ListDue(ctx, now, s.batchSize)
	if err != nil {
		return DeliveryReport{}, fmt.Errorf("list due deliveries: %w", err)
	}

	report := DeliveryReport{Due: len(rows)}
	if len(rows) == 0 {
		return report, nil
	}

	// Group by user, keeping due order inside each group.
	var order []int64
	byUser := make(map[int64][]delivery.ScheduledDelivery)
	for _, row := range rows {
		if _, ok := byUser[row.UserID]; !ok {
			order = append(order, row.UserID)
		}
		byUser[row.UserID] = append(byUser[row.UserID], row)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, userID := range order {
		userRows := byUser[userID]
		g.Go(func() error {
			part := s.deliverRows(gctx, userRows, now)
			mu.Lock()
			report.add(part)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if report.Claimed > 0 {
		s.logger.Info("delivery pass finished",
			"due", report.Due,
			"claimed", report.Claimed,
			"delivered", report.Delivered,
			"failed", report.Failed,
			"skipped", report.Skipped,
			"lessons_completed", report.LessonsCompleted,
		)
	}
	return report, ctx.Err()
}

func (s *Service) deliverRows(ctx context.Context, rows []delivery.ScheduledDelivery, now time.Time) DeliveryReport {
	var report DeliveryReport
	touched := make(map[lessonKey]bool)

	// Outcomes of claimed rows are recorded even after shutdown starts.
	book := context.WithoutCancel(ctx)

	for _, row := range rows {
		if ctx.Err() != nil {
			break
		}

		claimed, err := s.store.Deliveries().Claim(ctx, row.ID, now)
		if err != nil {
			s.logger.Error("claim failed", "delivery_id", row.ID, logger.Err(err))
			continue
		}
		if !claimed {
			report.Skipped++
			continue
		}
		report.Claimed++

		if err := s.dispatch(ctx, row); err != nil {
			report.Failed++
			s.recordFailure(book, row, err)
			continue
		}

		if err := s.store.Deliveries().MarkDelivered(book, row.ID, s.clock.Now()); err != nil {
			// Left in flight; Reconcile fails it once it is stale.
			s.logger.Error("mark delivered failed", "delivery_id", row.ID, logger.Err(err))
			continue
		}
		report.Delivered++
		touched[lessonKey{row.UserID, row.CourseID, row.Lesson}] = true
	}

	for key := range touched {
		done, err := s.completeIfDelivered(book, key.userID, key.courseID, key.lesson)
		if err != nil {
			s.logger.Error("lesson completion check failed",
				logger.UserID(key.userID),
				logger.CourseID(key.courseID),
				logger.Lesson(key.lesson),
				logger.Err(err),
			)
			continue
		}
		if done {
			report.LessonsCompleted++
		}
	}
	return report
}

type lessonKey struct {
	userID   int64
	courseID string
	lesson   int
}

// dispatch sends one content item. A missing file is reported as
// delivery.ErrContentMissing.
func (s *Service) dispatch(ctx context.Context, row delivery.ScheduledDelivery) error {
	msg, err := s.message(ctx, row)
	if err != nil {
		return err
	}

	if err := s.sender.Send(ctx, row.UserID, msg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return missing(row, err)
		}
		return err
	}
	return nil
}

func missing(row delivery.ScheduledDelivery, err error) error {
	return shared.WrapError("delivery", "Dispatch", delivery.ErrContentMissing, "content item is missing: "+row.Path, err)
}

func (s *Service) message(ctx context.Context, row delivery.ScheduledDelivery) (notification.Message, error) {
	item := row.Item()

	switch item.Kind {
	case course.KindText:
		body, err := s.content.ReadText(ctx, item)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return notification.Message{}, missing(row, err)
			}
			return notification.Message{}, err
		}
		if body == "" {
			return notification.Message{}, missing(row, errors.New("empty text item"))
		}
		return notification.Message{Kind: notification.KindText, Text: body}, nil

	case course.KindPhoto, course.KindVideo, course.KindDocument:
		return notification.Message{
			Kind:     notification.MessageKind(item.Kind),
			FilePath: item.Path,
			Caption:  fmt.Sprintf("Урок %d", row.Lesson),
		}, nil
	}

	return notification.Message{}, fmt.Errorf("unknown content kind %q", item.Kind)
}

func (s *Service) recordFailure(ctx context.Context, row delivery.ScheduledDelivery, cause error) {
	at := s.clock.Now()

	s.logger.Error("content dispatch failed",
		"delivery_id", row.ID,
		logger.UserID(row.UserID),
		logger.CourseID(row.CourseID),
		logger.Lesson(row.Lesson),
		"item", row.ContentItem,
		"content_missing", errors.Is(cause, delivery.ErrContentMissing),
		logger.Err(cause),
	)

	if err := s.store.Deliveries().MarkFailed(ctx, row.ID, cause.Error(), at); err != nil {
		s.logger.Error("mark failed failed", "delivery_id", row.ID, logger.Err(err))
	}
	_ = s.publisher.Publish(delivery.NewFailedEvent(row, cause.Error(), at))
}

// completeIfDelivered moves the user to WaitingHomework once every row of
// the lesson has been delivered. It reports whether the transition happened.
func (s *Service) completeIfDelivered(ctx context.Context, userID int64, courseID string, lesson int) (bool, error) {
	status, err := s.store.Deliveries().LessonStatus(ctx, userID, courseID, lesson)
	if err != nil {
		return false, err
	}
	if !status.Complete() {
		return false, nil
	}

	now := s.clock.Now()
	var changed bool
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		current, err := tx.States().LockState(ctx, userID)
		if err != nil && !errors.Is(err, progression.ErrStateNotFound) {
			return err
		}

		next, ok, err := progression.Apply(current, progression.LessonDelivered(courseID, lesson), now)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		next.UserID = userID
		changed = true
		return tx.States().UpsertState(ctx, next)
	})
	if err != nil {
		if errors.Is(err, progression.ErrInvalidTransition) {
			// The user moved on (for example a new course); nothing to do.
			s.logger.Warn("lesson delivered in unexpected state",
				logger.UserID(userID),
				logger.CourseID(courseID),
				logger.Lesson(lesson),
				logger.Err(err),
			)
			return false, nil
		}
		return false, err
	}

	if changed {
		s.logger.Info("lesson delivered",
			logger.UserID(userID),
			logger.CourseID(courseID),
			logger.Lesson(lesson),
		)
		_ = s.publisher.Publish(progression.NewLessonDeliveredEvent(userID, courseID, lesson, now))
	}
	return changed, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE
// ══════════════════════════════════════════════════════════════════════════════

// ReconcileReport summarizes one Reconcile pass.
type ReconcileReport struct {
	Stale     int `json:"stale"`
	Checked   int `json:"checked"`
	Armed     int `json:"armed"`
	Completed int `json:"completed"`
	Errors    int `json:"errors"`
}

// Reconcile first fails rows claimed more than StaleAfter ago without a
// recorded outcome, so /redeliver can resolve them. It then walks users
// waiting for lesson delivery. A lesson without rows is armed again
// (content may have appeared since); a fully delivered lesson is completed.
// This recovers from crashes between dispatch and the state update.
func (s *Service) Reconcile(ctx context.Context) (ReconcileReport, error) {
	stale, err := s.failStale(ctx)
	if err != nil {
		return ReconcileReport{}, err
	}

	states, err := s.store.States().ListByState(ctx, progression.StateWaitingLessonDelivery, s.batchSize)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("list waiting users: %w", err)
	}

	report := ReconcileReport{Stale: stale, Checked: len(states)}
	for _, st := range states {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		armed, completed, err := s.reconcileOne(ctx, st)
		if err != nil {
			report.Errors++
			s.logger.Error("reconcile failed",
				logger.UserID(st.UserID),
				logger.CourseID(st.CourseID),
				logger.Lesson(st.Lesson),
				logger.Err(err),
			)
			continue
		}
		if armed {
			report.Armed++
		}
		if completed {
			report.Completed++
		}
	}

	if report.Stale > 0 || report.Armed > 0 || report.Completed > 0 || report.Errors > 0 {
		s.logger.Info("reconcile pass finished",
			"stale", report.Stale,
			"checked", report.Checked,
			"armed", report.Armed,
			"completed", report.Completed,
			"errors", report.Errors,
		)
	}
	return report, nil
}

func (s *Service) failStale(ctx context.Context) (int, error) {
	now := s.clock.Now()

	rows, err := s.store.Deliveries().FailStale(ctx, now.Add(-s.staleAfter), delivery.ReasonOutcomeUnknown, now)
	if err != nil {
		return 0, fmt.Errorf("fail stale deliveries: %w", err)
	}

	for _, row := range rows {
		s.logger.Warn("claimed delivery has no outcome",
			"delivery_id", row.ID,
			logger.UserID(row.UserID),
			logger.CourseID(row.CourseID),
			logger.Lesson(row.Lesson),
			"item", row.ContentItem,
			"sent_at", row.SentAt,
		)
		_ = s.publisher.Publish(delivery.NewFailedEvent(row, delivery.ReasonOutcomeUnknown, now))
	}
	return len(rows), nil
}

func (s *Service) reconcileOne(ctx context.Context, st progression.UserState) (armed, completed bool, err error) {
	status, err := s.store.Deliveries().LessonStatus(ctx, st.UserID, st.CourseID, st.Lesson)
	if err != nil {
		return false, false, err
	}

	if status.Total == 0 {
		items, err := s.content.ListLessonContent(ctx, st.CourseID, st.Lesson)
		if errors.Is(err, course.ErrLessonNotFound) {
			return false, false, nil
		}
		if err != nil {
			return false, false, err
		}
		if err := s.ArmLesson(ctx, s.store.Deliveries(), st.UserID, st.CourseID, st.Lesson, items, s.clock.Now()); err != nil {
			return false, false, err
		}
		return true, false, nil
	}

	if !status.Complete() {
		return false, false, nil
	}
	completed, err = s.completeIfDelivered(ctx, st.UserID, st.CourseID, st.Lesson)
	return false, completed, err
}

// ══════════════════════════════════════════════════════════════════════════════
// CLEANUP & REDELIVERY
// ══════════════════════════════════════════════════════════════════════════════

// Cleanup deletes delivered rows sent more than retention ago. Failed rows
// are kept for the operator.
func (s *Service) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.clock.Now().Add(-retention)

	n, err := s.store.Deliveries().DeleteDeliveredBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete delivered rows: %w", err)
	}
	if n > 0 {
		s.logger.Info("old deliveries removed", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// RedeliveryReport summarizes a Redeliver call.
type RedeliveryReport struct {
	CourseID       string
	Lesson         int
	Attempted      int
	Delivered      int
	LessonComplete bool
}

// Redeliver re-sends the failed rows of the user's current lesson,
// including rows whose outcome was unknown. Rows stay claimed; a success
// clears the failure mark.
func (s *Service) Redeliver(ctx context.Context, userID int64) (RedeliveryReport, error) {
	st, err := s.store.States().GetState(ctx, userID)
	if err != nil {
		return RedeliveryReport{}, err
	}

	report := RedeliveryReport{CourseID: st.CourseID, Lesson: st.Lesson}

	failed, err := s.store.Deliveries().ListFailed(ctx, userID, st.CourseID, st.Lesson)
	if err != nil {
		return report, err
	}
	if len(failed) == 0 {
		return report, ErrNothingToRedeliver
	}

	book := context.WithoutCancel(ctx)

	var firstErr error
	for _, row := range failed {
		report.Attempted++
		if err := s.dispatch(ctx, row); err != nil {
			s.recordFailure(book, row, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := s.store.Deliveries().MarkDelivered(book, row.ID, s.clock.Now()); err != nil {
			return report, err
		}
		report.Delivered++
	}

	report.LessonComplete, err = s.completeIfDelivered(book, userID, st.CourseID, st.Lesson)
	if err != nil {
		return report, err
	}
	return report, firstErr
}

// NextDue returns the earliest pending delivery of the user's course, or
// nil when nothing is scheduled.
func (s *Service) NextDue(ctx context.Context, userID int64, courseID string) (*time.Time, error) {
	t, err := s.store.Deliveries().NextDue(ctx, userID, courseID)
	if errors.Is(err, delivery.ErrDeliveryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
