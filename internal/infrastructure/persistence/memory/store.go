// Package memory implements the persistence port in process memory.
// It backs tests and local runs without PostgreSQL, and enforces the same
// uniqueness and conditional-update rules as the SQL schema.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antbot/course-bot/internal/domain/delivery"
	"github.com/antbot/course-bot/internal/domain/homework"
	"github.com/antbot/course-bot/internal/domain/progression"
	"github.com/antbot/course-bot/internal/domain/repository"
)

type enrollmentKey struct {
	userID   int64
	courseID string
}

type dataset struct {
	enrollments map[enrollmentKey]progression.Enrollment
	states      map[int64]progression.UserState
	submissions map[uuid.UUID]homework.Submission
	deliveries  map[int64]delivery.ScheduledDelivery
	nextID      int64
}

func newDataset() *dataset {
	return &dataset{
		enrollments: make(map[enrollmentKey]progression.Enrollment),
		states:      make(map[int64]progression.UserState),
		submissions: make(map[uuid.UUID]homework.Submission),
		deliveries:  make(map[int64]delivery.ScheduledDelivery),
	}
}

func (d *dataset) clone() *dataset {
	c := &dataset{
		enrollments: make(map[enrollmentKey]progression.Enrollment, len(d.enrollments)),
		states:      make(map[int64]progression.UserState, len(d.states)),
		submissions: make(map[uuid.UUID]homework.Submission, len(d.submissions)),
		deliveries:  make(map[int64]delivery.ScheduledDelivery, len(d.deliveries)),
		nextID:      d.nextID,
	}
	for k, v := range d.enrollments {
		c.enrollments[k] = v
	}
	for k, v := range d.states {
		c.states[k] = v
	}
	for k, v := range d.submissions {
		c.submissions[k] = v
	}
	for k, v := range d.deliveries {
		c.deliveries[k] = v
	}
	return c
}

// Store is safe for concurrent use. Transactions are serialized.
type Store struct {
	mu   sync.Mutex
	data *dataset
}

var _ repository.Store = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{data: newDataset()}
}

// view binds the repositories to a dataset. Inside a transaction the store
// lock is already held and data is the transaction's private copy.
type view struct {
	store *Store
	tx    *dataset
}

func (v view) with(fn func(d *dataset) error) error {
	if v.tx != nil {
		return fn(v.tx)
	}
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return fn(v.store.data)
}

func (s *Store) root() view { return view{store: s} }

func (s *Store) Enrollments() progression.EnrollmentRepository { return enrollmentRepo{s.root()} }
func (s *Store) States() progression.StateRepository           { return stateRepo{s.root()} }
func (s *Store) Homework() homework.Repository                 { return homeworkRepo{s.root()} }
func (s *Store) Deliveries() delivery.Repository               { return deliveryRepo{s.root()} }

// WithinTx runs fn against a private copy that replaces the live data
// only when fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.data.clone()
	if err := fn(ctx, txRepos{view{store: s, tx: work}}); err != nil {
		return err
	}
	s.data = work
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

type txRepos struct{ v view }

func (t txRepos) Enrollments() progression.EnrollmentRepository { return enrollmentRepo{t.v} }
func (t txRepos) States() progression.StateRepository           { return stateRepo{t.v} }
func (t txRepos) Homework() homework.Repository                 { return homeworkRepo{t.v} }
func (t txRepos) Deliveries() delivery.Repository               { return deliveryRepo{t.v} }

// ══════════════════════════════════════════════════════════════════════════════
// ENROLLMENTS
// ══════════════════════════════════════════════════════════════════════════════

type enrollmentRepo struct{ v view }

func (r enrollmentRepo) GetEnrollment(_ context.Context, userID int64, courseID string) (*progression.Enrollment, error) {
	var out *progression.Enrollment
	err := r.v.with(func(d *dataset) error {
		e, ok := d.enrollments[enrollmentKey{userID, courseID}]
		if !ok {
			return progression.ErrEnrollmentNotFound
		}
		out = &e
		return nil
	})
	return out, err
}

func (r enrollmentRepo) CreateEnrollment(_ context.Context, e *progression.Enrollment) error {
	return r.v.with(func(d *dataset) error {
		key := enrollmentKey{e.UserID, e.CourseID}
		if _, ok := d.enrollments[key]; ok {
			return progression.ErrAlreadyEnrolled
		}
		d.enrollments[key] = *e
		return nil
	})
}

func (r enrollmentRepo) AdvanceLesson(_ context.Context, userID int64, courseID string, from int, now time.Time) error {
	return r.v.with(func(d *dataset) error {
		key := enrollmentKey{userID, courseID}
		e, ok := d.enrollments[key]
		if !ok {
			return progression.ErrEnrollmentNotFound
		}
		if err := e.Advance(from, now); err != nil {
			return err
		}
		d.enrollments[key] = e
		return nil
	})
}

func (r enrollmentRepo) MarkCompleted(_ context.Context, userID int64, courseID string, now time.Time) error {
	return r.v.with(func(d *dataset) error {
		key := enrollmentKey{userID, courseID}
		e, ok := d.enrollments[key]
		if !ok {
			return progression.ErrEnrollmentNotFound
		}
		e.Complete(now)
		d.enrollments[key] = e
		return nil
	})
}

func (r enrollmentRepo) ListEnrollments(_ context.Context, userID int64) ([]*progression.Enrollment, error) {
	var out []*progression.Enrollment
	err := r.v.with(func(d *dataset) error {
		for k, e := range d.enrollments {
			if k.userID == userID {
				e := e
				out = append(out, &e)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].EnrolledAt.After(out[j].EnrolledAt) })
	return out, err
}

// ══════════════════════════════════════════════════════════════════════════════
// USER STATES
// ══════════════════════════════════════════════════════════════════════════════

type stateRepo struct{ v view }

func (r stateRepo) GetState(_ context.Context, userID int64) (*progression.UserState, error) {
	var out *progression.UserState
	err := r.v.with(func(d *dataset) error {
		s, ok := d.states[userID]
		if !ok {
			return progression.ErrStateNotFound
		}
		out = &s
		return nil
	})
	return out, err
}

// LockState reads the state; transactions are already serialized.
func (r stateRepo) LockState(ctx context.Context, userID int64) (*progression.UserState, error) {
	return r.GetState(ctx, userID)
}

func (r stateRepo) UpsertState(_ context.Context, s progression.UserState) error {
	return r.v.with(func(d *dataset) error {
		d.states[s.UserID] = s
		return nil
	})
}

func (r stateRepo) ListByState(_ context.Context, state progression.State, limit int) ([]progression.UserState, error) {
	var out []progression.UserState
	err := r.v.with(func(d *dataset) error {
		for _, s := range d.states {
			if s.State == state {
				out = append(out, s)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

// ══════════════════════════════════════════════════════════════════════════════
// HOMEWORK
// ══════════════════════════════════════════════════════════════════════════════

type homeworkRepo struct{ v view }

func (r homeworkRepo) InsertSubmission(_ context.Context, s *homework.Submission) error {
	return r.v.with(func(d *dataset) error {
		for _, other := range d.submissions {
			if other.Status == homework.StatusPending &&
				other.UserID == s.UserID && other.CourseID == s.CourseID && other.Lesson == s.Lesson {
				return homework.ErrDuplicateSubmission
			}
		}
		d.submissions[s.ID] = *s
		return nil
	})
}

func (r homeworkRepo) GetSubmission(_ context.Context, id uuid.UUID) (*homework.Submission, error) {
	var out *homework.Submission
	err := r.v.with(func(d *dataset) error {
		s, ok := d.submissions[id]
		if !ok {
			return homework.ErrSubmissionNotFound
		}
		out = &s
		return nil
	})
	return out, err
}

func (r homeworkRepo) UpdateReview(_ context.Context, s *homework.Submission) error {
	return r.v.with(func(d *dataset) error {
		stored, ok := d.submissions[s.ID]
		if !ok {
			return homework.ErrSubmissionNotFound
		}
		if stored.Status != homework.StatusPending {
			return homework.ErrAlreadyReviewed
		}
		d.submissions[s.ID] = *s
		return nil
	})
}

func (r homeworkRepo) ListPending(_ context.Context, limit int) ([]*homework.Submission, error) {
	var out []*homework.Submission
	err := r.v.with(func(d *dataset) error {
		for _, s := range d.submissions {
			if s.Status == homework.StatusPending {
				s := s
				out = append(out, &s)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r homeworkRepo) CountPending(_ context.Context, userID int64) (int, error) {
	var n int
	err := r.v.with(func(d *dataset) error {
		for _, s := range d.submissions {
			if s.UserID == userID && s.Status == homework.StatusPending {
				n++
			}
		}
		return nil
	})
	return n, err
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULED DELIVERIES
// ══════════════════════════════════════════════════════════════════════════════

type deliveryRepo struct{ v view }

func sameLesson(row delivery.ScheduledDelivery, userID int64, courseID string, lesson int) bool {
	return row.UserID == userID && row.CourseID == courseID && row.Lesson == lesson
}

func (r deliveryRepo) ReplaceLesson(_ context.Context, userID int64, courseID string, lesson int, rows []delivery.ScheduledDelivery) error {
	return r.v.with(func(d *dataset) error {
		kept := make(map[string]bool)
		for id, row := range d.deliveries {
			if !sameLesson(row, userID, courseID, lesson) {
				continue
			}
			if row.Sent {
				kept[row.ContentItem] = true
				continue
			}
			delete(d.deliveries, id)
		}

		for _, row := range rows {
			if kept[row.ContentItem] {
				continue
			}
			d.nextID++
			row.ID = d.nextID
			row.Sent = false
			d.deliveries[row.ID] = row
			kept[row.ContentItem] = true
		}
		return nil
	})
}

func (r deliveryRepo) ListDue(_ context.Context, now time.Time, limit int) ([]delivery.ScheduledDelivery, error) {
	var out []delivery.ScheduledDelivery
	err := r.v.with(func(d *dataset) error {
		for _, row := range d.deliveries {
			if row.IsDue(now) {
				out = append(out, row)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].DueAt.Before(out[j].DueAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r deliveryRepo) Claim(_ context.Context, id int64, now time.Time) (bool, error) {
	var claimed bool
	err := r.v.with(func(d *dataset) error {
		row, ok := d.deliveries[id]
		if !ok || !row.IsDue(now) {
			return nil
		}
		row.Sent = true
		row.SentAt = &now
		d.deliveries[id] = row
		claimed = true
		return nil
	})
	return claimed, err
}

func (r deliveryRepo) MarkDelivered(_ context.Context, id int64, at time.Time) error {
	return r.v.with(func(d *dataset) error {
		row, ok := d.deliveries[id]
		if !ok {
			return delivery.ErrDeliveryNotFound
		}
		row.DeliveredAt = &at
		row.Failed = false
		row.LastError = ""
		d.deliveries[id] = row
		return nil
	})
}

func (r deliveryRepo) MarkFailed(_ context.Context, id int64, reason string, _ time.Time) error {
	return r.v.with(func(d *dataset) error {
		row, ok := d.deliveries[id]
		if !ok {
			return delivery.ErrDeliveryNotFound
		}
		row.Failed = true
		row.LastError = reason
		d.deliveries[id] = row
		return nil
	})
}

func (r deliveryRepo) LessonStatus(_ context.Context, userID int64, courseID string, lesson int) (delivery.LessonStatus, error) {
	var st delivery.LessonStatus
	err := r.v.with(func(d *dataset) error {
		for _, row := range d.deliveries {
			if !sameLesson(row, userID, courseID, lesson) {
				continue
			}
			st.Total++
			switch {
			case !row.Sent:
				st.Pending++
			case row.DeliveredAt != nil:
				st.Delivered++
			case row.Failed:
				st.Failed++
			default:
				st.InFlight++
			}
		}
		return nil
	})
	return st, err
}

func (r deliveryRepo) FailStale(_ context.Context, claimedBefore time.Time, reason string, _ time.Time) ([]delivery.ScheduledDelivery, error) {
	var out []delivery.ScheduledDelivery
	err := r.v.with(func(d *dataset) error {
		for id, row := range d.deliveries {
			if !row.Sent || row.DeliveredAt != nil || row.Failed {
				continue
			}
			if row.SentAt == nil || !row.SentAt.Before(claimedBefore) {
				continue
			}
			row.Failed = true
			row.LastError = reason
			d.deliveries[id] = row
			out = append(out, row)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r deliveryRepo) ListFailed(_ context.Context, userID int64, courseID string, lesson int) ([]delivery.ScheduledDelivery, error) {
	var out []delivery.ScheduledDelivery
	err := r.v.with(func(d *dataset) error {
		for _, row := range d.deliveries {
			if sameLesson(row, userID, courseID, lesson) && row.Failed && row.DeliveredAt == nil {
				out = append(out, row)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r deliveryRepo) NextDue(_ context.Context, userID int64, courseID string) (time.Time, error) {
	var next time.Time
	err := r.v.with(func(d *dataset) error {
		for _, row := range d.deliveries {
			if row.UserID != userID || row.CourseID != courseID || row.Sent {
				continue
			}
			if next.IsZero() || row.DueAt.Before(next) {
				next = row.DueAt
			}
		}
		if next.IsZero() {
			return delivery.ErrDeliveryNotFound
		}
		return nil
	})
	return next, err
}

func (r deliveryRepo) DeleteDeliveredBefore(_ context.Context, t time.Time) (int64, error) {
	var n int64
	err := r.v.with(func(d *dataset) error {
		for id, row := range d.deliveries {
			if row.DeliveredAt != nil && row.SentAt != nil && row.SentAt.Before(t) {
				delete(d.deliveries, id)
				n++
			}
		}
		return nil
	})
	return n, err
}
