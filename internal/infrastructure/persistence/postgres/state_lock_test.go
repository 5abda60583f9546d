package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antbot/course-bot/internal/domain/progression"
	"github.com/antbot/course-bot/internal/domain/repository"
)

// openTestStore connects to TEST_DATABASE_URL and migrates it, or skips.
func openTestStore(t *testing.T) (*Store, *Connection) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	ctx := context.Background()
	conn, err := NewConnection(ctx, DefaultConfig(url))
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	require.NoError(t, Migrate(ctx, conn, "up", slog.New(slog.NewTextHandler(io.Discard, nil))))
	return NewStore(conn), conn
}

func TestLockState_SerializesWritersWithoutRow(t *testing.T) {
	store, conn := openTestStore(t)
	ctx := context.Background()
	userID := time.Now().UnixNano()
	t.Cleanup(func() {
		_, _ = conn.Pool().Exec(context.Background(), `DELETE FROM user_states WHERE user_id = $1`, userID)
	})

	locked := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
			if _, err := tx.States().LockState(ctx, userID); !errors.Is(err, progression.ErrStateNotFound) {
				return err
			}
			close(locked)
			<-release
			return tx.States().UpsertState(ctx, progression.UserState{
				UserID:    userID,
				State:     progression.StateWaitingLessonDelivery,
				CourseID:  "intro",
				Lesson:    1,
				UpdatedAt: time.Now(),
			})
		})
	}()
	<-locked

	seen := make(chan *progression.UserState, 1)
	secondDone := make(chan error, 1)
	go func() {
		secondDone <- store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
			st, err := tx.States().LockState(ctx, userID)
			if err != nil {
				return err
			}
			seen <- st
			return nil
		})
	}()

	select {
	case <-seen:
		t.Fatal("second transaction read the state while the first held the lock")
	case <-time.After(300 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-firstDone)

	select {
	case st := <-seen:
		require.NotNil(t, st)
		assert.Equal(t, "intro", st.CourseID)
		assert.Equal(t, progression.StateWaitingLessonDelivery, st.State)
	case <-time.After(5 * time.Second):
		t.Fatal("second transaction never acquired the lock")
	}
	require.NoError(t, <-secondDone)
}

func TestFailStale_ReturnsOnlyOldInFlightRows(t *testing.T) {
	store, conn := openTestStore(t)
	ctx := context.Background()
	userID := time.Now().UnixNano()
	t.Cleanup(func() {
		_, _ = conn.Pool().Exec(context.Background(), `DELETE FROM scheduled_deliveries WHERE user_id = $1`, userID)
	})

	base := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)
	_, err := conn.Pool().Exec(ctx, `
		INSERT INTO scheduled_deliveries (user_id, course_id, lesson, content_item, path, kind, due_at, sent, sent_at)
		VALUES ($1, 'intro', 1, 'old.txt', '/c/old.txt', 'text', $2, TRUE, $2),
		       ($1, 'intro', 1, 'new.txt', '/c/new.txt', 'text', $2, TRUE, $3)
	`, userID, base, base.Add(50*time.Minute))
	require.NoError(t, err)

	stale, err := store.Deliveries().FailStale(ctx, base.Add(10*time.Minute), "outcome unknown", time.Now())
	require.NoError(t, err)

	var mine []string
	for _, row := range stale {
		if row.UserID == userID {
			mine = append(mine, row.ContentItem)
			assert.True(t, row.Failed)
		}
	}
	assert.Equal(t, []string{"old.txt"}, mine)
}
