package telegram

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antbot/course-bot/internal/application/command"
	"github.com/antbot/course-bot/internal/application/query"
	"github.com/antbot/course-bot/internal/domain/homework"
	"github.com/antbot/course-bot/internal/infrastructure/external/telegram"
)

// ─────────────────────────────────────────────────────────────────────────────
// fakes
// ─────────────────────────────────────────────────────────────────────────────

type answer struct {
	id    string
	text  string
	alert bool
}

type fakeAPI struct {
	mu       sync.Mutex
	sent     []telegram.SendMessageParams
	answers  []answer
	edited   []int64
	updates  [][]telegram.Update
	webhooks int
}

func (f *fakeAPI) SendMessage(_ context.Context, p telegram.SendMessageParams) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p)
	return &telegram.Message{MessageID: int64(len(f.sent))}, nil
}

func (f *fakeAPI) AnswerCallbackQuery(_ context.Context, id, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, answer{id: id, text: text, alert: alert})
	return nil
}

func (f *fakeAPI) EditMessageKeyboard(_ context.Context, _, messageID int64, _ *telegram.InlineKeyboardMarkup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, messageID)
	return nil
}

func (f *fakeAPI) GetUpdates(ctx context.Context, _ int64, _ int, _ time.Duration) ([]telegram.Update, error) {
	f.mu.Lock()
	if len(f.updates) > 0 {
		batch := f.updates[0]
		f.updates = f.updates[1:]
		f.mu.Unlock()
		return batch, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeAPI) DeleteWebhook(context.Context, bool) error {
	f.mu.Lock()
	f.webhooks++
	f.mu.Unlock()
	return nil
}

func (f *fakeAPI) GetMe(context.Context) (*telegram.User, error) {
	return &telegram.User{ID: 1, Username: "course_bot"}, nil
}

func (f *fakeAPI) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, p := range f.sent {
		out[i] = p.Text
	}
	return out
}

type stubApp struct {
	mu        sync.Mutex
	submitted []command.SubmitHomeworkCommand
	reviewed  []command.ReviewHomeworkCommand
	activated []command.ActivateCourseCommand
}

func (s *stubApp) activate() activateFunc { return activateFunc{s} }
func (s *stubApp) submit() submitFunc     { return submitFunc{s} }
func (s *stubApp) review() reviewFunc     { return reviewFunc{s} }

type activateFunc struct{ s *stubApp }

func (a activateFunc) Handle(_ context.Context, cmd command.ActivateCourseCommand) (*command.ActivateCourseResult, error) {
	a.s.mu.Lock()
	a.s.activated = append(a.s.activated, cmd)
	a.s.mu.Unlock()
	return &command.ActivateCourseResult{CourseID: "intro", CourseName: "Вводный курс", Armed: true}, nil
}

type submitFunc struct{ s *stubApp }

func (f submitFunc) Handle(_ context.Context, cmd command.SubmitHomeworkCommand) (*command.SubmitHomeworkResult, error) {
	f.s.mu.Lock()
	f.s.submitted = append(f.s.submitted, cmd)
	f.s.mu.Unlock()
	return &command.SubmitHomeworkResult{SubmissionID: uuid.New(), Lesson: 1}, nil
}

type reviewFunc struct{ s *stubApp }

func (f reviewFunc) Handle(_ context.Context, cmd command.ReviewHomeworkCommand) (*command.ReviewHomeworkResult, error) {
	f.s.mu.Lock()
	f.s.reviewed = append(f.s.reviewed, cmd)
	f.s.mu.Unlock()
	return &command.ReviewHomeworkResult{
		Submission:      homework.Submission{ID: cmd.Decision.Submission(), Lesson: 1},
		Approved:        true,
		CourseCompleted: true,
	}, nil
}

type noCourse struct{}

func (noCourse) Handle(context.Context, query.GetProgressQuery) (*query.ProgressView, error) {
	return &query.ProgressView{}, nil
}

const adminID = 100

func newTestBot(t *testing.T) (*Bot, *fakeAPI, *stubApp) {
	t.Helper()
	api := &fakeAPI{}
	app := &stubApp{}

	cfg := DefaultBotConfig()
	cfg.AdminIDs = []int64{adminID}
	cfg.GracefulShutdownTimeout = time.Second

	bot, err := NewBot(cfg, api, BotDependencies{
		Activate: app.activate(),
		Submit:   app.submit(),
		Review:   app.review(),
		Progress: noCourse{},
	})
	require.NoError(t, err)
	return bot, api, app
}

func commandMessage(userID int64, text string, cmdLen int) *telegram.Message {
	return &telegram.Message{
		MessageID: 10,
		From:      &telegram.User{ID: userID, FirstName: "Аня"},
		Chat:      &telegram.Chat{ID: userID, Type: "private"},
		Text:      text,
		Entities:  []telegram.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// tests
// ─────────────────────────────────────────────────────────────────────────────

func TestBot_StartCommand(t *testing.T) {
	bot, api, _ := newTestBot(t)

	err := bot.HandleUpdate(context.Background(), &telegram.Update{UpdateID: 1, Message: commandMessage(7, "/start", 6)})
	require.NoError(t, err)

	texts := api.sentTexts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Аня")
	assert.Equal(t, int64(1), bot.Stats().UpdatesHandled)
}

func TestBot_ActivateCommand(t *testing.T) {
	bot, api, app := newTestBot(t)

	msg := commandMessage(7, "/activate START-42", 9)
	require.NoError(t, bot.HandleUpdate(context.Background(), &telegram.Update{UpdateID: 1, Message: msg}))

	require.Len(t, app.activated, 1)
	assert.Equal(t, command.ActivateCourseCommand{UserID: 7, Code: "START-42"}, app.activated[0])
	assert.Contains(t, api.sentTexts()[0], "Вводный курс")
}

func TestBot_UnknownCommand(t *testing.T) {
	bot, api, _ := newTestBot(t)

	require.NoError(t, bot.HandleUpdate(context.Background(), &telegram.Update{UpdateID: 1, Message: commandMessage(7, "/top", 4)}))
	assert.Contains(t, api.sentTexts()[0], "Неизвестная команда")
}

func TestBot_AdminCommandForbidden(t *testing.T) {
	bot, api, _ := newTestBot(t)

	require.NoError(t, bot.HandleUpdate(context.Background(), &telegram.Update{UpdateID: 1, Message: commandMessage(7, "/pending", 8)}))
	assert.Contains(t, api.sentTexts()[0], "администраторам")
}

func TestBot_PhotoIsHomework(t *testing.T) {
	bot, api, app := newTestBot(t)

	msg := &telegram.Message{
		MessageID: 11,
		From:      &telegram.User{ID: 7},
		Chat:      &telegram.Chat{ID: 7, Type: "private"},
		Photo: []telegram.PhotoSize{
			{FileID: "small", Width: 90, Height: 90},
			{FileID: "big", Width: 1280, Height: 960},
		},
	}
	require.NoError(t, bot.HandleUpdate(context.Background(), &telegram.Update{UpdateID: 2, Message: msg}))

	require.Len(t, app.submitted, 1)
	assert.Equal(t, "big", app.submitted[0].FileID)
	assert.Equal(t, homework.FilePhoto, app.submitted[0].Kind)
	assert.Contains(t, api.sentTexts()[0], "на проверку")
}

func TestBot_GroupMediaIgnored(t *testing.T) {
	bot, api, app := newTestBot(t)

	msg := &telegram.Message{
		From:     &telegram.User{ID: 7},
		Chat:     &telegram.Chat{ID: -500, Type: "supergroup"},
		Document: &telegram.Document{FileID: "doc"},
	}
	require.NoError(t, bot.HandleUpdate(context.Background(), &telegram.Update{UpdateID: 3, Message: msg}))

	assert.Empty(t, app.submitted)
	assert.Empty(t, api.sentTexts())
}

func TestBot_ReviewCallback(t *testing.T) {
	id := uuid.New()
	cq := func(from int64) *telegram.CallbackQuery {
		return &telegram.CallbackQuery{
			ID:      "q1",
			From:    &telegram.User{ID: from},
			Message: &telegram.Message{MessageID: 55, Chat: &telegram.Chat{ID: -500, Type: "supergroup"}},
			Data:    homework.ApproveCallback(id),
		}
	}

	t.Run("non-admin is refused", func(t *testing.T) {
		bot, api, app := newTestBot(t)
		require.NoError(t, bot.HandleUpdate(context.Background(), &telegram.Update{UpdateID: 4, CallbackQuery: cq(7)}))

		assert.Empty(t, app.reviewed)
		require.Len(t, api.answers, 1)
		assert.True(t, api.answers[0].alert)
	})

	t.Run("admin approves", func(t *testing.T) {
		bot, api, app := newTestBot(t)
		require.NoError(t, bot.HandleUpdate(context.Background(), &telegram.Update{UpdateID: 5, CallbackQuery: cq(adminID)}))

		require.Len(t, app.reviewed, 1)
		assert.Equal(t, homework.Approve{ID: id}, app.reviewed[0].Decision)
		assert.Equal(t, int64(adminID), app.reviewed[0].ReviewerID)

		require.Len(t, api.answers, 1)
		assert.Contains(t, api.answers[0].text, "Курс пройден")
		assert.Equal(t, []int64{55}, api.edited)
	})
}

func TestBot_RunPollsUntilCancelled(t *testing.T) {
	bot, api, app := newTestBot(t)
	api.updates = [][]telegram.Update{{
		{UpdateID: 1, Message: commandMessage(7, "/activate CODE-1", 9)},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()

	require.Eventually(t, func() bool {
		app.mu.Lock()
		defer app.mu.Unlock()
		return len(app.activated) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("bot did not stop")
	}
	assert.Equal(t, 1, api.webhooks)
	assert.False(t, bot.IsRunning())
}
