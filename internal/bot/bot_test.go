package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/access"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/backend"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/backend/fake"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/config"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/flood"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/ingest"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/links"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/pool"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/records"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/workers"
)

const (
	logChat  = -100500
	subChat  = -100600
	userChat = 4242
	userID   = 4242
)

type fakeAPI struct {
	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	sendErr error
	updates chan tgbotapi.Update
	stop    sync.Once
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{updates: make(chan tgbotapi.Update, 8)}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.stop.Do(func() { close(f.updates) })
}

func (f *fakeAPI) Sent() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

type env struct {
	bot     *Bot
	api     *fakeAPI
	backend *fake.Backend
	store   records.Store
}

func newEnv(t *testing.T, policy access.Policy) env {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := fake.New()
	sched := flood.NewScheduler(log, config.FloodConfig{SleepThreshold: time.Minute})
	p, err := pool.New(log, sched, config.PoolConfig{Workers: 2}, []pool.Member{{Client: b.Client("primary")}})
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))

	store := records.NewMemoryStore()
	gate := access.NewGate(log, store, p, policy)
	pipeline := ingest.NewPipeline(log, p, store, sched, ingest.Options{LogChannel: logChat, MaxBytes: 1 << 20, TempDir: t.TempDir()})
	builder := links.NewBuilder("https://files.test/", "bot-secret", time.Hour, policy.NeedsIdentity())
	api := newFakeAPI()
	return env{
		bot:     New(log, api, pipeline, gate, builder, workers.NewLimiter(2)),
		api:     api,
		backend: b,
		store:   store,
	}
}

// fileUpdate stores content as a user's private message and returns the
// update the bot would receive for it.
func (e env) fileUpdate(content string) tgbotapi.Update {
	msg := e.backend.Put(userChat, "primary", "clip.mp4", "video/mp4", []byte(content))
	return tgbotapi.Update{
		UpdateID: msg.MessageID,
		Message: &tgbotapi.Message{
			MessageID: msg.MessageID,
			From:      &tgbotapi.User{ID: userID, FirstName: "Ada"},
			Chat:      &tgbotapi.Chat{ID: userChat, Type: "private"},
			Video: &tgbotapi.Video{
				FileID:       msg.File.FileID,
				FileUniqueID: msg.File.FileUniqueID,
				FileName:     msg.File.Name,
				MimeType:     msg.File.MimeType,
				FileSize:     int(msg.File.Size),
			},
		},
	}
}

func commandUpdate(text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 1,
		Message: &tgbotapi.Message{
			MessageID: 1,
			Text:      text,
			From:      &tgbotapi.User{ID: userID, FirstName: "Ada <3"},
			Chat:      &tgbotapi.Chat{ID: userChat, Type: "private"},
			Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
		},
	}
}

func TestStartCommand(t *testing.T) {
	t.Parallel()

	e := newEnv(t, access.Policy{})
	require.NoError(t, e.bot.Handle(context.Background(), commandUpdate("/start")))

	sent := e.api.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(userChat), sent[0].ChatID)
	assert.Contains(t, sent[0].Text, "Hi Ada &lt;3!")
	assert.Equal(t, tgbotapi.ModeHTML, sent[0].ParseMode)

	require.NoError(t, e.bot.Handle(context.Background(), commandUpdate("/help")))
	assert.Len(t, e.api.Sent(), 1)
}

func TestFileProducesLinks(t *testing.T) {
	t.Parallel()

	e := newEnv(t, access.Policy{})
	update := e.fileUpdate("frame data")
	require.NoError(t, e.bot.Handle(context.Background(), update))

	assert.Equal(t, 1, e.backend.Messages(logChat))
	sent := e.api.Sent()
	require.Len(t, sent, 1)
	reply := sent[0]
	assert.Equal(t, update.Message.MessageID, reply.ReplyToMessageID)
	assert.True(t, reply.DisableWebPagePreview)
	assert.Contains(t, reply.Text, "clip.mp4")
	assert.Contains(t, reply.Text, "10 B")

	markup, ok := reply.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 1)
	row := markup.InlineKeyboard[0]
	require.Len(t, row, 2)
	require.NotNil(t, row[0].URL)
	require.NotNil(t, row[1].URL)
	assert.True(t, strings.HasPrefix(*row[0].URL, "https://files.test/watch/"))
	assert.True(t, strings.HasPrefix(*row[1].URL, "https://files.test/dl/"))

	token := strings.TrimPrefix(*row[1].URL, "https://files.test/dl/")
	rec, err := e.store.Get(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, int64(userID), rec.OwnerID)
	assert.Equal(t, int64(10), rec.Size)
	assert.Equal(t, int64(logChat), rec.Ref.ChatID)
}

func TestFileRejectedByPolicy(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		policy access.Policy
		want   string
	}{
		{
			name:   "not authorized",
			policy: access.Policy{Authorized: map[int64]struct{}{1: {}}},
			want:   "not authorized",
		},
		{
			name:   "not subscribed",
			policy: access.Policy{ForceSubChat: subChat, UpdatesChannel: "@updates"},
			want:   "join @updates",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e := newEnv(t, tc.policy)
			require.NoError(t, e.bot.Handle(context.Background(), e.fileUpdate("x")))
			assert.Zero(t, e.backend.Messages(logChat))
			sent := e.api.Sent()
			require.Len(t, sent, 1)
			assert.Contains(t, sent[0].Text, tc.want)
		})
	}
}

func TestSubscribedUserGetsSignedLinks(t *testing.T) {
	t.Parallel()

	e := newEnv(t, access.Policy{ForceSubChat: subChat})
	e.backend.SetMember(subChat, userID, true)
	require.NoError(t, e.bot.Handle(context.Background(), e.fileUpdate("payload")))

	sent := e.api.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "?sig=")
}

func TestIngestFailureIsReported(t *testing.T) {
	t.Parallel()

	e := newEnv(t, access.Policy{})
	e.backend.Client("primary").FailNext(backend.ErrObjectUnavailable)
	require.NoError(t, e.bot.Handle(context.Background(), e.fileUpdate("x")))

	sent := e.api.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "Could not store this file")
}

func TestIgnoredUpdates(t *testing.T) {
	t.Parallel()

	e := newEnv(t, access.Policy{})
	group := e.fileUpdate("x")
	group.Message.Chat.Type = "supergroup"
	text := tgbotapi.Update{Message: &tgbotapi.Message{Text: "hello", Chat: &tgbotapi.Chat{ID: userChat, Type: "private"}}}

	for _, u := range []tgbotapi.Update{{}, group, text} {
		require.NoError(t, e.bot.Handle(context.Background(), u))
	}
	assert.Empty(t, e.api.Sent())
	assert.Zero(t, e.backend.Messages(logChat))
}

func TestHandleReturnsSendError(t *testing.T) {
	t.Parallel()

	e := newEnv(t, access.Policy{})
	e.api.sendErr = errors.New("chat not found")
	assert.Error(t, e.bot.Handle(context.Background(), commandUpdate("/start")))
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	e := newEnv(t, access.Policy{})
	require.NoError(t, e.bot.Start(context.Background()))
	require.Error(t, e.bot.Start(context.Background()))

	e.api.updates <- e.fileUpdate("streamed")
	require.Eventually(t, func() bool { return len(e.api.Sent()) == 1 }, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.bot.Stop(ctx))
	require.NoError(t, e.bot.Stop(ctx))
	assert.Equal(t, 1, e.backend.Messages(logChat))
}

func TestFormatSize(t *testing.T) {
	t.Parallel()

	cases := map[int64]string{
		0:       "0 B",
		1023:    "1023 B",
		1024:    "1.00 KiB",
		1536:    "1.50 KiB",
		5 << 20: "5.00 MiB",
		3 << 30: "3.00 GiB",
	}
	for n, want := range cases {
		assert.Equal(t, want, formatSize(n))
	}
}
