// Package bot receives files sent to the primary bot and answers with their
// links.
package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/access"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/backend/telegram"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/flood"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/ingest"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/links"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/pool"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/workers"
)

const (
	pollTimeout   = 30
	updateTimeout = 2 * time.Minute
)

// API is the part of *tgbotapi.BotAPI the receiver uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Bot struct {
	api      API
	pipeline *ingest.Pipeline
	gate     *access.Gate
	links    *links.Builder
	limiter  *workers.Limiter
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(log *slog.Logger, api API, pipeline *ingest.Pipeline, gate *access.Gate, builder *links.Builder, limiter *workers.Limiter) *Bot {
	return &Bot{
		api:      api,
		pipeline: pipeline,
		gate:     gate,
		links:    builder,
		limiter:  limiter,
		logger:   log.With(slog.String("component", "bot")),
	}
}

// Start begins long polling in the background.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return errors.New("bot already started")
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancel = cancel
	b.done = make(chan struct{})
	go func() {
		defer close(b.done)
		b.Run(runCtx)
	}()
	return nil
}

// Stop ends polling and waits for in-flight updates, bounded by ctx.
func (b *Bot) Stop(ctx context.Context) error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel = nil
	b.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.limiter.Wait(ctx)
}

// Run polls updates until ctx ends. Each update is handled on its own
// goroutine, bounded by the limiter.
func (b *Bot) Run(ctx context.Context) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeout
	cfg.AllowedUpdates = []string{"message"}
	updates := b.api.GetUpdatesChan(cfg)
	b.logger.Info("receiving updates")

	defer func() {
		b.api.StopReceivingUpdates()
		// Drain so the polling goroutine can exit.
		go func() {
			for range updates {
			}
		}()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				b.logger.Info("updates channel closed")
				return
			}
			if update.Message == nil {
				continue
			}
			if err := b.limiter.Go(ctx, func() { b.safeHandle(ctx, update) }); err != nil {
				return
			}
		}
	}
}

func (b *Bot) safeHandle(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("update handler panic",
				slog.Int("update_id", update.UpdateID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, updateTimeout)
	defer cancel()
	if err := b.Handle(ctx, update); err != nil {
		b.logger.Error("handle update failed", slog.Int("update_id", update.UpdateID), slog.Any("error", err))
	}
}

// Handle processes one update. Only errors from replying are returned;
// ingest failures are reported to the sender.
func (b *Bot) Handle(ctx context.Context, update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
		return nil
	}
	if msg.IsCommand() {
		if msg.Command() == "start" {
			return b.reply(msg, startText(msg.From))
		}
		return nil
	}
	file, ok := telegram.FileOf(msg)
	if !ok {
		return nil
	}

	var userID int64
	if msg.From != nil {
		userID = msg.From.ID
	}
	log := b.logger.With(slog.Int64("user_id", userID), slog.String("file", file.Name))

	if err := b.gate.Authorize(ctx, &userID); err != nil {
		log.Info("file rejected", slog.Any("error", err))
		return b.reply(msg, b.denyText(err))
	}

	rec, err := b.pipeline.IngestMessage(ctx, ingest.MessageInput{
		OwnerID:   userID,
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		File:      file,
	})
	if err != nil {
		log.Error("ingest failed", slog.Any("error", err))
		return b.reply(msg, failureText(err))
	}
	l, err := b.links.For(rec.Token, userID)
	if err != nil {
		return fmt.Errorf("build links: %w", err)
	}
	log.Info("file stored", slog.String("token", rec.Token), slog.Int64("size", rec.Size))
	return b.replyLinks(msg, rec.FileName, rec.Size, l)
}

func (b *Bot) reply(msg *tgbotapi.Message, text string) error {
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ParseMode = tgbotapi.ModeHTML
	out.ReplyToMessageID = msg.MessageID
	out.DisableWebPagePreview = true
	_, err := b.api.Send(out)
	return err
}

func (b *Bot) replyLinks(msg *tgbotapi.Message, name string, size int64, l links.Links) error {
	var sb strings.Builder
	sb.WriteString("<b>Your link is ready</b>\n\n")
	fmt.Fprintf(&sb, "<b>Name:</b> <code>%s</code>\n", html.EscapeString(name))
	fmt.Fprintf(&sb, "<b>Size:</b> %s\n\n", formatSize(size))
	fmt.Fprintf(&sb, "<b>Download:</b> %s\n", html.EscapeString(l.Download))
	fmt.Fprintf(&sb, "<b>Watch:</b> %s", html.EscapeString(l.Watch))

	out := tgbotapi.NewMessage(msg.Chat.ID, sb.String())
	out.ParseMode = tgbotapi.ModeHTML
	out.ReplyToMessageID = msg.MessageID
	out.DisableWebPagePreview = true
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonURL("Watch", l.Watch),
		tgbotapi.NewInlineKeyboardButtonURL("Download", l.Download),
	))
	_, err := b.api.Send(out)
	return err
}

func startText(from *tgbotapi.User) string {
	name := "there"
	if from != nil && from.FirstName != "" {
		name = html.EscapeString(from.FirstName)
	}
	return "Hi " + name + "!\n\nSend me any file and I will give you a direct download link and a streaming link for it."
}

func (b *Bot) denyText(err error) string {
	if errors.Is(err, access.ErrSubscriptionRequired) {
		if ch := b.gate.Policy().UpdatesChannel; ch != "" {
			return "Please join " + html.EscapeString(ch) + " to use this bot."
		}
		return "Please join the updates channel to use this bot."
	}
	if errors.Is(err, access.ErrForbidden) {
		return "You are not authorized to use this bot."
	}
	return "Something went wrong, please try again later."
}

func failureText(err error) string {
	switch {
	case errors.Is(err, flood.ErrUpstreamBusy), errors.Is(err, pool.ErrNoSessionAvailable):
		return "The server is busy right now, please send the file again in a minute."
	default:
		return "Could not store this file, please try again later."
	}
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
