// Package telegram implements backend.Client on the Telegram Bot API. Each
// Client owns one bot token.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/backend"
)

const (
	// File download links stay valid for at least an hour.
	filePathTTL = 50 * time.Minute
	// Per-session file ids do not expire; the cache only bounds memory.
	fileIDTTL = 24 * time.Hour
	// Bounds a collapsed lookup, which outlives any single caller.
	sharedLookupTimeout = 30 * time.Second
)

// Options configures a Client.
type Options struct {
	Name  string
	Token string
	// APIEndpoint and FileEndpoint are tgbotapi format strings; empty means
	// the public Bot API.
	APIEndpoint  string
	FileEndpoint string
	// ScratchChat receives the temporary forwards used to mint file ids for
	// files stored by another session.
	ScratchChat int64
	HTTPClient  *http.Client
}

type Client struct {
	opts   Options
	http   *http.Client
	logger *slog.Logger

	mu  sync.RWMutex
	bot *tgbotapi.BotAPI

	paths   *cache.Cache
	fileIDs *cache.Cache
	group   singleflight.Group
}

var _ backend.Client = (*Client)(nil)

func NewClient(log *slog.Logger, opts Options) *Client {
	if opts.APIEndpoint == "" {
		opts.APIEndpoint = tgbotapi.APIEndpoint
	}
	if opts.FileEndpoint == "" {
		opts.FileEndpoint = tgbotapi.FileEndpoint
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		opts:    opts,
		http:    hc,
		logger:  log.With(slog.String("session", opts.Name)),
		paths:   cache.New(filePathTTL, 10*time.Minute),
		fileIDs: cache.New(fileIDTTL, time.Hour),
	}
}

func (c *Client) Name() string { return c.opts.Name }

// Bot exposes the underlying API handle for the update receiver. It is nil
// until Authenticate succeeds.
func (c *Client) Bot() *tgbotapi.BotAPI {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bot
}

func (c *Client) Authenticate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bot, err := tgbotapi.NewBotAPIWithClient(c.opts.Token, c.opts.APIEndpoint, c.http)
	if err != nil {
		return fmt.Errorf("telegram %s: authenticate: %w", c.opts.Name, mapError(err))
	}
	c.mu.Lock()
	c.bot = bot
	c.mu.Unlock()
	c.logger.Info("telegram session authenticated", slog.String("username", bot.Self.UserName))
	return nil
}

func (c *Client) api() (*tgbotapi.BotAPI, error) {
	bot := c.Bot()
	if bot == nil {
		return nil, fmt.Errorf("telegram %s: %w", c.opts.Name, backend.ErrUnauthorized)
	}
	return bot, nil
}

func (c *Client) SendFile(ctx context.Context, chatID int64, upload backend.Upload) (backend.Message, error) {
	bot, err := c.api()
	if err != nil {
		return backend.Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return backend.Message{}, err
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileReader{Name: upload.Name, Reader: upload.Reader})
	msg, err := bot.Send(doc)
	if err != nil {
		return backend.Message{}, fmt.Errorf("telegram send document: %w", mapError(err))
	}
	return toMessage(msg)
}

func (c *Client) ForwardMessage(ctx context.Context, toChatID, fromChatID int64, messageID int) (backend.Message, error) {
	bot, err := c.api()
	if err != nil {
		return backend.Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return backend.Message{}, err
	}
	msg, err := bot.Send(tgbotapi.NewForward(toChatID, fromChatID, messageID))
	if err != nil {
		return backend.Message{}, fmt.Errorf("telegram forward %d/%d: %w", fromChatID, messageID, mapError(err))
	}
	return toMessage(msg)
}

func (c *Client) IsMember(ctx context.Context, chatID, userID int64) (bool, error) {
	bot, err := c.api()
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	member, err := bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	if err != nil {
		if apiErr, ok := asAPIError(err); ok && apiErr.Code == http.StatusBadRequest &&
			strings.Contains(strings.ToLower(apiErr.Message), "user not found") {
			return false, nil
		}
		return false, fmt.Errorf("telegram get chat member: %w", mapError(err))
	}
	return !member.HasLeft() && !member.WasKicked(), nil
}

func (c *Client) FetchChunk(ctx context.Context, ref backend.ObjectRef, offset int64, limit int) ([]byte, error) {
	fileID, err := c.localFileID(ctx, ref)
	if err != nil {
		return nil, err
	}
	path, err := c.filePath(ctx, fileID)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf(c.opts.FileEndpoint, c.opts.Token, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-"+strconv.FormatInt(offset+int64(limit)-1, 10))
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram download: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		// Range ignored upstream; skip to the window we want.
		if _, err := io.CopyN(io.Discard, resp.Body, offset); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil
			}
			return nil, fmt.Errorf("telegram download: %w", err)
		}
	case http.StatusRequestedRangeNotSatisfiable:
		return nil, nil
	case http.StatusTooManyRequests:
		return nil, &backend.FloodWaitError{Delay: retryAfter(resp.Header.Get("Retry-After"))}
	case http.StatusNotFound:
		c.paths.Delete(fileID)
		return nil, fmt.Errorf("telegram download: file path expired")
	case http.StatusUnauthorized:
		return nil, fmt.Errorf("telegram download: %w", backend.ErrUnauthorized)
	default:
		return nil, fmt.Errorf("telegram download: unexpected status %d", resp.StatusCode)
	}

	buf, err := io.ReadAll(io.LimitReader(resp.Body, int64(limit)))
	if err != nil && len(buf) == 0 {
		return nil, fmt.Errorf("telegram download: %w", err)
	}
	return buf, nil
}

// localFileID returns a file id usable by this session. Ids minted by other
// sessions are translated by forwarding the stored message to the scratch
// chat once and reading the id off the copy.
func (c *Client) localFileID(ctx context.Context, ref backend.ObjectRef) (string, error) {
	if ref.Session == c.opts.Name && ref.FileID != "" {
		return ref.FileID, nil
	}
	if v, ok := c.fileIDs.Get(ref.FileUniqueID); ok {
		return v.(string), nil
	}
	return c.shared(ctx, "id:"+ref.FileUniqueID, func(ctx context.Context) (string, error) {
		scratch := c.opts.ScratchChat
		if scratch == 0 {
			scratch = ref.ChatID
		}
		msg, err := c.ForwardMessage(ctx, scratch, ref.ChatID, ref.MessageID)
		if err != nil {
			return "", err
		}
		if bot, err := c.api(); err == nil {
			if _, err := bot.Request(tgbotapi.NewDeleteMessage(msg.ChatID, msg.MessageID)); err != nil {
				c.logger.Warn("scratch message cleanup failed", slog.Any("error", err))
			}
		}
		c.fileIDs.SetDefault(ref.FileUniqueID, msg.File.FileID)
		return msg.File.FileID, nil
	})
}

func (c *Client) filePath(ctx context.Context, fileID string) (string, error) {
	if v, ok := c.paths.Get(fileID); ok {
		return v.(string), nil
	}
	return c.shared(ctx, "path:"+fileID, func(ctx context.Context) (string, error) {
		bot, err := c.api()
		if err != nil {
			return "", err
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		f, err := bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
		if err != nil {
			return "", fmt.Errorf("telegram get file: %w", mapError(err))
		}
		if f.FilePath == "" {
			return "", fmt.Errorf("telegram get file: empty path: %w", backend.ErrObjectUnavailable)
		}
		c.paths.SetDefault(fileID, f.FilePath)
		return f.FilePath, nil
	})
}

// shared collapses concurrent lookups under key. The lookup runs detached
// from the caller that started it, so one caller going away does not fail
// the others waiting on the same key.
func (c *Client) shared(ctx context.Context, key string, fn func(context.Context) (string, error)) (string, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLookupTimeout)
		defer cancel()
		return fn(detached)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
