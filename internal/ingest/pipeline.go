// Package ingest writes files into the log channel and records the token
// that links to them.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/backend"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/flood"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/metrics"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/pool"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/records"
)

const defaultAttempts = 3

type Options struct {
	LogChannel int64
	MaxBytes   int64
	TempDir    string
	// Attempts bounds backend writes per ingest, flood waits included.
	Attempts int
}

type Pipeline struct {
	pool   *pool.Pool
	store  records.Store
	sched  *flood.Scheduler
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

func NewPipeline(log *slog.Logger, p *pool.Pool, store records.Store, sched *flood.Scheduler, opts Options) *Pipeline {
	if opts.Attempts <= 0 {
		opts.Attempts = defaultAttempts
	}
	return &Pipeline{
		pool:   p,
		store:  store,
		sched:  sched,
		opts:   opts,
		logger: log.With(slog.String("service", "ingest")),
		now:    time.Now,
	}
}

// Input is a file arriving as a byte stream.
type Input struct {
	OwnerID  int64
	Name     string
	MimeType string
	Reader   io.Reader
}

// MessageInput is a file already present in a chat.
type MessageInput struct {
	OwnerID   int64
	ChatID    int64
	MessageID int
	File      backend.FileInfo
}

// Ingest spools in to a temp file, uploads it to the log channel and
// records a fresh token for it. The temp file is removed on every path.
func (p *Pipeline) Ingest(ctx context.Context, in Input) (records.Record, error) {
	tempPath, size, err := spool(p.opts.TempDir, in.Reader, p.opts.MaxBytes)
	if err != nil {
		metrics.RecordIngest("upload", 0, false)
		return records.Record{}, fmt.Errorf("read input: %w", err)
	}
	defer func() {
		_ = os.Remove(tempPath)
	}()

	name := sanitizeName(in.Name)
	msg, session, err := p.write(ctx, func(ctx context.Context, c backend.Client) (backend.Message, error) {
		f, err := os.Open(tempPath)
		if err != nil {
			return backend.Message{}, err
		}
		defer f.Close()
		return c.SendFile(ctx, p.opts.LogChannel, backend.Upload{Name: name, MimeType: in.MimeType, Size: size, Reader: f})
	})
	if err != nil {
		metrics.RecordIngest("upload", size, false)
		return records.Record{}, err
	}
	if msg.File.Name == "" {
		msg.File.Name = name
	}
	if msg.File.MimeType == "" {
		msg.File.MimeType = in.MimeType
	}
	if msg.File.Size == 0 {
		msg.File.Size = size
	}
	rec, err := p.persist(ctx, msg, session, in.OwnerID)
	metrics.RecordIngest("upload", size, err == nil)
	return rec, err
}

// IngestMessage forwards an existing message into the log channel.
func (p *Pipeline) IngestMessage(ctx context.Context, in MessageInput) (records.Record, error) {
	msg, session, err := p.write(ctx, func(ctx context.Context, c backend.Client) (backend.Message, error) {
		return c.ForwardMessage(ctx, p.opts.LogChannel, in.ChatID, in.MessageID)
	})
	if err != nil {
		metrics.RecordIngest("message", in.File.Size, false)
		return records.Record{}, err
	}
	if msg.File.Name == "" {
		msg.File.Name = sanitizeName(in.File.Name)
	}
	if msg.File.MimeType == "" {
		msg.File.MimeType = in.File.MimeType
	}
	if msg.File.Size == 0 {
		msg.File.Size = in.File.Size
	}
	rec, err := p.persist(ctx, msg, session, in.OwnerID)
	metrics.RecordIngest("message", msg.File.Size, err == nil)
	return rec, err
}

type writeFunc func(ctx context.Context, c backend.Client) (backend.Message, error)

// write runs op against a pooled session. Flood waits are absorbed on the
// same session; other failures hand the session back and try another one.
func (p *Pipeline) write(ctx context.Context, op writeFunc) (backend.Message, string, error) {
	var (
		h       *pool.Handle
		waited  time.Duration
		lastErr error
	)
	defer func() {
		if h != nil {
			h.Release(pool.Neutral)
		}
	}()

	for attempt := 1; attempt <= p.opts.Attempts; attempt++ {
		if h == nil {
			var err error
			h, err = p.pool.Acquire(ctx, pool.AcquireOptions{})
			if err != nil {
				return backend.Message{}, "", err
			}
		}
		msg, err := op(ctx, h.Client())
		if err == nil {
			name := h.Name()
			h.Release(pool.Success)
			h = nil
			return msg, name, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return backend.Message{}, "", ctx.Err()
		}
		if backend.IsPermanent(err) {
			return backend.Message{}, "", fmt.Errorf("%w: %w", ErrUpstreamWrite, err)
		}

		if delay, ok := backend.FloodDelay(err); ok {
			d := p.sched.Decide(flood.PreferWait, delay, waited, false)
			if d.Action == flood.ActionGiveUp {
				h.Release(pool.RateLimited(delay))
				h = nil
				return backend.Message{}, "", &flood.BusyError{RetryAfter: delay}
			}
			p.logger.Info("waiting out flood wait", slog.String("session", h.Name()), slog.Duration("delay", d.Wait))
			waited += d.Wait
			h.Backoff(d.Wait)
			if err := h.Wait(ctx); err != nil {
				return backend.Message{}, "", err
			}
			continue
		}

		p.logger.Warn("backend write failed", slog.String("session", h.Name()), slog.Int("attempt", attempt), slog.Any("error", err))
		h.Release(pool.ResultOf(err))
		h = nil
		if attempt < p.opts.Attempts {
			if err := flood.Sleep(ctx, flood.Backoff(attempt)); err != nil {
				return backend.Message{}, "", err
			}
		}
	}
	return backend.Message{}, "", fmt.Errorf("%w: %w", ErrUpstreamWrite, lastErr)
}

// persist stores a record for msg, regenerating the token once on collision.
func (p *Pipeline) persist(ctx context.Context, msg backend.Message, session string, ownerID int64) (records.Record, error) {
	rec := records.Record{
		Ref:       msg.Ref(session),
		FileName:  msg.File.Name,
		MimeType:  msg.File.MimeType,
		Size:      msg.File.Size,
		OwnerID:   ownerID,
		CreatedAt: p.now().UTC(),
	}
	for try := 0; try < 2; try++ {
		rec.Token = records.NewToken()
		err := p.store.Put(ctx, rec)
		if err == nil {
			p.logger.Info("file stored",
				slog.String("token", rec.Token),
				slog.Int("message_id", rec.Ref.MessageID),
				slog.Int64("size", rec.Size),
				slog.String("session", session))
			return rec, nil
		}
		if !errors.Is(err, records.ErrDuplicateToken) {
			return records.Record{}, fmt.Errorf("store record: %w", err)
		}
	}
	return records.Record{}, fmt.Errorf("store record: %w", records.ErrDuplicateToken)
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}
