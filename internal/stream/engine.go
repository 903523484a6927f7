// Package stream serves byte ranges of stored objects by reading
// chunk-aligned windows from pooled backend sessions.
package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/backend"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/config"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/flood"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/metrics"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/pool"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/records"
)

type Engine struct {
	pool   *pool.Pool
	sched  *flood.Scheduler
	opts   config.StreamConfig
	logger *slog.Logger
}

func NewEngine(log *slog.Logger, p *pool.Pool, sched *flood.Scheduler, opts config.StreamConfig) *Engine {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = backend.DefaultChunkSize
	}
	if opts.ChunkAttempts <= 0 {
		opts.ChunkAttempts = config.DefaultChunkAttempts
	}
	if opts.ChunkTimeout <= 0 {
		opts.ChunkTimeout = config.DefaultChunkTimeout
	}
	return &Engine{
		pool:   p,
		sched:  sched,
		opts:   opts,
		logger: log.With(slog.String("service", "stream")),
	}
}

// Response describes what to send before the body.
type Response struct {
	Status int
	Size   int64
	Range  Range
	Body   *Body
}

// Length is the number of body bytes.
func (r *Response) Length() int64 {
	if r.Size == 0 {
		return 0
	}
	return r.Range.Length()
}

func (r *Response) ContentRange() string {
	if r.Status != http.StatusPartialContent {
		return ""
	}
	return r.Range.ContentRange(r.Size)
}

// Stream plans the response for rangeHeader over rec. No backend call is
// made until the body is read.
func (e *Engine) Stream(ctx context.Context, rec records.Record, rangeHeader string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rng, partial, err := ParseRange(rangeHeader, rec.Size)
	if err != nil {
		return nil, err
	}
	status := http.StatusOK
	if partial {
		status = http.StatusPartialContent
	}
	return &Response{
		Status: status,
		Size:   rec.Size,
		Range:  rng,
		Body: &Body{
			engine: e,
			ref:    rec.Ref,
			token:  rec.Token,
			next:   rng.Start,
			end:    rng.End,
		},
	}, nil
}

// fetch reads one window, retrying on other sessions. A flood wait moves to
// another session when one is healthy and otherwise waits on the same one.
func (e *Engine) fetch(ctx context.Context, ref backend.ObjectRef, offset int64, limit int) ([]byte, error) {
	var (
		h       *pool.Handle
		avoid   []string
		waited  time.Duration
		lastErr error
	)
	defer func() {
		if h != nil {
			h.Release(pool.Neutral)
		}
	}()

	for attempt := 1; attempt <= e.opts.ChunkAttempts; attempt++ {
		if h == nil {
			var err error
			h, err = e.pool.Acquire(ctx, pool.AcquireOptions{Avoid: avoid})
			if err != nil {
				return nil, err
			}
		}

		data, err := e.fetchOnce(ctx, h, ref, offset, limit)
		if err == nil {
			h.Release(pool.Success)
			h = nil
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if backend.IsPermanent(err) {
			return nil, fmt.Errorf("%w: %w", ErrUpstreamRead, err)
		}

		if delay, ok := backend.FloodDelay(err); ok {
			d := e.sched.Decide(flood.PreferFailover, delay, waited, e.pool.HasAlternative(h.Name()))
			switch d.Action {
			case flood.ActionFailover:
				avoid = append(avoid, h.Name())
				h.Release(pool.RateLimited(delay))
				h = nil
			case flood.ActionGiveUp:
				h.Release(pool.RateLimited(delay))
				h = nil
				return nil, &flood.BusyError{RetryAfter: delay}
			default:
				waited += d.Wait
				h.Backoff(d.Wait)
				if err := h.Wait(ctx); err != nil {
					return nil, err
				}
			}
			continue
		}

		e.logger.Warn("chunk read failed",
			slog.String("session", h.Name()),
			slog.Int64("offset", offset),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
		avoid = append(avoid, h.Name())
		h.Release(pool.ResultOf(err))
		h = nil
		if attempt < e.opts.ChunkAttempts {
			if err := flood.Sleep(ctx, flood.Backoff(attempt)); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrUpstreamRead, lastErr)
}

func (e *Engine) fetchOnce(ctx context.Context, h *pool.Handle, ref backend.ObjectRef, offset int64, limit int) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, e.opts.ChunkTimeout)
	defer cancel()
	start := time.Now()
	data, err := h.Client().FetchChunk(cctx, ref, offset, limit)
	metrics.RecordChunkFetch(err == nil, time.Since(start))
	return data, err
}

// Body yields the response bytes in ascending order. It is single-use:
// once exhausted or failed it keeps returning the same result.
type Body struct {
	engine *Engine
	ref    backend.ObjectRef
	token  string
	next   int64
	end    int64
	// unaligned is set after a short read so the next request starts at the
	// first missing byte instead of the chunk boundary.
	unaligned bool
	err       error
}

// Remaining is the number of bytes not yet returned.
func (b *Body) Remaining() int64 {
	if b.next > b.end {
		return 0
	}
	return b.end - b.next + 1
}

// Next returns the next piece of the range, or io.EOF when done.
func (b *Body) Next(ctx context.Context) ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.next > b.end {
		b.err = io.EOF
		return nil, io.EOF
	}

	chunk := int64(b.engine.opts.ChunkSize)
	for stalls := 0; ; stalls++ {
		aligned := b.next - b.next%chunk
		offset := aligned
		if b.unaligned {
			offset = b.next
		}
		limit := int(aligned + chunk - offset)

		data, err := b.engine.fetch(ctx, b.ref, offset, limit)
		if err != nil {
			b.err = err
			return nil, err
		}
		skip := b.next - offset
		if int64(len(data)) <= skip {
			// No new bytes: either a short read before our offset or the
			// object is shorter than recorded.
			if b.unaligned || stalls >= b.engine.opts.ChunkAttempts {
				b.err = fmt.Errorf("%w: no data at offset %d of %s", ErrUpstreamRead, b.next, b.token)
				return nil, b.err
			}
			b.unaligned = true
			continue
		}
		out := data[skip:]
		if left := b.end - b.next + 1; int64(len(out)) > left {
			out = out[:left]
		}
		b.next += int64(len(out))
		b.unaligned = len(data) < limit && b.next%chunk != 0
		return out, nil
	}
}

// CopyTo writes the remaining body to w.
func (b *Body) CopyTo(ctx context.Context, w io.Writer) (int64, error) {
	var written int64
	for {
		buf, err := b.Next(ctx)
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
		n, werr := w.Write(buf)
		written += int64(n)
		metrics.RecordBytesStreamed(int64(n))
		if werr != nil {
			return written, werr
		}
	}
}
