// Package keepalive periodically requests the node's own public health
// endpoint so hosts that idle out quiet services keep it running.
package keepalive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
)

const requestTimeout = 10 * time.Second

type Pinger struct {
	url      string
	interval time.Duration
	client   *http.Client
	logger   *slog.Logger

	cron *cron.Cron
}

// New returns a Pinger for publicURL+"health". A non-positive interval
// disables it.
func New(log *slog.Logger, publicURL string, interval time.Duration, client *http.Client) *Pinger {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	return &Pinger{
		url:      publicURL + "health",
		interval: interval,
		client:   client,
		logger:   log.With(slog.String("component", "keepalive")),
	}
}

func (p *Pinger) Enabled() bool { return p.interval > 0 }

func (p *Pinger) Start(_ context.Context) error {
	if !p.Enabled() {
		p.logger.Info("keepalive disabled")
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", p.interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			p.logger.Warn("keepalive ping failed", slog.String("url", p.url), slog.Any("error", err))
		}
	}); err != nil {
		return fmt.Errorf("schedule keepalive: %w", err)
	}
	c.Start()
	p.cron = c
	p.logger.Info("keepalive started", slog.String("url", p.url), slog.Duration("interval", p.interval))
	return nil
}

// Stop waits for a running ping to finish, bounded by ctx.
func (p *Pinger) Stop(ctx context.Context) error {
	if p.cron == nil {
		return nil
	}
	select {
	case <-p.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping issues one HEAD request and fails on any non-2xx answer.
func (p *Pinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	p.logger.Debug("keepalive ok", slog.String("url", p.url))
	return nil
}
