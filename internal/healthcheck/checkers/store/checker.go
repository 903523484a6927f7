package storechecker

import (
	"context"
	"log/slog"
	"time"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/healthcheck"
)

const (
	checkTypeStore = "store"
	pingTimeout    = 3 * time.Second
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker verifies the shared record store is reachable.
type Checker struct {
	logger *slog.Logger
	pinger Pinger
	driver string
}

func NewChecker(log *slog.Logger, driver string, pinger Pinger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger: log.With(slog.String("checker", "healthcheck_store")),
		pinger: pinger,
		driver: driver,
	}
}

func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	item := healthcheck.CheckResult{
		ID:       checkTypeStore + ".ping",
		Type:     checkTypeStore,
		Subtitle: c.driver,
		Status:   healthcheck.StatusOK,
		Summary:  "Record store is reachable.",
	}
	if c.pinger == nil {
		item.Summary = "Record store is in memory."
		return []healthcheck.CheckResult{item}
	}
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	start := time.Now()
	if err := c.pinger.Ping(pctx); err != nil {
		c.logger.Warn("record store ping failed", slog.Any("error", err))
		item.Status = healthcheck.StatusError
		item.Summary = "Record store is unreachable."
		item.Detail = err.Error()
		return []healthcheck.CheckResult{item}
	}
	item.Metadata = map[string]any{"latency_ms": time.Since(start).Milliseconds()}
	return []healthcheck.CheckResult{item}
}
