package poolchecker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/healthcheck"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/pool"
)

const checkTypeSession = "pool.session"

// SnapshotSource reads the state of backend sessions.
type SnapshotSource interface {
	Snapshot() []pool.Status
}

// Checker reports one check per backend session.
type Checker struct {
	logger *slog.Logger
	source SnapshotSource
	now    func() time.Time
}

func NewChecker(log *slog.Logger, source SnapshotSource) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger: log.With(slog.String("checker", "healthcheck_pool")),
		source: source,
		now:    time.Now,
	}
}

func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if err := ctx.Err(); err != nil {
		return []healthcheck.CheckResult{}
	}
	if c.source == nil {
		c.logger.Warn("pool healthcheck dependency is unavailable")
		return []healthcheck.CheckResult{{
			ID:      checkTypeSession + ".service",
			Type:    checkTypeSession,
			Status:  healthcheck.StatusError,
			Summary: "Session pool is not available.",
		}}
	}

	statuses := c.source.Snapshot()
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	now := c.now()
	checks := make([]healthcheck.CheckResult, 0, len(statuses))
	for _, s := range statuses {
		item := healthcheck.CheckResult{
			ID:       checkTypeSession + "." + s.Name,
			Type:     checkTypeSession,
			Subtitle: string(s.Role),
			Metadata: map[string]any{
				"health": string(s.Health),
				"in_use": s.InUse,
			},
		}
		if !s.LastUsed.IsZero() {
			item.Metadata["last_used"] = s.LastUsed.UTC().Format(time.RFC3339)
		}
		switch s.Health {
		case pool.HealthActive:
			item.Status = healthcheck.StatusOK
			item.Summary = fmt.Sprintf("Session %s is active.", s.Name)
		case pool.HealthDegraded:
			item.Status = healthcheck.StatusWarn
			item.Summary = fmt.Sprintf("Session %s is cooling down.", s.Name)
			if wait := s.DegradedUntil.Sub(now); wait > 0 {
				item.Detail = fmt.Sprintf("usable again in %s", wait.Round(time.Second))
			}
		default:
			item.Status = healthcheck.StatusError
			item.Summary = fmt.Sprintf("Session %s is dead.", s.Name)
			item.Detail = "authentication failed; check the bot token"
		}
		checks = append(checks, item)
	}
	return checks
}
