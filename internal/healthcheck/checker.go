package healthcheck

import (
	"context"
	"time"
)

const (
	// StatusOK indicates check passed.
	StatusOK = "ok"
	// StatusWarn indicates check completed with warning.
	StatusWarn = "warn"
	// StatusError indicates check failed.
	StatusError = "error"
	// StatusUnknown indicates check result is not yet known.
	StatusUnknown = "unknown"
)

// CheckResult is one runtime check item produced by a checker.
type CheckResult struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Subtitle string         `json:"subtitle,omitempty"`
	Status   string         `json:"status"`
	Summary  string         `json:"summary"`
	Detail   string         `json:"detail,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Checker evaluates one or more runtime checks of this node.
type Checker interface {
	ListChecks(ctx context.Context) []CheckResult
}

// Report is the combined result of every checker.
type Report struct {
	Status    string        `json:"status"`
	CheckedAt time.Time     `json:"checked_at"`
	Checks    []CheckResult `json:"checks"`
}

// Healthy reports whether the node can serve requests.
func (r Report) Healthy() bool { return r.Status != StatusError }

// Run evaluates checkers in order. A check type whose results are all
// errors makes the node unhealthy; any other problem only warns.
func Run(ctx context.Context, checkers ...Checker) Report {
	report := Report{Status: StatusOK, CheckedAt: time.Now().UTC(), Checks: []CheckResult{}}
	byType := map[string][]string{}
	var order []string
	for _, c := range checkers {
		if c == nil {
			continue
		}
		for _, item := range c.ListChecks(ctx) {
			if _, seen := byType[item.Type]; !seen {
				order = append(order, item.Type)
			}
			byType[item.Type] = append(byType[item.Type], item.Status)
			report.Checks = append(report.Checks, item)
		}
	}
	for _, typ := range order {
		switch worst(byType[typ]) {
		case StatusError:
			report.Status = StatusError
		case StatusWarn, StatusUnknown:
			if report.Status == StatusOK {
				report.Status = StatusWarn
			}
		}
	}
	return report
}

// worst is error only when every status is error.
func worst(statuses []string) string {
	errs, warn := 0, false
	for _, s := range statuses {
		switch s {
		case StatusError:
			errs++
		case StatusWarn, StatusUnknown:
			warn = true
		}
	}
	switch {
	case errs == len(statuses):
		return StatusError
	case errs > 0 || warn:
		return StatusWarn
	default:
		return StatusOK
	}
}
