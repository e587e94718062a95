package entitlement

import (
	"fmt"
	"strings"
	"time"
)

// ResetPeriod controls how often free-tier counters start over.
type ResetPeriod string

const (
	ResetNever   ResetPeriod = "never"
	ResetDaily   ResetPeriod = "daily"
	ResetMonthly ResetPeriod = "monthly"
)

// epoch is the window start used when counters never reset.
var epoch = time.Unix(0, 0).UTC()

func ParseResetPeriod(s string) (ResetPeriod, error) {
	p := ResetPeriod(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case ResetNever, ResetDaily, ResetMonthly:
		return p, nil
	case "":
		return ResetDaily, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidResetPeriod, s)
}

// UnmarshalText lets env and YAML decoders parse the period directly.
func (p *ResetPeriod) UnmarshalText(b []byte) error {
	parsed, err := ParseResetPeriod(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// WindowStart returns the UTC start of the window containing now.
func (p ResetPeriod) WindowStart(now time.Time) time.Time {
	now = now.UTC()
	switch p {
	case ResetDaily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case ResetMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return epoch
	}
}

// WindowEnd returns when the window containing now closes, or nil for ResetNever.
func (p ResetPeriod) WindowEnd(now time.Time) *time.Time {
	start := p.WindowStart(now)
	var end time.Time
	switch p {
	case ResetDaily:
		end = start.AddDate(0, 0, 1)
	case ResetMonthly:
		end = start.AddDate(0, 1, 0)
	default:
		return nil
	}
	return &end
}
