package analytics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aimerfeng/BioLink/internal/models"
	"github.com/aimerfeng/BioLink/internal/tier"
	"github.com/shopspring/decimal"
)

// Upgrade messages returned in place of gated read results
const (
	LinkAnalyticsUpgradeMessage = "Per-link click analytics are available on Pro, Creator and Lifetime plans. Upgrade to see which of your links get clicked."
	ReferrerUpgradeMessage      = "Referrer analytics are available on Pro, Creator and Lifetime plans. Upgrade to see where your visitors come from."
)

// ErrTierRequired matches any TierRequiredError via errors.Is
var ErrTierRequired = errors.New("tier required")

// TierRequiredError is a hard authorization failure for privileged analytics actions
type TierRequiredError struct {
	Feature  string
	Required tier.Tier
}

func (e *TierRequiredError) Error() string {
	return fmt.Sprintf("%s requires the %s plan or higher", e.Feature, e.Required)
}

// Is lets errors.Is(err, ErrTierRequired) match
func (e *TierRequiredError) Is(target error) bool {
	return target == ErrTierRequired
}

// HTTPStatus is always 403
func (e *TierRequiredError) HTTPStatus() int { return http.StatusForbidden }

// Code is the machine-readable discriminant
func (e *TierRequiredError) Code() string { return "TIER_REQUIRED" }

// Gate decides what analytics a tier may see. It holds no per-call state.
type Gate struct {
	tiers *tier.Table
	now   func() time.Time
}

// NewGate creates a gate over the given tier table
func NewGate(tiers *tier.Table) *Gate {
	return &Gate{tiers: tiers, now: time.Now}
}

// WithClock returns a copy of the gate that reads time from now
func (g *Gate) WithClock(now func() time.Time) *Gate {
	c := *g
	c.now = now
	return &c
}

// Now returns the gate's current time
func (g *Gate) Now() time.Time {
	return g.now()
}

// HasRealtimeAnalytics reports whether t sees analytics without delay
func (g *Gate) HasRealtimeAnalytics(t tier.Tier) bool {
	return g.tiers.HasRealtimeAnalytics(t)
}

// CutoffDate is the newest instant whose data t may see
func (g *Gate) CutoffDate(t tier.Tier) time.Time {
	now := g.now()
	if g.HasRealtimeAnalytics(t) {
		return now
	}
	return now.Add(-g.tiers.AnalyticsDelay())
}

// RealtimeTier returns the lowest tier that has realtime analytics
func (g *Gate) RealtimeTier() tier.Tier {
	for _, t := range tier.All {
		if g.tiers.HasRealtimeAnalytics(t) {
			return t
		}
	}
	return tier.Lifetime
}

// RequireRealtime fails with a TierRequiredError when t lacks realtime analytics
func (g *Gate) RequireRealtime(t tier.Tier, feature string) error {
	if g.HasRealtimeAnalytics(t) {
		return nil
	}
	return &TierRequiredError{Feature: feature, Required: g.RealtimeTier()}
}

// Today returns the current UTC calendar day at midnight
func (g *Gate) Today() time.Time {
	return startOfDay(g.now())
}

// DailyDates lists the calendar days of a window of `days` days ending today,
// ascending. Tiers without realtime analytics never see today, so it is dropped
// rather than zero-filled.
func (g *Gate) DailyDates(t tier.Tier, days int) []time.Time {
	if days <= 0 {
		return []time.Time{}
	}

	today := g.Today()
	start := today.AddDate(0, 0, -(days - 1))
	end := today
	if !g.HasRealtimeAnalytics(t) {
		end = today.AddDate(0, 0, -1)
	}

	dates := make([]time.Time, 0, days)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates
}

// CalculateChange returns the rounded percentage change from prev to curr.
// With no previous activity the change is 100 if anything appeared, else 0.
// Halves round toward positive infinity.
func CalculateChange(curr, prev int64) int64 {
	if prev == 0 {
		if curr > 0 {
			return 100
		}
		return 0
	}

	pct := decimal.NewFromInt(curr - prev).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(prev))

	return pct.Add(decimal.New(5, -1)).Floor().IntPart()
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DayKey formats a day the way buckets are keyed
func DayKey(t time.Time) string {
	return t.UTC().Format(models.DayLayout)
}
