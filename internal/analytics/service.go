package analytics

import (
	"context"
	"time"

	"github.com/aimerfeng/BioLink/internal/models"
	"github.com/aimerfeng/BioLink/internal/monitoring"
	"github.com/aimerfeng/BioLink/internal/tier"
	"github.com/google/uuid"
)

// Defaults for the trailing comparison window and the longest series a caller may ask for
const (
	DefaultComparisonDays = 30
	DefaultMaxWindowDays  = 365
)

// ServiceConfig holds the analytics read settings
type ServiceConfig struct {
	ComparisonDays int
	MaxWindowDays  int
}

// Service answers analytics queries through the tier gate
type Service struct {
	store          Store
	gate           *Gate
	comparisonDays int
	maxWindowDays  int
}

// NewService creates an analytics service
func NewService(store Store, gate *Gate, cfg ServiceConfig) *Service {
	if cfg.ComparisonDays <= 0 {
		cfg.ComparisonDays = DefaultComparisonDays
	}
	if cfg.MaxWindowDays <= 0 {
		cfg.MaxWindowDays = DefaultMaxWindowDays
	}
	return &Service{
		store:          store,
		gate:           gate,
		comparisonDays: cfg.ComparisonDays,
		maxWindowDays:  cfg.MaxWindowDays,
	}
}

// Gate exposes the service's tier gate
func (s *Service) Gate() *Gate {
	return s.gate
}

// Metric is one overview figure compared against the previous period
type Metric struct {
	Current  int64 `json:"current"`
	Previous int64 `json:"previous"`
	Change   int64 `json:"change"`
}

func newMetric(curr, prev int64) Metric {
	return Metric{Current: curr, Previous: prev, Change: CalculateChange(curr, prev)}
}

// Overview summarises the trailing period against the one before it
type Overview struct {
	Realtime       bool      `json:"realtime"`
	Cutoff         time.Time `json:"cutoff"`
	PeriodDays     int       `json:"period_days"`
	ProfileViews   Metric    `json:"profile_views"`
	LinkClicks     Metric    `json:"link_clicks"`
	NewFollowers   Metric    `json:"new_followers"`
	UniqueVisitors Metric    `json:"unique_visitors"`
}

// Overview compares the comparison period ending on the cutoff's calendar day
// with the equally long period immediately before it.
func (s *Service) Overview(ctx context.Context, userID uuid.UUID, t tier.Tier) (*Overview, error) {
	cutoff := s.gate.CutoffDate(t)
	end := startOfDay(cutoff)
	currFrom := end.AddDate(0, 0, -(s.comparisonDays - 1))
	prevTo := currFrom.AddDate(0, 0, -1)
	prevFrom := prevTo.AddDate(0, 0, -(s.comparisonDays - 1))

	buckets, err := s.store.DailyBuckets(ctx, userID, prevFrom, end)
	if err != nil {
		return nil, err
	}

	var curr, prev Delta
	for _, b := range buckets {
		target := &prev
		if !b.Day.Before(currFrom) {
			target = &curr
		}
		target.ProfileViews += b.ProfileViews
		target.LinkClicks += b.LinkClicks
		target.NewFollowers += b.NewFollowers
		target.UniqueVisitors += b.UniqueVisitors
	}

	monitoring.RecordAnalyticsQuery("overview", false)

	return &Overview{
		Realtime:       s.gate.HasRealtimeAnalytics(t),
		Cutoff:         cutoff.UTC(),
		PeriodDays:     s.comparisonDays,
		ProfileViews:   newMetric(curr.ProfileViews, prev.ProfileViews),
		LinkClicks:     newMetric(curr.LinkClicks, prev.LinkClicks),
		NewFollowers:   newMetric(curr.NewFollowers, prev.NewFollowers),
		UniqueVisitors: newMetric(curr.UniqueVisitors, prev.UniqueVisitors),
	}, nil
}

// DailyPoint is one zero-filled day of the series
type DailyPoint struct {
	Date           string `json:"date"`
	ProfileViews   int64  `json:"profile_views"`
	LinkClicks     int64  `json:"link_clicks"`
	NewFollowers   int64  `json:"new_followers"`
	UniqueVisitors int64  `json:"unique_visitors"`
}

// DailySeries is the per-day view of a trailing window
type DailySeries struct {
	Realtime bool         `json:"realtime"`
	Days     int          `json:"days"`
	Points   []DailyPoint `json:"points"`
}

// ClampDays bounds a requested window to [1, MaxWindowDays]
func (s *Service) ClampDays(days int) int {
	if days < 1 {
		return 1
	}
	if days > s.maxWindowDays {
		return s.maxWindowDays
	}
	return days
}

// DailySeries returns one point per visible day of the window, oldest first.
// Days without a bucket are zero; today is absent for delayed tiers.
func (s *Service) DailySeries(ctx context.Context, userID uuid.UUID, t tier.Tier, days int) (*DailySeries, error) {
	days = s.ClampDays(days)
	dates := s.gate.DailyDates(t, days)

	series := &DailySeries{
		Realtime: s.gate.HasRealtimeAnalytics(t),
		Days:     days,
		Points:   make([]DailyPoint, 0, len(dates)),
	}
	if len(dates) == 0 {
		return series, nil
	}

	buckets, err := s.store.DailyBuckets(ctx, userID, dates[0], dates[len(dates)-1])
	if err != nil {
		return nil, err
	}
	byDay := make(map[string]models.DailyAnalytics, len(buckets))
	for _, b := range buckets {
		byDay[b.DayKey()] = b
	}

	for _, d := range dates {
		key := DayKey(d)
		b := byDay[key]
		series.Points = append(series.Points, DailyPoint{
			Date:           key,
			ProfileViews:   b.ProfileViews,
			LinkClicks:     b.LinkClicks,
			NewFollowers:   b.NewFollowers,
			UniqueVisitors: b.UniqueVisitors,
		})
	}

	monitoring.RecordAnalyticsQuery("daily", false)
	return series, nil
}

// LinkBreakdown is per-link click data or an upgrade notice
type LinkBreakdown struct {
	RequiresUpgrade bool                    `json:"requires_upgrade"`
	Message         string                  `json:"message,omitempty"`
	Links           []models.LinkClickCount `json:"links"`
}

// LinkBreakdown returns click totals per link over the trailing window.
// Tiers without realtime analytics get an upgrade notice and no data.
func (s *Service) LinkBreakdown(ctx context.Context, userID uuid.UUID, t tier.Tier, days int) (*LinkBreakdown, error) {
	if !s.gate.HasRealtimeAnalytics(t) {
		monitoring.RecordAnalyticsQuery("links", true)
		return &LinkBreakdown{
			RequiresUpgrade: true,
			Message:         LinkAnalyticsUpgradeMessage,
			Links:           []models.LinkClickCount{},
		}, nil
	}

	from, to := s.window(days)
	links, err := s.store.LinkClicks(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}

	monitoring.RecordAnalyticsQuery("links", false)
	return &LinkBreakdown{Links: links}, nil
}

// ReferrerBreakdown is per-source visit data or an upgrade notice
type ReferrerBreakdown struct {
	RequiresUpgrade bool                   `json:"requires_upgrade"`
	Message         string                 `json:"message,omitempty"`
	Referrers       []models.ReferrerCount `json:"referrers"`
}

// Referrers returns visit totals per referrer source over the trailing window.
// Tiers without realtime analytics get an upgrade notice and no data.
func (s *Service) Referrers(ctx context.Context, userID uuid.UUID, t tier.Tier, days int) (*ReferrerBreakdown, error) {
	if !s.gate.HasRealtimeAnalytics(t) {
		monitoring.RecordAnalyticsQuery("referrers", true)
		return &ReferrerBreakdown{
			RequiresUpgrade: true,
			Message:         ReferrerUpgradeMessage,
			Referrers:       []models.ReferrerCount{},
		}, nil
	}

	from, to := s.window(days)
	refs, err := s.store.Referrers(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}

	monitoring.RecordAnalyticsQuery("referrers", false)
	return &ReferrerBreakdown{Referrers: refs}, nil
}

// window returns the inclusive day range of a trailing window ending today
func (s *Service) window(days int) (time.Time, time.Time) {
	days = s.ClampDays(days)
	today := s.gate.Today()
	return today.AddDate(0, 0, -(days - 1)), today
}
