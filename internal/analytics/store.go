package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/aimerfeng/BioLink/internal/models"
	"github.com/google/uuid"
)

// ErrLinkNotFound is returned when a click names a link the user does not own
var ErrLinkNotFound = errors.New("link not found")

// Delta is an increment applied to one daily bucket
type Delta struct {
	ProfileViews   int64
	LinkClicks     int64
	NewFollowers   int64
	UniqueVisitors int64
}

// Store reads and increments per-day analytics buckets.
// Day arguments are UTC midnights and ranges are inclusive on both ends.
type Store interface {
	// DailyBuckets returns the existing buckets in [from, to], ascending by day
	DailyBuckets(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]models.DailyAnalytics, error)
	// LinkClicks returns per-link click totals in [from, to], most clicked first
	LinkClicks(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]models.LinkClickCount, error)
	// Referrers returns per-source visit totals in [from, to], most visits first
	Referrers(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]models.ReferrerCount, error)

	// IncrementDaily upserts the bucket for (userID, day)
	IncrementDaily(ctx context.Context, userID uuid.UUID, day time.Time, d Delta) error
	IncrementReferrer(ctx context.Context, userID uuid.UUID, day time.Time, source string) error
	// IncrementLinkClick returns ErrLinkNotFound when linkID is not one of the user's links
	IncrementLinkClick(ctx context.Context, userID, linkID uuid.UUID, day time.Time) error
}
