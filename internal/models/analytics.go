package models

import (
	"time"

	"github.com/google/uuid"
)

// DayLayout is the ISO calendar date format used to key daily buckets
const DayLayout = "2006-01-02"

// DailyAnalytics is the per (user, calendar day) accumulation of profile activity
type DailyAnalytics struct {
	UserID         uuid.UUID       `json:"user_id" db:"user_id"`
	Day            time.Time       `json:"day" db:"day"`
	ProfileViews   int64           `json:"profile_views" db:"profile_views"`
	LinkClicks     int64           `json:"link_clicks" db:"link_clicks"`
	NewFollowers   int64           `json:"new_followers" db:"new_followers"`
	UniqueVisitors int64           `json:"unique_visitors" db:"unique_visitors"`
	Referrers      []ReferrerCount `json:"referrers,omitempty" db:"-"`
}

// DayKey returns the bucket's ISO date
func (d *DailyAnalytics) DayKey() string {
	return d.Day.Format(DayLayout)
}

// ReferrerCount pairs a referrer source with a visit count
type ReferrerCount struct {
	Source string `json:"source" db:"source"`
	Visits int64  `json:"visits" db:"visits"`
}

// LinkClickCount is the click total for a single profile link
type LinkClickCount struct {
	LinkID uuid.UUID `json:"link_id" db:"link_id"`
	Title  string    `json:"title" db:"title"`
	URL    string    `json:"url" db:"url"`
	Clicks int64     `json:"clicks" db:"clicks"`
}
