package analytics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/aimerfeng/BioLink/internal/cache"
	"github.com/aimerfeng/BioLink/internal/logging"
	"github.com/aimerfeng/BioLink/internal/monitoring"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Referrer sources that are not hosts
const (
	SourceDirect = "direct"
	SourceOther  = "other"
)

// VisitorDeduper reports whether a visitor is seen for the first time on a day
type VisitorDeduper interface {
	FirstVisit(ctx context.Context, userID uuid.UUID, day time.Time, fingerprint string) (bool, error)
}

// Tracker records profile events into today's bucket
type Tracker struct {
	store   Store
	deduper VisitorDeduper
	now     func() time.Time
	logger  zerolog.Logger
}

// NewTracker creates a tracker. A nil deduper counts every view as unique.
func NewTracker(store Store, deduper VisitorDeduper) *Tracker {
	return &Tracker{
		store:   store,
		deduper: deduper,
		now:     time.Now,
		logger:  logging.NewLogger("analytics.tracker"),
	}
}

// WithClock returns a copy of the tracker that reads time from now
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	c := *t
	c.now = now
	return &c
}

// RecordProfileView counts a profile view, its referrer source and, for a
// visitor not yet seen today, a unique visitor.
func (t *Tracker) RecordProfileView(ctx context.Context, userID uuid.UUID, referrer, fingerprint string) error {
	day := startOfDay(t.now())

	unique := true
	if t.deduper != nil && fingerprint != "" {
		first, err := t.deduper.FirstVisit(ctx, userID, day, fingerprint)
		if err != nil {
			t.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("Visitor de-duplication unavailable, counting view as unique")
		} else {
			unique = first
		}
	}

	d := Delta{ProfileViews: 1}
	if unique {
		d.UniqueVisitors = 1
	}
	if err := t.store.IncrementDaily(ctx, userID, day, d); err != nil {
		return err
	}
	if err := t.store.IncrementReferrer(ctx, userID, day, NormalizeReferrer(referrer)); err != nil {
		return err
	}

	monitoring.RecordTrackedEvent("profile_view")
	return nil
}

// RecordLinkClick counts a click on one of the user's links
func (t *Tracker) RecordLinkClick(ctx context.Context, userID, linkID uuid.UUID) error {
	day := startOfDay(t.now())

	if err := t.store.IncrementLinkClick(ctx, userID, linkID, day); err != nil {
		return err
	}
	if err := t.store.IncrementDaily(ctx, userID, day, Delta{LinkClicks: 1}); err != nil {
		return err
	}

	monitoring.RecordTrackedEvent("link_click")
	return nil
}

// RecordFollow counts a new follower
func (t *Tracker) RecordFollow(ctx context.Context, userID uuid.UUID) error {
	if err := t.store.IncrementDaily(ctx, userID, startOfDay(t.now()), Delta{NewFollowers: 1}); err != nil {
		return err
	}
	monitoring.RecordTrackedEvent("follow")
	return nil
}

// NormalizeReferrer reduces a Referer header to a lowercase host without
// "www." or port. Empty means direct; anything unparseable is other.
func NormalizeReferrer(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SourceDirect
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return SourceOther
	}

	host := u.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	if host == "" {
		return SourceOther
	}
	return host
}

// Fingerprint derives an opaque visitor id from client attributes
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:16])
}

// RedisVisitorDeduper keeps one Redis set of fingerprints per (user, day)
type RedisVisitorDeduper struct {
	redis    *cache.Redis
	breakers *cache.BreakerManager
	ttl      time.Duration
}

// NewRedisVisitorDeduper creates a deduper whose sets outlive their day by a margin
func NewRedisVisitorDeduper(r *cache.Redis, breakers *cache.BreakerManager) *RedisVisitorDeduper {
	if breakers == nil {
		breakers = cache.NewBreakerManager(nil)
	}
	return &RedisVisitorDeduper{redis: r, breakers: breakers, ttl: 48 * time.Hour}
}

func visitorsKey(userID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("analytics:visitors:%s:%s", userID, DayKey(day))
}

func (d *RedisVisitorDeduper) FirstVisit(ctx context.Context, userID uuid.UUID, day time.Time, fingerprint string) (bool, error) {
	res, err := d.breakers.Execute(ctx, "visitor-dedup", func() (any, error) {
		return d.redis.AddToSet(ctx, visitorsKey(userID, day), fingerprint, d.ttl)
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}
