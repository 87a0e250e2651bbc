package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aimerfeng/BioLink/internal/tier"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type setDeduper struct {
	seen map[string]bool
	err  error
}

func (d *setDeduper) FirstVisit(ctx context.Context, userID uuid.UUID, day time.Time, fingerprint string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	key := userID.String() + DayKey(day) + fingerprint
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

func TestNormalizeReferrer(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", SourceDirect},
		{"   ", SourceDirect},
		{"https://www.Instagram.com/p/abc", "instagram.com"},
		{"http://t.co:8080/x", "t.co"},
		{"google.com/search?q=me", "google.com"},
		{"HTTPS://WWW.YouTube.COM", "youtube.com"},
		{"http://[::1]:3000/", "::1"},
		{"http://%zz", SourceOther},
		{"://", SourceOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeReferrer(tt.raw), "NormalizeReferrer(%q)", tt.raw)
	}
}

func TestRecordProfileView_DedupesVisitors(t *testing.T) {
	store := NewMemoryStore()
	tracker := NewTracker(store, &setDeduper{seen: map[string]bool{}}).WithClock(fixedClock(testNow))
	ctx := context.Background()
	userID := uuid.New()

	fp := Fingerprint("203.0.113.7", "Mozilla/5.0")
	require.NoError(t, tracker.RecordProfileView(ctx, userID, "https://www.tiktok.com/@me", fp))
	require.NoError(t, tracker.RecordProfileView(ctx, userID, "", fp))
	require.NoError(t, tracker.RecordProfileView(ctx, userID, "", Fingerprint("198.51.100.2", "curl")))

	buckets, err := store.DailyBuckets(ctx, userID, testNow, testNow)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, int64(3), buckets[0].ProfileViews)
	assert.Equal(t, int64(2), buckets[0].UniqueVisitors)

	refs, err := store.Referrers(ctx, userID, testNow, testNow)
	require.NoError(t, err)
	assert.Equal(t, []string{SourceDirect, "tiktok.com"}, []string{refs[0].Source, refs[1].Source})
	assert.Equal(t, int64(2), refs[0].Visits)
}

func TestRecordProfileView_DeduperFailureCountsUnique(t *testing.T) {
	store := NewMemoryStore()
	tracker := NewTracker(store, &setDeduper{err: errors.New("redis down")}).WithClock(fixedClock(testNow))
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, tracker.RecordProfileView(ctx, userID, "", "fp"))
	require.NoError(t, tracker.RecordProfileView(ctx, userID, "", "fp"))

	buckets, err := store.DailyBuckets(ctx, userID, testNow, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(2), buckets[0].UniqueVisitors)
}

func TestRecordLinkClick(t *testing.T) {
	store := NewMemoryStore()
	tracker := NewTracker(store, nil).WithClock(fixedClock(testNow))
	ctx := context.Background()
	owner, other := uuid.New(), uuid.New()
	linkID := uuid.New()
	store.PutLink(owner, linkID, "Blog", "https://blog.example.com")

	require.NoError(t, tracker.RecordLinkClick(ctx, owner, linkID))
	assert.ErrorIs(t, tracker.RecordLinkClick(ctx, other, linkID), ErrLinkNotFound)
	assert.ErrorIs(t, tracker.RecordLinkClick(ctx, owner, uuid.New()), ErrLinkNotFound)

	buckets, err := store.DailyBuckets(ctx, owner, testNow, testNow)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, int64(1), buckets[0].LinkClicks)

	buckets, err = store.DailyBuckets(ctx, other, testNow, testNow)
	require.NoError(t, err)
	assert.Empty(t, buckets)
}

// Whatever is tracked today shows up for realtime tiers and never for delayed ones
func TestProperty_TrackedTodayVisibility(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		store := NewMemoryStore()
		tracker := NewTracker(store, nil).WithClock(fixedClock(testNow))
		gate := NewGate(tier.DefaultTable()).WithClock(fixedClock(testNow))
		svc := NewService(store, gate, ServiceConfig{})
		ctx := context.Background()
		userID := uuid.New()

		views := rapid.IntRange(0, 20).Draw(rt, "views")
		follows := rapid.IntRange(0, 20).Draw(rt, "follows")
		for i := 0; i < views; i++ {
			require.NoError(rt, tracker.RecordProfileView(ctx, userID, "", ""))
		}
		for i := 0; i < follows; i++ {
			require.NoError(rt, tracker.RecordFollow(ctx, userID))
		}

		tr := rapid.SampledFrom(tier.All).Draw(rt, "tier")
		ov, err := svc.Overview(ctx, userID, tr)
		require.NoError(rt, err)

		if gate.HasRealtimeAnalytics(tr) {
			assert.Equal(rt, int64(views), ov.ProfileViews.Current)
			assert.Equal(rt, int64(follows), ov.NewFollowers.Current)
		} else {
			assert.Zero(rt, ov.ProfileViews.Current)
			assert.Zero(rt, ov.NewFollowers.Current)
		}
	})
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("1.2.3.4", "ua")
	assert.Len(t, a, 32)
	assert.Equal(t, a, Fingerprint("1.2.3.4", "ua"))
	assert.NotEqual(t, a, Fingerprint("1.2.3.4", "other"))
}

func TestMemoryVisitorDeduper(t *testing.T) {
	d := NewMemoryVisitorDeduper()
	ctx := context.Background()
	user := uuid.New()
	today := day(2025, 3, 15)

	first, err := d.FirstVisit(ctx, user, today, "fp")
	require.NoError(t, err)
	assert.True(t, first)
	first, _ = d.FirstVisit(ctx, user, today, "fp")
	assert.False(t, first)
	first, _ = d.FirstVisit(ctx, uuid.New(), today, "fp")
	assert.True(t, first, "sets are per user")
	first, _ = d.FirstVisit(ctx, user, today.AddDate(0, 0, 1), "fp")
	assert.True(t, first, "sets are per day")

	_, _ = d.FirstVisit(ctx, user, today.AddDate(0, 0, 3), "fp")
	assert.Len(t, d.seen, 1, "stale days are dropped")
}
