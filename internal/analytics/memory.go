package analytics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aimerfeng/BioLink/internal/models"
	"github.com/google/uuid"
)

type bucketKey struct {
	userID uuid.UUID
	day    string
}

type linkKey struct {
	linkID uuid.UUID
	day    string
}

type memoryLink struct {
	userID uuid.UUID
	title  string
	url    string
}

// MemoryStore is an in-process Store used for local runs and tests
type MemoryStore struct {
	mu        sync.RWMutex
	buckets   map[bucketKey]*models.DailyAnalytics
	referrers map[bucketKey]map[string]int64
	links     map[uuid.UUID]memoryLink
	clicks    map[linkKey]int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets:   make(map[bucketKey]*models.DailyAnalytics),
		referrers: make(map[bucketKey]map[string]int64),
		links:     make(map[uuid.UUID]memoryLink),
		clicks:    make(map[linkKey]int64),
	}
}

// PutLink registers a profile link so clicks on it can be recorded
func (s *MemoryStore) PutLink(userID, linkID uuid.UUID, title, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[linkID] = memoryLink{userID: userID, title: title, url: url}
}

func inRange(day string, from, to time.Time) bool {
	return day >= DayKey(from) && day <= DayKey(to)
}

func (s *MemoryStore) DailyBuckets(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]models.DailyAnalytics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.DailyAnalytics, 0)
	for k, b := range s.buckets {
		if k.userID == userID && inRange(k.day, from, to) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func (s *MemoryStore) LinkClicks(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]models.LinkClickCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[uuid.UUID]int64)
	for k, n := range s.clicks {
		link, ok := s.links[k.linkID]
		if ok && link.userID == userID && inRange(k.day, from, to) {
			totals[k.linkID] += n
		}
	}

	out := make([]models.LinkClickCount, 0, len(totals))
	for id, n := range totals {
		link := s.links[id]
		out = append(out, models.LinkClickCount{LinkID: id, Title: link.title, URL: link.url, Clicks: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Clicks != out[j].Clicks {
			return out[i].Clicks > out[j].Clicks
		}
		return out[i].Title < out[j].Title
	})
	return out, nil
}

func (s *MemoryStore) Referrers(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]models.ReferrerCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[string]int64)
	for k, sources := range s.referrers {
		if k.userID != userID || !inRange(k.day, from, to) {
			continue
		}
		for source, n := range sources {
			totals[source] += n
		}
	}

	out := make([]models.ReferrerCount, 0, len(totals))
	for source, n := range totals {
		out = append(out, models.ReferrerCount{Source: source, Visits: n})
	}
	sortReferrers(out)
	return out, nil
}

func sortReferrers(refs []models.ReferrerCount) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Visits != refs[j].Visits {
			return refs[i].Visits > refs[j].Visits
		}
		return refs[i].Source < refs[j].Source
	})
}

func (s *MemoryStore) IncrementDaily(ctx context.Context, userID uuid.UUID, day time.Time, d Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := bucketKey{userID: userID, day: DayKey(day)}
	b, ok := s.buckets[k]
	if !ok {
		b = &models.DailyAnalytics{UserID: userID, Day: startOfDay(day)}
		s.buckets[k] = b
	}
	b.ProfileViews += d.ProfileViews
	b.LinkClicks += d.LinkClicks
	b.NewFollowers += d.NewFollowers
	b.UniqueVisitors += d.UniqueVisitors
	return nil
}

func (s *MemoryStore) IncrementReferrer(ctx context.Context, userID uuid.UUID, day time.Time, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := bucketKey{userID: userID, day: DayKey(day)}
	if s.referrers[k] == nil {
		s.referrers[k] = make(map[string]int64)
	}
	s.referrers[k][source]++
	return nil
}

func (s *MemoryStore) IncrementLinkClick(ctx context.Context, userID, linkID uuid.UUID, day time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[linkID]
	if !ok || link.userID != userID {
		return ErrLinkNotFound
	}
	s.clicks[linkKey{linkID: linkID, day: DayKey(day)}]++
	return nil
}

// MemoryVisitorDeduper remembers fingerprints for the current and previous
// day only; older sets are dropped as days roll over.
type MemoryVisitorDeduper struct {
	mu   sync.Mutex
	seen map[string]map[bucketKey]map[string]struct{}
}

// NewMemoryVisitorDeduper creates an empty in-process deduper
func NewMemoryVisitorDeduper() *MemoryVisitorDeduper {
	return &MemoryVisitorDeduper{seen: make(map[string]map[bucketKey]map[string]struct{})}
}

func (d *MemoryVisitorDeduper) FirstVisit(ctx context.Context, userID uuid.UUID, day time.Time, fingerprint string) (bool, error) {
	key := DayKey(day)
	d.mu.Lock()
	defer d.mu.Unlock()

	byUser, ok := d.seen[key]
	if !ok {
		prev := DayKey(day.AddDate(0, 0, -1))
		for k := range d.seen {
			if k < prev {
				delete(d.seen, k)
			}
		}
		byUser = make(map[bucketKey]map[string]struct{})
		d.seen[key] = byUser
	}

	bk := bucketKey{userID: userID, day: key}
	set, ok := byUser[bk]
	if !ok {
		set = make(map[string]struct{})
		byUser[bk] = set
	}
	if _, dup := set[fingerprint]; dup {
		return false, nil
	}
	set[fingerprint] = struct{}{}
	return true, nil
}
