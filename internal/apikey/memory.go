package apikey

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aimerfeng/BioLink/internal/models"
	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used for local runs and tests
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[uuid.UUID]*models.APIKey
	logs map[uuid.UUID][]models.RequestLog
	now  func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys: make(map[uuid.UUID]*models.APIKey),
		logs: make(map[uuid.UUID][]models.RequestLog),
		now:  time.Now,
	}
}

func (s *MemoryStore) CreateKey(ctx context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	now := s.now().UTC()
	if key.CreatedAt.IsZero() {
		key.CreatedAt = now
	}
	if key.UpdatedAt.IsZero() {
		key.UpdatedAt = key.CreatedAt
	}

	s.keys[key.ID] = cloneKey(key)
	return nil
}

func (s *MemoryStore) CountActiveKeys(ctx context.Context, userID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, k := range s.keys {
		if k.UserID == userID && k.IsActive {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]*models.APIKey, 0)
	for _, k := range s.keys {
		if k.UserID == userID {
			keys = append(keys, cloneKey(k))
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].ID.String() > keys[j].ID.String()
		}
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

func (s *MemoryStore) GetKey(ctx context.Context, userID, keyID uuid.UUID) (*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[keyID]
	if !ok || k.UserID != userID {
		return nil, ErrKeyNotFound
	}
	return cloneKey(k), nil
}

func (s *MemoryStore) UpdateKey(ctx context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[key.ID]
	if !ok || k.UserID != key.UserID {
		return ErrKeyNotFound
	}
	k.Name = key.Name
	k.Permissions = key.Permissions
	k.IsActive = key.IsActive
	k.UpdatedAt = key.UpdatedAt
	return nil
}

func (s *MemoryStore) DeleteKey(ctx context.Context, userID, keyID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[keyID]
	if !ok || k.UserID != userID {
		return ErrKeyNotFound
	}
	delete(s.keys, keyID)
	delete(s.logs, keyID)
	return nil
}

func (s *MemoryStore) FindActiveByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.APIKey
	for _, k := range s.keys {
		if k.IsActive && k.KeyPrefix == prefix {
			out = append(out, cloneKey(k))
		}
	}
	return out, nil
}

func (s *MemoryStore) RecordUse(ctx context.Context, keyID uuid.UUID, usedAt time.Time, totalRequests int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[keyID]
	if !ok {
		return ErrKeyNotFound
	}
	t := usedAt
	k.LastUsedAt = &t
	k.TotalRequests = totalRequests
	return nil
}

func (s *MemoryStore) InsertRequestLog(ctx context.Context, entry *models.RequestLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[entry.APIKeyID]; !ok {
		return ErrKeyNotFound
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	s.logs[entry.APIKeyID] = append(s.logs[entry.APIKeyID], *entry)
	return nil
}

func (s *MemoryStore) CountRequestsSince(ctx context.Context, keyID uuid.UUID, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, l := range s.logs[keyID] {
		if l.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) OldestRequestSince(ctx context.Context, keyID uuid.UUID, since time.Time) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var oldest time.Time
	for _, l := range s.logs[keyID] {
		if l.CreatedAt.After(since) && (oldest.IsZero() || l.CreatedAt.Before(oldest)) {
			oldest = l.CreatedAt
		}
	}
	return oldest, nil
}

func (s *MemoryStore) UsageSince(ctx context.Context, keyID uuid.UUID, since time.Time) (*Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	usage := &Usage{}
	byEndpoint := make(map[string]*EndpointUsage)
	for i := range s.logs[keyID] {
		l := &s.logs[keyID][i]
		if l.CreatedAt.Before(since) {
			continue
		}
		usage.Total++
		usage.TotalResponseMs += int64(l.ResponseTimeMs)

		e, ok := byEndpoint[l.Endpoint]
		if !ok {
			e = &EndpointUsage{Endpoint: l.Endpoint}
			byEndpoint[l.Endpoint] = e
		}
		e.Requests++
		if l.Succeeded() {
			usage.Successful++
		} else {
			e.Errors++
		}
	}

	usage.Endpoints = make([]EndpointUsage, 0, len(byEndpoint))
	for _, e := range byEndpoint {
		usage.Endpoints = append(usage.Endpoints, *e)
	}
	sortEndpoints(usage.Endpoints)
	return usage, nil
}

func sortEndpoints(endpoints []EndpointUsage) {
	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].Requests != endpoints[j].Requests {
			return endpoints[i].Requests > endpoints[j].Requests
		}
		return endpoints[i].Endpoint < endpoints[j].Endpoint
	})
}

func cloneKey(k *models.APIKey) *models.APIKey {
	c := *k
	if k.ExpiresAt != nil {
		t := *k.ExpiresAt
		c.ExpiresAt = &t
	}
	if k.LastUsedAt != nil {
		t := *k.LastUsedAt
		c.LastUsedAt = &t
	}
	return &c
}
