package apikey

import (
	"context"
	"time"

	"github.com/aimerfeng/BioLink/internal/models"
	"github.com/google/uuid"
)

// Store persists API keys and their append-only request log
type Store interface {
	// CreateKey inserts key, filling ID and timestamps when they are zero
	CreateKey(ctx context.Context, key *models.APIKey) error
	CountActiveKeys(ctx context.Context, userID uuid.UUID) (int, error)
	// ListKeys returns the user's keys, newest first
	ListKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	// GetKey returns ErrKeyNotFound when the key does not exist or belongs to someone else
	GetKey(ctx context.Context, userID, keyID uuid.UUID) (*models.APIKey, error)
	// UpdateKey persists name, permissions, is_active and updated_at
	UpdateKey(ctx context.Context, key *models.APIKey) error
	DeleteKey(ctx context.Context, userID, keyID uuid.UUID) error

	// FindActiveByPrefix returns every active key sharing the lookup prefix
	FindActiveByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	// RecordUse stores the last-used time and the lifetime request total
	RecordUse(ctx context.Context, keyID uuid.UUID, usedAt time.Time, totalRequests int64) error

	InsertRequestLog(ctx context.Context, entry *models.RequestLog) error
	// CountRequestsSince counts log entries created strictly after since
	CountRequestsSince(ctx context.Context, keyID uuid.UUID, since time.Time) (int64, error)
	// OldestRequestSince returns the earliest entry time after since, or zero if none
	OldestRequestSince(ctx context.Context, keyID uuid.UUID, since time.Time) (time.Time, error)
	// UsageSince aggregates the log for a key over entries created at or after since
	UsageSince(ctx context.Context, keyID uuid.UUID, since time.Time) (*Usage, error)
}

// Usage is the raw aggregate a Store returns for usage statistics
type Usage struct {
	Total           int64
	Successful      int64
	TotalResponseMs int64
	Endpoints       []EndpointUsage
}

// EndpointUsage is the request and error count for one endpoint path
type EndpointUsage struct {
	Endpoint string `json:"endpoint"`
	Requests int64  `json:"requests"`
	Errors   int64  `json:"errors"`
}
