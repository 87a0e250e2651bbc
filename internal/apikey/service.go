package apikey

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/aimerfeng/BioLink/internal/logging"
	"github.com/aimerfeng/BioLink/internal/models"
	"github.com/aimerfeng/BioLink/internal/monitoring"
	"github.com/aimerfeng/BioLink/internal/tier"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Service errors
var (
	ErrKeyNotFound      = errors.New("API key not found")
	ErrKeyLimitReached  = errors.New("API key limit reached")
	ErrNameRequired     = errors.New("name is required")
	ErrNameTooLong      = errors.New("name must be at most 100 characters")
	ErrInvalidRateLimit = errors.New("rate_limit must be a positive number of requests")
	ErrInvalidExpiry    = errors.New("expires_in_days must be a positive number of days")
	ErrInvalidDays      = errors.New("days must be between 1 and 365")
)

// Validation failure messages. Clients match on these exact strings.
const (
	MsgInvalidKey  = "Invalid API key"
	MsgExpiredKey  = "API key expired"
	MsgRateLimited = "Rate limit exceeded"
)

const (
	MaxNameLength = 100
	MaxStatsDays  = 365
	// DefaultRateLimitWindow is the window assigned to every new key
	DefaultRateLimitWindow = 3600 * time.Second
)

// QuotaExceededError is returned when a user already holds the tier's maximum of active keys
type QuotaExceededError struct {
	Tier  tier.Tier
	Limit int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("API key limit reached: the %s plan allows %d active keys", e.Tier, e.Limit)
}

// Is lets errors.Is(err, ErrKeyLimitReached) match
func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrKeyLimitReached
}

// Config holds the service's tunables
type Config struct {
	Format          KeyFormat
	RateLimitWindow time.Duration
}

// DefaultConfig returns the production key format and window
func DefaultConfig() Config {
	return Config{Format: DefaultKeyFormat(), RateLimitWindow: DefaultRateLimitWindow}
}

// Option customises a Service
type Option func(*Service)

// WithCounter replaces the default log-table window counter
func WithCounter(c WindowCounter) Option {
	return func(s *Service) { s.counter = c }
}

// WithClock injects the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service issues, validates and retires API keys
type Service struct {
	store   Store
	counter WindowCounter
	tiers   *tier.Table
	hasher  Hasher
	format  KeyFormat
	window  time.Duration
	now     func() time.Time
	logger  zerolog.Logger

	decoyOnce sync.Once
	decoy     string
}

// NewService creates a new API key service
func NewService(store Store, tiers *tier.Table, hasher Hasher, cfg Config, opts ...Option) *Service {
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = DefaultRateLimitWindow
	}
	s := &Service{
		store:   store,
		counter: NewLogCounter(store),
		tiers:   tiers,
		hasher:  hasher,
		format:  cfg.Format,
		window:  cfg.RateLimitWindow,
		now:     time.Now,
		logger:  logging.NewLogger("apikey"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Format returns the token shape this service issues
func (s *Service) Format() KeyFormat {
	return s.format
}

// CreateRequest represents a request to create an API key
type CreateRequest struct {
	Name          string            `json:"name"`
	Permissions   *PermissionsPatch `json:"permissions,omitempty"`
	RateLimit     *int              `json:"rate_limit,omitempty"`
	ExpiresInDays *int              `json:"expires_in_days,omitempty"`
}

// CreateResponse carries the plaintext key. It is the only time the key is ever returned.
type CreateResponse struct {
	ID              uuid.UUID          `json:"id"`
	Name            string             `json:"name"`
	Key             string             `json:"key"`
	KeyPrefix       string             `json:"key_prefix"`
	Permissions     models.Permissions `json:"permissions"`
	RateLimit       int                `json:"rate_limit"`
	RateLimitWindow int                `json:"rate_limit_window"`
	ExpiresAt       *time.Time         `json:"expires_at"`
	CreatedAt       time.Time          `json:"created_at"`
}

// UpdateRequest patches an existing key; nil fields are left alone
type UpdateRequest struct {
	Name        *string           `json:"name,omitempty"`
	Permissions *PermissionsPatch `json:"permissions,omitempty"`
	IsActive    *bool             `json:"is_active,omitempty"`
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNameRequired
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", ErrNameTooLong
	}
	return name, nil
}

// checkQuota fails when the user already holds the tier's maximum of active keys
func (s *Service) checkQuota(ctx context.Context, userID uuid.UUID, t tier.Tier) error {
	count, err := s.store.CountActiveKeys(ctx, userID)
	if err != nil {
		return err
	}
	limit := s.tiers.MaxAPIKeys(t)
	if count >= limit {
		monitoring.RecordKeyQuotaDenied(t.String())
		return &QuotaExceededError{Tier: t, Limit: limit}
	}
	return nil
}

// Create issues a new key for a user
func (s *Service) Create(ctx context.Context, userID uuid.UUID, t tier.Tier, req *CreateRequest) (*CreateResponse, error) {
	name, err := validateName(req.Name)
	if err != nil {
		return nil, err
	}
	if req.RateLimit != nil && *req.RateLimit <= 0 {
		return nil, ErrInvalidRateLimit
	}
	if req.ExpiresInDays != nil && *req.ExpiresInDays <= 0 {
		return nil, ErrInvalidExpiry
	}

	if err := s.checkQuota(ctx, userID, t); err != nil {
		return nil, err
	}

	token, prefix, err := s.format.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate API key: %w", err)
	}
	hash, err := s.hasher.Hash(token)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rateLimit := s.tiers.DefaultRateLimit(t)
	if req.RateLimit != nil {
		rateLimit = *req.RateLimit
	}
	var expiresAt *time.Time
	if req.ExpiresInDays != nil {
		e := now.Add(time.Duration(*req.ExpiresInDays) * 24 * time.Hour)
		expiresAt = &e
	}

	key := &models.APIKey{
		UserID:          userID,
		Name:            name,
		KeyPrefix:       prefix,
		KeyHash:         hash,
		Permissions:     MergePermissions(DefaultPermissions(), req.Permissions),
		RateLimit:       rateLimit,
		RateLimitWindow: int(s.window / time.Second),
		IsActive:        true,
		ExpiresAt:       expiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateKey(ctx, key); err != nil {
		return nil, err
	}

	monitoring.RecordKeyCreated(t.String())
	s.logger.Info().
		Str("user_id", userID.String()).
		Str("api_key_id", key.ID.String()).
		Str("key_prefix", key.KeyPrefix).
		Msg("API key created")

	return &CreateResponse{
		ID:              key.ID,
		Name:            key.Name,
		Key:             token,
		KeyPrefix:       key.KeyPrefix,
		Permissions:     key.Permissions,
		RateLimit:       key.RateLimit,
		RateLimitWindow: key.RateLimitWindow,
		ExpiresAt:       key.ExpiresAt,
		CreatedAt:       key.CreatedAt,
	}, nil
}

// List returns all of a user's keys, newest first
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	return s.store.ListKeys(ctx, userID)
}

// Get returns one of the user's keys
func (s *Service) Get(ctx context.Context, userID, keyID uuid.UUID) (*models.APIKey, error) {
	return s.store.GetKey(ctx, userID, keyID)
}

// Update renames, re-permissions, deactivates or reactivates a key.
// Reactivation counts against the tier's active key quota like a new key.
func (s *Service) Update(ctx context.Context, userID uuid.UUID, t tier.Tier, keyID uuid.UUID, req *UpdateRequest) (*models.APIKey, error) {
	key, err := s.store.GetKey(ctx, userID, keyID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name, err := validateName(*req.Name)
		if err != nil {
			return nil, err
		}
		key.Name = name
	}
	if req.Permissions != nil {
		key.Permissions = MergePermissions(key.Permissions, req.Permissions)
	}
	if req.IsActive != nil {
		if *req.IsActive && !key.IsActive {
			if err := s.checkQuota(ctx, userID, t); err != nil {
				return nil, err
			}
		}
		key.IsActive = *req.IsActive
	}
	key.UpdatedAt = s.now().UTC()

	if err := s.store.UpdateKey(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Delete permanently removes a key
func (s *Service) Delete(ctx context.Context, userID, keyID uuid.UUID) error {
	if err := s.store.DeleteKey(ctx, userID, keyID); err != nil {
		return err
	}
	s.logger.Info().
		Str("user_id", userID.String()).
		Str("api_key_id", keyID.String()).
		Msg("API key deleted")
	return nil
}

// RateLimitStatus describes the key's sliding window at validation time
type RateLimitStatus struct {
	Limit      int           `json:"limit"`
	Remaining  int64         `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"-"`
}

// ValidationResult is the outcome of checking a presented key.
// Error is one of MsgInvalidKey, MsgExpiredKey or MsgRateLimited when Valid is false.
type ValidationResult struct {
	Valid     bool             `json:"valid"`
	APIKey    *models.APIKey   `json:"api_key,omitempty"`
	Error     string           `json:"error,omitempty"`
	RateLimit *RateLimitStatus `json:"rate_limit,omitempty"`
}

// Validate authenticates a presented plaintext key, applies the expiry and
// sliding-window checks, and on success records the use. Store failures are
// returned as errors, never as a valid result.
func (s *Service) Validate(ctx context.Context, presented string) (*ValidationResult, error) {
	start := time.Now()
	result, err := s.validate(ctx, presented)

	outcome := "error"
	if err == nil {
		switch {
		case result.Valid:
			outcome = "valid"
		case result.Error == MsgExpiredKey:
			outcome = "expired"
		case result.Error == MsgRateLimited:
			outcome = "rate_limited"
			monitoring.RecordRateLimitHit()
		default:
			outcome = "invalid"
		}
	}
	monitoring.RecordKeyValidation(outcome, time.Since(start))

	return result, err
}

func (s *Service) validate(ctx context.Context, presented string) (*ValidationResult, error) {
	prefix, ok := s.format.Prefix(presented)
	if !ok {
		return &ValidationResult{Error: MsgInvalidKey}, nil
	}

	candidates, err := s.store.FindActiveByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}

	key, err := s.matchCandidate(presented, candidates)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return &ValidationResult{Error: MsgInvalidKey}, nil
	}

	now := s.now().UTC()
	if key.IsExpired(now) {
		return &ValidationResult{Error: MsgExpiredKey}, nil
	}

	window := key.Window()
	if window <= 0 {
		window = s.window
	}
	since := now.Add(-window)

	count, err := s.counter.Count(ctx, key.ID, since)
	if err != nil {
		return nil, err
	}

	status := &RateLimitStatus{Limit: key.RateLimit, ResetAt: now.Add(window)}
	if count >= int64(key.RateLimit) {
		retryAfter := window
		oldest, err := s.counter.Oldest(ctx, key.ID, since)
		if err != nil {
			s.logger.Warn().Err(err).Str("api_key_id", key.ID.String()).Msg("Failed to find oldest request in window")
		} else if !oldest.IsZero() {
			retryAfter = oldest.Add(window).Sub(now)
		}
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		status.RetryAfter = retryAfter
		status.ResetAt = now.Add(retryAfter)
		return &ValidationResult{Error: MsgRateLimited, RateLimit: status}, nil
	}

	// Read-modify-write: concurrent validations of one key may lose increments.
	// The counter is informational; the window count above is the gate.
	total := key.TotalRequests + 1
	if err := s.store.RecordUse(ctx, key.ID, now, total); err != nil {
		return nil, err
	}
	key.TotalRequests = total
	key.LastUsedAt = &now

	status.Remaining = int64(key.RateLimit) - count - 1
	if status.Remaining < 0 {
		status.Remaining = 0
	}

	return &ValidationResult{Valid: true, APIKey: key, RateLimit: status}, nil
}

// matchCandidate compares the presented key against every active key sharing
// its prefix and returns the first match. Cost is one hash comparison per
// candidate; prefixes carry 32+ bits of randomness so collisions are rare but
// still checked. With no candidates a decoy comparison is run so that a
// missing prefix is not observably faster than a wrong key.
func (s *Service) matchCandidate(presented string, candidates []*models.APIKey) (*models.APIKey, error) {
	if len(candidates) == 0 {
		if decoy := s.decoyHash(); decoy != "" {
			_, _ = s.hasher.Compare(presented, decoy)
		}
		return nil, nil
	}

	for _, c := range candidates {
		match, err := s.hasher.Compare(presented, c.KeyHash)
		if err != nil {
			s.logger.Error().Err(err).Str("api_key_id", c.ID.String()).Msg("Stored API key hash is unreadable")
			continue
		}
		if match {
			return c, nil
		}
	}
	return nil, nil
}

func (s *Service) decoyHash() string {
	s.decoyOnce.Do(func() {
		token, _, err := s.format.Generate()
		if err != nil {
			return
		}
		if hash, err := s.hasher.Hash(token); err == nil {
			s.decoy = hash
		}
	})
	return s.decoy
}

// RequestLogEntry describes one completed request made with a key
type RequestLogEntry struct {
	APIKeyID     uuid.UUID
	Endpoint     string
	Method       string
	StatusCode   int
	ResponseTime time.Duration
	ErrorMessage string
}

// LogRequest appends to the request log. It is best effort: failures are
// logged and counted, never returned to the request path.
func (s *Service) LogRequest(ctx context.Context, entry RequestLogEntry) {
	rec := &models.RequestLog{
		ID:             uuid.New(),
		APIKeyID:       entry.APIKeyID,
		Endpoint:       entry.Endpoint,
		Method:         entry.Method,
		StatusCode:     entry.StatusCode,
		ResponseTimeMs: int(entry.ResponseTime / time.Millisecond),
		CreatedAt:      s.now().UTC(),
	}
	if entry.ErrorMessage != "" {
		msg := entry.ErrorMessage
		rec.ErrorMessage = &msg
	}

	if err := s.store.InsertRequestLog(ctx, rec); err != nil {
		monitoring.RecordRequestLogFailure("database")
		s.logger.Warn().Err(err).
			Str("api_key_id", entry.APIKeyID.String()).
			Str("endpoint", entry.Endpoint).
			Msg("Failed to write API request log")
		return
	}

	if err := s.counter.Observe(ctx, rec, s.window); err != nil {
		monitoring.RecordRequestLogFailure("window_counter")
		s.logger.Warn().Err(err).
			Str("api_key_id", entry.APIKeyID.String()).
			Msg("Failed to mirror API request into window counter")
	}
}

// Stats is the usage summary of one key over a trailing window
type Stats struct {
	KeyID              uuid.UUID       `json:"key_id"`
	Days               int             `json:"days"`
	TotalRequests      int64           `json:"total_requests"`
	SuccessfulRequests int64           `json:"successful_requests"`
	FailedRequests     int64           `json:"failed_requests"`
	AvgResponseTimeMs  float64         `json:"avg_response_time_ms"`
	Endpoints          []EndpointUsage `json:"endpoints"`
}

// Stats summarises the key's request log over the last `days` days
func (s *Service) Stats(ctx context.Context, userID, keyID uuid.UUID, days int) (*Stats, error) {
	if days < 1 || days > MaxStatsDays {
		return nil, ErrInvalidDays
	}
	if _, err := s.store.GetKey(ctx, userID, keyID); err != nil {
		return nil, err
	}

	since := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	usage, err := s.store.UsageSince(ctx, keyID, since)
	if err != nil {
		return nil, err
	}

	avg := decimal.Zero
	if usage.Total > 0 {
		avg = decimal.NewFromInt(usage.TotalResponseMs).
			Div(decimal.NewFromInt(usage.Total)).
			Round(2)
	}

	endpoints := usage.Endpoints
	if endpoints == nil {
		endpoints = []EndpointUsage{}
	}

	return &Stats{
		KeyID:              keyID,
		Days:               days,
		TotalRequests:      usage.Total,
		SuccessfulRequests: usage.Successful,
		FailedRequests:     usage.Total - usage.Successful,
		AvgResponseTimeMs:  avg.InexactFloat64(),
		Endpoints:          endpoints,
	}, nil
}
