// Package account reads the owner record this service depends on: the tier.
// Tiers are written by billing, so every lookup goes to storage.
package account

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aimerfeng/BioLink/internal/tier"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// ErrUserNotFound is returned when no account exists for the id
var ErrUserNotFound = errors.New("user not found")

// Resolver returns a user's current tier
type Resolver interface {
	Tier(ctx context.Context, userID uuid.UUID) (tier.Tier, error)
}

// PostgresResolver reads users.tier
type PostgresResolver struct {
	db *pgxpool.Pool
}

// NewPostgresResolver creates a resolver over the pool
func NewPostgresResolver(db *pgxpool.Pool) *PostgresResolver {
	return &PostgresResolver{db: db}
}

func (r *PostgresResolver) Tier(ctx context.Context, userID uuid.UUID) (tier.Tier, error) {
	var raw string
	err := r.db.QueryRow(ctx, `SELECT tier FROM users WHERE id = $1`, userID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("failed to read user tier: %w", err)
	}
	return parseStored(userID, raw), nil
}

// parseStored maps an unrecognised stored tier to free, the least privileged
func parseStored(userID uuid.UUID, raw string) tier.Tier {
	t, err := tier.Parse(raw)
	if err != nil {
		log.Warn().Str("user_id", userID.String()).Str("tier", raw).Msg("Unknown stored tier, treating as free")
		return tier.Free
	}
	return t
}

// MemoryResolver keeps tiers in process for local runs and tests
type MemoryResolver struct {
	mu          sync.RWMutex
	tiers       map[uuid.UUID]tier.Tier
	defaultTier tier.Tier
}

// NewMemoryResolver creates a resolver. When defaultTier is non-empty,
// users never registered with SetTier resolve to it instead of ErrUserNotFound.
func NewMemoryResolver(defaultTier tier.Tier) *MemoryResolver {
	return &MemoryResolver{
		tiers:       make(map[uuid.UUID]tier.Tier),
		defaultTier: defaultTier,
	}
}

// SetTier records the tier for userID
func (r *MemoryResolver) SetTier(userID uuid.UUID, t tier.Tier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tiers[userID] = t
}

func (r *MemoryResolver) Tier(ctx context.Context, userID uuid.UUID) (tier.Tier, error) {
	r.mu.RLock()
	t, ok := r.tiers[userID]
	r.mu.RUnlock()

	if ok {
		return parseStored(userID, string(t)), nil
	}
	if r.defaultTier != "" {
		return r.defaultTier, nil
	}
	return "", ErrUserNotFound
}
