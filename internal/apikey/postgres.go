package apikey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aimerfeng/BioLink/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const keyColumns = `id, user_id, name, key_prefix, key_hash, permissions, rate_limit, rate_limit_window,
	is_active, expires_at, total_requests, last_used_at, created_at, updated_at`

// PostgresStore is the pgx-backed Store
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a store over the pool
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func scanKey(row pgx.Row) (*models.APIKey, error) {
	var k models.APIKey
	err := row.Scan(
		&k.ID, &k.UserID, &k.Name, &k.KeyPrefix, &k.KeyHash, &k.Permissions,
		&k.RateLimit, &k.RateLimitWindow, &k.IsActive, &k.ExpiresAt,
		&k.TotalRequests, &k.LastUsedAt, &k.CreatedAt, &k.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func collectKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()

	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan API key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating API keys: %w", err)
	}
	return keys, nil
}

func (s *PostgresStore) CreateKey(ctx context.Context, key *models.APIKey) error {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}

	err := s.db.QueryRow(ctx, `
		INSERT INTO api_keys (id, user_id, name, key_prefix, key_hash, permissions,
			rate_limit, rate_limit_window, is_active, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, key.ID, key.UserID, key.Name, key.KeyPrefix, key.KeyHash, key.Permissions,
		key.RateLimit, key.RateLimitWindow, key.IsActive, key.ExpiresAt,
	).Scan(&key.CreatedAt, &key.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountActiveKeys(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM api_keys WHERE user_id = $1 AND is_active
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count API keys: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+keyColumns+`
		FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	return collectKeys(rows)
}

func (s *PostgresStore) GetKey(ctx context.Context, userID, keyID uuid.UUID) (*models.APIKey, error) {
	k, err := scanKey(s.db.QueryRow(ctx, `
		SELECT `+keyColumns+`
		FROM api_keys
		WHERE id = $1 AND user_id = $2
	`, keyID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get API key: %w", err)
	}
	return k, nil
}

func (s *PostgresStore) UpdateKey(ctx context.Context, key *models.APIKey) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE api_keys
		SET name = $3, permissions = $4, is_active = $5, updated_at = $6
		WHERE id = $1 AND user_id = $2
	`, key.ID, key.UserID, key.Name, key.Permissions, key.IsActive, key.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update API key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrKeyNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteKey(ctx context.Context, userID, keyID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM api_keys WHERE id = $1 AND user_id = $2
	`, keyID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete API key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrKeyNotFound
	}
	return nil
}

func (s *PostgresStore) FindActiveByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+keyColumns+`
		FROM api_keys
		WHERE key_prefix = $1 AND is_active
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to look up API key prefix: %w", err)
	}
	return collectKeys(rows)
}

func (s *PostgresStore) RecordUse(ctx context.Context, keyID uuid.UUID, usedAt time.Time, totalRequests int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE api_keys SET last_used_at = $2, total_requests = $3 WHERE id = $1
	`, keyID, usedAt, totalRequests)
	if err != nil {
		return fmt.Errorf("failed to record API key use: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertRequestLog(ctx context.Context, entry *models.RequestLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO api_request_logs (id, api_key_id, endpoint, method, status_code,
			response_time_ms, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.APIKeyID, entry.Endpoint, entry.Method, entry.StatusCode,
		entry.ResponseTimeMs, entry.ErrorMessage, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert request log: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountRequestsSince(ctx context.Context, keyID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM api_request_logs WHERE api_key_id = $1 AND created_at > $2
	`, keyID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count requests in window: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) OldestRequestSince(ctx context.Context, keyID uuid.UUID, since time.Time) (time.Time, error) {
	var oldest *time.Time
	err := s.db.QueryRow(ctx, `
		SELECT MIN(created_at) FROM api_request_logs WHERE api_key_id = $1 AND created_at > $2
	`, keyID, since).Scan(&oldest)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to find oldest request in window: %w", err)
	}
	if oldest == nil {
		return time.Time{}, nil
	}
	return *oldest, nil
}

func (s *PostgresStore) UsageSince(ctx context.Context, keyID uuid.UUID, since time.Time) (*Usage, error) {
	usage := &Usage{}
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status_code < 400),
			COALESCE(SUM(response_time_ms), 0)
		FROM api_request_logs
		WHERE api_key_id = $1 AND created_at >= $2
	`, keyID, since).Scan(&usage.Total, &usage.Successful, &usage.TotalResponseMs)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate request logs: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT endpoint, COUNT(*), COUNT(*) FILTER (WHERE status_code >= 400)
		FROM api_request_logs
		WHERE api_key_id = $1 AND created_at >= $2
		GROUP BY endpoint
		ORDER BY COUNT(*) DESC, endpoint
	`, keyID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to group request logs: %w", err)
	}
	defer rows.Close()

	usage.Endpoints = make([]EndpointUsage, 0)
	for rows.Next() {
		var e EndpointUsage
		if err := rows.Scan(&e.Endpoint, &e.Requests, &e.Errors); err != nil {
			return nil, fmt.Errorf("failed to scan endpoint usage: %w", err)
		}
		usage.Endpoints = append(usage.Endpoints, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating endpoint usage: %w", err)
	}
	return usage, nil
}
