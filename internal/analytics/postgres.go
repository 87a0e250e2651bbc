package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/aimerfeng/BioLink/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the pgx-backed Store
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a store over the pool
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DailyBuckets(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]models.DailyAnalytics, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id, day, profile_views, link_clicks, new_followers, unique_visitors
		FROM analytics_daily
		WHERE user_id = $1 AND day BETWEEN $2::date AND $3::date
		ORDER BY day
	`, userID, startOfDay(from), startOfDay(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily analytics: %w", err)
	}
	defer rows.Close()

	out := make([]models.DailyAnalytics, 0)
	for rows.Next() {
		var b models.DailyAnalytics
		if err := rows.Scan(&b.UserID, &b.Day, &b.ProfileViews, &b.LinkClicks, &b.NewFollowers, &b.UniqueVisitors); err != nil {
			return nil, fmt.Errorf("failed to scan daily analytics: %w", err)
		}
		b.Day = startOfDay(b.Day)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily analytics: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) LinkClicks(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]models.LinkClickCount, error) {
	rows, err := s.db.Query(ctx, `
		SELECT l.id, l.title, l.url, SUM(c.clicks) AS clicks
		FROM link_clicks_daily c
		JOIN links l ON l.id = c.link_id
		WHERE c.user_id = $1 AND c.day BETWEEN $2::date AND $3::date
		GROUP BY l.id, l.title, l.url
		ORDER BY clicks DESC, l.title
	`, userID, startOfDay(from), startOfDay(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query link clicks: %w", err)
	}
	defer rows.Close()

	out := make([]models.LinkClickCount, 0)
	for rows.Next() {
		var l models.LinkClickCount
		if err := rows.Scan(&l.LinkID, &l.Title, &l.URL, &l.Clicks); err != nil {
			return nil, fmt.Errorf("failed to scan link clicks: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating link clicks: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Referrers(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]models.ReferrerCount, error) {
	rows, err := s.db.Query(ctx, `
		SELECT source, SUM(visits) AS visits
		FROM analytics_referrers
		WHERE user_id = $1 AND day BETWEEN $2::date AND $3::date
		GROUP BY source
		ORDER BY visits DESC, source
	`, userID, startOfDay(from), startOfDay(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query referrers: %w", err)
	}
	defer rows.Close()

	out := make([]models.ReferrerCount, 0)
	for rows.Next() {
		var r models.ReferrerCount
		if err := rows.Scan(&r.Source, &r.Visits); err != nil {
			return nil, fmt.Errorf("failed to scan referrer: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating referrers: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) IncrementDaily(ctx context.Context, userID uuid.UUID, day time.Time, d Delta) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO analytics_daily (user_id, day, profile_views, link_clicks, new_followers, unique_visitors)
		VALUES ($1, $2::date, $3, $4, $5, $6)
		ON CONFLICT (user_id, day) DO UPDATE SET
			profile_views = analytics_daily.profile_views + EXCLUDED.profile_views,
			link_clicks = analytics_daily.link_clicks + EXCLUDED.link_clicks,
			new_followers = analytics_daily.new_followers + EXCLUDED.new_followers,
			unique_visitors = analytics_daily.unique_visitors + EXCLUDED.unique_visitors
	`, userID, startOfDay(day), d.ProfileViews, d.LinkClicks, d.NewFollowers, d.UniqueVisitors)
	if err != nil {
		return fmt.Errorf("failed to increment daily analytics: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncrementReferrer(ctx context.Context, userID uuid.UUID, day time.Time, source string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO analytics_referrers (user_id, day, source, visits)
		VALUES ($1, $2::date, $3, 1)
		ON CONFLICT (user_id, day, source) DO UPDATE SET
			visits = analytics_referrers.visits + 1
	`, userID, startOfDay(day), source)
	if err != nil {
		return fmt.Errorf("failed to increment referrer: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncrementLinkClick(ctx context.Context, userID, linkID uuid.UUID, day time.Time) error {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO link_clicks_daily (user_id, link_id, day, clicks)
		SELECT $1, $2, $3::date, 1
		WHERE EXISTS (SELECT 1 FROM links WHERE id = $2 AND user_id = $1)
		ON CONFLICT (user_id, link_id, day) DO UPDATE SET
			clicks = link_clicks_daily.clicks + 1
	`, userID, linkID, startOfDay(day))
	if err != nil {
		return fmt.Errorf("failed to increment link clicks: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLinkNotFound
	}
	return nil
}
