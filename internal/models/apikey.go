package models

import (
	"time"

	"github.com/google/uuid"
)

// Resource is something an API key can be granted access to
type Resource string

const (
	ResourceProfile   Resource = "profile"
	ResourceLinks     Resource = "links"
	ResourceTemplates Resource = "templates"
	ResourceAnalytics Resource = "analytics"
)

// Action is an operation on a resource
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
	ActionApply  Action = "apply"
)

// ResourcePermissions holds the allowed actions on one resource
type ResourcePermissions struct {
	Read   bool `json:"read"`
	Write  bool `json:"write"`
	Delete bool `json:"delete"`
	Apply  bool `json:"apply"`
}

// Allows reports whether the action is granted
func (p ResourcePermissions) Allows(action Action) bool {
	switch action {
	case ActionRead:
		return p.Read
	case ActionWrite:
		return p.Write
	case ActionDelete:
		return p.Delete
	case ActionApply:
		return p.Apply
	default:
		return false
	}
}

// Permissions is the full permission set of an API key
type Permissions struct {
	Profile   ResourcePermissions `json:"profile"`
	Links     ResourcePermissions `json:"links"`
	Templates ResourcePermissions `json:"templates"`
	Analytics ResourcePermissions `json:"analytics"`
}

// For returns the permissions for a resource; unknown resources grant nothing
func (p Permissions) For(resource Resource) ResourcePermissions {
	switch resource {
	case ResourceProfile:
		return p.Profile
	case ResourceLinks:
		return p.Links
	case ResourceTemplates:
		return p.Templates
	case ResourceAnalytics:
		return p.Analytics
	default:
		return ResourcePermissions{}
	}
}

// Allows reports whether the action on the resource is granted
func (p Permissions) Allows(resource Resource, action Action) bool {
	return p.For(resource).Allows(action)
}

// APIKey represents a user's long-lived bearer credential.
// The plaintext key is never stored; only KeyPrefix and KeyHash are.
type APIKey struct {
	ID              uuid.UUID   `json:"id" db:"id"`
	UserID          uuid.UUID   `json:"user_id" db:"user_id"`
	Name            string      `json:"name" db:"name"`
	KeyPrefix       string      `json:"key_prefix" db:"key_prefix"`
	KeyHash         string      `json:"-" db:"key_hash"`
	Permissions     Permissions `json:"permissions" db:"permissions"`
	RateLimit       int         `json:"rate_limit" db:"rate_limit"`
	RateLimitWindow int         `json:"rate_limit_window" db:"rate_limit_window"` // seconds
	IsActive        bool        `json:"is_active" db:"is_active"`
	ExpiresAt       *time.Time  `json:"expires_at,omitempty" db:"expires_at"`
	TotalRequests   int64       `json:"total_requests" db:"total_requests"`
	LastUsedAt      *time.Time  `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`
}

// IsExpired reports whether the key has an expiry at or before now
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// Window returns the rate limit window as a duration
func (k *APIKey) Window() time.Duration {
	return time.Duration(k.RateLimitWindow) * time.Second
}
