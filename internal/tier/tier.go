package tier

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Tier is a user's subscription level
type Tier string

const (
	Free     Tier = "free"
	Pro      Tier = "pro"
	Creator  Tier = "creator"
	Lifetime Tier = "lifetime"
)

// All lists every tier in ascending capability order
var All = []Tier{Free, Pro, Creator, Lifetime}

// ErrUnknownTier is returned when a tier name is not recognised
var ErrUnknownTier = errors.New("unknown tier")

// DefaultAnalyticsDelay is how far non-realtime analytics lag behind wall-clock time
const DefaultAnalyticsDelay = 24 * time.Hour

// Parse converts a string into a Tier
func Parse(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if t.Level() < 0 {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	return t, nil
}

// Level returns the capability rank of the tier (free=0 ... lifetime=3), or -1 if unknown
func (t Tier) Level() int {
	switch t {
	case Free:
		return 0
	case Pro:
		return 1
	case Creator:
		return 2
	case Lifetime:
		return 3
	default:
		return -1
	}
}

// AtLeast reports whether t ranks at or above other
func (t Tier) AtLeast(other Tier) bool {
	return t.Level() >= other.Level() && t.Level() >= 0
}

func (t Tier) String() string {
	return string(t)
}

// Capabilities holds the feature gates and limits attached to a tier
type Capabilities struct {
	RealtimeAnalytics       bool `json:"realtime_analytics" yaml:"realtime_analytics"`
	MaxAPIKeys              int  `json:"max_api_keys" yaml:"max_api_keys"`
	DefaultRateLimitPerHour int  `json:"default_rate_limit_per_hour" yaml:"default_rate_limit_per_hour"`
}

// Table is an immutable tier -> capabilities lookup.
// It is built once at startup and handed to the services that need it.
type Table struct {
	caps           map[Tier]Capabilities
	analyticsDelay time.Duration
}

// NewTable validates and copies the given capabilities into a Table
func NewTable(caps map[Tier]Capabilities, analyticsDelay time.Duration) (*Table, error) {
	if analyticsDelay < 0 {
		return nil, fmt.Errorf("analytics delay must not be negative, got %s", analyticsDelay)
	}

	copied := make(map[Tier]Capabilities, len(All))
	for _, t := range All {
		c, ok := caps[t]
		if !ok {
			return nil, fmt.Errorf("tier table is missing %q", t)
		}
		if c.MaxAPIKeys < 0 {
			return nil, fmt.Errorf("tier %q: max_api_keys must not be negative", t)
		}
		if c.DefaultRateLimitPerHour <= 0 {
			return nil, fmt.Errorf("tier %q: default_rate_limit_per_hour must be positive", t)
		}
		copied[t] = c
	}
	for t := range caps {
		if t.Level() < 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTier, t)
		}
	}

	return &Table{caps: copied, analyticsDelay: analyticsDelay}, nil
}

// DefaultTable returns the production tier table
func DefaultTable() *Table {
	t, err := NewTable(map[Tier]Capabilities{
		Free:     {RealtimeAnalytics: false, MaxAPIKeys: 2, DefaultRateLimitPerHour: 1000},
		Pro:      {RealtimeAnalytics: true, MaxAPIKeys: 5, DefaultRateLimitPerHour: 5000},
		Creator:  {RealtimeAnalytics: true, MaxAPIKeys: 10, DefaultRateLimitPerHour: 10000},
		Lifetime: {RealtimeAnalytics: true, MaxAPIKeys: 10, DefaultRateLimitPerHour: 10000},
	}, DefaultAnalyticsDelay)
	if err != nil {
		panic(err)
	}
	return t
}

// Capabilities returns the capabilities for t. Unknown tiers get the free tier's.
func (tb *Table) Capabilities(t Tier) Capabilities {
	if c, ok := tb.caps[t]; ok {
		return c
	}
	return tb.caps[Free]
}

// HasRealtimeAnalytics reports whether t sees analytics without delay
func (tb *Table) HasRealtimeAnalytics(t Tier) bool {
	return tb.Capabilities(t).RealtimeAnalytics
}

// MaxAPIKeys returns the active key quota for t
func (tb *Table) MaxAPIKeys(t Tier) int {
	return tb.Capabilities(t).MaxAPIKeys
}

// DefaultRateLimit returns the per-window request limit assigned to new keys for t
func (tb *Table) DefaultRateLimit(t Tier) int {
	return tb.Capabilities(t).DefaultRateLimitPerHour
}

// AnalyticsDelay returns the lag applied to non-realtime tiers
func (tb *Table) AnalyticsDelay() time.Duration {
	return tb.analyticsDelay
}

type fileTable struct {
	AnalyticsDelay string                  `yaml:"analytics_delay"`
	Tiers          map[string]Capabilities `yaml:"tiers"`
}

// LoadTable reads a tier table from a YAML file.
//
//	analytics_delay: 24h
//	tiers:
//	  free: {realtime_analytics: false, max_api_keys: 2, default_rate_limit_per_hour: 1000}
//	  ...
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tier table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable decodes a YAML tier table
func ParseTable(data []byte) (*Table, error) {
	var ft fileTable
	if err := yaml.Unmarshal(data, &ft); err != nil {
		return nil, fmt.Errorf("failed to parse tier table: %w", err)
	}

	delay := DefaultAnalyticsDelay
	if ft.AnalyticsDelay != "" {
		d, err := time.ParseDuration(ft.AnalyticsDelay)
		if err != nil {
			return nil, fmt.Errorf("invalid analytics_delay: %w", err)
		}
		delay = d
	}

	caps := make(map[Tier]Capabilities, len(ft.Tiers))
	for name, c := range ft.Tiers {
		t, err := Parse(name)
		if err != nil {
			return nil, err
		}
		caps[t] = c
	}

	return NewTable(caps, delay)
}
