package models

import (
	"time"

	"github.com/google/uuid"
)

// RequestLog is one append-only row per request served with an API key
type RequestLog struct {
	ID             uuid.UUID `json:"id" db:"id"`
	APIKeyID       uuid.UUID `json:"api_key_id" db:"api_key_id"`
	Endpoint       string    `json:"endpoint" db:"endpoint"`
	Method         string    `json:"method" db:"method"`
	StatusCode     int       `json:"status_code" db:"status_code"`
	ResponseTimeMs int       `json:"response_time_ms" db:"response_time_ms"`
	ErrorMessage   *string   `json:"error_message,omitempty" db:"error_message"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Succeeded reports whether the logged request counts as successful
func (l *RequestLog) Succeeded() bool {
	return l.StatusCode < 400
}
