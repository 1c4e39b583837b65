package domain

import (
	"fmt"
	"time"
)

// ─── Inbound Events ─────────────────────────────────────────────────────────

// MinuteRequest is one elapsed-minute event from the conversation transport.
// Minute indices start at 1; the transport is the source of truth for
// elapsed time.
type MinuteRequest struct {
	CorrelationToken string `json:"correlation_token"`
	ConversationID   string `json:"conversation_id"`
	Minute           int64  `json:"minute"`
	Timestamp        string `json:"timestamp,omitempty"`
}

// Validate rejects malformed minute events before any resolution happens.
func (r MinuteRequest) Validate() error {
	if r.CorrelationToken == "" {
		return fmt.Errorf("%w: correlation_token is required", ErrInvalidRequest)
	}
	if r.ConversationID == "" {
		return fmt.Errorf("%w: conversation_id is required", ErrInvalidRequest)
	}
	if r.Minute < 1 {
		return fmt.Errorf("%w: minute must be a positive integer, got %d", ErrInvalidRequest, r.Minute)
	}
	return nil
}

// SessionEndRequest reports the final elapsed minutes when a session ends.
type SessionEndRequest struct {
	CorrelationToken string `json:"correlation_token"`
	ConversationID   string `json:"conversation_id"`
	TotalMinutes     int64  `json:"total_minutes"`
	Timestamp        string `json:"timestamp,omitempty"`
}

// Validate rejects malformed session-end events.
func (r SessionEndRequest) Validate() error {
	if r.CorrelationToken == "" {
		return fmt.Errorf("%w: correlation_token is required", ErrInvalidRequest)
	}
	if r.ConversationID == "" {
		return fmt.Errorf("%w: conversation_id is required", ErrInvalidRequest)
	}
	if r.TotalMinutes < 0 {
		return fmt.Errorf("%w: total_minutes must be non-negative, got %d", ErrInvalidRequest, r.TotalMinutes)
	}
	return nil
}

// ─── Timestamp Parsing ──────────────────────────────────────────────────────

// timestampLayouts covers the ISO-8601-like shapes the transport emits:
// with or without fractional seconds, with a zone offset or bare UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses a transport timestamp. An empty or unparseable
// value falls back to now — timestamps are advisory (metrics, logging),
// never billing-critical.
func ParseTimestamp(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}
