// Package model defines the core memory and session data types shared by
// every MindCache component.
package model

import "time"

// MetaValue is a JSON-shaped value: string, float64, bool, nil, []MetaValue,
// or map[string]MetaValue — the representation encoding/json already
// produces when unmarshaling into `any`, used as-is so metadata round-trips
// through msgpack without a bespoke tagged union.
type MetaValue = any

// Metadata is the free-form string-keyed map attached to a memory.
type Metadata map[string]MetaValue

// Memory is the fundamental record.
type Memory struct {
	ID             string     `msgpack:"id"`
	UserID         string     `msgpack:"user_id"`
	SessionID      string     `msgpack:"session_id"`
	Content        string     `msgpack:"content"`
	Metadata       Metadata   `msgpack:"metadata,omitempty"`
	Importance     float64    `msgpack:"importance"`
	CreatedAt      time.Time  `msgpack:"created_at"`
	ExpiresAt      *time.Time `msgpack:"expires_at,omitempty"`
	LastAccessedAt time.Time  `msgpack:"last_accessed_at"`
	AccessCount    int64      `msgpack:"access_count"`
	Deleted        bool       `msgpack:"deleted,omitempty"`
}

// Input is the caller-supplied shape for save() — everything the core
// itself assigns (ID, CreatedAt, ...) is absent here.
type Input struct {
	UserID     string
	SessionID  string
	Content    string
	Metadata   Metadata
	Importance *float64 // nil -> default 0.5
	TTLHours   *float64 // nil -> config default_memory_ttl_hours
	RequestID  string
}

// Session is a logical grouping, reconstructed from its member memories
// plus the small sidecar record holding name/metadata.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name,omitempty"`
	Metadata     Metadata  `json:"metadata,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	MemoryCount  int       `json:"memory_count"`
}

// Filter is the recall() request shape.
type Filter struct {
	UserID        string
	SessionID     string
	DateFrom      *time.Time
	DateTo        *time.Time
	Query         string
	Keywords      []string
	MinImportance float64
	Limit         int
}

// ScoredMemory pairs a memory with the score the planner computed for it.
type ScoredMemory struct {
	Memory Memory
	Score  float64
}

// SessionSummary is the structured digest returned by summarize().
type SessionSummary struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	MemoryCount     int       `json:"memory_count"`
	ImportanceScore float64   `json:"importance_score"`
	SummaryText     string    `json:"summary_text"`
	KeyTopics       []string  `json:"key_topics"`
	TimeSpanStart   time.Time `json:"time_span_start"`
	TimeSpanEnd     time.Time `json:"time_span_end"`
}

// DecayStats is published after every decay sweep.
type DecayStats struct {
	Scanned    int       `json:"scanned"`
	Expired    int       `json:"expired"`
	Attenuated int       `json:"attenuated"`
	Evicted    int       `json:"evicted"`
	Compacted  int       `json:"compacted"`
	RanAt      time.Time `json:"ran_at"`
}

// Stats aggregates storage + index + last-decay statistics.
type Stats struct {
	TotalMemories   int            `json:"total_memories"`
	UsersTracked    int            `json:"users_tracked"`
	SessionsTracked int            `json:"sessions_tracked"`
	SegmentCount    int            `json:"segment_count"`
	SegmentBytes    int64          `json:"segment_bytes"`
	TermCount       int            `json:"term_count"`
	LastDecay       *DecayStats    `json:"last_decay,omitempty"`
	PerUserCounts   map[string]int `json:"per_user_counts,omitempty"`
}
