// Package entity holds the core domain types shared across layers.
package entity

import "time"

// Grant is a funding opportunity surfaced to users.
type Grant struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Agency      string    `json:"agency"`
	Description string    `json:"description"`
	Amount      int64     `json:"amount"`
	Deadline    time.Time `json:"deadline"`
	Categories  []string  `json:"categories,omitempty"`
	SourceURL   string    `json:"source_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ScoredGrant pairs a grant with a similarity score from vector search.
type ScoredGrant struct {
	Grant Grant   `json:"grant"`
	Score float64 `json:"score"`
}

// ResearchBrief is an AI-generated summary of how well a grant fits an
// applicant profile.
type ResearchBrief struct {
	GrantID     int64    `json:"grant_id,omitempty"`
	Summary     string   `json:"summary"`
	FitScore    float64  `json:"fit_score"`
	Suggestions []string `json:"suggestions,omitempty"`
	Fallback    bool     `json:"fallback,omitempty"`
}

// Notification is an outbound alert about new or closing grants.
type Notification struct {
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sent_at,omitempty"`
	Delivered bool      `json:"delivered"`
}
