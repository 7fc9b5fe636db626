// Package research generates AI research briefs on how well a grant fits
// an applicant profile. The Claude-backed researcher runs inside the API
// budget guard and a dedicated circuit breaker; the fallback researcher
// serves canned, clearly labeled guidance.
package research

import (
	"context"

	"grant-scout/internal/domain/entity"
)

// Request describes what to research.
type Request struct {
	Grant   entity.Grant `json:"grant"`
	Profile string       `json:"profile"`
}

// Researcher is the grant research capability.
type Researcher interface {
	Research(ctx context.Context, req Request) (*entity.ResearchBrief, error)
}
