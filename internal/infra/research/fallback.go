package research

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"grant-scout/internal/domain/entity"
)

// FallbackResearcher serves canned, clearly labeled guidance when the AI
// backend or its budget is out. It never reports unavailable.
type FallbackResearcher struct {
	delay time.Duration
}

// NewFallbackResearcher creates the fallback; zero or negative delay picks
// the default.
func NewFallbackResearcher(delay time.Duration) *FallbackResearcher {
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	return &FallbackResearcher{delay: delay}
}

func (r *FallbackResearcher) Initialize(context.Context) error { return nil }

func (r *FallbackResearcher) CheckHealth(context.Context) error { return nil }

func (r *FallbackResearcher) Research(ctx context.Context, req Request) (*entity.ResearchBrief, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(r.delay):
	}

	slog.Debug("fallback researcher served canned brief", slog.Int64("grant_id", req.Grant.ID))
	return &entity.ResearchBrief{
		GrantID: req.Grant.ID,
		Summary: fmt.Sprintf(
			"Automated research is temporarily unavailable. Review %q from %s directly against your profile.",
			req.Grant.Title, req.Grant.Agency),
		FitScore: 0.5,
		Suggestions: []string{
			"Check the eligibility section of the grant announcement",
			"Note the deadline and required documents",
			"Retry automated research later for a full fit assessment",
		},
		Fallback: true,
	}, nil
}
