package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"grant-scout/internal/apperr"
	"grant-scout/internal/domain/entity"
	"grant-scout/internal/resilience/ratelimit"
	"grant-scout/pkg/config"
)

// ClaudeConfig holds the research model parameters.
type ClaudeConfig struct {
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// LoadClaudeConfig reads model parameters from the environment.
func LoadClaudeConfig() ClaudeConfig {
	return ClaudeConfig{
		Model:     config.GetEnvString("RESEARCH_MODEL", string(anthropic.ModelClaudeSonnet4_5_20250929)),
		MaxTokens: config.GetEnvInt("RESEARCH_MAX_TOKENS", 1024),
		Timeout:   config.GetEnvDuration("RESEARCH_TIMEOUT", 60*time.Second),
	}
}

// ClaudeResearcher generates briefs with the Claude API. Every call goes
// through the budget guard so the per-minute and daily limits hold across
// the whole process.
type ClaudeResearcher struct {
	client anthropic.Client
	guard  *ratelimit.Guard
	config ClaudeConfig
}

// NewClaudeResearcher creates a researcher with its own API budget guard.
func NewClaudeResearcher(apiKey string, budget config.BudgetConfig) *ClaudeResearcher {
	cfg := LoadClaudeConfig()
	slog.Info("initialized claude researcher",
		slog.String("model", cfg.Model),
		slog.Int("max_tokens", cfg.MaxTokens))

	return &ClaudeResearcher{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		guard:  ratelimit.New("claude-research", budget),
		config: cfg,
	}
}

// Initialize is a no-op; the API is probed on first use to stay inside the
// daily budget.
func (r *ClaudeResearcher) Initialize(context.Context) error { return nil }

// CheckHealth reports quota exhaustion as unhealthy without spending calls.
func (r *ClaudeResearcher) CheckHealth(context.Context) error {
	if s := r.guard.Stats(); s.Remaining <= 0 {
		return apperr.New(apperr.KindQuotaExceeded, "research budget exhausted for today")
	}
	return nil
}

// Research asks the model for a fit assessment of the grant against the
// applicant profile.
func (r *ClaudeResearcher) Research(ctx context.Context, req Request) (*entity.ResearchBrief, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	var brief *entity.ResearchBrief
	err := r.guard.Do(ctx, func(ctx context.Context) error {
		b, err := r.doResearch(ctx, req)
		if err != nil {
			return err
		}
		brief = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return brief, nil
}

func (r *ClaudeResearcher) doResearch(ctx context.Context, req Request) (*entity.ResearchBrief, error) {
	requestID := uuid.New().String()
	start := time.Now()

	slog.InfoContext(ctx, "starting grant research",
		slog.String("request_id", requestID),
		slog.Int64("grant_id", req.Grant.ID))

	message, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(r.config.Model),
		MaxTokens: int64(r.config.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(buildPrompt(req)),
			),
		},
	})
	duration := time.Since(start)

	if err != nil {
		slog.ErrorContext(ctx, "grant research failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, classifyAPIError(err)
	}
	if len(message.Content) == 0 {
		return nil, apperr.New(apperr.KindInternal, "research api returned empty response")
	}

	textBlock, ok := message.Content[0].AsAny().(anthropic.TextBlock)
	if !ok {
		return nil, apperr.New(apperr.KindInternal, "research api returned unexpected response type")
	}

	slog.InfoContext(ctx, "grant research completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration))

	return &entity.ResearchBrief{
		GrantID:  req.Grant.ID,
		Summary:  textBlock.Text,
		FitScore: estimateFit(textBlock.Text),
	}, nil
}

// classifyAPIError maps SDK failures onto the error taxonomy. Provider
// rate limits become RateLimitError carrying the Retry-After hint so the
// budget guard can wait and retry; server trouble is transient; anything
// else is unavailable.
func classifyAPIError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return &apperr.RateLimitError{ResetAfter: retryAfterHint(apiErr.Response), Err: err}
		case apiErr.StatusCode >= 500:
			return apperr.Wrap(apperr.KindTransient, "research api", err)
		}
	}
	return apperr.Wrap(apperr.KindUnavailable, "research api", err)
}

// retryAfterHint reads a Retry-After header given in seconds. Absent or
// malformed values yield zero, which falls back to client-side backoff.
func retryAfterHint(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	secs, err := strconv.ParseFloat(resp.Header.Get("Retry-After"), 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// buildPrompt frames the fit assessment for the model.
func buildPrompt(req Request) string {
	const maxProfileChars = 4000
	profile := req.Profile
	if len(profile) > maxProfileChars {
		profile = profile[:maxProfileChars] + "..."
	}

	return fmt.Sprintf(
		"Assess how well this grant fits the applicant and suggest next steps.\n\n"+
			"Grant: %s (%s)\nDeadline: %s\nDescription: %s\n\nApplicant profile:\n%s",
		req.Grant.Title, req.Grant.Agency,
		req.Grant.Deadline.Format("2006-01-02"),
		req.Grant.Description, profile)
}

// estimateFit derives a coarse score from the model's language. Good enough
// for sorting briefs in a list view.
func estimateFit(summary string) float64 {
	lower := strings.ToLower(summary)
	switch {
	case strings.Contains(lower, "excellent fit"), strings.Contains(lower, "strong fit"):
		return 0.9
	case strings.Contains(lower, "good fit"):
		return 0.7
	case strings.Contains(lower, "poor fit"), strings.Contains(lower, "not a fit"):
		return 0.2
	default:
		return 0.5
	}
}
