package research

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grant-scout/internal/domain/entity"
)

func TestFallbackResearcher_CannedBrief(t *testing.T) {
	fb := NewFallbackResearcher(time.Millisecond)

	brief, err := fb.Research(context.Background(), Request{
		Grant:   entity.Grant{ID: 7, Title: "Community Solar Fund", Agency: "DOE"},
		Profile: "small nonprofit",
	})
	require.NoError(t, err, "fallback must never report unavailable")
	assert.True(t, brief.Fallback)
	assert.EqualValues(t, 7, brief.GrantID)
	assert.NotEmpty(t, brief.Suggestions)
	assert.Contains(t, brief.Summary, "Community Solar Fund")
}

func TestFallbackResearcher_HonorsCancellation(t *testing.T) {
	fb := NewFallbackResearcher(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fb.Research(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEstimateFit(t *testing.T) {
	assert.InDelta(t, 0.9, estimateFit("This is an excellent fit for you."), 0.001)
	assert.InDelta(t, 0.7, estimateFit("Overall a good fit."), 0.001)
	assert.InDelta(t, 0.2, estimateFit("Unfortunately this is a poor fit."), 0.001)
	assert.InDelta(t, 0.5, estimateFit("Hard to say."), 0.001)
}
