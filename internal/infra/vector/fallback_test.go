package vector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackSearcher_LabeledEmpty(t *testing.T) {
	fb := NewFallbackSearcher(time.Millisecond)

	res, err := fb.SimilarGrants(context.Background(), "renewable energy pilots", 10)
	require.NoError(t, err, "fallback must never report unavailable")
	assert.True(t, res.Fallback)
	assert.Empty(t, res.Matches)
	assert.NotEmpty(t, res.Message)
}

func TestFallbackSearcher_HonorsCancellation(t *testing.T) {
	fb := NewFallbackSearcher(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fb.SimilarGrants(ctx, "x", 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFallbackSearcher_AlwaysInitializes(t *testing.T) {
	fb := NewFallbackSearcher(0)
	assert.NoError(t, fb.Initialize(context.Background()))
	assert.NoError(t, fb.CheckHealth(context.Background()))
}
