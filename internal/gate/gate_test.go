package gate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
)

func TestDecide(t *testing.T) {
	g, err := New(DefaultThreshold)
	require.NoError(t, err)

	tests := []struct {
		name  string
		score float64
		want  Decision
	}{
		{"exactly at threshold publishes", 0.85, AutoPublish},
		{"just below threshold reviews", 0.8499, SendToReview},
		{"high score publishes", 0.90, AutoPublish},
		{"low score reviews", 0.40, SendToReview},
		{"zero reviews", 0, SendToReview},
		{"one publishes", 1, AutoPublish},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := g.Decide(tc.score)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecideInvalidScore(t *testing.T) {
	g, err := New(DefaultThreshold)
	require.NoError(t, err)

	for _, score := range []float64{-0.01, 1.01, math.NaN(), math.Inf(1)} {
		got, err := g.Decide(score)
		assert.Equal(t, SendToReview, got)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidScore), "score %v", score)
	}
}

func TestNewRejectsThresholdOutOfRange(t *testing.T) {
	_, err := New(1.5)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	_, err = New(-0.1)
	assert.Error(t, err)

	g, err := New(0)
	require.NoError(t, err)
	got, err := g.Decide(0)
	require.NoError(t, err)
	assert.Equal(t, AutoPublish, got)
}
