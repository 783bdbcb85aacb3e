package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_Transition_LegalEdges(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
	}{
		{StatusCreated, StatusProcessing},
		{StatusProcessing, StatusCompleted},
		{StatusProcessing, StatusFailed},
	}

	for _, tt := range tests {
		next, err := tt.from.Transition(tt.to)
		require.NoError(t, err, "%s -> %s", tt.from, tt.to)
		assert.Equal(t, tt.to, next)
	}
}

func TestStatus_Transition_IllegalEdges(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
	}{
		{StatusCreated, StatusCompleted},
		{StatusCreated, StatusFailed},
		{StatusCreated, StatusCreated},
		{StatusProcessing, StatusCreated},
		{StatusProcessing, StatusProcessing},
		{StatusCompleted, StatusProcessing},
		{StatusCompleted, StatusFailed},
		{StatusCompleted, StatusCreated},
		{StatusFailed, StatusProcessing},
		{StatusFailed, StatusCompleted},
	}

	for _, tt := range tests {
		next, err := tt.from.Transition(tt.to)
		assert.ErrorIs(t, err, ErrIllegalTransition, "%s -> %s", tt.from, tt.to)
		assert.Equal(t, tt.from, next, "status must not move on rejection")
	}
}

func TestStatus_Transition_UnknownStatus(t *testing.T) {
	_, err := StatusCreated.Transition(Status("bogus"))
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusCreated.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestParseCategory(t *testing.T) {
	for _, raw := range []string{"upper_body", "lower_body", "dresses"} {
		c, err := ParseCategory(raw)
		require.NoError(t, err)
		assert.Equal(t, Category(raw), c)
	}

	_, err := ParseCategory("hats")
	assert.ErrorIs(t, err, ErrInvalidCategory)

	_, err = ParseCategory("")
	assert.ErrorIs(t, err, ErrInvalidCategory)
}
