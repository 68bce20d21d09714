package cronsched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndNextEveryMinute(t *testing.T) {
	expr, err := Parse("* * * * *", "UTC")
	require.NoError(t, err)
	after := time.Date(2026, 7, 31, 10, 0, 30, 0, time.UTC)
	next := expr.Next(after)
	assert.Equal(t, time.Date(2026, 7, 31, 10, 1, 0, 0, time.UTC), next)
}

func TestParseAndNextDailyAtFive(t *testing.T) {
	expr, err := Parse("0 5 * * *", "UTC")
	require.NoError(t, err)
	after := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	next := expr.Next(after)
	assert.Equal(t, time.Date(2026, 8, 1, 5, 0, 0, 0, time.UTC), next)
}

func TestParseStepAndRange(t *testing.T) {
	expr, err := Parse("*/15 9-17 * * 1-5", "UTC")
	require.NoError(t, err)
	// Saturday should be skipped entirely.
	after := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC) // a Saturday
	next := expr.Next(after)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 0, next.Minute())
}

func TestParseRejectsWrongFieldCount(t *testing.T) {
	_, err := Parse("* * * *", "UTC")
	assert.Error(t, err)
}

func TestParseRejectsBadTimezone(t *testing.T) {
	_, err := Parse("* * * * *", "Not/AZone")
	assert.Error(t, err)
}
