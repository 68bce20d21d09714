package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRuleEmptyAlwaysTrue(t *testing.T) {
	r, err := ParseRule("")
	require.NoError(t, err)
	ok, err := r.Evaluate(RuleContext{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTaskSuccessAndFailed(t *testing.T) {
	r, err := ParseRule(`task_success("extract")`)
	require.NoError(t, err)

	ok, err := r.Evaluate(RuleContext{Outcomes: map[string]Outcome{"extract": OutcomeSuccess}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Evaluate(RuleContext{Outcomes: map[string]Outcome{"extract": OutcomeFailed}})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.Evaluate(RuleContext{})
	require.Error(t, err)
}

func TestContextValueComparison(t *testing.T) {
	r, err := ParseRule(`context_value("count", ">", 3)`)
	require.NoError(t, err)

	ok, err := r.Evaluate(RuleContext{Values: map[string]any{"count": 5}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Evaluate(RuleContext{Values: map[string]any{"count": 2}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAllAnyNot(t *testing.T) {
	r, err := ParseRule(`all(task_success("a"), not(task_failed("b")))`)
	require.NoError(t, err)

	rc := RuleContext{Outcomes: map[string]Outcome{
		"a": OutcomeSuccess,
		"b": OutcomeSkipped,
	}}
	ok, err := r.Evaluate(rc)
	require.NoError(t, err)
	assert.True(t, ok)

	r2, err := ParseRule(`any(task_success("a"), task_success("b"))`)
	require.NoError(t, err)
	ok, err = r2.Evaluate(RuleContext{Outcomes: map[string]Outcome{
		"a": OutcomeFailed,
		"b": OutcomeSuccess,
	}})
	require.NoError(t, err)
	assert.True(t, ok)
}
