package rule

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textReps(text string) Representations {
	return Representations{TypeText: text}
}

func TestEvaluateSimpleLeaf(t *testing.T) {
	r := NewRegexRule("secret")

	concluded, suspended, err := Evaluate(NewProgress(r), textReps("a secret plan"))
	require.NoError(t, err)
	require.Nil(t, suspended)
	require.NotNil(t, concluded)

	assert.True(t, concluded.Matched)
	require.Len(t, concluded.Fragments, 1)
	assert.True(t, concluded.Fragments[0].Matched)
	require.Len(t, concluded.Fragments[0].Matches, 1)
	assert.Equal(t, "secret", concluded.Fragments[0].Matches[0].Match)
	assert.Equal(t, 2, concluded.Fragments[0].Matches[0].Offset)
}

func TestEvaluateNoMatch(t *testing.T) {
	concluded, suspended, err := Evaluate(NewProgress(NewRegexRule("absent")), textReps("nothing here"))
	require.NoError(t, err)
	require.Nil(t, suspended)

	assert.False(t, concluded.Matched)
	require.Len(t, concluded.Fragments, 1)
	assert.False(t, concluded.Fragments[0].Matched)
	assert.Empty(t, concluded.Fragments[0].Matches)
}

func TestEvaluateAndShortCircuits(t *testing.T) {
	// The second component needs last-modified; when the first fails, that
	// representation must never be requested.
	r := And(
		NewRegexRule("absent"),
		NewLastModifiedRule(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)),
	)

	concluded, suspended, err := Evaluate(NewProgress(r), textReps("nothing relevant"))
	require.NoError(t, err)
	require.Nil(t, suspended, "failed first conjunct must conclude without the second's representation")
	assert.False(t, concluded.Matched)
	assert.Len(t, concluded.Fragments, 1)
}

func TestEvaluateOrShortCircuits(t *testing.T) {
	r := Or(
		NewRegexRule("present"),
		NewLastModifiedRule(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)),
	)

	concluded, suspended, err := Evaluate(NewProgress(r), textReps("present and accounted for"))
	require.NoError(t, err)
	require.Nil(t, suspended)
	assert.True(t, concluded.Matched)
	assert.Len(t, concluded.Fragments, 1)
}

func TestEvaluateSuspendsOnMissingRepresentation(t *testing.T) {
	r := And(
		NewRegexRule("report"),
		NewLastModifiedRule(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)),
	)

	concluded, suspended, err := Evaluate(NewProgress(r), textReps("the report"))
	require.NoError(t, err)
	require.Nil(t, concluded)
	require.NotNil(t, suspended)

	assert.Equal(t, TypeLastModified, suspended.Missing)
	// The fragment for the already-evaluated first conjunct is carried
	require.Len(t, suspended.Remaining.Fragments, 1)
	assert.True(t, suspended.Remaining.Fragments[0].Matched)
}

func TestSuspendResumeEquivalence(t *testing.T) {
	r := And(
		NewRegexRule("report"),
		NewLastModifiedRule(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)),
	)
	full := Representations{
		TypeText:         "the report",
		TypeLastModified: "2024-06-01T12:00:00Z",
	}

	// All at once
	direct, _, err := Evaluate(NewProgress(r), full)
	require.NoError(t, err)
	require.NotNil(t, direct)

	// Two hops with a serialization boundary between them
	_, suspended, err := Evaluate(NewProgress(r), textReps("the report"))
	require.NoError(t, err)
	require.NotNil(t, suspended)

	wire, err := json.Marshal(suspended.Remaining)
	require.NoError(t, err)
	var resumed Progress
	require.NoError(t, json.Unmarshal(wire, &resumed))

	second, _, err := Evaluate(resumed, Representations{
		TypeLastModified: "2024-06-01T12:00:00Z",
	})
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, direct.Matched, second.Matched)
	require.Len(t, second.Fragments, len(direct.Fragments))
	for i := range direct.Fragments {
		assert.Equal(t, direct.Fragments[i].Matched, second.Fragments[i].Matched)
		assert.Equal(t, direct.Fragments[i].Matches, second.Fragments[i].Matches)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	r := Or(
		And(NewRegexRule("alpha"), NewRegexRule("beta")),
		NewRegexRule("gamma"),
	)
	reps := textReps("alpha then gamma but no second greek letter")

	first, _, err := Evaluate(NewProgress(r), reps)
	require.NoError(t, err)
	second, _, err := Evaluate(NewProgress(r), reps)
	require.NoError(t, err)

	assert.Equal(t, first.Matched, second.Matched)
	assert.Equal(t, first.Fragments, second.Fragments)
}

func TestEvaluateDoesNotMutateInputProgress(t *testing.T) {
	r := And(NewRegexRule("one"), NewRegexRule("two"))
	progress := NewProgress(r)

	_, _, err := Evaluate(progress, textReps("one two"))
	require.NoError(t, err)

	assert.Empty(t, progress.Fragments)
	assert.Equal(t, Rule(r), progress.Rule)
}

func TestEvaluateNotInvertsOutcome(t *testing.T) {
	concluded, _, err := Evaluate(NewProgress(Not(NewRegexRule("absent"))), textReps("text"))
	require.NoError(t, err)
	assert.True(t, concluded.Matched)

	concluded, _, err = Evaluate(NewProgress(Not(NewRegexRule("text"))), textReps("text"))
	require.NoError(t, err)
	assert.False(t, concluded.Matched)
}

func TestEvaluateLeafErrorPropagates(t *testing.T) {
	_, _, err := Evaluate(NewProgress(NewRegexRule("[invalid")), textReps("text"))
	require.Error(t, err)
}

func TestRequiredType(t *testing.T) {
	assert.Equal(t, TypeText, RequiredType(NewRegexRule("x")))
	assert.Equal(t, TypeLastModified,
		RequiredType(NewLastModifiedRule(time.Now())))
	assert.Equal(t, RepresentationType(""), RequiredType(True))

	// A conjunction's first component decides what is needed next
	r := And(NewLastModifiedRule(time.Now()), NewRegexRule("x"))
	assert.Equal(t, TypeLastModified, RequiredType(r))
}
