package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/scanstreams/model"
	"github.com/c360/scanstreams/rule"
)

func representationBody(t *testing.T, message RepresentationMessage) []byte {
	t.Helper()
	body, err := message.MarshalJSON()
	require.NoError(t, err)
	return body
}

func fsHandle(dir, name string) model.Handle {
	return model.NewFilesystemHandle(model.NewFilesystemSource(dir), name)
}

func TestMatcherConcludesPositively(t *testing.T) {
	spec := fsSpec("/data", rule.NewRegexRule("secret"))
	message := RepresentationMessage{
		Spec:            spec,
		Handle:          fsHandle("/data", "a.txt"),
		Progress:        rule.NewProgress(spec.Rule),
		Representations: rule.Representations{rule.TypeText: "a secret here"},
	}

	outputs, err := NewMatcher(nil).Handle(context.Background(),
		Delivery{Queue: QueueRepresentations, Body: representationBody(t, message)})
	require.NoError(t, err)
	require.Len(t, outputs, 2)

	assert.Equal(t, QueueMatches, outputs[0].Queue)
	var verdict MatchMessage
	require.NoError(t, verdict.UnmarshalJSON(outputs[0].Body))
	assert.True(t, verdict.Matched)
	require.Len(t, verdict.Fragments, 1)
	assert.True(t, verdict.Fragments[0].Matched)
	require.Len(t, verdict.Fragments[0].Matches, 1)
	assert.Equal(t, "secret", verdict.Fragments[0].Matches[0].Match)

	assert.Equal(t, QueueHandles, outputs[1].Queue)
	var request HandleMessage
	require.NoError(t, request.UnmarshalJSON(outputs[1].Body))
	assert.True(t, model.HandlesEqual(message.Handle, request.Handle))
}

func TestMatcherConcludesNegatively(t *testing.T) {
	spec := fsSpec("/data", rule.NewRegexRule("secret"))
	message := RepresentationMessage{
		Spec:            spec,
		Handle:          fsHandle("/data", "a.txt"),
		Progress:        rule.NewProgress(spec.Rule),
		Representations: rule.Representations{rule.TypeText: "nothing to see"},
	}

	outputs, err := NewMatcher(nil).Handle(context.Background(),
		Delivery{Queue: QueueRepresentations, Body: representationBody(t, message)})
	require.NoError(t, err)
	require.Len(t, outputs, 1, "unmatched items trigger no metadata extraction")

	var verdict MatchMessage
	require.NoError(t, verdict.UnmarshalJSON(outputs[0].Body))
	assert.False(t, verdict.Matched)
	require.Len(t, verdict.Fragments, 1)
	assert.False(t, verdict.Fragments[0].Matched)
}

func TestMatcherSuspendsOnMissingRepresentation(t *testing.T) {
	cutoff := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	composed := rule.And(rule.NewRegexRule("secret"), rule.NewLastModifiedRule(cutoff))
	spec := fsSpec("/data", composed)
	message := RepresentationMessage{
		Spec:            spec,
		Handle:          fsHandle("/data", "a.txt"),
		Progress:        rule.NewProgress(composed),
		Representations: rule.Representations{rule.TypeText: "a secret here"},
	}

	outputs, err := NewMatcher(nil).Handle(context.Background(),
		Delivery{Queue: QueueRepresentations, Body: representationBody(t, message)})
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, QueueConversions, outputs[0].Queue)

	var resumed ConversionMessage
	require.NoError(t, resumed.UnmarshalJSON(outputs[0].Body))
	assert.Equal(t, rule.TypeLastModified, rule.RequiredType(resumed.Progress.Rule))
	require.Len(t, resumed.Progress.Fragments, 1,
		"work already done travels with the suspension")
	assert.True(t, resumed.Progress.Fragments[0].Matched)
}

func TestMatcherShortCircuitsWithoutSecondRepresentation(t *testing.T) {
	cutoff := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	composed := rule.And(rule.NewRegexRule("secret"), rule.NewLastModifiedRule(cutoff))
	spec := fsSpec("/data", composed)
	message := RepresentationMessage{
		Spec:            spec,
		Handle:          fsHandle("/data", "a.txt"),
		Progress:        rule.NewProgress(composed),
		Representations: rule.Representations{rule.TypeText: "nothing here"},
	}

	outputs, err := NewMatcher(nil).Handle(context.Background(),
		Delivery{Queue: QueueRepresentations, Body: representationBody(t, message)})
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, QueueMatches, outputs[0].Queue,
		"a failed conjunct concludes without the second representation")

	var verdict MatchMessage
	require.NoError(t, verdict.UnmarshalJSON(outputs[0].Body))
	assert.False(t, verdict.Matched)
}

func TestMatcherReportsEvaluationFailure(t *testing.T) {
	spec := fsSpec("/data", rule.NewRegexRule("secret"))
	message := RepresentationMessage{
		Spec:            spec,
		Handle:          fsHandle("/data", "a.txt"),
		Progress:        rule.NewProgress(spec.Rule),
		Representations: rule.Representations{rule.TypeText: 42},
	}

	outputs, err := NewMatcher(nil).Handle(context.Background(),
		Delivery{Queue: QueueRepresentations, Body: representationBody(t, message)})
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, QueueProblems, outputs[0].Queue)

	var problem ProblemMessage
	require.NoError(t, problem.UnmarshalJSON(outputs[0].Body))
	assert.Equal(t, spec.Tag.ID, problem.Tag.ID)
	assert.NotEmpty(t, problem.Message)
}
