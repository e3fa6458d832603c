package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/c360/scanstreams/rule"
)

// Matcher runs the incremental rule evaluator. Each invocation is
// self-contained: the message carries everything needed to reconstruct the
// evaluation, so any matcher instance can pick up any item.
type Matcher struct {
	logger *slog.Logger
}

// NewMatcher creates the rule-evaluation stage handler
func NewMatcher(logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default().With("component", "matcher")
	}
	return &Matcher{logger: logger}
}

// Inputs returns the queues this stage consumes
func (m *Matcher) Inputs() []string { return []string{QueueRepresentations} }

// Handle implements the stage handler contract
func (m *Matcher) Handle(_ context.Context, d Delivery) ([]Outbound, error) {
	var message RepresentationMessage
	if err := json.Unmarshal(d.Body, &message); err != nil {
		return nil, err
	}

	concluded, suspended, err := rule.Evaluate(message.Progress, message.Representations)
	if err != nil {
		// A failing leaf matcher halts evaluation for this item; the
		// handle is never silently dropped.
		m.logger.Warn("rule evaluation failed",
			"scan", message.Spec.Tag.ID,
			"handle", message.Handle.Presentation(), "error", err)
		problem, perr := problemOutbound(
			message.Spec.Tag, nil, message.Handle.Censor(), err.Error())
		if perr != nil {
			return nil, perr
		}
		return []Outbound{problem}, nil
	}

	if suspended != nil {
		// Awaiting a representation: hand the item back to the converter
		request := ConversionMessage{
			Spec:     message.Spec,
			Handle:   message.Handle,
			Progress: suspended.Remaining,
		}
		body, err := request.MarshalJSON()
		if err != nil {
			return nil, err
		}
		return []Outbound{{Queue: QueueConversions, Body: body}}, nil
	}

	verdict := MatchMessage{
		Spec:      message.Spec,
		Handle:    message.Handle,
		Matched:   concluded.Matched,
		Fragments: concluded.Fragments,
	}
	body, err := verdict.MarshalJSON()
	if err != nil {
		return nil, err
	}
	outputs := []Outbound{{Queue: QueueMatches, Body: body}}

	if concluded.Matched {
		request := HandleMessage{Tag: message.Spec.Tag, Handle: message.Handle}
		requestBody, err := request.MarshalJSON()
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, Outbound{Queue: QueueHandles, Body: requestBody})
	}

	return outputs, nil
}
