package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/c360/scanstreams/model"
	"github.com/c360/scanstreams/rule"
)

// maxTextBytes bounds how much content the text representation reads.
// Matching beyond this limit adds little and risks unbounded memory on
// pathological inputs.
const maxTextBytes = 16 << 20

// Converter computes exactly the representation the head of a suspended
// rule needs and re-enqueues the item for the matcher. It never computes
// more than was asked for: representations not reachable through the taken
// rule branch are never produced.
type Converter struct {
	logger *slog.Logger
}

// NewConverter creates the representation-extraction stage handler
func NewConverter(logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default().With("component", "converter")
	}
	return &Converter{logger: logger}
}

// Inputs returns the queues this stage consumes
func (c *Converter) Inputs() []string { return []string{QueueConversions} }

// Handle implements the stage handler contract
func (c *Converter) Handle(ctx context.Context, d Delivery) ([]Outbound, error) {
	var message ConversionMessage
	if err := json.Unmarshal(d.Body, &message); err != nil {
		return nil, err
	}

	representations := rule.Representations{}
	required := rule.RequiredType(message.Progress.Rule)
	if required != "" {
		sm := model.NewSourceManager(model.WithManagerLogger(c.logger))
		defer func() { _ = sm.Close() }()

		value, err := c.compute(ctx, sm, message.Handle, required)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("representation extraction failed",
				"scan", message.Spec.Tag.ID,
				"handle", message.Handle.Presentation(),
				"type", string(required), "error", err)
			problem, perr := problemOutbound(
				message.Spec.Tag, nil, message.Handle.Censor(), err.Error())
			if perr != nil {
				return nil, perr
			}
			return []Outbound{problem}, nil
		}
		representations[required] = value
	}

	out := RepresentationMessage{
		Spec:            message.Spec,
		Handle:          message.Handle,
		Progress:        message.Progress,
		Representations: representations,
	}
	body, err := out.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return []Outbound{{Queue: QueueRepresentations, Body: body}}, nil
}

func (c *Converter) compute(
	ctx context.Context, sm *model.SourceManager,
	handle model.Handle, required rule.RepresentationType,
) (any, error) {
	resource, err := handle.Follow(ctx, sm)
	if err != nil {
		return nil, err
	}

	switch required {
	case rule.TypeText:
		stream, err := resource.Stream()
		if err != nil {
			return nil, err
		}
		defer func() { _ = stream.Close() }()
		content, err := io.ReadAll(io.LimitReader(stream, maxTextBytes))
		if err != nil {
			return nil, err
		}
		return string(content), nil

	case rule.TypeLastModified:
		modified, err := resource.LastModified()
		if err != nil {
			return nil, err
		}
		return modified.UTC().Format(time.RFC3339), nil

	default:
		return nil, fmt.Errorf("no conversion for representation type %q", required)
	}
}
