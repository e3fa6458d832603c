package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/c360/scanstreams/errors"
)

// Exporter is the trust boundary between the scanning side and whatever
// consumes results. Every message passing through is re-serialized with its
// Sources and Handles censored; credentials never reach the results queue,
// even when an upstream stage forgot to strip them.
type Exporter struct {
	logger *slog.Logger

	mu   sync.Mutex
	dump io.Writer
}

// ExporterOption configures an Exporter
type ExporterOption func(*Exporter)

// WithDumpWriter additionally appends every exported result to w as one
// JSON document per line.
func WithDumpWriter(w io.Writer) ExporterOption {
	return func(e *Exporter) { e.dump = w }
}

// WithExporterLogger sets the logger
func WithExporterLogger(logger *slog.Logger) ExporterOption {
	return func(e *Exporter) { e.logger = logger }
}

// NewExporter creates the result-export stage handler
func NewExporter(opts ...ExporterOption) *Exporter {
	e := &Exporter{logger: slog.Default().With("component", "exporter")}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Inputs returns the queues this stage consumes
func (e *Exporter) Inputs() []string {
	return []string{QueueMatches, QueueMetadata, QueueProblems}
}

// Handle implements the stage handler contract
func (e *Exporter) Handle(_ context.Context, d Delivery) ([]Outbound, error) {
	censored, err := censorBody(d.Queue, d.Body)
	if err != nil {
		return nil, err
	}

	result := ResultMessage{Origin: d.Queue, Body: censored}
	body, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	if err := e.writeDump(body); err != nil {
		e.logger.Warn("result dump write failed", "error", err)
	}

	return []Outbound{{Queue: QueueResults, Body: body}}, nil
}

func (e *Exporter) writeDump(body []byte) error {
	if e.dump == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.dump.Write(append(body, '\n')); err != nil {
		return err
	}
	return nil
}

// censorBody decodes a message from the given queue, replaces its Sources
// and Handles with their censored forms, and re-serializes it.
func censorBody(queue string, body []byte) ([]byte, error) {
	switch queue {
	case QueueMatches:
		var message MatchMessage
		if err := json.Unmarshal(body, &message); err != nil {
			return nil, err
		}
		message.Spec.Source = message.Spec.Source.Censor()
		message.Handle = message.Handle.Censor()
		return message.MarshalJSON()

	case QueueMetadata:
		var message MetadataMessage
		if err := json.Unmarshal(body, &message); err != nil {
			return nil, err
		}
		message.Handle = message.Handle.Censor()
		return message.MarshalJSON()

	case QueueProblems:
		var message ProblemMessage
		if err := json.Unmarshal(body, &message); err != nil {
			return nil, err
		}
		if message.Handle != nil {
			message.Handle = message.Handle.Censor()
		}
		return message.MarshalJSON()

	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidData,
			"Exporter", "censorBody", "export from queue "+queue)
	}
}
