package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/c360/scanstreams/model"
)

// Tagger extracts metadata for matched items. It runs only on handles the
// matcher concluded positively on, so unmatched content never costs a
// second source access.
type Tagger struct {
	logger *slog.Logger
}

// NewTagger creates the metadata-extraction stage handler
func NewTagger(logger *slog.Logger) *Tagger {
	if logger == nil {
		logger = slog.Default().With("component", "tagger")
	}
	return &Tagger{logger: logger}
}

// Inputs returns the queues this stage consumes
func (t *Tagger) Inputs() []string { return []string{QueueHandles} }

// Handle implements the stage handler contract
func (t *Tagger) Handle(ctx context.Context, d Delivery) ([]Outbound, error) {
	var message HandleMessage
	if err := json.Unmarshal(d.Body, &message); err != nil {
		return nil, err
	}

	sm := model.NewSourceManager(model.WithManagerLogger(t.logger))
	defer func() { _ = sm.Close() }()

	metadata, err := t.extract(ctx, sm, message.Handle)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		t.logger.Warn("metadata extraction failed",
			"scan", message.Tag.ID,
			"handle", message.Handle.Presentation(), "error", err)
		problem, perr := problemOutbound(
			message.Tag, nil, message.Handle.Censor(), err.Error())
		if perr != nil {
			return nil, perr
		}
		return []Outbound{problem}, nil
	}

	out := MetadataMessage{Tag: message.Tag, Handle: message.Handle, Metadata: metadata}
	body, err := out.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return []Outbound{{Queue: QueueMetadata, Body: body}}, nil
}

// extract follows the handle once and reads whatever metadata the resource
// can cheaply provide. Size is required; the rest is best-effort.
func (t *Tagger) extract(ctx context.Context, sm *model.SourceManager, handle model.Handle) (Metadata, error) {
	resource, err := handle.Follow(ctx, sm)
	if err != nil {
		return Metadata{}, err
	}

	size, err := resource.Size()
	if err != nil {
		return Metadata{}, err
	}
	metadata := Metadata{Size: size, MimeType: resource.MimeType()}

	if modified, err := resource.LastModified(); err == nil && !modified.IsZero() {
		metadata.LastModified = modified.UTC().Format(time.RFC3339)
	}
	return metadata, nil
}
