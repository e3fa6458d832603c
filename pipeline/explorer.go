package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/c360/scanstreams/model"
	"github.com/c360/scanstreams/rule"
)

// Explorer is the discovery stage: it admits scan specifications, opens
// their Source, and emits one conversion request per discovered Handle,
// carrying the scan's full rule as the initial progress.
type Explorer struct {
	limiter *rate.Limiter
	logger  *slog.Logger
}

// ExplorerOption configures an Explorer
type ExplorerOption func(*Explorer)

// WithDiscoveryRate bounds how fast handles are enumerated, protecting the
// scanned system from an aggressive walk.
func WithDiscoveryRate(perSecond float64) ExplorerOption {
	return func(e *Explorer) {
		if perSecond > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithExplorerLogger sets the logger
func WithExplorerLogger(logger *slog.Logger) ExplorerOption {
	return func(e *Explorer) { e.logger = logger }
}

// NewExplorer creates the discovery stage handler
func NewExplorer(opts ...ExplorerOption) *Explorer {
	e := &Explorer{
		limiter: rate.NewLimiter(rate.Inf, 1),
		logger:  slog.Default().With("component", "explorer"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Inputs returns the queues this stage consumes
func (e *Explorer) Inputs() []string { return []string{QueueScanSpecs} }

// Handle implements the stage handler contract
func (e *Explorer) Handle(ctx context.Context, d Delivery) ([]Outbound, error) {
	if err := validateScanSpec(d.Body); err != nil {
		return nil, err
	}

	var spec ScanSpec
	if err := json.Unmarshal(d.Body, &spec); err != nil {
		return nil, err
	}

	sm := model.NewSourceManager(model.WithManagerLogger(e.logger))
	defer func() { _ = sm.Close() }()

	var outputs []Outbound
	count := 0
	err := spec.Source.Handles(ctx, sm, func(handle model.Handle) error {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
		message := ConversionMessage{
			Spec:     spec,
			Handle:   handle,
			Progress: rule.NewProgress(spec.Rule),
		}
		body, err := message.MarshalJSON()
		if err != nil {
			return err
		}
		outputs = append(outputs, Outbound{Queue: QueueConversions, Body: body})
		count++
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// A broken or missing source stops enumeration for this scan;
		// handles found before the failure are still scanned.
		e.logger.Warn("source enumeration failed",
			"scan", spec.Tag.ID, "scheme", spec.Source.Scheme(), "error", err)
		problem, perr := problemOutbound(spec.Tag, spec.Source.Censor(), nil, err.Error())
		if perr != nil {
			return nil, perr
		}
		return append(outputs, problem), nil
	}

	e.logger.Info("scan explored",
		"scan", spec.Tag.ID, "scheme", spec.Source.Scheme(), "handles", count)
	return outputs, nil
}

// problemOutbound builds a problem message referencing a censored source or
// handle.
func problemOutbound(tag ScanTag, source model.Source, handle model.Handle, message string) (Outbound, error) {
	where := ""
	if handle != nil {
		where = handle.Presentation()
	} else if source != nil {
		whereJSON, err := json.Marshal(source)
		if err != nil {
			return Outbound{}, err
		}
		where = string(whereJSON)
	}
	problem := ProblemMessage{
		Tag:     tag,
		Where:   where,
		Message: message,
		Handle:  handle,
	}
	body, err := problem.MarshalJSON()
	if err != nil {
		return Outbound{}, err
	}
	return Outbound{Queue: QueueProblems, Body: body}, nil
}
