// Package pipeline implements the queue-driven scan pipeline: the wire
// messages, the reliable Stage runtime, and the five stage handlers
// (explorer, converter, matcher, tagger, exporter).
package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/c360/scanstreams/errors"
	"github.com/c360/scanstreams/metric"
	"github.com/c360/scanstreams/pkg/retry"
)

// Delivery is one inbound message as seen by a handler
type Delivery struct {
	Queue string
	Body  []byte
}

// Outbound is one message a handler wants published
type Outbound struct {
	Queue string
	Body  []byte
}

// Handler turns one inbound message into zero or more outbound messages.
// Handlers must be idempotent: a crash between publish and acknowledgment
// redelivers the input, and outputs may be duplicated. Delivery is
// at-least-once, never exactly-once.
type Handler func(ctx context.Context, d Delivery) ([]Outbound, error)

// Broker is the transport a Stage runs on, satisfied by natsclient.Client
type Broker interface {
	EnsureStream(ctx context.Context, name string, subjects []string) (jetstream.Stream, error)
	PublishToStream(ctx context.Context, subject string, data []byte) error
	Consume(ctx context.Context, streamName, durableName, subject string,
		maxAckPending int, handler func(jetstream.Msg)) error
	StopConsumers()
}

// workItem is an inbound message waiting for a worker
type workItem struct {
	msg   jetstream.Msg
	queue string
}

// publishJob hands a handled message to the publisher goroutine: the
// outputs to publish in order, then the inbound message to acknowledge.
type publishJob struct {
	msg     jetstream.Msg
	queue   string
	outputs []Outbound
	started time.Time
}

// Stage is the reusable consumer/producer harness. Worker goroutines run
// the pure handler; a single publisher goroutine owns every broker write
// and acknowledgment, so the transport only ever sees one writer. An
// inbound message is acknowledged only after all of its outputs have been
// published and confirmed by the broker.
type Stage struct {
	name    string
	broker  Broker
	inputs  []string
	handler Handler

	workers      int
	publishRetry retry.Config
	logger       *slog.Logger
	metrics      *metric.Metrics
}

// StageOption configures a Stage
type StageOption func(*Stage)

// WithWorkers sets the bounded handler pool size. It doubles as the
// prefetch limit: the stage never holds more unacknowledged messages than
// it has workers.
func WithWorkers(workers int) StageOption {
	return func(s *Stage) {
		if workers > 0 {
			s.workers = workers
		}
	}
}

// WithPublishRetry sets the retry policy for transient publish failures
func WithPublishRetry(cfg retry.Config) StageOption {
	return func(s *Stage) { s.publishRetry = cfg }
}

// WithStageLogger sets the stage logger
func WithStageLogger(logger *slog.Logger) StageOption {
	return func(s *Stage) { s.logger = logger }
}

// WithStageMetrics sets the metrics sink
func WithStageMetrics(metrics *metric.Metrics) StageOption {
	return func(s *Stage) { s.metrics = metrics }
}

// NewStage creates a Stage bound to its input queues
func NewStage(name string, broker Broker, inputs []string, handler Handler, opts ...StageOption) *Stage {
	s := &Stage{
		name:         name,
		broker:       broker,
		inputs:       inputs,
		handler:      handler,
		workers:      1,
		publishRetry: retry.Persistent(),
		logger:       slog.Default().With("component", name),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the stage name
func (s *Stage) Name() string { return s.name }

// Run declares the stream, starts consuming, and blocks until the context
// is cancelled or a fatal error terminates the stage. Transient transport
// faults are retried inside the runtime and never reach the handler;
// everything else is fail-fast, leaving restart to an external supervisor.
func (s *Stage) Run(ctx context.Context) error {
	if _, err := s.broker.EnsureStream(ctx, StreamName, AllSubjects()); err != nil {
		return errors.Wrap(err, "Stage", "Run", "declare stream")
	}

	group, gctx := errgroup.WithContext(ctx)
	work := make(chan workItem)
	publish := make(chan publishJob, s.workers)

	group.Go(func() error { return s.publisherLoop(gctx, publish) })

	var workerGroup errgroup.Group
	for i := 0; i < s.workers; i++ {
		workerGroup.Go(func() error { return s.workerLoop(gctx, work, publish) })
	}
	group.Go(func() error {
		err := workerGroup.Wait()
		close(publish)
		return err
	})

	for _, queue := range s.inputs {
		queue := queue
		err := s.broker.Consume(gctx, StreamName, s.name+"-"+queue, Subject(queue),
			s.workers, func(msg jetstream.Msg) {
				s.recordReceived(queue)
				select {
				case work <- workItem{msg: msg, queue: QueueOf(msg.Subject())}:
				case <-gctx.Done():
					// Unacknowledged; the broker redelivers
				}
			})
		if err != nil {
			return errors.Wrap(err, "Stage", "Run",
				fmt.Sprintf("consume queue %s", queue))
		}
	}

	s.logger.Info("stage running",
		"inputs", s.inputs, "workers", s.workers)

	group.Go(func() error {
		<-gctx.Done()
		s.broker.StopConsumers()
		return nil
	})

	err := group.Wait()
	if err != nil && !stderrors.Is(err, context.Canceled) {
		s.logger.Error("stage terminated", "error", err)
		return err
	}
	s.logger.Info("stage stopped")
	return nil
}

func (s *Stage) workerLoop(ctx context.Context, work <-chan workItem, publish chan<- publishJob) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case item := <-work:
			job, err := s.handleOne(ctx, item)
			if err != nil {
				return err
			}
			select {
			case publish <- job:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// handleOne runs the handler for one message. Malformed input produces an
// empty job so the message still gets acknowledged and dropped; any other
// handler error is fatal.
func (s *Stage) handleOne(ctx context.Context, item workItem) (publishJob, error) {
	started := time.Now()
	outputs, err := s.handler(ctx, Delivery{Queue: item.queue, Body: item.msg.Data()})
	if err != nil {
		if errors.IsInvalid(err) {
			s.logger.Warn("dropping malformed message",
				"queue", item.queue, "error", err)
			s.recordError("malformed")
			return publishJob{msg: item.msg, queue: item.queue, started: started}, nil
		}
		s.recordError("handler")
		return publishJob{}, errors.WrapFatal(err, "Stage", "handleOne",
			fmt.Sprintf("handle message from %s", item.queue))
	}
	return publishJob{msg: item.msg, queue: item.queue, outputs: outputs, started: started}, nil
}

// publisherLoop is the single writer: it drains each job's pending outputs
// in order, retrying transient publish faults with backoff so a dropped
// connection never loses or reorders a message, and acknowledges the
// inbound message only once every output is confirmed.
func (s *Stage) publisherLoop(ctx context.Context, publish <-chan publishJob) error {
	for job := range publish {
		for _, out := range job.outputs {
			out := out
			err := retry.Do(ctx, s.publishRetry, func() error {
				publishErr := s.broker.PublishToStream(ctx, Subject(out.Queue), out.Body)
				if publishErr != nil && !errors.IsTransient(publishErr) {
					return retry.NonRetryable(publishErr)
				}
				if publishErr != nil {
					s.recordReconnectRetry()
				}
				return publishErr
			})
			if err != nil {
				// The inbound message stays unacknowledged and will be
				// redelivered; terminating here is the fail-fast path.
				return errors.WrapFatal(err, "Stage", "publisherLoop",
					fmt.Sprintf("publish to %s", out.Queue))
			}
			s.recordPublished(out.Queue)
		}

		if err := job.msg.Ack(); err != nil {
			s.logger.Warn("acknowledge failed; message may be redelivered",
				"queue", job.queue, "error", err)
		}
		s.recordProcessed(job.queue, time.Since(job.started))
	}
	return nil
}

func (s *Stage) recordReceived(queue string) {
	if s.metrics != nil {
		s.metrics.RecordMessageReceived(s.name, queue)
	}
}

func (s *Stage) recordPublished(queue string) {
	if s.metrics != nil {
		s.metrics.RecordMessagePublished(s.name, queue)
	}
}

func (s *Stage) recordProcessed(queue string, duration time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordMessageProcessed(s.name, queue, "ok")
		s.metrics.RecordProcessingDuration(s.name, "handle", duration)
	}
}

func (s *Stage) recordError(kind string) {
	if s.metrics != nil {
		s.metrics.RecordError(s.name, kind)
	}
}

func (s *Stage) recordReconnectRetry() {
	if s.metrics != nil {
		s.metrics.RecordBrokerReconnect()
	}
}

// Submit publishes a scan specification to the pipeline's entry queue. It
// is the one-off producer used by the scan command; stages never call it.
func Submit(ctx context.Context, broker Broker, spec ScanSpec) error {
	if _, err := broker.EnsureStream(ctx, StreamName, AllSubjects()); err != nil {
		return errors.Wrap(err, "Submit", "Submit", "declare stream")
	}
	body, err := spec.MarshalJSON()
	if err != nil {
		return errors.WrapInvalid(err, "Submit", "Submit", "serialize scan spec")
	}
	if err := broker.PublishToStream(ctx, Subject(QueueScanSpecs), body); err != nil {
		return errors.Wrap(err, "Submit", "Submit", "publish scan spec")
	}
	return nil
}
