// Package relay drives inbound messages through dedupe, parsing and fan-out.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"signal-relay/internal/dedupe"
	"signal-relay/internal/domain"
	"signal-relay/internal/observability"
	"signal-relay/internal/parser"
)

// Emitter delivers an event to every active sink.
type Emitter interface {
	Emit(ctx context.Context, e *domain.SignalEvent)
}

// Recorder observes emitted events.
type Recorder interface {
	Record(e *domain.SignalEvent)
}

// PipelineOptions contains configuration for creating a Pipeline.
type PipelineOptions struct {
	// StrictDedupe serializes handling per source so a message redelivered
	// while its first copy is in flight is not emitted twice.
	StrictDedupe bool
	Logger       *slog.Logger
}

// Pipeline handles one inbound message at a time; Handle may be called
// concurrently.
type Pipeline struct {
	store    *dedupe.Store
	emitter  Emitter
	recorder Recorder
	strict   bool
	logger   *slog.Logger

	locks sync.Map // source id -> *sync.Mutex
}

// NewPipeline creates a pipeline.
func NewPipeline(store *dedupe.Store, emitter Emitter, recorder Recorder, opts PipelineOptions) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:    store,
		emitter:  emitter,
		recorder: recorder,
		strict:   opts.StrictDedupe,
		logger:   logger,
	}
}

// Handle runs dedupe, parse, emit, record and mark for msg. Failures are
// logged as handler_error and never propagate.
func (p *Pipeline) Handle(ctx context.Context, msg domain.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			observability.RecordHandlerError()
			p.logger.Error("handler_error",
				"source_id", msg.SourceID,
				"message_id", msg.MessageID,
				"error", fmt.Sprint(r),
			)
		}
	}()

	observability.RecordMessageReceived()

	if p.strict {
		mu := p.lockFor(msg.SourceID)
		mu.Lock()
		defer mu.Unlock()
	}

	start := time.Now()
	if !p.store.ShouldProcess(msg.SourceID, msg.MessageID) {
		observability.RecordDuplicate()
		p.logger.Debug("duplicate skipped", "source_id", msg.SourceID, "message_id", msg.MessageID)
		return
	}

	event := parser.Parse(msg.Text).WithMessage(msg).Event()
	p.emitter.Emit(ctx, event)
	p.recorder.Record(event)
	p.store.MarkProcessed(msg.SourceID, msg.MessageID)

	kind := parser.AddressNone
	if event.ContractAddress != nil {
		kind = parser.Classify(*event.ContractAddress)
	}
	observability.RecordSignalEmitted(string(kind), time.Since(start).Seconds())
}

func (p *Pipeline) lockFor(sourceID int64) *sync.Mutex {
	if mu, ok := p.locks.Load(sourceID); ok {
		return mu.(*sync.Mutex)
	}
	mu, _ := p.locks.LoadOrStore(sourceID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
