package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fiatreserve/core/state"
	"fiatreserve/core/types"
)

var sequenceKey = []byte("runtime/sequence")

// ErrEmptyOperation is returned when Execute is called without an operation name.
var ErrEmptyOperation = errors.New("runtime: operation name required")

// Sink receives the records of every committed operation in commit order.
// Publish runs outside the state mutex but under the publish mutex, so a sink
// must not call back into the runtime.
type Sink interface {
	Publish(ctx context.Context, records []types.EventRecord) error
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(ctx context.Context, records []types.EventRecord) error

// Publish implements Sink.
func (f SinkFunc) Publish(ctx context.Context, records []types.EventRecord) error {
	return f(ctx, records)
}

// Observer is notified about the outcome of every executed operation.
type Observer interface {
	ObserveOperation(op string, duration time.Duration, err error)
}

// Runtime serialises state transitions over a single ledger. Every operation
// runs under the state mutex, is rolled back on error and committed on
// success. Committed events are numbered and handed to the registered sinks.
type Runtime struct {
	stateMu   sync.Mutex
	publishMu sync.Mutex // taken before stateMu is released; keeps sink order
	ledger    *state.Ledger
	sinks     []Sink
	observer  Observer
	tracer    trace.Tracer
	logger    *slog.Logger
	nowFn     func() time.Time
}

// New constructs a runtime over ledger.
func New(ledger *state.Ledger) *Runtime {
	return &Runtime{
		ledger: ledger,
		tracer: otel.Tracer("fiatreserve/runtime"),
		logger: slog.Default(),
		nowFn:  time.Now,
	}
}

// Ledger exposes the underlying ledger. Callers must only touch it through
// Execute or View.
func (r *Runtime) Ledger() *state.Ledger { return r.ledger }

// AddSink registers a sink for committed records.
func (r *Runtime) AddSink(sink Sink) {
	if sink == nil {
		return
	}
	r.stateMu.Lock()
	r.sinks = append(r.sinks, sink)
	r.stateMu.Unlock()
}

// SetObserver installs the operation observer.
func (r *Runtime) SetObserver(observer Observer) {
	r.stateMu.Lock()
	r.observer = observer
	r.stateMu.Unlock()
}

// SetLogger overrides the logger used for sink failures.
func (r *Runtime) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	r.stateMu.Lock()
	r.logger = logger
	r.stateMu.Unlock()
}

// SetNowFunc overrides the commit clock. Intended for tests.
func (r *Runtime) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	r.stateMu.Lock()
	r.nowFn = now
	r.stateMu.Unlock()
}

// Sequence returns the number of records committed so far.
func (r *Runtime) Sequence() (uint64, error) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.loadSequence()
}

func (r *Runtime) loadSequence() (uint64, error) {
	var seq uint64
	if _, err := r.ledger.KVGet(sequenceKey, &seq); err != nil {
		return 0, fmt.Errorf("load sequence: %w", err)
	}
	return seq, nil
}

// Execute runs fn as a single atomic operation. When fn fails every write and
// event it produced is discarded; otherwise the ledger is committed and the
// resulting records are returned.
func (r *Runtime) Execute(ctx context.Context, op string, fn func() error) ([]types.EventRecord, error) {
	if op == "" {
		return nil, ErrEmptyOperation
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := r.tracer.Start(ctx, "runtime."+op,
		trace.WithAttributes(attribute.String("operation", op)))
	defer span.End()

	start := time.Now()
	r.stateMu.Lock()
	records, sinks, err := r.execute(op, fn)
	observer := r.observer
	logger := r.logger
	r.publishMu.Lock()
	r.stateMu.Unlock()
	defer r.publishMu.Unlock()

	if observer != nil {
		observer.ObserveOperation(op, time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("events", len(records)))
	span.SetStatus(codes.Ok, "committed")

	if len(records) > 0 {
		for _, sink := range sinks {
			if perr := sink.Publish(ctx, records); perr != nil {
				logger.Warn("event sink publish failed",
					slog.String("operation", op),
					slog.Any("error", perr))
			}
		}
	}
	return records, nil
}

func (r *Runtime) execute(op string, fn func() error) ([]types.EventRecord, []Sink, error) {
	snapshot := r.ledger.Snapshot()
	rollback := func(cause error) error {
		if rerr := r.ledger.RevertToSnapshot(snapshot); rerr != nil {
			return fmt.Errorf("%s: %v (rollback failed: %w)", op, cause, rerr)
		}
		return cause
	}
	if err := fn(); err != nil {
		return nil, nil, rollback(err)
	}

	seq, err := r.loadSequence()
	if err != nil {
		return nil, nil, rollback(err)
	}
	pending := r.ledger.PendingEvents()
	if len(pending) > 0 {
		if err := r.ledger.KVPut(sequenceKey, seq+uint64(len(pending))); err != nil {
			return nil, nil, rollback(fmt.Errorf("store sequence: %w", err))
		}
	}
	emitted, err := r.ledger.Commit()
	if err != nil {
		// Commit failures leave the journal intact, so the writes can still
		// be unwound.
		return nil, nil, rollback(err)
	}

	committedAt := r.nowFn().UTC()
	records := make([]types.EventRecord, 0, len(emitted))
	for i, evt := range emitted {
		rendered := evt.Event()
		if rendered == nil {
			rendered = &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
		}
		seq++
		records = append(records, types.EventRecord{
			ID:          uuid.NewString(),
			Sequence:    seq,
			Index:       i,
			Operation:   op,
			Event:       rendered,
			CommittedAt: committedAt,
		})
	}
	sinks := append([]Sink(nil), r.sinks...)
	return records, sinks, nil
}

// View runs fn under the state mutex without committing. Any write fn makes is
// discarded.
func (r *Runtime) View(fn func() error) error {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	snapshot := r.ledger.Snapshot()
	err := fn()
	if rerr := r.ledger.RevertToSnapshot(snapshot); rerr != nil {
		return errors.Join(err, rerr)
	}
	return err
}
