// Package craft runs crafting transactions: it validates a grid, deducts the
// placed materials from the owner's ledger, synthesizes an item, and credits
// the materials back when synthesis fails after the deduction.
package craft

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gravitas-games/forge/internal/grid"
	"github.com/gravitas-games/forge/internal/inventory"
	"github.com/gravitas-games/forge/internal/ledger"
	"github.com/gravitas-games/forge/internal/synth"
)

const (
	// DefaultSynthesisTimeout bounds one Synthesize call.
	DefaultSynthesisTimeout = 5 * time.Second
	// DefaultCompensationTimeout bounds crediting materials back after a failed synthesis.
	DefaultCompensationTimeout = 10 * time.Second
)

// Recorder persists finished outcomes, e.g. a journal.Writer.
type Recorder interface {
	Write(v any) error
}

// Stats counts finished transactions by terminal state.
type Stats struct {
	Committed            uint64 `json:"committed"`
	Invalid              uint64 `json:"invalid"`
	InsufficientMaterial uint64 `json:"insufficientMaterial"`
	RolledBack           uint64 `json:"rolledBack"`
	CompensationFailed   uint64 `json:"compensationFailed"`
	Aborted              uint64 `json:"aborted"`
}

// Engine orchestrates craft transactions. It holds no per-owner state of its
// own; concurrent crafts for one owner serialize only inside the ledger.
type Engine struct {
	ledger      ledger.Ledger
	synthesizer synth.Synthesizer
	catalog     *inventory.Catalog
	events      EventBus
	recorder    Recorder
	logger      *zap.Logger

	synthesisTimeout    time.Duration
	compensationTimeout time.Duration

	committed, invalid, insufficient, rolledBack, compFailed, aborted atomic.Uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithCatalog makes the engine reject materials the catalog does not know
// before touching the ledger.
func WithCatalog(c *inventory.Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithEventBus publishes every finished transaction on bus.
func WithEventBus(bus EventBus) Option {
	return func(e *Engine) {
		if bus != nil {
			e.events = bus
		}
	}
}

// WithRecorder writes every finished transaction to r.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithSynthesisTimeout bounds each synthesis call.
func WithSynthesisTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.synthesisTimeout = d
		}
	}
}

// WithCompensationTimeout bounds the credit that undoes a deduction.
func WithCompensationTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.compensationTimeout = d
		}
	}
}

// NewEngine creates an engine over a ledger and a synthesizer.
func NewEngine(l ledger.Ledger, s synth.Synthesizer, opts ...Option) *Engine {
	e := &Engine{
		ledger:              l,
		synthesizer:         s,
		events:              NullEventBus{},
		logger:              zap.NewNop(),
		synthesisTimeout:    DefaultSynthesisTimeout,
		compensationTimeout: DefaultCompensationTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Events returns the bus outcomes are published on.
func (e *Engine) Events() EventBus {
	return e.events
}

// Stats returns a snapshot of the terminal-state counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Committed:            e.committed.Load(),
		Invalid:              e.invalid.Load(),
		InsufficientMaterial: e.insufficient.Load(),
		RolledBack:           e.rolledBack.Load(),
		CompensationFailed:   e.compFailed.Load(),
		Aborted:              e.aborted.Load(),
	}
}

// Execute runs one craft transaction for owner. The returned Outcome always
// carries a terminal state. Errors:
//   - *grid.InvalidError, *UnknownMaterialError or synth.ErrUnknownCategory:
//     the request was rejected before the ledger was touched.
//   - *ledger.InsufficientMaterialError: nothing was deducted.
//   - *SynthesisError: materials were deducted, then credited back unless
//     Compensated is false.
//   - other ledger errors (ledger.ErrContention, ledger.ErrClosed, ...): the
//     deduction did not happen.
func (e *Engine) Execute(ctx context.Context, owner inventory.OwnerID, req Request) (Outcome, error) {
	out := Outcome{
		TxID:      uuid.New(),
		Owner:     owner,
		Category:  req.Category,
		StartedAt: time.Now(),
	}
	log := e.logger.With(
		zap.String("tx", out.TxID.String()),
		zap.String("owner", string(owner)),
		zap.String("category", string(req.Category)),
	)
	out.enter(StateReceived)

	err := e.run(ctx, log, &out, req)
	e.finish(log, &out, err)
	return out, err
}

func (e *Engine) run(ctx context.Context, log *zap.Logger, out *Outcome, req Request) error {
	out.enter(StateValidating)
	if !req.Category.Valid() {
		out.enter(StateInvalid)
		return fmt.Errorf("%w: %q", synth.ErrUnknownCategory, req.Category)
	}
	if err := grid.Validate(req.Grid); err != nil {
		out.enter(StateInvalid)
		return err
	}
	consumed := req.Grid.Materials()
	if e.catalog != nil {
		if missing := e.catalog.Missing(consumed); len(missing) > 0 {
			out.enter(StateInvalid)
			return &UnknownMaterialError{Materials: missing}
		}
	}

	out.enter(StateDeducting)
	remaining, err := e.ledger.CheckAndDeduct(ctx, out.Owner, consumed)
	if err != nil {
		var short *ledger.InsufficientMaterialError
		if errors.As(err, &short) {
			out.enter(StateInsufficientMaterial)
		} else {
			out.enter(StateAborted)
		}
		return err
	}
	out.Consumed = consumed
	log.Debug("materials deducted", zap.Stringer("consumed", consumed))

	out.enter(StateSynthesizing)
	item, err := e.synthesize(ctx, req.Category, consumed)
	if err == nil {
		// An abandoned request must not keep the materials it paid with.
		err = ctx.Err()
	}
	if err != nil {
		out.enter(StateSynthesisFailed)
		log.Warn("synthesis failed, compensating", zap.Error(err))
		return e.compensate(ctx, log, out, err)
	}

	out.Item = &item
	out.Remaining = remaining
	out.enter(StateCommitted)
	return nil
}

// synthesize calls the synthesizer under the synthesis timeout. The call runs
// in its own goroutine so a synthesizer ignoring its context cannot hold the
// deduction past the deadline.
func (e *Engine) synthesize(ctx context.Context, category synth.Category, consumed inventory.Counts) (synth.CraftedItem, error) {
	if err := ctx.Err(); err != nil {
		return synth.CraftedItem{}, err
	}
	sctx, cancel := context.WithTimeout(ctx, e.synthesisTimeout)
	defer cancel()

	type result struct {
		item synth.CraftedItem
		err  error
	}
	done := make(chan result, 1)
	go func() {
		item, err := e.synthesizer.Synthesize(sctx, category, consumed)
		done <- result{item, err}
	}()

	select {
	case r := <-done:
		return r.item, r.err
	case <-sctx.Done():
		return synth.CraftedItem{}, fmt.Errorf("synthesis did not finish: %w", sctx.Err())
	}
}

// compensate credits the consumed materials back. It ignores the caller's
// cancellation but not its values, and gives up after the compensation
// timeout. Contention is retried until then.
func (e *Engine) compensate(ctx context.Context, log *zap.Logger, out *Outcome, cause error) error {
	out.enter(StateCompensating)
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.compensationTimeout)
	defer cancel()

	backoff := 10 * time.Millisecond
	for {
		_, err := e.ledger.Credit(cctx, out.Owner, out.Consumed)
		if err == nil {
			out.enter(StateRolledBack)
			log.Info("craft rolled back", zap.Stringer("restored", out.Consumed))
			return &SynthesisError{Cause: cause, Compensated: true}
		}
		if !errors.Is(err, ledger.ErrContention) {
			return e.compensationFailed(log, out, cause, err)
		}
		select {
		case <-cctx.Done():
			return e.compensationFailed(log, out, cause, err)
		case <-time.After(backoff):
		}
		if backoff < 500*time.Millisecond {
			backoff *= 2
		}
	}
}

func (e *Engine) compensationFailed(log *zap.Logger, out *Outcome, cause, err error) error {
	out.enter(StateCompensationFailed)
	log.Error("compensation failed, ledger not restored",
		zap.Stringer("lost", out.Consumed),
		zap.NamedError("cause", cause),
		zap.Error(err),
	)
	return &SynthesisError{Cause: cause, Compensation: err}
}

func (e *Engine) finish(log *zap.Logger, out *Outcome, err error) {
	out.FinishedAt = time.Now()
	if err != nil {
		out.Error = err.Error()
	}

	switch out.State {
	case StateCommitted:
		e.committed.Add(1)
		log.Info("craft committed",
			zap.String("item", out.Item.Name),
			zap.String("template", out.Item.TemplateID),
			zap.Duration("took", out.FinishedAt.Sub(out.StartedAt)),
		)
	case StateInvalid:
		e.invalid.Add(1)
		log.Debug("craft rejected", zap.Error(err))
	case StateInsufficientMaterial:
		e.insufficient.Add(1)
		log.Debug("craft rejected", zap.Error(err))
	case StateRolledBack:
		e.rolledBack.Add(1)
	case StateCompensationFailed:
		e.compFailed.Add(1)
	case StateAborted:
		e.aborted.Add(1)
		log.Warn("craft aborted by ledger", zap.Error(err))
	}

	e.events.Publish(Event{Type: eventTypeFor(out.State), Outcome: *out, Timestamp: out.FinishedAt})
	if e.recorder != nil {
		if werr := e.recorder.Write(out); werr != nil {
			log.Warn("failed to journal craft outcome", zap.Error(werr))
		}
	}
}
