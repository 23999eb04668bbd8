package risk

import (
	"context"
	"log/slog"
	"time"

	"github.com/crossguard/crossguard/internal/crosswalk"
)

// Dispatcher delivers one event to a list of session ids, best-effort.
// Implementations swallow per-recipient failures.
type Dispatcher interface {
	Emit(ctx context.Context, sids []string, event string, payload map[string]any)
}

// Evaluator runs evaluation passes: load the document fresh, evaluate,
// persist the outcome, then dispatch. Persistence strictly precedes dispatch
// so state durability never depends on delivery.
type Evaluator struct {
	registry   *crosswalk.Registry
	dispatcher Dispatcher
	params     Params
	logger     *slog.Logger
	now        func() time.Time
}

// NewEvaluator wires an evaluator over the registry and dispatcher.
func NewEvaluator(registry *crosswalk.Registry, dispatcher Dispatcher, params Params, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		registry:   registry,
		dispatcher: dispatcher,
		params:     params,
		logger:     logger,
		now:        time.Now,
	}
}

// Run executes one evaluation pass for the crosswalk. The document is always
// re-read here rather than passed in, so a pass scheduled before a burst of
// mutations still observes the latest state. A missing document is a no-op.
func (e *Evaluator) Run(ctx context.Context, id string) error {
	state, ok, err := e.registry.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	out := Evaluate(state, e.now(), e.params)

	if err := e.registry.ApplyEvaluation(ctx, id, out.Drivers, out.DriverCriticalActive, out.PedCriticalMinDistance); err != nil {
		return err
	}

	for _, ev := range out.Events {
		e.dispatcher.Emit(ctx, ev.SIDs, ev.Name, ev.Payload)
	}

	e.logger.Debug("evaluation pass complete",
		"crosswalk_id", id,
		"peds", len(state.Peds),
		"drivers", len(out.Drivers),
		"events", len(out.Events))
	return nil
}
