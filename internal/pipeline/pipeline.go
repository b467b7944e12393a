// Package pipeline implements the four-stage request flow shared by every
// feed and thread route: skeleton, hydration, rules, presentation.
//
// The skeleton stage decides which refs are on the page. Hydration loads the
// state those refs need. Rules filters the skeleton using only hydrated
// state. Presentation renders what survived. Stages communicate exclusively
// through their typed inputs and outputs, so a route is fully described by
// its four functions.
package pipeline

import (
	"context"

	"go.opentelemetry.io/otel"

	"github.com/foodios/appview/internal/hydration"
)

var tracer = otel.Tracer("appview/internal/pipeline")

// SkeletonFn computes the page skeleton for the request params.
type SkeletonFn[P, S any] func(ctx context.Context, params P) (S, error)

// HydrationFn loads the state needed to judge and render the skeleton.
type HydrationFn[P, S any] func(ctx context.Context, params P, skeleton S) (*hydration.State, error)

// RulesFn filters the skeleton down to what the viewer may see. It must not
// perform I/O; everything it needs is in the hydration state.
type RulesFn[P, S any] func(ctx context.Context, params P, skeleton S, state *hydration.State) (S, error)

// PresentationFn renders the surviving skeleton into the response view.
type PresentationFn[P, S, V any] func(ctx context.Context, params P, skeleton S, state *hydration.State) (V, error)

// Pipeline wires the four stages for one route.
type Pipeline[P, S, V any] struct {
	skeleton SkeletonFn[P, S]
	hydrate  HydrationFn[P, S]
	rules    RulesFn[P, S]
	present  PresentationFn[P, S, V]
}

// New builds a Pipeline from its stage functions.
func New[P, S, V any](
	skeleton SkeletonFn[P, S],
	hydrate HydrationFn[P, S],
	rules RulesFn[P, S],
	present PresentationFn[P, S, V],
) *Pipeline[P, S, V] {
	return &Pipeline[P, S, V]{
		skeleton: skeleton,
		hydrate:  hydrate,
		rules:    rules,
		present:  present,
	}
}

// Run executes the stages in order, stopping on the first error.
func (p *Pipeline[P, S, V]) Run(ctx context.Context, params P) (V, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Run")
	defer span.End()

	var zero V

	skeleton, err := p.skeleton(ctx, params)
	if err != nil {
		return zero, err
	}

	state, err := p.hydrate(ctx, params, skeleton)
	if err != nil {
		return zero, err
	}

	skeleton, err = p.rules(ctx, params, skeleton, state)
	if err != nil {
		return zero, err
	}

	return p.present(ctx, params, skeleton, state)
}
