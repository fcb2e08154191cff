package schema

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/schema-bootstrap/internal/otel"
)

// State is a stage of a single retrieval
type State int

const (
	// StateIdle is the state before any work has started
	StateIdle State = iota
	// StateCloning is the clone of the remote into the workspace
	StateCloning
	// StateRefResolving is the lookup of the selected ref
	StateRefResolving
	// StateTreeWalking is the search for the configured path
	StateTreeWalking
	// StateObjectReading is the read and decode of the matched blob
	StateObjectReading
	// StateDone means the content was returned
	StateDone
	// StateFailed means the retrieval stopped with an error
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateCloning:
		return "Cloning"
	case StateRefResolving:
		return "RefResolving"
	case StateTreeWalking:
		return "TreeWalking"
	case StateObjectReading:
		return "ObjectReading"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// retrieval tracks the progress of one Fetch call
type retrieval struct {
	id     string
	state  State
	logger *slog.Logger
	span   trace.Span
}

func newRetrieval(id string, span trace.Span, attrs ...any) *retrieval {
	return &retrieval{
		id:     id,
		state:  StateIdle,
		logger: slog.Default().With(append([]any{"fetch_id", id}, attrs...)...),
		span:   span,
	}
}

func (r *retrieval) advance(ctx context.Context, next State) {
	r.logger.DebugContext(ctx, "Schema retrieval state changed",
		"from", r.state.String(),
		"to", next.String(),
	)
	r.span.AddEvent(next.String())
	r.state = next
}

// fail moves to StateFailed and returns the stage the failure happened in
func (r *retrieval) fail(ctx context.Context, err error) State {
	stage := r.state
	r.logger.ErrorContext(ctx, "Schema retrieval failed",
		"stage", stage.String(),
		"error", err,
	)
	r.span.SetAttributes(otel.AttrStage.String(stage.String()))
	r.span.AddEvent(StateFailed.String())
	otel.RecordError(r.span, err)
	r.state = StateFailed
	return stage
}
