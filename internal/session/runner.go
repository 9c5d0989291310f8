package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/high-cuisine/vetclinic-bot/internal/scene"
)

// Runner drives one flow over its JSON-serialized state, hiding the
// engine's concrete data type from the session manager.
type Runner interface {
	Flow() string
	Run(ctx context.Context, state json.RawMessage, message string) (json.RawMessage, scene.Outcome, error)
}

type runner[D any] struct {
	flow   string
	engine *scene.Engine[D]
}

// NewRunner wraps a flow engine into a Runner keyed by the flow name.
func NewRunner[D any](flow string, engine *scene.Engine[D]) Runner {
	return &runner[D]{flow: flow, engine: engine}
}

func (r *runner[D]) Flow() string { return r.flow }

func (r *runner[D]) Run(ctx context.Context, raw json.RawMessage, message string) (json.RawMessage, scene.Outcome, error) {
	var state scene.State[D]
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &state); err != nil {
			return nil, scene.Outcome{}, fmt.Errorf("session: decode %s state: %w", r.flow, err)
		}
	}
	res := r.engine.Transition(ctx, state, message)
	encoded, err := json.Marshal(res.State)
	if err != nil {
		return nil, scene.Outcome{}, fmt.Errorf("session: encode %s state: %w", r.flow, err)
	}
	return encoded, res.Outcome, nil
}
