package scene

import (
	"context"
	"strings"

	"github.com/high-cuisine/vetclinic-bot/internal/interpreter"
	"github.com/high-cuisine/vetclinic-bot/pkg/logging"
)

// StepID names one step of a flow.
type StepID string

// StepCompleted marks a finished flow. A transition from this state
// restarts the flow from its intro.
const StepCompleted StepID = "completed"

const (
	genericErrorMessage = "Произошла ошибка при обработке данных. Попробуйте позже."

	refuseFallback   = "Хорошо, прекращаю оформление. Если понадобится помощь, напишите снова."
	offTopicFallback = "Кажется, мы отвлеклись от оформления. Если захотите продолжить, напишите снова."
)

// State is the serializable position of one conversation in a flow.
type State[D any] struct {
	Step StepID `json:"step"`
	Data D      `json:"data"`
}

// Outcome carries the visible effects of one transition.
type Outcome struct {
	Responses       []string
	Completed       bool
	ExitScene       bool
	NotifyModerator string
}

// Result pairs the next state with the transition outcome. The input state
// is never mutated.
type Result[D any] struct {
	State State[D]
	Outcome
}

// Turn accumulates a handler's effects. Data points at a working copy of
// the flow data, so handlers mutate freely without touching the caller's
// state.
type Turn[D any] struct {
	Data *D

	next      StepID
	responses []string
	completed bool
	exit      bool
	notify    string
}

// Say appends reply lines, skipping empty ones.
func (t *Turn[D]) Say(lines ...string) {
	for _, l := range lines {
		if l != "" {
			t.responses = append(t.responses, l)
		}
	}
}

// Advance moves the flow to the given step.
func (t *Turn[D]) Advance(step StepID) { t.next = step }

// Complete finishes the flow on this turn.
func (t *Turn[D]) Complete() { t.completed = true }

// Exit abandons the flow without completing it.
func (t *Turn[D]) Exit() { t.exit = true }

// Notify queues a message for the clinic moderators.
func (t *Turn[D]) Notify(message string) { t.notify = message }

// Step is one row of a flow's declarative step table. Steps with a Label
// run the user's answer through the interpreter before handling.
type Step[D any] struct {
	Label      string
	FormatHint string
	Handle     func(ctx context.Context, t *Turn[D], message string) error
}

// Interpreter classifies whether a message answers the asked question.
type Interpreter interface {
	ClassifyStep(ctx context.Context, req interpreter.StepRequest) (*interpreter.Result, error)
}

// Engine drives one flow as a pure state machine over its step table.
type Engine[D any] struct {
	Flow   string
	First  StepID
	Intro  func(d *D) []string
	Steps  map[StepID]Step[D]
	Interp Interpreter
	Logger *logging.Logger
}

// Transition advances the conversation by one user message. An empty,
// completed or unknown step restarts the flow: the intro is emitted and
// the state moves to the first step without consuming the message.
func (e *Engine[D]) Transition(ctx context.Context, state State[D], message string) Result[D] {
	logger := e.Logger
	if logger == nil {
		logger = logging.Default()
	}

	step, known := e.Steps[state.Step]
	if state.Step == "" || state.Step == StepCompleted || !known {
		var data D
		intro := e.Intro(&data)
		return Result[D]{
			State:   State[D]{Step: e.First, Data: data},
			Outcome: Outcome{Responses: intro},
		}
	}

	msg := strings.TrimSpace(message)
	if step.Label != "" && e.Interp != nil && msg != "" {
		verdict, err := e.Interp.ClassifyStep(ctx, interpreter.StepRequest{
			Flow:        e.Flow,
			StepID:      string(state.Step),
			StepLabel:   step.Label,
			FormatHint:  step.FormatHint,
			UserMessage: msg,
		})
		switch {
		case err != nil:
			logger.Warn("interpreter unavailable, using raw input", "flow", e.Flow, "step", string(state.Step), "error", err)
		case verdict.Intent == interpreter.IntentRefuse:
			reply := verdict.Reply
			if reply == "" {
				reply = refuseFallback
			}
			return Result[D]{State: state, Outcome: Outcome{Responses: []string{reply}, ExitScene: true}}
		case verdict.Intent == interpreter.IntentOffTopic:
			reply := verdict.Reply
			if reply == "" {
				reply = offTopicFallback
			}
			return Result[D]{State: state, Outcome: Outcome{Responses: []string{reply}, ExitScene: true}}
		default:
			if verdict.Value != "" {
				msg = verdict.Value
			}
		}
	}

	turn := &Turn[D]{next: state.Step}
	data := state.Data
	turn.Data = &data

	if err := step.Handle(ctx, turn, msg); err != nil {
		logger.Error("step handler failed", "flow", e.Flow, "step", string(state.Step), "error", err)
		return Result[D]{State: state, Outcome: Outcome{Responses: []string{genericErrorMessage}}}
	}

	next := State[D]{Step: turn.next, Data: data}
	if turn.completed {
		next.Step = StepCompleted
	}
	return Result[D]{
		State: next,
		Outcome: Outcome{
			Responses:       turn.responses,
			Completed:       turn.completed,
			ExitScene:       turn.exit,
			NotifyModerator: turn.notify,
		},
	}
}
