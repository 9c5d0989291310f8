package scene

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/high-cuisine/vetclinic-bot/internal/interpreter"
	"github.com/high-cuisine/vetclinic-bot/pkg/logging"
)

type echoData struct {
	Answer string `json:"answer,omitempty"`
}

type fakeInterp struct {
	result   *interpreter.Result
	err      error
	requests []interpreter.StepRequest
}

func (f *fakeInterp) ClassifyStep(_ context.Context, req interpreter.StepRequest) (*interpreter.Result, error) {
	f.requests = append(f.requests, req)
	return f.result, f.err
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter("error", io.Discard)
}

func newEchoEngine(interp Interpreter) *Engine[echoData] {
	return &Engine[echoData]{
		Flow:  "echo",
		First: "ask",
		Intro: func(_ *echoData) []string { return []string{"привет", "вопрос?"} },
		Steps: map[StepID]Step[echoData]{
			"ask": {
				Label:      "Вопрос",
				FormatHint: "любой текст",
				Handle: func(_ context.Context, t *Turn[echoData], msg string) error {
					if msg == "boom" {
						return errors.New("handler exploded")
					}
					t.Data.Answer = msg
					t.Say("ответ: " + msg)
					t.Complete()
					return nil
				},
			},
		},
		Interp: interp,
		Logger: testLogger(),
	}
}

func TestTransitionBootstrapsFromEmptyState(t *testing.T) {
	e := newEchoEngine(nil)

	res := e.Transition(context.Background(), State[echoData]{}, "игнорируется")
	assert.Equal(t, StepID("ask"), res.State.Step)
	assert.Equal(t, []string{"привет", "вопрос?"}, res.Responses)
	assert.False(t, res.Completed)
}

func TestTransitionRestartsFromCompletedState(t *testing.T) {
	e := newEchoEngine(nil)

	res := e.Transition(context.Background(), State[echoData]{Step: StepCompleted, Data: echoData{Answer: "старый"}}, "любое")
	assert.Equal(t, StepID("ask"), res.State.Step)
	assert.Empty(t, res.State.Data.Answer, "restart must discard stale data")
	assert.Equal(t, []string{"привет", "вопрос?"}, res.Responses)
}

func TestTransitionRestartsFromUnknownStep(t *testing.T) {
	e := newEchoEngine(nil)

	res := e.Transition(context.Background(), State[echoData]{Step: "no_such_step"}, "любое")
	assert.Equal(t, StepID("ask"), res.State.Step)
	assert.Equal(t, []string{"привет", "вопрос?"}, res.Responses)
}

func TestTransitionCompletesFlow(t *testing.T) {
	e := newEchoEngine(nil)

	res := e.Transition(context.Background(), State[echoData]{Step: "ask"}, "сорок два")
	assert.Equal(t, StepCompleted, res.State.Step)
	assert.True(t, res.Completed)
	assert.Equal(t, []string{"ответ: сорок два"}, res.Responses)
	assert.Equal(t, "сорок два", res.State.Data.Answer)
}

func TestTransitionDoesNotMutateInputState(t *testing.T) {
	e := newEchoEngine(nil)
	original := State[echoData]{Step: "ask", Data: echoData{Answer: "до"}}

	res := e.Transition(context.Background(), original, "после")
	assert.Equal(t, "до", original.Data.Answer)
	assert.Equal(t, "после", res.State.Data.Answer)
}

func TestTransitionHandlerErrorKeepsState(t *testing.T) {
	e := newEchoEngine(nil)
	state := State[echoData]{Step: "ask", Data: echoData{Answer: "до"}}

	res := e.Transition(context.Background(), state, "boom")
	assert.Equal(t, state, res.State)
	assert.Equal(t, []string{"Произошла ошибка при обработке данных. Попробуйте позже."}, res.Responses)
	assert.False(t, res.Completed)
	assert.False(t, res.ExitScene)
}

func TestTransitionInterpreterAnswerSubstitutesValue(t *testing.T) {
	interp := &fakeInterp{result: &interpreter.Result{Intent: interpreter.IntentAnswer, Value: "нормализовано"}}
	e := newEchoEngine(interp)

	res := e.Transition(context.Background(), State[echoData]{Step: "ask"}, "сырой текст")
	assert.Equal(t, "нормализовано", res.State.Data.Answer)

	require.Len(t, interp.requests, 1)
	assert.Equal(t, "echo", interp.requests[0].Flow)
	assert.Equal(t, "ask", interp.requests[0].StepID)
	assert.Equal(t, "Вопрос", interp.requests[0].StepLabel)
	assert.Equal(t, "сырой текст", interp.requests[0].UserMessage)
}

func TestTransitionInterpreterRefuseExitsScene(t *testing.T) {
	interp := &fakeInterp{result: &interpreter.Result{Intent: interpreter.IntentRefuse, Reply: "Всего доброго!"}}
	e := newEchoEngine(interp)
	state := State[echoData]{Step: "ask"}

	res := e.Transition(context.Background(), state, "не хочу")
	assert.True(t, res.ExitScene)
	assert.Equal(t, []string{"Всего доброго!"}, res.Responses)
	assert.Equal(t, state, res.State, "refusal must not advance the flow")
}

func TestTransitionInterpreterOffTopicFallbackReply(t *testing.T) {
	interp := &fakeInterp{result: &interpreter.Result{Intent: interpreter.IntentOffTopic}}
	e := newEchoEngine(interp)

	res := e.Transition(context.Background(), State[echoData]{Step: "ask"}, "а какая погода?")
	assert.True(t, res.ExitScene)
	require.Len(t, res.Responses, 1)
	assert.NotEmpty(t, res.Responses[0])
}

func TestTransitionInterpreterFailureUsesRawInput(t *testing.T) {
	interp := &fakeInterp{err: errors.New("model down")}
	e := newEchoEngine(interp)

	res := e.Transition(context.Background(), State[echoData]{Step: "ask"}, "сырой ответ")
	assert.Equal(t, "сырой ответ", res.State.Data.Answer)
	assert.True(t, res.Completed)
}

func TestTransitionSkipsInterpreterForEmptyMessage(t *testing.T) {
	interp := &fakeInterp{result: &interpreter.Result{Intent: interpreter.IntentRefuse}}
	e := newEchoEngine(interp)

	e.Transition(context.Background(), State[echoData]{Step: "ask"}, "   ")
	assert.Empty(t, interp.requests)
}
