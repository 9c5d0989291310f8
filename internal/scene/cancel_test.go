package scene

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/high-cuisine/vetclinic-bot/internal/crm"
)

type fakeFinder struct {
	client     *crm.Client
	admissions []crm.Admission
	err        error
	phones     []string
}

func (f *fakeFinder) FindClientAndAppointments(_ context.Context, phone string) (*crm.Client, []crm.Admission, error) {
	f.phones = append(f.phones, phone)
	return f.client, f.admissions, f.err
}

type fakeCanceller struct {
	cancelled []int
	err       error
	onCancel  func(id int)
}

func (f *fakeCanceller) CancelAppointment(_ context.Context, id int) error {
	if f.err != nil {
		return f.err
	}
	f.cancelled = append(f.cancelled, id)
	if f.onCancel != nil {
		f.onCancel(id)
	}
	return nil
}

func sampleAdmissions() []crm.Admission {
	return []crm.Admission{
		{
			ID: 101, AdmissionDate: "2026-09-10 14:30:00", AdmissionLength: 30,
			ClientID: 42, PatientID: 9, TypeID: 1, UserID: 5,
			Pet: &crm.Pet{Alias: "Барсик"}, Description: "Кашель",
		},
		{
			ID: 102, AdmissionDate: "2026-09-12 10:00:00", AdmissionLength: 60,
			ClientID: 42, PatientID: 9, TypeID: 2, UserID: 5,
		},
	}
}

func newCancelEngine(finder *fakeFinder, canceller *fakeCanceller) *Engine[CancelData] {
	return NewCancelFlow(CancelDeps{
		Finder:    finder,
		Canceller: canceller,
		Logger:    testLogger(),
	})
}

func TestCancelFlowEndToEnd(t *testing.T) {
	finder := &fakeFinder{
		client:     &crm.Client{ID: 42, FirstName: "Анна", LastName: "Иванова"},
		admissions: sampleAdmissions(),
	}
	canceller := &fakeCanceller{}
	e := newCancelEngine(finder, canceller)

	res := run(t, e, State[CancelData]{}, "")
	assert.Contains(t, res.Responses[0], "Отмена записи")

	res = run(t, e, res.State, "89991234567")
	require.Len(t, res.Responses, 3)
	assert.Contains(t, res.Responses[0], "Анна Иванова")
	assert.Contains(t, res.Responses[1], "1. 📅 2026-09-10 в 14:30 — Барсик (Кашель)")
	assert.Contains(t, res.Responses[1], "2. 📅 2026-09-12 в 10:00")
	assert.Equal(t, []string{"+79991234567"}, finder.phones)

	res = run(t, e, res.State, "1")
	assert.Contains(t, res.Responses[0], "отменить запись ID 101 (2026-09-10 в 14:30)")

	res = run(t, e, res.State, "да")
	assert.True(t, res.Completed)
	assert.Contains(t, res.Responses[0], "успешно отменена")
	assert.Contains(t, res.Responses[1], "Запись ID 101")
	assert.Equal(t, []int{101}, canceller.cancelled)
}

func TestCancelFlowNoActiveAppointments(t *testing.T) {
	finder := &fakeFinder{client: &crm.Client{ID: 42, FirstName: "Анна", LastName: "Иванова"}}
	e := newCancelEngine(finder, &fakeCanceller{})

	res := run(t, e, State[CancelData]{Step: stepCancelPhone}, "+79991234567")
	assert.True(t, res.Completed)
	require.Len(t, res.Responses, 1)
	assert.Contains(t, res.Responses[0], "нет активных записей")
	assert.Contains(t, res.Responses[0], "Анна Иванова")
}

func TestCancelFlowClientNotFound(t *testing.T) {
	finder := &fakeFinder{}
	e := newCancelEngine(finder, &fakeCanceller{})

	res := run(t, e, State[CancelData]{Step: stepCancelPhone}, "+79991234567")
	assert.False(t, res.Completed)
	assert.Contains(t, res.Responses[0], "не найден в системе")
	assert.Equal(t, stepCancelPhone, res.State.Step)
}

func TestCancelFlowLookupErrorApologizes(t *testing.T) {
	finder := &fakeFinder{err: errors.New("crm down")}
	e := newCancelEngine(finder, &fakeCanceller{})
	state := State[CancelData]{Step: stepCancelPhone}

	res := run(t, e, state, "+79991234567")
	assert.Equal(t, []string{"Произошла ошибка при обработке данных. Попробуйте позже."}, res.Responses)
	assert.Equal(t, state, res.State)
}

func TestCancelFlowInvalidSelection(t *testing.T) {
	e := newCancelEngine(&fakeFinder{}, &fakeCanceller{})
	state := State[CancelData]{Step: stepCancelSelect, Data: CancelData{
		Appointments: appointmentOptions(sampleAdmissions()),
	}}

	res := run(t, e, state, "5")
	assert.Contains(t, res.Responses[0], "номер записи из списка")
	assert.Equal(t, stepCancelSelect, res.State.Step)
}

func TestCancelFlowConfirmationBranches(t *testing.T) {
	canceller := &fakeCanceller{}
	e := newCancelEngine(&fakeFinder{}, canceller)
	state := State[CancelData]{Step: stepCancelConfirmat, Data: CancelData{
		Appointments: appointmentOptions(sampleAdmissions()),
		Selected:     1,
	}}

	// Unclear answer re-asks.
	res := run(t, e, state, "ну")
	assert.Contains(t, res.Responses[0], "«да» для отмены")
	assert.Equal(t, stepCancelConfirmat, res.State.Step)
	assert.Empty(t, canceller.cancelled)

	// Negative restarts from the phone step.
	res = run(t, e, state, "нет")
	assert.Equal(t, stepCancelPhone, res.State.Step)
	assert.Empty(t, res.State.Data.Appointments)
	assert.Contains(t, res.Responses[0], "начнем заново")
	assert.Empty(t, canceller.cancelled)
}

func TestCancelFlowCancelFailureKeepsStep(t *testing.T) {
	canceller := &fakeCanceller{err: errors.New("crm down")}
	e := newCancelEngine(&fakeFinder{}, canceller)
	state := State[CancelData]{Step: stepCancelConfirmat, Data: CancelData{
		Appointments: appointmentOptions(sampleAdmissions()),
		Selected:     1,
	}}

	res := run(t, e, state, "да")
	assert.False(t, res.Completed)
	assert.Contains(t, res.Responses[0], "Ошибка при отмене")
	assert.Equal(t, stepCancelConfirmat, res.State.Step)
}
