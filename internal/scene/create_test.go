package scene

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/high-cuisine/vetclinic-bot/internal/booking"
	"github.com/high-cuisine/vetclinic-bot/internal/crm"
	"github.com/high-cuisine/vetclinic-bot/internal/slots"
)

type fakeBooker struct {
	requests []booking.CreateRequest
	err      error
}

func (f *fakeBooker) CreateAppointment(_ context.Context, req booking.CreateRequest) (*crm.Admission, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &crm.Admission{ID: 101}, nil
}

type fakeDoctors struct {
	doctors []crm.Doctor
	err     error
}

func (f *fakeDoctors) Doctors(_ context.Context) ([]crm.Doctor, error) {
	return f.doctors, f.err
}

type fakeSlots struct {
	nearest     []slots.Slot
	nearestErr  error
	dates       []string
	times       map[string][]string
	doctorSlots []slots.Slot
	doctorErr   error
}

func (f *fakeSlots) NearestSlots(_ context.Context, limit int) ([]slots.Slot, error) {
	if f.nearestErr != nil {
		return nil, f.nearestErr
	}
	if len(f.nearest) > limit {
		return f.nearest[:limit], nil
	}
	return f.nearest, nil
}

func (f *fakeSlots) AvailableDates(_ context.Context) ([]string, error) {
	return f.dates, nil
}

func (f *fakeSlots) AvailableTimes(_ context.Context, date string) ([]string, error) {
	return f.times[date], nil
}

func (f *fakeSlots) DoctorSlots(_ context.Context, _, _ int) ([]slots.Slot, error) {
	return f.doctorSlots, f.doctorErr
}

var testNow = func() time.Time {
	return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
}

func newCreateEngine(b *fakeBooker, d *fakeDoctors, s *fakeSlots) *Engine[CreateData] {
	return NewCreateFlow(CreateDeps{
		Booker:           b,
		Doctors:          d,
		Slots:            s,
		ClinicID:         1,
		LiveQueueDoctors: []string{"Иванова"},
		Logger:           testLogger(),
		Now:              testNow,
	})
}

func run[D any](t *testing.T, e *Engine[D], state State[D], msg string) Result[D] {
	t.Helper()
	return e.Transition(context.Background(), state, msg)
}

func TestCreateFlowManualPathEndToEnd(t *testing.T) {
	b := &fakeBooker{}
	d := &fakeDoctors{doctors: []crm.Doctor{
		{ID: 5, FullName: "Сидорова Мария", Position: crm.Position{Title: "Терапевт"}},
		{ID: 6, FullName: "Козлов Игорь", Position: crm.Position{Title: "Администратор"}},
	}}
	s := &fakeSlots{}
	e := newCreateEngine(b, d, s)

	res := run(t, e, State[CreateData]{}, "")
	assert.Contains(t, res.Responses[0], "Создание записи на прием")

	res = run(t, e, res.State, "кашель и чихание")
	assert.Contains(t, res.Responses[0], "✅ Симптомы: кашель и чихание")

	res = run(t, e, res.State, "Барсик")
	res = run(t, e, res.State, "британская")
	res = run(t, e, res.State, "8 999 123 45 67")
	assert.Contains(t, res.Responses[0], "+79991234567")

	res = run(t, e, res.State, "Иванова Анна Петровна")
	assert.Contains(t, res.Responses[1], "Выберите тип приема")

	res = run(t, e, res.State, "1")
	require.Len(t, res.Responses, 2)
	assert.Contains(t, res.Responses[1], "Выберите врача")
	// The administrator is filtered out of the list.
	assert.NotContains(t, res.Responses[1], "Козлов")
	assert.Contains(t, res.Responses[1], "живой очереди")

	res = run(t, e, res.State, "авто")
	assert.Contains(t, res.Responses[0], "Автоматический подбор")

	res = run(t, e, res.State, "2026-09-10")
	res = run(t, e, res.State, "14:30")
	require.Len(t, res.Responses, 3)
	assert.Contains(t, res.Responses[1], "📋 Сводка заявки:")
	assert.Contains(t, res.Responses[1], "Барсик (британская)")
	assert.Contains(t, res.Responses[1], "Клиника #1")
	assert.Contains(t, res.Responses[1], "Автоматический подбор")

	res = run(t, e, res.State, "да")
	assert.True(t, res.Completed)
	assert.Equal(t, StepCompleted, res.State.Step)
	assert.Contains(t, res.Responses[0], "успешно создана")

	require.Len(t, b.requests, 1)
	req := b.requests[0]
	assert.Equal(t, "+79991234567", req.OwnerPhone)
	assert.Equal(t, "primary", req.VisitType)
	assert.Equal(t, "2026-09-10", req.Date)
	assert.Equal(t, "14:30", req.Time)
	assert.Equal(t, 0, req.DoctorID)
}

func TestCreateFlowDoctorSlotSelection(t *testing.T) {
	b := &fakeBooker{}
	d := &fakeDoctors{doctors: []crm.Doctor{
		{ID: 5, FullName: "Сидорова Мария", Position: crm.Position{Title: "Терапевт"}},
	}}
	s := &fakeSlots{doctorSlots: []slots.Slot{
		{Index: 1, Date: "2026-09-10", Time: "09:00"},
		{Index: 2, Date: "2026-09-10", Time: "10:00"},
	}}
	e := newCreateEngine(b, d, s)

	state := stateAtDoctorStep(t, e)

	res := run(t, e, state, "1")
	assert.Contains(t, res.Responses[0], "Сидорова")
	assert.Contains(t, res.Responses[1], "Выберите доступное окно")

	// Out of range selection re-prompts with the list.
	res2 := run(t, e, res.State, "9")
	assert.Contains(t, res2.Responses[0], "не найдено")
	assert.Equal(t, res.State.Step, res2.State.Step)

	res = run(t, e, res.State, "2")
	assert.Contains(t, res.Responses[0], "2026-09-10 в 10:00")
	assert.Equal(t, StepID("confirmation"), res.State.Step)

	res = run(t, e, res.State, "да")
	assert.True(t, res.Completed)
	require.Len(t, b.requests, 1)
	assert.Equal(t, 5, b.requests[0].DoctorID)
	assert.Equal(t, "10:00", b.requests[0].Time)
}

func TestCreateFlowDoctorBySurnameAndWaitlist(t *testing.T) {
	b := &fakeBooker{}
	d := &fakeDoctors{doctors: []crm.Doctor{
		{ID: 5, FullName: "Сидорова Мария", Position: crm.Position{Title: "Терапевт"}},
	}}
	s := &fakeSlots{} // no free windows
	e := newCreateEngine(b, d, s)

	state := stateAtDoctorStep(t, e)

	res := run(t, e, state, "Сидорова Мария")
	assert.Contains(t, res.Responses[0], "нет свободных окон")
	assert.Contains(t, res.Responses[1], "лист ожидания")
	// The flow stays on the doctor step for another choice.
	assert.Equal(t, StepID("doctor"), res.State.Step)

	// Taking the waitlist offer hands off to the moderators and completes.
	res = run(t, e, res.State, "лист ожидания")
	assert.True(t, res.Completed)
	assert.Contains(t, res.NotifyModerator, "ЛИСТ ОЖИДАНИЯ")
	assert.Contains(t, res.NotifyModerator, "Сидорова Мария")
	assert.Contains(t, res.Responses[0], "Менеджер свяжется")
}

func TestCreateFlowWaitlistBeforeDoctorSelected(t *testing.T) {
	b := &fakeBooker{}
	d := &fakeDoctors{doctors: []crm.Doctor{
		{ID: 5, FullName: "Сидорова Мария", Position: crm.Position{Title: "Терапевт"}},
	}}
	e := newCreateEngine(b, d, &fakeSlots{})

	state := stateAtDoctorStep(t, e)
	res := run(t, e, state, "лист ожидания")
	assert.True(t, res.Completed)
	assert.Contains(t, res.NotifyModerator, "к врачу не указан")
}

func TestCreateFlowInvalidDoctorNumber(t *testing.T) {
	b := &fakeBooker{}
	d := &fakeDoctors{doctors: []crm.Doctor{
		{ID: 5, FullName: "Сидорова Мария", Position: crm.Position{Title: "Терапевт"}},
	}}
	e := newCreateEngine(b, d, &fakeSlots{})

	state := stateAtDoctorStep(t, e)
	res := run(t, e, state, "7")
	assert.Contains(t, res.Responses[0], "❌ Врач с номером 7 не найден")
	assert.Equal(t, StepID("doctor"), res.State.Step)
}

func TestCreateFlowOtherVisitType(t *testing.T) {
	b := &fakeBooker{}
	d := &fakeDoctors{doctors: []crm.Doctor{
		{ID: 5, FullName: "Сидорова Мария", Position: crm.Position{Title: "Терапевт"}},
	}}
	e := newCreateEngine(b, d, &fakeSlots{})

	state := stateAtVisitTypeStep(t, e)
	res := run(t, e, state, "другое")
	assert.Contains(t, res.Responses[1], "причину приёма")
	assert.Equal(t, StepID("appointment_type_other"), res.State.Step)

	res = run(t, e, res.State, "стрижка когтей")
	assert.Contains(t, res.Responses[0], "✅ Причина: стрижка когтей")
	assert.Equal(t, StepID("doctor"), res.State.Step)
	assert.Equal(t, "стрижка когтей", res.State.Data.OtherReason)
}

func TestCreateFlowInvalidInputsKeepStep(t *testing.T) {
	e := newCreateEngine(&fakeBooker{}, &fakeDoctors{}, &fakeSlots{})

	// Bad phone re-prompts without advancing.
	state := State[CreateData]{Step: stepOwnerPhone}
	res := run(t, e, state, "12345")
	assert.Contains(t, res.Responses[0], "Не удалось распознать номер телефона")
	assert.Equal(t, stepOwnerPhone, res.State.Step)

	// Bad date and bad time behave the same.
	state = State[CreateData]{Step: stepDate}
	res = run(t, e, state, "10.09.2026")
	assert.Contains(t, res.Responses[0], "ГГГГ-ММ-ДД")
	assert.Equal(t, stepDate, res.State.Step)

	state = State[CreateData]{Step: stepTime}
	res = run(t, e, state, "20:30")
	assert.Contains(t, res.Responses[0], "до 20:00")
	assert.Equal(t, stepTime, res.State.Step)

	// Unknown visit type lists the options again.
	state = State[CreateData]{Step: stepVisitType}
	res = run(t, e, state, "массаж")
	assert.Contains(t, res.Responses[1], "Выберите тип приема")
	assert.Equal(t, stepVisitType, res.State.Step)
}

func TestCreateFlowConfirmationBranches(t *testing.T) {
	b := &fakeBooker{}
	e := newCreateEngine(b, &fakeDoctors{}, &fakeSlots{})
	state := State[CreateData]{Step: stepConfirmation, Data: CreateData{
		OwnerPhone: "+79991234567", Date: "2026-09-10", Time: "14:30",
	}}

	// Unclear answer re-prompts and keeps the step.
	res := run(t, e, state, "возможно")
	assert.Contains(t, res.Responses[0], "«да» или «нет»")
	assert.Equal(t, stepConfirmation, res.State.Step)
	assert.Empty(t, b.requests)

	// Negative answer restarts with a clean slate.
	res = run(t, e, state, "нет")
	assert.Equal(t, stepSymptoms, res.State.Step)
	assert.Empty(t, res.State.Data.OwnerPhone)
	assert.Contains(t, res.Responses[0], "начнем заново")
	assert.Empty(t, b.requests)
}

func TestCreateFlowBookingFailureStillCompletes(t *testing.T) {
	b := &fakeBooker{err: errors.New("crm down")}
	e := newCreateEngine(b, &fakeDoctors{}, &fakeSlots{})
	state := State[CreateData]{Step: stepConfirmation, Data: CreateData{
		OwnerPhone: "+79991234567", Date: "2026-09-10", Time: "14:30",
	}}

	res := run(t, e, state, "да")
	assert.True(t, res.Completed)
	assert.Contains(t, res.Responses[0], "⚠️")
	assert.Contains(t, res.Responses[1], "будет обработана менеджером")
}

func TestCreateFlowDoctorLoadFailureApologizes(t *testing.T) {
	d := &fakeDoctors{err: errors.New("users endpoint down")}
	e := newCreateEngine(&fakeBooker{}, d, &fakeSlots{})
	state := State[CreateData]{Step: stepVisitType}

	res := run(t, e, state, "1")
	assert.Equal(t, []string{"Произошла ошибка при обработке данных. Попробуйте позже."}, res.Responses)
	assert.Equal(t, stepVisitType, res.State.Step)
}

func stateAtVisitTypeStep(t *testing.T, e *Engine[CreateData]) State[CreateData] {
	t.Helper()
	state := State[CreateData]{}
	res := run(t, e, state, "")
	for _, msg := range []string{"кашель", "Барсик", "британская", "+79991234567", "Иванова Анна"} {
		res = run(t, e, res.State, msg)
	}
	require.Equal(t, stepVisitType, res.State.Step)
	return res.State
}

func stateAtDoctorStep(t *testing.T, e *Engine[CreateData]) State[CreateData] {
	t.Helper()
	state := stateAtVisitTypeStep(t, e)
	res := run(t, e, state, "1")
	require.Equal(t, stepDoctor, res.State.Step)
	return res.State
}
