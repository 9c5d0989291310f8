package scene

import (
	"context"
	"fmt"

	"github.com/high-cuisine/vetclinic-bot/pkg/logging"
)

// Cancel flow steps.
const (
	stepCancelPhone     StepID = "phone"
	stepCancelSelect    StepID = "select_appointment"
	stepCancelConfirmat StepID = "confirmation"
)

// CancelData is the collected state of the cancel flow.
type CancelData struct {
	Phone        string              `json:"phone,omitempty"`
	ClientName   string              `json:"client_name,omitempty"`
	Appointments []AppointmentOption `json:"appointments,omitempty"`
	Selected     int                 `json:"selected,omitempty"` // 1-based index into Appointments
}

func (d CancelData) selected() AppointmentOption {
	return d.Appointments[d.Selected-1]
}

// CancelDeps wires the cancel flow's collaborators.
type CancelDeps struct {
	Finder    AppointmentFinder
	Canceller Canceller
	Interp    Interpreter
	Logger    *logging.Logger
}

type cancelFlow struct {
	CancelDeps
}

const cancelIntro = "🗑️ Отмена записи на прием\n\n" +
	"Для отмены записи нам нужно найти ваши записи в системе.\n" +
	"Введите номер телефона, указанный при записи, в формате +7XXXXXXXXXX."

// NewCancelFlow builds the appointment cancellation state machine.
func NewCancelFlow(deps CancelDeps) *Engine[CancelData] {
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	f := &cancelFlow{CancelDeps: deps}

	return &Engine[CancelData]{
		Flow:  "cancel_appointment",
		First: stepCancelPhone,
		Intro: func(_ *CancelData) []string { return []string{cancelIntro} },
		Steps: map[StepID]Step[CancelData]{
			stepCancelPhone: {
				Label:      "Номер телефона, указанный при записи",
				FormatHint: "телефон в формате +7XXXXXXXXXX",
				Handle:     f.handlePhone,
			},
			stepCancelSelect: {
				Handle: f.handleSelect,
			},
			stepCancelConfirmat: {
				Handle: f.handleConfirmation,
			},
		},
		Interp: deps.Interp,
		Logger: deps.Logger,
	}
}

func (f *cancelFlow) handlePhone(ctx context.Context, t *Turn[CancelData], msg string) error {
	phone, ok := NormalizePhone(msg)
	if !ok {
		t.Say("Не удалось распознать номер телефона. Введите его в формате +7XXXXXXXXXX.")
		return nil
	}

	client, admissions, err := f.Finder.FindClientAndAppointments(ctx, phone)
	if err != nil {
		return fmt.Errorf("find client appointments: %w", err)
	}
	if client == nil {
		t.Say(fmt.Sprintf("Клиент с номером телефона %s не найден в системе. Проверьте правильность номера телефона.", phone))
		return nil
	}

	t.Data.Phone = phone
	t.Data.ClientName = client.DisplayName()

	if len(admissions) == 0 {
		t.Say("✅ Клиент: " + t.Data.ClientName + "\n" +
			"📞 Телефон: " + phone + "\n\n" +
			"❌ У вас нет активных записей на прием. Возможно, все записи уже завершены или отменены.")
		t.Complete()
		return nil
	}

	t.Data.Appointments = appointmentOptions(admissions)
	t.Say("✅ Клиент: "+t.Data.ClientName,
		buildAppointmentsList(t.Data.Appointments),
		"Введите номер записи, которую нужно отменить.")
	t.Advance(stepCancelSelect)
	return nil
}

func (f *cancelFlow) handleSelect(_ context.Context, t *Turn[CancelData], msg string) error {
	n, ok := ParseIndex(msg, len(t.Data.Appointments))
	if !ok {
		t.Say("Пожалуйста, введите номер записи из списка выше.",
			buildAppointmentsList(t.Data.Appointments))
		return nil
	}
	t.Data.Selected = n
	apt := t.Data.selected()
	t.Say(fmt.Sprintf("Вы хотите отменить запись ID %d (%s в %s)? Ответьте «да» или «нет».",
		apt.ID, apt.Date, apt.Time))
	t.Advance(stepCancelConfirmat)
	return nil
}

func (f *cancelFlow) handleConfirmation(ctx context.Context, t *Turn[CancelData], msg string) error {
	apt := t.Data.selected()
	switch {
	case IsPositive(msg):
		if err := f.Canceller.CancelAppointment(ctx, apt.ID); err != nil {
			f.Logger.Error("cancel failed", "admission_id", apt.ID, "error", err)
			t.Say("❌ Ошибка при отмене записи. Попробуйте позже.")
			return nil
		}
		t.Say("✅ Запись успешно отменена!",
			fmt.Sprintf("Запись ID %d (%s в %s) отменена.", apt.ID, apt.Date, apt.Time))
		t.Complete()
		return nil
	case IsNegative(msg):
		*t.Data = CancelData{}
		t.Say("Хорошо, начнем заново.", cancelIntro)
		t.Advance(stepCancelPhone)
		return nil
	default:
		t.Say("Ответьте «да» для отмены записи или «нет», чтобы начать заново.",
			fmt.Sprintf("Вы хотите отменить запись ID %d (%s в %s)?", apt.ID, apt.Date, apt.Time))
		return nil
	}
}
