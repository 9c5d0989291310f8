package scene

import (
	"context"
	"fmt"
	"strings"

	"github.com/high-cuisine/vetclinic-bot/pkg/logging"
)

const stepShowPhone StepID = "phone"

// ShowData is the state of the appointment listing flow.
type ShowData struct {
	Phone string `json:"phone,omitempty"`
}

// ShowDeps wires the show flow's collaborators.
type ShowDeps struct {
	Finder AppointmentFinder
	Interp Interpreter
	Logger *logging.Logger
}

type showFlow struct {
	ShowDeps
}

const showIntro = "📋 Просмотр записей на прием\n\n" +
	"Введите номер телефона, указанный при записи, в формате +7XXXXXXXXXX."

// NewShowFlow builds the appointment listing state machine. It completes
// on the same turn the phone is resolved.
func NewShowFlow(deps ShowDeps) *Engine[ShowData] {
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	f := &showFlow{ShowDeps: deps}

	return &Engine[ShowData]{
		Flow:  "show_appointment",
		First: stepShowPhone,
		Intro: func(_ *ShowData) []string { return []string{showIntro} },
		Steps: map[StepID]Step[ShowData]{
			stepShowPhone: {
				Label:      "Номер телефона, указанный при записи",
				FormatHint: "телефон в формате +7XXXXXXXXXX",
				Handle:     f.handlePhone,
			},
		},
		Interp: deps.Interp,
		Logger: deps.Logger,
	}
}

func (f *showFlow) handlePhone(ctx context.Context, t *Turn[ShowData], msg string) error {
	phone, ok := NormalizePhone(msg)
	if !ok {
		t.Say("Не удалось распознать номер телефона. Введите его в формате +7XXXXXXXXXX.")
		return nil
	}
	t.Data.Phone = phone

	client, admissions, err := f.Finder.FindClientAndAppointments(ctx, phone)
	if err != nil {
		return fmt.Errorf("find client appointments: %w", err)
	}
	if client == nil {
		t.Say(fmt.Sprintf("Клиент с номером телефона %s не найден в системе. Проверьте правильность номера телефона.", phone))
		t.Complete()
		return nil
	}
	if len(admissions) == 0 {
		t.Say("✅ Клиент: " + client.DisplayName() + "\n" +
			"📞 Телефон: " + phone + "\n\n" +
			"❌ У вас нет активных записей на прием. Возможно, все записи уже завершены или отменены.")
		t.Complete()
		return nil
	}

	options := appointmentOptions(admissions)
	var lines []string
	lines = append(lines, "📅 Ваши записи на прием")
	for i, o := range options {
		lines = append(lines, fmt.Sprintf("%d. %s (ID %d)", i+1, o.describe(), o.ID))
	}
	t.Say(strings.Join(lines, "\n"), "Чтобы выполнить другие действия, введите новую команду.")
	t.Complete()
	return nil
}
