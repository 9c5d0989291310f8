package scene

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/high-cuisine/vetclinic-bot/internal/crm"
	"github.com/high-cuisine/vetclinic-bot/internal/slots"
	"github.com/high-cuisine/vetclinic-bot/pkg/logging"
)

// Move flow steps.
const (
	stepMovePhone        StepID = "phone"
	stepMoveSelect       StepID = "select_appointment"
	stepMoveConfirmMove  StepID = "confirm_reschedule"
	stepMoveDays         StepID = "orientation_days"
	stepMoveTime         StepID = "orientation_time"
	stepMoveSlotOffer    StepID = "select_slot_from_offer"
	stepMoveAlternatives StepID = "no_slots_alternatives"
	stepMoveDate         StepID = "select_date"
	stepMoveClock        StepID = "select_time"
	stepMoveConfirmation StepID = "confirmation"
)

const offeredSlotsLimit = 3

// MoveData is the collected state of the reschedule flow.
type MoveData struct {
	Phone          string              `json:"phone,omitempty"`
	ClientName     string              `json:"client_name,omitempty"`
	Appointments   []AppointmentOption `json:"appointments,omitempty"`
	Selected       int                 `json:"selected,omitempty"`
	Cancelled      bool                `json:"cancelled,omitempty"`
	DaysPreference string              `json:"days_preference,omitempty"`
	TimePreference string              `json:"time_preference,omitempty"`
	Offered        []slots.Slot        `json:"offered,omitempty"`
	Date           string              `json:"date,omitempty"`
	Time           string              `json:"time,omitempty"`
}

func (d MoveData) selected() AppointmentOption {
	return d.Appointments[d.Selected-1]
}

// Rescheduler moves appointments, either in place or by rebooking after a
// cancellation.
type Rescheduler interface {
	Reschedule(ctx context.Context, adm crm.Admission, date, timeOfDay string) error
	RebookAfterCancel(ctx context.Context, adm crm.Admission, date, timeOfDay string) (*crm.Admission, error)
}

// MoveDeps wires the reschedule flow's collaborators.
type MoveDeps struct {
	Finder                 AppointmentFinder
	Canceller              Canceller
	Rescheduler            Rescheduler
	Slots                  SlotFinder
	LiveQueueDoctors       []string
	AppointmentOnlyDoctors []string
	Interp                 Interpreter
	Logger                 *logging.Logger
	Now                    func() time.Time
}

type moveFlow struct {
	MoveDeps
}

const moveIntro = "🔄 Перенос записи на прием\n\n" +
	"Для переноса нам нужно найти ваши записи в системе.\n" +
	"Введите номер телефона, указанный при записи, в формате +7XXXXXXXXXX."

const answerTheQuestion = "Ответьте на вопрос."

// NewMoveFlow builds the appointment reschedule state machine. The
// selected appointment is cancelled before new windows are offered, so
// its own slot becomes available again.
func NewMoveFlow(deps MoveDeps) *Engine[MoveData] {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	f := &moveFlow{MoveDeps: deps}

	return &Engine[MoveData]{
		Flow:  "move_appointment",
		First: stepMovePhone,
		Intro: func(_ *MoveData) []string { return []string{moveIntro} },
		Steps: map[StepID]Step[MoveData]{
			stepMovePhone: {
				Label:      "Номер телефона, указанный при записи",
				FormatHint: "телефон в формате +7XXXXXXXXXX",
				Handle:     f.handlePhone,
			},
			stepMoveSelect: {
				Handle: f.handleSelect,
			},
			stepMoveConfirmMove: {
				Label:  answerTheQuestion,
				Handle: f.handleConfirmMove,
			},
			stepMoveDays: {
				Label:  "Какие дни вам удобны для переноса?",
				Handle: f.handleDays,
			},
			stepMoveTime: {
				Label:  "Какое время вам удобно?",
				Handle: f.handleTimePreference,
			},
			stepMoveSlotOffer: {
				FormatHint: "1, 2, 3 или «другие»",
				Handle:     f.handleSlotOffer,
			},
			stepMoveAlternatives: {
				FormatHint: "1, 2, 3 или 4",
				Handle:     f.handleAlternatives,
			},
			stepMoveDate: {
				Label:      "Дата нового приема",
				FormatHint: "дата в формате ГГГГ-ММ-ДД",
				Handle:     f.handleDate,
			},
			stepMoveClock: {
				Label:      "Время нового приема",
				FormatHint: "время в формате ЧЧ:ММ",
				Handle:     f.handleClock,
			},
			stepMoveConfirmation: {
				Handle: f.handleConfirmation,
			},
		},
		Interp: deps.Interp,
		Logger: deps.Logger,
	}
}

func (f *moveFlow) handlePhone(ctx context.Context, t *Turn[MoveData], msg string) error {
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
		"Введите номер записи, которую нужно перенести.")
	t.Advance(stepMoveSelect)
	return nil
}

func (f *moveFlow) handleSelect(_ context.Context, t *Turn[MoveData], msg string) error {
	n, ok := ParseIndex(msg, len(t.Data.Appointments))
	if !ok {
		t.Say("Пожалуйста, введите номер записи из списка выше.",
			buildAppointmentsList(t.Data.Appointments))
		return nil
	}
	t.Data.Selected = n
	apt := t.Data.selected()

	patient := apt.PetAlias
	if patient == "" {
		patient = "по записи"
	}
	t.Say("📋 Подтвердите, что переносим именно эту запись:\n"+
		fmt.Sprintf("📅 %s в %s\n", apt.Date, apt.Time)+
		fmt.Sprintf("Пациент: %s.\n", patient)+
		"Текущая запись будет отменена, после чего предложим новые варианты времени.",
		"Ответьте «да» для продолжения или «нет», чтобы остаться в меню.")
	t.Advance(stepMoveConfirmMove)
	return nil
}

func (f *moveFlow) handleConfirmMove(ctx context.Context, t *Turn[MoveData], msg string) error {
	if !IsPositive(msg) {
		t.Say("Хорошо, выберите запись из списка.",
			buildAppointmentsList(t.Data.Appointments))
		t.Advance(stepMoveSelect)
		return nil
	}

	apt := t.Data.selected()
	if err := f.Canceller.CancelAppointment(ctx, apt.ID); err != nil {
		return fmt.Errorf("cancel before reschedule: %w", err)
	}
	t.Data.Cancelled = true
	t.Say("✅ Текущая запись отменена. Окно освобождено.",
		"Подскажите, какие дни вам удобны? Например: будни, выходные или конкретные даты.")
	t.Advance(stepMoveDays)
	return nil
}

func (f *moveFlow) handleDays(_ context.Context, t *Turn[MoveData], msg string) error {
	if msg == "" {
		t.Say("Напишите, пожалуйста, какие дни вам удобны.")
		return nil
	}
	t.Data.DaysPreference = msg
	t.Say("✅ Учтём: "+msg, "А какое время удобнее? Например: утро, день или вечер.")
	t.Advance(stepMoveTime)
	return nil
}

func (f *moveFlow) handleTimePreference(ctx context.Context, t *Turn[MoveData], msg string) error {
	if msg == "" {
		t.Say("Напишите, пожалуйста, какое время вам удобно.")
		return nil
	}
	t.Data.TimePreference = msg

	offered, err := f.Slots.NearestSlots(ctx, offeredSlotsLimit)
	if err != nil {
		return fmt.Errorf("search nearest slots: %w", err)
	}
	if len(offered) == 0 {
		t.Say("✅ Учтём: "+msg, f.buildAlternativesMessage())
		t.Advance(stepMoveAlternatives)
		return nil
	}
	t.Data.Offered = offered
	t.Say("✅ Учтём: "+msg, f.buildOfferedSlots(offered))
	t.Advance(stepMoveSlotOffer)
	return nil
}

func (f *moveFlow) buildOfferedSlots(offered []slots.Slot) string {
	var sb strings.Builder
	sb.WriteString("Предлагаем варианты:\n")
	now := f.Now()
	for _, s := range offered {
		fmt.Fprintf(&sb, "%d. %s в %s\n", s.Index, FormatDateDisplay(s.Date, now), s.Time)
	}
	sb.WriteString("\nВыберите номер (1, 2 или 3) или напишите «другие», чтобы посмотреть другие даты.")
	return sb.String()
}

func (f *moveFlow) buildAlternativesMessage() string {
	return "К сожалению, в ближайшие дни нет свободных окон. Что предпочитаете?\n" +
		"1. Посмотреть даты подальше\n" +
		"2. Запись к врачам, принимающим только по записи\n" +
		"3. Прием в порядке живой очереди\n" +
		"4. Встать в лист ожидания\n" +
		"Введите номер варианта (1, 2, 3 или 4)."
}

func (f *moveFlow) handleSlotOffer(ctx context.Context, t *Turn[MoveData], msg string) error {
	normalized := strings.ToLower(strings.TrimSpace(msg))
	if normalized == "другие" || normalized == "другое" || normalized == "other" {
		return f.offerDates(ctx, t)
	}
	n, ok := ParseIndex(msg, len(t.Data.Offered))
	if !ok {
		t.Say("Выберите номер из списка (1, 2 или 3) или напишите «другие».",
			f.buildOfferedSlots(t.Data.Offered))
		return nil
	}
	chosen := t.Data.Offered[n-1]
	t.Data.Date = chosen.Date
	t.Data.Time = chosen.Time
	f.askConfirmation(t)
	return nil
}

func (f *moveFlow) offerDates(ctx context.Context, t *Turn[MoveData]) error {
	dates, err := f.Slots.AvailableDates(ctx)
	if err != nil {
		return fmt.Errorf("load available dates: %w", err)
	}
	if len(dates) == 0 {
		t.Say(f.buildAlternativesMessage())
		t.Advance(stepMoveAlternatives)
		return nil
	}
	var sb strings.Builder
	sb.WriteString("Доступные даты:\n")
	now := f.Now()
	for _, d := range dates {
		fmt.Fprintf(&sb, "• %s (%s)\n", FormatDateDisplay(d, now), d)
	}
	sb.WriteString("\nВведите дату нового приема в формате ГГГГ-ММ-ДД.")
	t.Say(sb.String())
	t.Advance(stepMoveDate)
	return nil
}

func (f *moveFlow) handleAlternatives(ctx context.Context, t *Turn[MoveData], msg string) error {
	n, ok := ParseIndex(msg, 4)
	if !ok {
		t.Say("Введите номер варианта (1, 2, 3 или 4).", f.buildAlternativesMessage())
		return nil
	}
	switch n {
	case 1:
		return f.offerDates(ctx, t)
	case 2:
		roster := strings.Join(f.AppointmentOnlyDoctors, ", ")
		if roster == "" {
			roster = "уточните у менеджера"
		}
		t.Say("Только по записи принимают: "+roster+".",
			"Напишите «записаться», чтобы оформить новую запись.")
		t.Complete()
		return nil
	case 3:
		roster := strings.Join(f.LiveQueueDoctors, ", ")
		if roster == "" {
			roster = "уточните у менеджера"
		}
		t.Say("В порядке живой очереди принимают: "+roster+".",
			"Приходите в рабочие часы клиники, запись не требуется.")
		t.Complete()
		return nil
	default:
		t.Notify("📋 ЛИСТ ОЖИДАНИЯ\n\n" +
			"Клиент: " + t.Data.ClientName + "\n" +
			"Телефон: " + t.Data.Phone + "\n" +
			"Запись была отменена по инициативе клиента. Просит поставить в лист ожидания. Связаться при освобождении окна.")
		t.Say("✅ Записал вас в лист ожидания. При освобождении окна с вами свяжутся.")
		t.Complete()
		return nil
	}
}

func (f *moveFlow) handleDate(ctx context.Context, t *Turn[MoveData], msg string) error {
	date, errMsg := NormalizeDate(msg, f.Now())
	if errMsg != "" {
		t.Say(errMsg)
		return nil
	}

	available, err := f.Slots.AvailableTimes(ctx, date)
	if err != nil {
		return fmt.Errorf("load times for %s: %w", date, err)
	}
	if len(available) == 0 {
		t.Say("На эту дату нет свободных окон. Выберите другую дату.")
		return nil
	}
	t.Data.Date = date

	var sb strings.Builder
	fmt.Fprintf(&sb, "Свободное время на %s:\n", FormatDateDisplay(date, f.Now()))
	for _, tm := range available {
		fmt.Fprintf(&sb, "• %s\n", tm)
	}
	sb.WriteString("\nВведите время нового приема в формате ЧЧ:ММ.")
	t.Say("✅ Дата: "+date, sb.String())
	t.Advance(stepMoveClock)
	return nil
}

func (f *moveFlow) handleClock(ctx context.Context, t *Turn[MoveData], msg string) error {
	timeOfDay, errMsg := NormalizeTime(msg)
	if errMsg != "" {
		t.Say(errMsg)
		return nil
	}

	available, err := f.Slots.AvailableTimes(ctx, t.Data.Date)
	if err != nil {
		return fmt.Errorf("load times for %s: %w", t.Data.Date, err)
	}
	free := false
	for _, tm := range available {
		if tm == timeOfDay {
			free = true
			break
		}
	}
	if !free {
		t.Say("Это время занято. Выберите другое время из списка.")
		return nil
	}
	t.Data.Time = timeOfDay
	f.askConfirmation(t)
	return nil
}

func (f *moveFlow) askConfirmation(t *Turn[MoveData]) {
	t.Say(fmt.Sprintf("Подтверждаете новую запись: %s в %s? Ответьте «да» или «нет».",
		FormatDateDisplay(t.Data.Date, f.Now()), t.Data.Time))
	t.Advance(stepMoveConfirmation)
}

func (f *moveFlow) handleConfirmation(ctx context.Context, t *Turn[MoveData], msg string) error {
	switch {
	case IsPositive(msg):
		apt := t.Data.selected()
		if t.Data.Cancelled {
			if _, err := f.Rescheduler.RebookAfterCancel(ctx, apt.admission(), t.Data.Date, t.Data.Time); err != nil {
				f.Logger.Error("rebook after cancel failed", "admission_id", apt.ID, "error", err)
				t.Notify("⚠️ Не удалось создать запись после отмены.\n" +
					"Клиент: " + t.Data.ClientName + "\n" +
					"Телефон: " + t.Data.Phone + "\n" +
					"Желаемое время: " + t.Data.Date + " " + t.Data.Time + ". Свяжитесь с клиентом.")
				t.Say("⚠️ Произошла ошибка при создании новой записи. Менеджер свяжется с вами для подбора времени.")
				t.Complete()
				return nil
			}
			t.Say("✅ Новая запись успешно создана!", "Накануне приёма придёт напоминание.")
			t.Complete()
			return nil
		}
		if err := f.Rescheduler.Reschedule(ctx, apt.admission(), t.Data.Date, t.Data.Time); err != nil {
			f.Logger.Error("reschedule failed", "admission_id", apt.ID, "error", err)
			t.Say("❌ Ошибка при переносе записи. Попробуйте позже.")
			return nil
		}
		t.Say(fmt.Sprintf("✅ Запись успешно перенесена на %s %s!", t.Data.Date, t.Data.Time),
			"Накануне приёма придёт напоминание.")
		t.Complete()
		return nil
	case IsNegative(msg):
		if len(t.Data.Offered) > 0 {
			t.Say("Хорошо, выберите другой вариант времени.", f.buildOfferedSlots(t.Data.Offered))
			t.Advance(stepMoveSlotOffer)
			return nil
		}
		return f.offerDates(ctx, t)
	default:
		t.Say("Ответьте, пожалуйста, «да» или «нет».")
		return nil
	}
}
