package scene

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/high-cuisine/vetclinic-bot/internal/booking"
	"github.com/high-cuisine/vetclinic-bot/internal/crm"
	"github.com/high-cuisine/vetclinic-bot/internal/slots"
	"github.com/high-cuisine/vetclinic-bot/pkg/logging"
)

// Create flow steps.
const (
	stepSymptoms       StepID = "symptoms"
	stepPetName        StepID = "pet_name"
	stepPetBreed       StepID = "pet_breed"
	stepOwnerPhone     StepID = "owner_phone"
	stepOwnerName      StepID = "owner_name"
	stepVisitType      StepID = "appointment_type"
	stepVisitTypeOther StepID = "appointment_type_other"
	stepDoctor         StepID = "doctor"
	stepSlotSelection  StepID = "slot_selection"
	stepDate           StepID = "date"
	stepTime           StepID = "time"
	stepConfirmation   StepID = "confirmation"
)

const autoDoctor = "авто"

var visitTypeLabels = map[string]string{
	"primary":     "Первичный прием",
	"secondary":   "Вторичный прием",
	"vaccination": "Прививка",
	"ultrasound":  "УЗИ",
	"analyses":    "Анализы",
	"xray":        "Рентген",
	"other":       "Другое (произвольная причина)",
}

// DoctorOption is a selectable doctor cached in the flow state.
type DoctorOption struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Position string `json:"position"`
	Surname  string `json:"surname"`
}

// CreateData is the collected state of the create flow.
type CreateData struct {
	Symptoms    string         `json:"symptoms,omitempty"`
	PetName     string         `json:"pet_name,omitempty"`
	PetBreed    string         `json:"pet_breed,omitempty"`
	OwnerPhone  string         `json:"owner_phone,omitempty"`
	OwnerName   string         `json:"owner_name,omitempty"`
	VisitType   string         `json:"visit_type,omitempty"`
	OtherReason string         `json:"other_reason,omitempty"`
	DoctorID    int            `json:"doctor_id,omitempty"`
	DoctorName  string         `json:"doctor_name,omitempty"`
	Date        string         `json:"date,omitempty"`
	Time        string         `json:"time,omitempty"`
	Clinic      string         `json:"clinic,omitempty"`
	Doctors     []DoctorOption `json:"doctors,omitempty"`
	Slots       []slots.Slot   `json:"slots,omitempty"`
}

// Booker books appointments in the CRM.
type Booker interface {
	CreateAppointment(ctx context.Context, req booking.CreateRequest) (*crm.Admission, error)
}

// DoctorDirectory lists the clinic's doctors.
type DoctorDirectory interface {
	Doctors(ctx context.Context) ([]crm.Doctor, error)
}

// SlotFinder searches free appointment windows.
type SlotFinder interface {
	NearestSlots(ctx context.Context, limit int) ([]slots.Slot, error)
	AvailableDates(ctx context.Context) ([]string, error)
	AvailableTimes(ctx context.Context, date string) ([]string, error)
	DoctorSlots(ctx context.Context, doctorID, durationMin int) ([]slots.Slot, error)
}

// CreateDeps wires the create flow's collaborators.
type CreateDeps struct {
	Booker           Booker
	Doctors          DoctorDirectory
	Slots            SlotFinder
	ClinicID         int
	LiveQueueDoctors []string
	Interp           Interpreter
	Logger           *logging.Logger
	Now              func() time.Time
}

type createFlow struct {
	CreateDeps
}

// NewCreateFlow builds the appointment creation state machine.
func NewCreateFlow(deps CreateDeps) *Engine[CreateData] {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	f := &createFlow{CreateDeps: deps}

	return &Engine[CreateData]{
		Flow:  "create_appointment",
		First: stepSymptoms,
		Intro: func(_ *CreateData) []string { return []string{createIntro} },
		Steps: map[StepID]Step[CreateData]{
			stepSymptoms: {
				Label:  "Какие симптомы у питомца?",
				Handle: f.handleSymptoms,
			},
			stepPetName: {
				Label:  "Как зовут питомца?",
				Handle: f.handlePetName,
			},
			stepPetBreed: {
				Label:  "Какой породы питомец?",
				Handle: f.handlePetBreed,
			},
			stepOwnerPhone: {
				Label:      "Номер телефона владельца",
				FormatHint: "телефон в формате +7XXXXXXXXXX",
				Handle:     f.handleOwnerPhone,
			},
			stepOwnerName: {
				Label:  "ФИО владельца",
				Handle: f.handleOwnerName,
			},
			stepVisitType: {
				Label:      "Тип приема",
				FormatHint: "число 1-7 или название: primary, secondary, vaccination, ultrasound, analyses, xray, other",
				Handle:     f.handleVisitType,
			},
			stepVisitTypeOther: {
				Label:  "Причина приёма",
				Handle: f.handleVisitTypeOther,
			},
			stepDoctor: {
				Handle: f.handleDoctor,
			},
			stepSlotSelection: {
				Handle: f.handleSlotSelection,
			},
			stepDate: {
				Label:      "Дата приема",
				FormatHint: "дата в формате ГГГГ-ММ-ДД",
				Handle:     f.handleDate,
			},
			stepTime: {
				Label:      "Время приема",
				FormatHint: "время в формате ЧЧ:ММ",
				Handle:     f.handleTime,
			},
			stepConfirmation: {
				Handle: f.handleConfirmation,
			},
		},
		Interp: deps.Interp,
		Logger: deps.Logger,
	}
}

const createIntro = "🐾 Создание записи на прием\n\n" +
	"Расскажите, пожалуйста, какие симптомы у питомца. Это будет первым шагом.\n" +
	"Вы всегда можете отправить «/exit», чтобы отменить процесс."

func (f *createFlow) handleSymptoms(_ context.Context, t *Turn[CreateData], msg string) error {
	if msg == "" {
		t.Say("Опишите, пожалуйста, симптомы питомца.")
		return nil
	}
	t.Data.Symptoms = msg
	t.Say("✅ Симптомы: "+msg, "Как зовут питомца?")
	t.Advance(stepPetName)
	return nil
}

func (f *createFlow) handlePetName(_ context.Context, t *Turn[CreateData], msg string) error {
	if msg == "" {
		t.Say("Напишите, пожалуйста, кличку питомца.")
		return nil
	}
	t.Data.PetName = msg
	t.Say("✅ Кличка питомца: "+msg, "Какой породы питомец?")
	t.Advance(stepPetBreed)
	return nil
}

func (f *createFlow) handlePetBreed(_ context.Context, t *Turn[CreateData], msg string) error {
	if msg == "" {
		t.Say("Укажите, пожалуйста, породу питомца.")
		return nil
	}
	t.Data.PetBreed = msg
	t.Say("✅ Порода: "+msg, "Укажите номер телефона владельца в формате +7XXXXXXXXXX.")
	t.Advance(stepOwnerPhone)
	return nil
}

func (f *createFlow) handleOwnerPhone(_ context.Context, t *Turn[CreateData], msg string) error {
	phone, ok := NormalizePhone(msg)
	if !ok {
		t.Say("Не удалось распознать номер телефона. Введите его в формате +7XXXXXXXXXX.")
		return nil
	}
	t.Data.OwnerPhone = phone
	t.Say("✅ Телефон: "+phone, "Как зовут владельца? Укажите ФИО.")
	t.Advance(stepOwnerName)
	return nil
}

func (f *createFlow) handleOwnerName(_ context.Context, t *Turn[CreateData], msg string) error {
	if msg == "" {
		t.Say("Укажите, пожалуйста, ФИО владельца.")
		return nil
	}
	t.Data.OwnerName = msg
	t.Say("✅ Владелец: "+msg, buildVisitTypesList())
	t.Advance(stepVisitType)
	return nil
}

func buildVisitTypesList() string {
	return "Выберите тип приема (введите номер или название):\n" +
		"1. Первичный прием\n" +
		"2. Вторичный прием\n" +
		"3. Прививка\n" +
		"4. УЗИ\n" +
		"5. Анализы\n" +
		"6. Рентген\n" +
		"7. Другое (произвольная причина)"
}

func (f *createFlow) handleVisitType(ctx context.Context, t *Turn[CreateData], msg string) error {
	visitType, ok := ResolveVisitType(msg)
	if !ok {
		t.Say("Не удалось распознать тип приема.", buildVisitTypesList())
		return nil
	}
	t.Data.VisitType = visitType
	if visitType == "other" {
		t.Say("✅ Тип приема: "+visitTypeLabels[visitType], "Укажите причину приёма (произвольный текст).")
		t.Advance(stepVisitTypeOther)
		return nil
	}
	return f.enterDoctorStep(ctx, t, "✅ Тип приема: "+visitTypeLabels[visitType])
}

func (f *createFlow) handleVisitTypeOther(ctx context.Context, t *Turn[CreateData], msg string) error {
	if msg == "" {
		t.Say("Опишите, пожалуйста, причину приёма.")
		return nil
	}
	t.Data.OtherReason = msg
	return f.enterDoctorStep(ctx, t, "✅ Причина: "+msg)
}

func (f *createFlow) enterDoctorStep(ctx context.Context, t *Turn[CreateData], ack string) error {
	doctors, err := f.loadDoctorOptions(ctx)
	if err != nil {
		return err
	}
	t.Data.Doctors = doctors
	t.Say(ack, f.buildDoctorsList(doctors))
	t.Advance(stepDoctor)
	return nil
}

func (f *createFlow) loadDoctorOptions(ctx context.Context) ([]DoctorOption, error) {
	all, err := f.Doctors.Doctors(ctx)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	options := make([]DoctorOption, 0, len(all))
	for _, d := range all {
		position := strings.ToLower(d.PositionTitle())
		if position == "" || strings.Contains(position, "администратор") || strings.Contains(position, "administrator") {
			continue
		}
		options = append(options, DoctorOption{
			ID:       d.ID.Int(),
			Name:     d.DisplayName(),
			Position: d.PositionTitle(),
			Surname:  d.Surname(),
		})
	}
	return options, nil
}

func (f *createFlow) buildDoctorsList(doctors []DoctorOption) string {
	var sb strings.Builder
	sb.WriteString("👨‍⚕️ Выберите врача (введите номер):\n")
	for i, d := range doctors {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, d.Name, d.Position)
	}
	sb.WriteString("\nИли введите ФИО врача или «авто» для автоматического подбора.")
	if len(f.LiveQueueDoctors) > 0 {
		fmt.Fprintf(&sb, "\nВрачи %s принимают в порядке живой очереди.", strings.Join(f.LiveQueueDoctors, ", "))
	}
	return sb.String()
}

const waitlistHint = "Если нужна запись к этому врачу, можно встать в лист ожидания: при освобождении окна с вами свяжутся. " +
	"Сроки не гарантируем. Напишите «лист ожидания», чтобы мы передали заявку менеджеру, или выберите другого врача."

func (f *createFlow) handleDoctor(ctx context.Context, t *Turn[CreateData], msg string) error {
	normalized := strings.ToLower(strings.TrimSpace(msg))
	if strings.Contains(normalized, "лист ожидания") {
		doctor := t.Data.DoctorName
		if doctor == "" {
			doctor = "не указан"
		}
		t.Notify(fmt.Sprintf("📋 ЛИСТ ОЖИДАНИЯ\n\nКлиент: %s\nТелефон: %s\nХочет записаться к врачу %s. Просит поставить в лист ожидания. Связаться при освобождении окна.",
			t.Data.OwnerName, t.Data.OwnerPhone, doctor))
		t.Say("✅ Записал вас в лист ожидания. Менеджер свяжется с вами, когда освободится окно.")
		t.Complete()
		return nil
	}
	if normalized == autoDoctor || normalized == "auto" {
		t.Data.DoctorID = 0
		t.Data.DoctorName = ""
		t.Say("✅ Врач: Автоматический подбор", "Введите дату приема в формате ГГГГ-ММ-ДД.")
		t.Advance(stepDate)
		return nil
	}

	if n, err := strconv.Atoi(normalized); err == nil {
		if n < 1 || n > len(t.Data.Doctors) {
			t.Say(fmt.Sprintf("❌ Врач с номером %d не найден. Выберите номер из списка.", n),
				f.buildDoctorsList(t.Data.Doctors))
			return nil
		}
		return f.offerDoctorSlots(ctx, t, t.Data.Doctors[n-1])
	}

	// Free text: match by surname, the first word of the input.
	surname := ""
	if fields := strings.Fields(normalized); len(fields) > 0 {
		surname = fields[0]
	}
	for _, d := range t.Data.Doctors {
		if surname != "" && strings.EqualFold(d.Surname, surname) {
			return f.offerDoctorSlots(ctx, t, d)
		}
	}
	t.Say("Не удалось найти такого врача.", f.buildDoctorsList(t.Data.Doctors))
	return nil
}

func (f *createFlow) offerDoctorSlots(ctx context.Context, t *Turn[CreateData], doctor DoctorOption) error {
	t.Data.DoctorID = doctor.ID
	t.Data.DoctorName = doctor.Name

	found, err := f.Slots.DoctorSlots(ctx, doctor.ID, slots.DurationFor(t.Data.VisitType))
	if err != nil {
		return fmt.Errorf("search doctor slots: %w", err)
	}
	if len(found) == 0 {
		t.Say(fmt.Sprintf("У врача %s нет свободных окон в ближайшее время.", doctor.Name),
			waitlistHint)
		return nil
	}
	t.Data.Slots = found
	t.Say("✅ Врач: "+doctor.Name, buildSlotsList(found, f.Now()))
	t.Advance(stepSlotSelection)
	return nil
}

func buildSlotsList(list []slots.Slot, now time.Time) string {
	var sb strings.Builder
	sb.WriteString("📅 Выберите доступное окно (введите номер):\n")
	lastDate := ""
	for _, s := range list {
		if s.Date != lastDate {
			fmt.Fprintf(&sb, "\n📅 %s (%s):\n", FormatDateDisplay(s.Date, now), s.Date)
			lastDate = s.Date
		}
		fmt.Fprintf(&sb, "   %d. %s\n", s.Index, s.Time)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (f *createFlow) handleSlotSelection(_ context.Context, t *Turn[CreateData], msg string) error {
	n, ok := ParseIndex(msg, len(t.Data.Slots))
	if !ok {
		t.Say(fmt.Sprintf("❌ Окно с номером %s не найдено. Выберите номер из списка.", strings.TrimSpace(msg)),
			buildSlotsList(t.Data.Slots, f.Now()))
		return nil
	}
	chosen := t.Data.Slots[n-1]
	t.Data.Date = chosen.Date
	t.Data.Time = chosen.Time
	t.Data.Clinic = fmt.Sprintf("Клиника #%d", f.ClinicID)
	t.Say(fmt.Sprintf("✅ Выбрано окно: %s в %s", chosen.Date, chosen.Time))
	f.askConfirmation(t)
	return nil
}

func (f *createFlow) handleDate(_ context.Context, t *Turn[CreateData], msg string) error {
	date, errMsg := NormalizeDate(msg, f.Now())
	if errMsg != "" {
		t.Say(errMsg)
		return nil
	}
	t.Data.Date = date
	t.Say("✅ Дата: "+date, "Введите время приема в формате ЧЧ:ММ.")
	t.Advance(stepTime)
	return nil
}

func (f *createFlow) handleTime(_ context.Context, t *Turn[CreateData], msg string) error {
	timeOfDay, errMsg := NormalizeTime(msg)
	if errMsg != "" {
		t.Say(errMsg)
		return nil
	}
	t.Data.Time = timeOfDay
	t.Data.Clinic = fmt.Sprintf("Клиника #%d", f.ClinicID)
	t.Say("✅ Время: " + timeOfDay)
	f.askConfirmation(t)
	return nil
}

func (f *createFlow) askConfirmation(t *Turn[CreateData]) {
	t.Say(buildCreateSummary(*t.Data), "Подтверждаете запись? Ответьте «да» или «нет».")
	t.Advance(stepConfirmation)
}

func buildCreateSummary(d CreateData) string {
	doctor := d.DoctorName
	if doctor == "" {
		doctor = "Автоматический подбор"
	}
	pet := d.PetName
	if d.PetBreed != "" {
		pet += " (" + d.PetBreed + ")"
	}
	visitType := visitTypeLabels[d.VisitType]
	if d.VisitType == "other" && d.OtherReason != "" {
		visitType += ": " + d.OtherReason
	}
	return "📋 Сводка заявки:\n" +
		"🐾 Питомец: " + pet + "\n" +
		"⚕️ Симптомы: " + d.Symptoms + "\n" +
		"👤 Владелец: " + d.OwnerName + "\n" +
		"📞 Телефон: " + d.OwnerPhone + "\n" +
		"🩺 Тип приема: " + visitType + "\n" +
		"📅 Дата и время: " + d.Date + " " + d.Time + "\n" +
		"🏥 Клиника: " + d.Clinic + "\n" +
		"👨‍⚕️ Врач: " + doctor
}

func (f *createFlow) handleConfirmation(ctx context.Context, t *Turn[CreateData], msg string) error {
	switch {
	case IsPositive(msg):
		_, err := f.Booker.CreateAppointment(ctx, booking.CreateRequest{
			OwnerPhone:  t.Data.OwnerPhone,
			OwnerName:   t.Data.OwnerName,
			PetName:     t.Data.PetName,
			VisitType:   t.Data.VisitType,
			OtherReason: t.Data.OtherReason,
			Symptoms:    t.Data.Symptoms,
			Date:        t.Data.Date,
			Time:        t.Data.Time,
			DoctorID:    t.Data.DoctorID,
		})
		if err != nil {
			f.Logger.Error("crm booking failed", "flow", "create_appointment", "error", err)
			t.Say("⚠️ Заявка сформирована, но произошла ошибка при создании записи в системе. Менеджер оформит её вручную.")
		} else {
			t.Say("✅ Запись успешно создана в системе!")
		}
		t.Say("Заявка сформирована и будет обработана менеджером. Благодарим за обращение!",
			buildCreateSummary(*t.Data))
		t.Complete()
		return nil
	case IsNegative(msg):
		*t.Data = CreateData{}
		t.Say("Хорошо, начнем заново.", createIntro)
		t.Advance(stepSymptoms)
		return nil
	default:
		t.Say("Ответьте, пожалуйста, «да» или «нет».")
		return nil
	}
}
