package booking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/high-cuisine/vetclinic-bot/internal/crm"
	"github.com/high-cuisine/vetclinic-bot/internal/observability/metrics"
	"github.com/high-cuisine/vetclinic-bot/internal/slots"
	"github.com/high-cuisine/vetclinic-bot/pkg/logging"
)

// Pet records created from chat get generic type and breed, refined later
// by the clinic staff.
const (
	defaultPetTypeID  = 2
	defaultPetBreedID = 2

	defaultPetAlias   = "Питомец"
	unknownNamePart   = "Не указано"
	defaultSource     = "Запись через Telegram бота"
	rebookDescription = "Перенос записи по инициативе клиента"
)

// CRM is the slice of the CRM API the coordinator needs.
type CRM interface {
	ClientsByPhone(ctx context.Context, phone string) ([]crm.Client, error)
	CreateClient(ctx context.Context, lastName, firstName, middleName, phone string) (*crm.Client, error)
	CreatePet(ctx context.Context, ownerID int, alias string, typeID, breedID int) (*crm.Pet, error)
	CreateAdmission(ctx context.Context, req crm.CreateAdmissionRequest) (*crm.Admission, error)
	CancelAdmission(ctx context.Context, id int) error
	RescheduleAdmission(ctx context.Context, id, clinicID int, start, end string) error
	AdmissionsForClientForYear(ctx context.Context, clientID, clinicID int) ([]crm.Admission, error)
}

// Coordinator drives multi-step CRM write sequences for the chat flows.
type Coordinator struct {
	crm      CRM
	clinicID int
	logger   *logging.Logger
	metrics  *metrics.BotMetrics
	newKey   func() string
	now      func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMetrics counts booking outcomes per operation.
func WithMetrics(m *metrics.BotMetrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// New creates a Coordinator bound to one clinic.
func New(api CRM, clinicID int, logger *logging.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = logging.Default()
	}
	c := &Coordinator{
		crm:      api,
		clinicID: clinicID,
		logger:   logger,
		newKey:   uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) observe(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.ObserveBooking(operation, status)
}

// CreateRequest carries the collected answers for a new appointment.
type CreateRequest struct {
	OwnerPhone  string
	OwnerName   string
	PetName     string
	VisitType   string // primary, secondary, vaccination, ultrasound, analyses, xray, other
	OtherReason string
	Symptoms    string
	Date        string // "YYYY-MM-DD"
	Time        string // "HH:MM"
	DoctorID    int
}

func splitName(full string) (lastName, firstName, middleName string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", "", ""
	case 1:
		return parts[0], "", ""
	case 2:
		return parts[0], parts[1], ""
	default:
		return parts[0], parts[1], strings.Join(parts[2:], " ")
	}
}

func orUnknown(s string) string {
	if s == "" {
		return unknownNamePart
	}
	return s
}

// EnsureClient returns the client for the phone, creating a record when the
// lookup comes back empty.
func (c *Coordinator) EnsureClient(ctx context.Context, phone, ownerName string) (int, error) {
	clients, err := c.crm.ClientsByPhone(ctx, phone)
	if err != nil {
		return 0, fmt.Errorf("booking: search client: %w", err)
	}
	if len(clients) > 0 {
		return clients[0].ResolvedID(), nil
	}

	last, first, middle := splitName(ownerName)
	created, err := c.crm.CreateClient(ctx, orUnknown(last), orUnknown(first), middle, phone)
	if err != nil {
		return 0, fmt.Errorf("booking: create client: %w", err)
	}
	c.logger.Info("client created", "client_id", created.ResolvedID())
	return created.ResolvedID(), nil
}

// CreateAppointment runs the full create sequence: find or create the
// client, register the pet, then book the admission. Each attempt carries a
// fresh idempotency key so a retried call cannot double-book.
func (c *Coordinator) CreateAppointment(ctx context.Context, req CreateRequest) (*crm.Admission, error) {
	adm, err := c.createAppointment(ctx, req)
	c.observe("create", err)
	return adm, err
}

func (c *Coordinator) createAppointment(ctx context.Context, req CreateRequest) (*crm.Admission, error) {
	clientID, err := c.EnsureClient(ctx, req.OwnerPhone, req.OwnerName)
	if err != nil {
		return nil, err
	}

	alias := req.PetName
	if alias == "" {
		alias = defaultPetAlias
	}
	pet, err := c.crm.CreatePet(ctx, clientID, alias, defaultPetTypeID, defaultPetBreedID)
	if err != nil {
		return nil, fmt.Errorf("booking: create pet: %w", err)
	}

	description := req.Symptoms
	if description == "" {
		description = defaultSource
	}
	if req.VisitType == "other" && req.OtherReason != "" {
		description += ". Причина: " + req.OtherReason
	}

	adm, err := c.crm.CreateAdmission(ctx, crm.CreateAdmissionRequest{
		TypeID:          slots.TypeIDFor(req.VisitType),
		AdmissionDate:   req.Date + " " + req.Time + ":00",
		ClinicID:        c.clinicID,
		ClientID:        clientID,
		PatientID:       pet.ID.Int(),
		Description:     description,
		AdmissionLength: slots.DurationFor(req.VisitType),
		DoctorID:        req.DoctorID,
		IdempotencyKey:  c.newKey(),
	})
	if err != nil {
		return nil, fmt.Errorf("booking: create admission: %w", err)
	}
	c.logger.Info("admission created", "admission_id", adm.ID.Int(), "client_id", clientID)
	return adm, nil
}

// FindClientAndAppointments looks up the client by phone, retrying with
// relaxed phone spellings, and returns their upcoming appointments.
func (c *Coordinator) FindClientAndAppointments(ctx context.Context, phone string) (*crm.Client, []crm.Admission, error) {
	client, err := c.findClient(ctx, phone)
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		return nil, nil, nil
	}

	admissions, err := c.crm.AdmissionsForClientForYear(ctx, client.ResolvedID(), c.clinicID)
	if err != nil {
		return nil, nil, fmt.Errorf("booking: load appointments: %w", err)
	}
	return client, c.activeOnly(admissions), nil
}

func (c *Coordinator) findClient(ctx context.Context, phone string) (*crm.Client, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)

	variants := []string{phone}
	if strings.HasPrefix(phone, "+7") {
		variants = append(variants, strings.TrimPrefix(phone, "+7"))
	}
	if digits != "" && digits != phone {
		variants = append(variants, digits)
	}

	for _, v := range variants {
		clients, err := c.crm.ClientsByPhone(ctx, v)
		if err != nil {
			c.logger.Warn("client search variant failed", "variant", v, "error", err)
			continue
		}
		if len(clients) > 0 {
			return &clients[0], nil
		}
	}
	return nil, nil
}

// activeOnly keeps future, not cancelled appointments, soonest first.
func (c *Coordinator) activeOnly(admissions []crm.Admission) []crm.Admission {
	nowStamp := c.now().Format("2006-01-02 15:04:05")
	out := make([]crm.Admission, 0, len(admissions))
	for _, adm := range admissions {
		if adm.AdmissionDate <= nowStamp {
			continue
		}
		switch strings.ToLower(adm.Status) {
		case "deleted", "cancelled", "canceled":
			continue
		}
		out = append(out, adm)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AdmissionDate < out[j].AdmissionDate
	})
	return out
}

// CancelAppointment cancels the admission with the given id.
func (c *Coordinator) CancelAppointment(ctx context.Context, id int) error {
	if err := c.crm.CancelAdmission(ctx, id); err != nil {
		c.observe("cancel", err)
		return fmt.Errorf("booking: cancel admission %d: %w", id, err)
	}
	c.observe("cancel", nil)
	c.logger.Info("admission cancelled", "admission_id", id)
	return nil
}

// Reschedule moves an existing admission to the new date and time, keeping
// its original length.
func (c *Coordinator) Reschedule(ctx context.Context, adm crm.Admission, date, timeOfDay string) error {
	err := c.reschedule(ctx, adm, date, timeOfDay)
	c.observe("reschedule", err)
	return err
}

func (c *Coordinator) reschedule(ctx context.Context, adm crm.Admission, date, timeOfDay string) error {
	length := adm.AdmissionLength.Int()
	if length <= 0 {
		length = 30
	}
	start, err := time.Parse("2006-01-02 15:04", date+" "+timeOfDay)
	if err != nil {
		return fmt.Errorf("booking: parse reschedule time: %w", err)
	}
	end := start.Add(time.Duration(length) * time.Minute)
	if err := c.crm.RescheduleAdmission(ctx, adm.ID.Int(), c.clinicID,
		start.Format("2006-01-02 15:04:05"), end.Format("2006-01-02 15:04:05")); err != nil {
		return fmt.Errorf("booking: reschedule admission %d: %w", adm.ID.Int(), err)
	}
	c.logger.Info("admission rescheduled", "admission_id", adm.ID.Int(), "start", start.Format("2006-01-02 15:04"))
	return nil
}

// RebookAfterCancel books a replacement admission reusing the cancelled
// one's client, patient, type, doctor and length.
func (c *Coordinator) RebookAfterCancel(ctx context.Context, cancelled crm.Admission, date, timeOfDay string) (*crm.Admission, error) {
	adm, err := c.rebookAfterCancel(ctx, cancelled, date, timeOfDay)
	c.observe("rebook", err)
	return adm, err
}

func (c *Coordinator) rebookAfterCancel(ctx context.Context, cancelled crm.Admission, date, timeOfDay string) (*crm.Admission, error) {
	length := cancelled.AdmissionLength.Int()
	if length <= 0 {
		length = 30
	}
	description := cancelled.Description
	if description == "" {
		description = rebookDescription
	}

	adm, err := c.crm.CreateAdmission(ctx, crm.CreateAdmissionRequest{
		TypeID:          cancelled.TypeID.Int(),
		AdmissionDate:   date + " " + timeOfDay + ":00",
		ClinicID:        c.clinicID,
		ClientID:        cancelled.ClientID.Int(),
		PatientID:       cancelled.PatientID.Int(),
		Description:     description,
		AdmissionLength: length,
		DoctorID:        cancelled.UserID.Int(),
		IdempotencyKey:  c.newKey(),
	})
	if err != nil {
		return nil, fmt.Errorf("booking: rebook admission: %w", err)
	}
	c.logger.Info("admission rebooked", "admission_id", adm.ID.Int(), "previous_id", cancelled.ID.Int())
	return adm, nil
}
