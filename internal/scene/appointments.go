package scene

import (
	"context"
	"fmt"
	"strings"

	"github.com/high-cuisine/vetclinic-bot/internal/crm"
)

// AppointmentFinder looks up a client and their active appointments.
type AppointmentFinder interface {
	FindClientAndAppointments(ctx context.Context, phone string) (*crm.Client, []crm.Admission, error)
}

// Canceller cancels an appointment by id.
type Canceller interface {
	CancelAppointment(ctx context.Context, id int) error
}

// AppointmentOption is an appointment cached in flow state for numeric
// selection. It keeps enough of the admission to cancel, reschedule or
// rebook it later.
type AppointmentOption struct {
	ID          int    `json:"id"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	PetAlias    string `json:"pet_alias,omitempty"`
	Description string `json:"description,omitempty"`
	ClientID    int    `json:"client_id,omitempty"`
	PatientID   int    `json:"patient_id,omitempty"`
	TypeID      int    `json:"type_id,omitempty"`
	UserID      int    `json:"user_id,omitempty"`
	Length      int    `json:"length,omitempty"`
}

func appointmentOptions(admissions []crm.Admission) []AppointmentOption {
	out := make([]AppointmentOption, 0, len(admissions))
	for _, adm := range admissions {
		date, timeOfDay := FormatAdmissionWhen(adm.AdmissionDate)
		opt := AppointmentOption{
			ID:          adm.ID.Int(),
			Date:        date,
			Time:        timeOfDay,
			Description: adm.Description,
			ClientID:    adm.ClientID.Int(),
			PatientID:   adm.PatientID.Int(),
			TypeID:      adm.TypeID.Int(),
			UserID:      adm.UserID.Int(),
			Length:      adm.AdmissionLength.Int(),
		}
		if adm.Pet != nil {
			opt.PetAlias = adm.Pet.Alias
		}
		out = append(out, opt)
	}
	return out
}

// admission reconstructs the CRM record needed by the booking coordinator.
func (o AppointmentOption) admission() crm.Admission {
	return crm.Admission{
		ID:              crm.IntOrString(o.ID),
		AdmissionDate:   o.Date + " " + o.Time + ":00",
		AdmissionLength: crm.IntOrString(o.Length),
		ClientID:        crm.IntOrString(o.ClientID),
		PatientID:       crm.IntOrString(o.PatientID),
		TypeID:          crm.IntOrString(o.TypeID),
		UserID:          crm.IntOrString(o.UserID),
		Description:     o.Description,
	}
}

func (o AppointmentOption) describe() string {
	label := fmt.Sprintf("📅 %s в %s", o.Date, o.Time)
	if o.PetAlias != "" {
		label += " — " + o.PetAlias
	}
	if o.Description != "" {
		label += " (" + o.Description + ")"
	}
	return label
}

func buildAppointmentsList(options []AppointmentOption) string {
	var sb strings.Builder
	sb.WriteString("Ваши записи:\n")
	for i, o := range options {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, o.describe())
	}
	return strings.TrimRight(sb.String(), "\n")
}
