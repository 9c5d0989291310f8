package crm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// IntOrString decodes CRM numeric fields that arrive either as JSON numbers
// or as quoted strings, depending on the endpoint.
type IntOrString int

func (v *IntOrString) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*v = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		// Some numeric fields carry decimals (e.g. "30.00").
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("crm: parse numeric field %q: %w", s, err)
		}
		*v = IntOrString(int(f))
		return nil
	}
	*v = IntOrString(n)
	return nil
}

// Int returns the decoded value as a plain int.
func (v IntOrString) Int() int { return int(v) }

// oneOrMany decodes endpoints that return either a single object or an array.
type oneOrMany[T any] []T

func (l *oneOrMany[T]) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*l = nil
		return nil
	}
	if trimmed[0] == '[' {
		var arr []T
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return err
		}
		*l = arr
		return nil
	}
	var one T
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return err
	}
	*l = []T{one}
	return nil
}

// Position is a doctor's position, returned as a bare string or an object.
type Position struct {
	Title string
}

func (p *Position) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		p.Title = s
		return nil
	}
	var obj struct {
		Title string `json:"title"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return err
	}
	if obj.Title != "" {
		p.Title = obj.Title
	} else {
		p.Title = obj.Name
	}
	return nil
}

// Client is the CRM client (pet owner) record.
type Client struct {
	ID         IntOrString `json:"id"`
	ClientID   IntOrString `json:"client_id"`
	FirstName  string      `json:"first_name"`
	LastName   string      `json:"last_name"`
	MiddleName string      `json:"middle_name"`
	CellPhone  string      `json:"cell_phone"`
	Status     string      `json:"status"`
}

// ResolvedID returns the client id, falling back to client_id when the
// search endpoint omits the primary key.
func (c Client) ResolvedID() int {
	if c.ID != 0 {
		return c.ID.Int()
	}
	return c.ClientID.Int()
}

// DisplayName renders "FirstName LastName" for user-facing messages.
func (c Client) DisplayName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Pet is the CRM patient record.
type Pet struct {
	ID    IntOrString `json:"id"`
	Alias string      `json:"alias"`
}

// Doctor is a CRM user who can hold admissions.
type Doctor struct {
	ID           IntOrString `json:"id"`
	FullName     string      `json:"full_name"`
	FirstName    string      `json:"first_name"`
	LastName     string      `json:"last_name"`
	MiddleName   string      `json:"middle_name"`
	Name         string      `json:"name"`
	Position     Position    `json:"position"`
	PositionData Position    `json:"position_data"`
}

// PositionTitle returns the human-readable position, whichever field carries it.
func (d Doctor) PositionTitle() string {
	if d.Position.Title != "" {
		return d.Position.Title
	}
	return d.PositionData.Title
}

// DisplayName assembles the best available doctor name.
func (d Doctor) DisplayName() string {
	if d.FullName != "" {
		return d.FullName
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{d.LastName, d.FirstName, d.MiddleName} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	return d.Name
}

// Surname returns the doctor's last name, derived from full_name or name
// when the dedicated field is empty.
func (d Doctor) Surname() string {
	if d.LastName != "" {
		return d.LastName
	}
	for _, source := range []string{d.FullName, d.Name} {
		if fields := strings.Fields(source); len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}

// Clinic is a CRM clinic record.
type Clinic struct {
	ID    IntOrString `json:"id"`
	Title string      `json:"title"`
}

// Admission is the CRM appointment record.
type Admission struct {
	ID              IntOrString `json:"id"`
	AdmissionDate   string      `json:"admission_date"`
	AdmissionLength IntOrString `json:"admission_length"`
	ClinicID        IntOrString `json:"clinic_id"`
	ClientID        IntOrString `json:"client_id"`
	PatientID       IntOrString `json:"patient_id"`
	TypeID          IntOrString `json:"type_id"`
	UserID          IntOrString `json:"user_id"`
	Status          string      `json:"status"`
	Description     string      `json:"description"`
	Client          *Client     `json:"client,omitempty"`
	Pet             *Pet        `json:"pet,omitempty"`
}

// DateAvailability lists occupied time slots for one calendar date.
type DateAvailability struct {
	Date          string
	OccupiedSlots []string
}

// CreateAdmissionRequest carries all fields needed to create an admission.
type CreateAdmissionRequest struct {
	TypeID          int
	AdmissionDate   string // "YYYY-MM-DD HH:MM:SS"
	ClinicID        int
	ClientID        int
	PatientID       int
	Description     string
	AdmissionLength int // minutes
	DoctorID        int
	// IdempotencyKey deduplicates retried create calls on the CRM side.
	IdempotencyKey string
}

// AdmissionQuery filters the admission listing. Zero values mean "no filter".
type AdmissionQuery struct {
	ClinicID  int
	ClientID  int
	StartDate string // "YYYY-MM-DD HH:MM:SS"
	EndDate   string
}
