package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/high-cuisine/vetclinic-bot/pkg/logging"
)

const (
	defaultTimeout = 30 * time.Second

	// Admission type ids and lengths used when the CRM does not dictate them.
	TypePrimary    = 1
	TypeSecondary  = 2
	TypeVaccine    = 3
	TypeUltrasound = 4
	TypeAnalyses   = 5
	TypeXRay       = 6
)

// API is a client for the clinic CRM REST interface. All requests carry the
// X-REST-API-KEY header and honour the passed context.
type API struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger
}

// Option configures the API client.
type Option func(*API)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *API) {
		a.httpClient = c
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *logging.Logger) Option {
	return func(a *API) {
		a.logger = l
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *API) {
		a.httpClient.Timeout = d
	}
}

// NewAPI creates a CRM API client for the given base URL and key.
func NewAPI(baseURL, apiKey string, opts ...Option) *API {
	a := &API{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logging.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *API) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	u := a.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("crm: marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("crm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-REST-API-KEY", a.apiKey)

	a.logger.Debug("crm request", "method", method, "path", path)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("crm: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("crm: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.logger.Warn("crm request failed", "method", method, "path", path, "status", resp.StatusCode)
		return fmt.Errorf("crm: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("crm: decode response: %w", err)
	}
	return nil
}

// Clinics lists clinics registered in the CRM.
func (a *API) Clinics(ctx context.Context) ([]Clinic, error) {
	var env struct {
		Data struct {
			Clinics oneOrMany[Clinic] `json:"clinics"`
		} `json:"data"`
	}
	if err := a.do(ctx, http.MethodGet, "/clinics", nil, nil, &env); err != nil {
		return nil, err
	}
	return env.Data.Clinics, nil
}

// ClientsByPhone searches clients by phone number. Returns an empty slice
// when nothing matches.
func (a *API) ClientsByPhone(ctx context.Context, phone string) ([]Client, error) {
	q := url.Values{"search_query": {phone}}
	var env struct {
		Data struct {
			Client  oneOrMany[Client] `json:"client"`
			Clients oneOrMany[Client] `json:"clients"`
		} `json:"data"`
	}
	if err := a.do(ctx, http.MethodGet, "/client/clientsSearchData", q, nil, &env); err != nil {
		return nil, err
	}
	if len(env.Data.Clients) > 0 {
		return env.Data.Clients, nil
	}
	return env.Data.Client, nil
}

// CreateClient registers a new client record.
func (a *API) CreateClient(ctx context.Context, lastName, firstName, middleName, phone string) (*Client, error) {
	body := map[string]any{
		"last_name":   lastName,
		"first_name":  firstName,
		"middle_name": middleName,
		"cell_phone":  phone,
		"status":      "TEMPORARY",
	}
	var env struct {
		Data struct {
			Client oneOrMany[Client] `json:"client"`
		} `json:"data"`
	}
	if err := a.do(ctx, http.MethodPost, "/client", nil, body, &env); err != nil {
		return nil, err
	}
	if len(env.Data.Client) == 0 {
		return nil, fmt.Errorf("crm: create client: empty response")
	}
	return &env.Data.Client[0], nil
}

// CreatePet registers a patient for the given owner.
func (a *API) CreatePet(ctx context.Context, ownerID int, alias string, typeID, breedID int) (*Pet, error) {
	body := map[string]any{
		"owner_id": ownerID,
		"alias":    alias,
		"type_id":  typeID,
		"breed_id": breedID,
	}
	var env struct {
		Data struct {
			Pet oneOrMany[Pet] `json:"pet"`
		} `json:"data"`
	}
	if err := a.do(ctx, http.MethodPost, "/pet", nil, body, &env); err != nil {
		return nil, err
	}
	if len(env.Data.Pet) == 0 {
		return nil, fmt.Errorf("crm: create pet: empty response")
	}
	return &env.Data.Pet[0], nil
}

// CreateAdmission books an appointment.
func (a *API) CreateAdmission(ctx context.Context, req CreateAdmissionRequest) (*Admission, error) {
	body := map[string]any{
		"admission_date":          req.AdmissionDate,
		"admission_length":        strconv.Itoa(req.AdmissionLength),
		"clinic_id":               req.ClinicID,
		"client_id":               req.ClientID,
		"patient_id":              req.PatientID,
		"type_id":                 req.TypeID,
		"description":             req.Description,
		"status":                  "active",
		"reception_write_channel": "not_confirmed",
	}
	if req.DoctorID > 0 {
		body["user_id"] = req.DoctorID
	}
	if req.IdempotencyKey != "" {
		body["import_source_uid"] = req.IdempotencyKey
	}
	var env struct {
		Data struct {
			Admission oneOrMany[Admission] `json:"admission"`
		} `json:"data"`
	}
	if err := a.do(ctx, http.MethodPost, "/Admission", nil, body, &env); err != nil {
		return nil, err
	}
	if len(env.Data.Admission) == 0 {
		return nil, fmt.Errorf("crm: create admission: empty response")
	}
	return &env.Data.Admission[0], nil
}

// CancelAdmission cancels the appointment with the given id.
func (a *API) CancelAdmission(ctx context.Context, id int) error {
	return a.do(ctx, http.MethodPost, "/Admission/CancelAdmission", nil, map[string]any{"id": id}, nil)
}

// RescheduleAdmission moves the appointment to a new start and end time.
// Times use the "YYYY-MM-DD HH:MM:SS" CRM format.
func (a *API) RescheduleAdmission(ctx context.Context, id, clinicID int, start, end string) error {
	body := map[string]any{
		"clinic_id": clinicID,
		"start":     start,
		"end":       end,
	}
	return a.do(ctx, http.MethodPut, "/Admission/"+strconv.Itoa(id), nil, body, nil)
}

// Admissions lists appointments matching the query, newest first. The CRM
// filter is advisory, so results are refiltered client-side.
func (a *API) Admissions(ctx context.Context, query AdmissionQuery) ([]Admission, error) {
	filters := make([]map[string]any, 0, 4)
	if query.ClinicID > 0 {
		filters = append(filters, map[string]any{"property": "clinic_id", "value": query.ClinicID})
	}
	if query.ClientID > 0 {
		filters = append(filters, map[string]any{"property": "client_id", "value": query.ClientID})
	}
	if query.StartDate != "" {
		filters = append(filters, map[string]any{"property": "admission_date", "value": query.StartDate, "operator": ">="})
	}
	if query.EndDate != "" {
		filters = append(filters, map[string]any{"property": "admission_date", "value": query.EndDate, "operator": "<="})
	}

	q := url.Values{}
	q.Set("offset", "0")
	q.Set("limit", "1000")
	q.Set("sort", `[{"property":"admission_date","direction":"DESC"}]`)
	if len(filters) > 0 {
		raw, err := json.Marshal(filters)
		if err != nil {
			return nil, fmt.Errorf("crm: marshal admission filter: %w", err)
		}
		q.Set("filter", string(raw))
	}

	var env struct {
		Data struct {
			Admission oneOrMany[Admission] `json:"admission"`
		} `json:"data"`
	}
	if err := a.do(ctx, http.MethodGet, "/Admission", q, nil, &env); err != nil {
		return nil, err
	}

	out := make([]Admission, 0, len(env.Data.Admission))
	for _, adm := range env.Data.Admission {
		if query.ClinicID > 0 && adm.ClinicID.Int() != query.ClinicID {
			continue
		}
		if query.ClientID > 0 && adm.ClientID.Int() != query.ClientID {
			continue
		}
		if query.StartDate != "" && adm.AdmissionDate < query.StartDate {
			continue
		}
		if query.EndDate != "" && adm.AdmissionDate > query.EndDate {
			continue
		}
		out = append(out, adm)
	}
	return out, nil
}

// AdmissionsForClientForYear returns a client's appointments from a month
// back through a year ahead.
func (a *API) AdmissionsForClientForYear(ctx context.Context, clientID, clinicID int) ([]Admission, error) {
	start := time.Now().AddDate(0, -1, 0)
	end := start.AddDate(1, 0, 0)
	return a.Admissions(ctx, AdmissionQuery{
		ClinicID:  clinicID,
		ClientID:  clientID,
		StartDate: start.Format("2006-01-02") + " 00:00:00",
		EndDate:   end.Format("2006-01-02") + " 23:59:59",
	})
}

// Doctors lists CRM users who can hold admissions.
func (a *API) Doctors(ctx context.Context) ([]Doctor, error) {
	var env struct {
		Data struct {
			User  oneOrMany[Doctor] `json:"user"`
			Users oneOrMany[Doctor] `json:"users"`
		} `json:"data"`
	}
	if err := a.do(ctx, http.MethodGet, "/User", nil, nil, &env); err != nil {
		return nil, err
	}
	if len(env.Data.User) > 0 {
		return env.Data.User, nil
	}
	return env.Data.Users, nil
}

// DoctorAdmissionTimes returns the upcoming admission start times of one
// doctor over the next week, earliest first.
func (a *API) DoctorAdmissionTimes(ctx context.Context, doctorID, clinicID int) ([]string, error) {
	now := time.Now()
	admissions, err := a.Admissions(ctx, AdmissionQuery{
		ClinicID:  clinicID,
		StartDate: now.Format("2006-01-02") + " 00:00:00",
		EndDate:   now.AddDate(0, 0, 7).Format("2006-01-02") + " 23:59:59",
	})
	if err != nil {
		return nil, err
	}
	nowStamp := now.Format("2006-01-02 15:04:05")
	times := make([]string, 0, len(admissions))
	for _, adm := range admissions {
		if adm.UserID.Int() != doctorID {
			continue
		}
		if adm.AdmissionDate <= nowStamp {
			continue
		}
		times = append(times, adm.AdmissionDate)
	}
	// Admissions arrive newest first, flip for chronological order.
	for i, j := 0, len(times)-1; i < j; i, j = i+1, j-1 {
		times[i], times[j] = times[j], times[i]
	}
	return times, nil
}

// OccupiedTimeSlots returns the "HH:MM" start times already booked on the
// given date.
func (a *API) OccupiedTimeSlots(ctx context.Context, date string, clinicID int) ([]string, error) {
	admissions, err := a.Admissions(ctx, AdmissionQuery{
		ClinicID:  clinicID,
		StartDate: date + " 00:00:00",
		EndDate:   date + " 23:59:59",
	})
	if err != nil {
		return nil, err
	}
	occupied := make([]string, 0, len(admissions))
	for _, adm := range admissions {
		if len(adm.AdmissionDate) >= 16 {
			occupied = append(occupied, adm.AdmissionDate[11:16])
		}
	}
	return occupied, nil
}

// AvailableDates lists working dates over the coming window together with
// their occupied slots. Sundays are skipped.
func (a *API) AvailableDates(ctx context.Context, daysAhead, clinicID int) ([]DateAvailability, error) {
	now := time.Now()
	windowEnd := now.AddDate(0, 0, daysAhead)
	admissions, err := a.Admissions(ctx, AdmissionQuery{
		ClinicID:  clinicID,
		StartDate: now.Format("2006-01-02") + " 00:00:00",
		EndDate:   windowEnd.Format("2006-01-02") + " 23:59:59",
	})
	if err != nil {
		return nil, err
	}

	occupiedByDate := make(map[string][]string)
	for _, adm := range admissions {
		if len(adm.AdmissionDate) < 16 {
			continue
		}
		date := adm.AdmissionDate[:10]
		occupiedByDate[date] = append(occupiedByDate[date], adm.AdmissionDate[11:16])
	}

	out := make([]DateAvailability, 0, daysAhead)
	for i := 0; i < daysAhead; i++ {
		day := now.AddDate(0, 0, i)
		if day.Weekday() == time.Sunday {
			continue
		}
		date := day.Format("2006-01-02")
		out = append(out, DateAvailability{Date: date, OccupiedSlots: occupiedByDate[date]})
	}
	return out, nil
}
