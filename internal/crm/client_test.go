package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T, handler http.HandlerFunc) *API {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAPI(srv.URL, "test-key")
}

func TestClientsByPhoneStringIDs(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-REST-API-KEY"))
		assert.Equal(t, "/client/clientsSearchData", r.URL.Path)
		assert.Equal(t, "+79991234567", r.URL.Query().Get("search_query"))
		w.Write([]byte(`{"data":{"clients":[{"client_id":"42","first_name":"Анна","last_name":"Иванова","cell_phone":"+79991234567"}]}}`))
	})

	clients, err := api.ClientsByPhone(context.Background(), "+79991234567")
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, 42, clients[0].ResolvedID())
	assert.Equal(t, "Анна Иванова", clients[0].DisplayName())
}

func TestClientsByPhoneSingleObjectShape(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"client":{"id":7,"first_name":"Пётр"}}}`))
	})

	clients, err := api.ClientsByPhone(context.Background(), "+79990000000")
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, 7, clients[0].ResolvedID())
}

func TestClientsByPhoneEmpty(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"clients":[]}}`))
	})

	clients, err := api.ClientsByPhone(context.Background(), "+79991112233")
	require.NoError(t, err)
	assert.Empty(t, clients)
}

func TestCreateAdmission(t *testing.T) {
	var captured map[string]any
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/Admission", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{"data":{"admission":{"id":"101","admission_date":"2026-09-10 14:30:00"}}}`))
	})

	adm, err := api.CreateAdmission(context.Background(), CreateAdmissionRequest{
		TypeID:          TypePrimary,
		AdmissionDate:   "2026-09-10 14:30:00",
		ClinicID:        1,
		ClientID:        42,
		PatientID:       9,
		Description:     "Кашель",
		AdmissionLength: 60,
		DoctorID:        5,
		IdempotencyKey:  "abc-123",
	})
	require.NoError(t, err)
	assert.Equal(t, 101, adm.ID.Int())

	assert.Equal(t, "not_confirmed", captured["reception_write_channel"])
	assert.Equal(t, "abc-123", captured["import_source_uid"])
	assert.Equal(t, "60", captured["admission_length"])
	assert.EqualValues(t, 5, captured["user_id"])
}

func TestCancelAdmission(t *testing.T) {
	var captured map[string]any
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/Admission/CancelAdmission", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{"success":true}`))
	})

	require.NoError(t, api.CancelAdmission(context.Background(), 101))
	assert.EqualValues(t, 101, captured["id"])
}

func TestRescheduleAdmission(t *testing.T) {
	var captured map[string]any
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/Admission/101", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{"success":true}`))
	})

	err := api.RescheduleAdmission(context.Background(), 101, 1, "2026-09-11 10:00:00", "2026-09-11 10:30:00")
	require.NoError(t, err)
	assert.EqualValues(t, 1, captured["clinic_id"])
	assert.Equal(t, "2026-09-11 10:00:00", captured["start"])
	assert.Equal(t, "2026-09-11 10:30:00", captured["end"])
}

func TestAdmissionsRefiltersClientSide(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1000", r.URL.Query().Get("limit"))
		assert.NotEmpty(t, r.URL.Query().Get("filter"))
		// The CRM filter is advisory: return an extra record from another client.
		w.Write([]byte(`{"data":{"admission":[
			{"id":1,"client_id":"42","clinic_id":1,"admission_date":"2026-09-10 14:30:00"},
			{"id":2,"client_id":"99","clinic_id":1,"admission_date":"2026-09-10 15:00:00"}
		]}}`))
	})

	admissions, err := api.Admissions(context.Background(), AdmissionQuery{ClinicID: 1, ClientID: 42})
	require.NoError(t, err)
	require.Len(t, admissions, 1)
	assert.Equal(t, 42, admissions[0].ClientID.Int())
}

func TestOccupiedTimeSlots(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"admission":[
			{"id":1,"clinic_id":1,"admission_date":"2026-09-10 14:30:00"},
			{"id":2,"clinic_id":1,"admission_date":"2026-09-10 09:00:00"}
		]}}`))
	})

	occupied, err := api.OccupiedTimeSlots(context.Background(), "2026-09-10", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"14:30", "09:00"}, occupied)
}

func TestAvailableDatesSkipsSundays(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"admission":[]}}`))
	})

	days := 14
	dates, err := api.AvailableDates(context.Background(), days, 1)
	require.NoError(t, err)
	require.NotEmpty(t, dates)

	seen := make(map[string]bool, len(dates))
	for _, d := range dates {
		parsed, perr := time.Parse("2006-01-02", d.Date)
		require.NoError(t, perr)
		assert.NotEqual(t, time.Sunday, parsed.Weekday(), "date %s must not be a Sunday", d.Date)
		seen[d.Date] = true
	}
	// A two week window always contains exactly two Sundays.
	assert.Len(t, dates, days-2)
	assert.False(t, seen[""])
}

func TestErrorStatusIncludesBody(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`upstream unavailable`))
	})

	_, err := api.Clinics(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Contains(t, err.Error(), "upstream unavailable")
}

func TestDoctorsFlexibleEnvelope(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"user":[
			{"id":"5","full_name":"Сидорова Мария Петровна","position":{"title":"Терапевт"}},
			{"id":6,"last_name":"Козлов","first_name":"Игорь","position":"Администратор"}
		]}}`))
	})

	doctors, err := api.Doctors(context.Background())
	require.NoError(t, err)
	require.Len(t, doctors, 2)
	assert.Equal(t, "Терапевт", doctors[0].PositionTitle())
	assert.Equal(t, "Сидорова", doctors[0].Surname())
	assert.Equal(t, "Администратор", doctors[1].PositionTitle())
	assert.Equal(t, "Козлов Игорь", doctors[1].DisplayName())
}
