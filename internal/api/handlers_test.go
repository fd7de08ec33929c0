package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hackgods/doctor-appointment-booking/internal/appointment"
	"github.com/hackgods/doctor-appointment-booking/internal/config"
	"github.com/hackgods/doctor-appointment-booking/internal/metrics"
)

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Count   *int            `json:"count"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

type testServer struct {
	t       *testing.T
	handler http.Handler
}

func newTestServer(t *testing.T, deps ...Dependency) *testServer {
	t.Helper()
	cfg := config.Config{SlotMinDuration: 15, SlotMaxDuration: 120, SlotDefaultDuration: 30, ReconcileGrace: 30 * time.Second}
	logger := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	m := metrics.NewBookingMetrics(reg)
	svc := appointment.NewService(appointment.NewMemoryRepository(), nil, cfg, logger, m)

	return &testServer{t: t, handler: NewRouter(RouterConfig{
		Service:      svc,
		Logger:       logger,
		Metrics:      m,
		Gatherer:     reg,
		Dependencies: deps,
		Env:          "test",
		Version:      "dev",
	})}
}

func (s *testServer) do(method, path string, body any) (*httptest.ResponseRecorder, testEnvelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env testEnvelope
	if strings.HasPrefix(path, "/api") {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func decodeData[T any](t *testing.T, env testEnvelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func (s *testServer) createDoctor(email string) DoctorResponse {
	s.t.Helper()
	rec, env := s.do(http.MethodPost, "/api/doctors", map[string]any{
		"name":           "Dr. Sarah Johnson",
		"specialization": "Cardiology",
		"email":          email,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeData[DoctorResponse](s.t, env)
}

func (s *testServer) createSlot(doctorID string, at string) SlotResponse {
	s.t.Helper()
	rec, env := s.do(http.MethodPost, "/api/slots", map[string]any{
		"doctor_id": doctorID,
		"slot_date": "2025-03-10",
		"slot_time": at,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeData[SlotResponse](s.t, env)
}

func bookingBody(slotID, name string) map[string]any {
	return map[string]any{
		"slot_id":       slotID,
		"patient_name":  name,
		"patient_email": strings.ToLower(name) + "@example.com",
	}
}

func TestBulkSlotsUntilMidnight(t *testing.T) {
	s := newTestServer(t)
	doctor := s.createDoctor("night@clinic.test")

	rec, env := s.do(http.MethodPost, "/api/slots/bulk", map[string]any{
		"doctor_id":        doctor.ID.String(),
		"slot_date":        "2025-03-10",
		"start_time":       "23:00",
		"end_time":         "24:00",
		"duration_minutes": 30,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	slots := decodeData[[]SlotResponse](t, env)
	require.Len(t, slots, 2)
	assert.Equal(t, "23:30", slots[1].SlotTime)
}

func TestBookingFlow(t *testing.T) {
	s := newTestServer(t)
	doctor := s.createDoctor("sarah@clinic.test")

	rec, env := s.do(http.MethodPost, "/api/slots/bulk", map[string]any{
		"doctor_id":  doctor.ID.String(),
		"slot_date":  "2025-03-10",
		"start_time": "09:00",
		"end_time":   "17:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, env.Count)
	assert.Equal(t, 16, *env.Count)
	slots := decodeData[[]SlotResponse](t, env)
	assert.Equal(t, "09:00", slots[0].SlotTime)
	assert.Equal(t, "2025-03-10", slots[0].SlotDate)
	assert.Equal(t, 30, slots[0].DurationMinutes)

	slotID := slots[0].ID.String()

	rec, env = s.do(http.MethodPost, "/api/bookings", bookingBody(slotID, "John"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, env.Success)
	first := decodeData[BookingResponse](t, env)
	assert.Equal(t, "CONFIRMED", first.Status)
	assert.NotNil(t, first.ConfirmedAt)

	rec, env = s.do(http.MethodPost, "/api/bookings", bookingBody(slotID, "Jane"))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "slot unavailable", env.Error)
	lost := decodeData[BookingResponse](t, env)
	assert.Equal(t, "FAILED", lost.Status)
	require.NotNil(t, lost.FailureReason)
	assert.Equal(t, "slot unavailable", *lost.FailureReason)

	rec, env = s.do(http.MethodGet, "/api/slots?doctor_id="+doctor.ID.String()+"&date=2025-03-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 15, *env.Count)

	rec, env = s.do(http.MethodPut, "/api/bookings/"+first.ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "CANCELLED", decodeData[BookingResponse](t, env).Status)

	rec, _ = s.do(http.MethodPut, "/api/bookings/"+first.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, env = s.do(http.MethodPost, "/api/bookings", bookingBody(slotID, "Jane"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env = s.do(http.MethodGet, "/api/bookings/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatsResponse{Confirmed: 1, Failed: 1, Cancelled: 1, Total: 3}, decodeData[StatsResponse](t, env))

	rec, env = s.do(http.MethodGet, "/api/bookings?patient_email=jane@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeData[[]BookingResponse](t, env)
	require.Len(t, history, 2)
	assert.Equal(t, "Dr. Sarah Johnson", history[0].DoctorName)
	assert.Equal(t, "09:00", history[0].SlotTime)

	rec, env = s.do(http.MethodGet, "/api/bookings?status=cancelled", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, *env.Count)

	rec, env = s.do(http.MethodGet, "/api/bookings/"+first.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Cardiology", decodeData[BookingResponse](t, env).Specialization)
}

func TestCreateBooking_Concurrent(t *testing.T) {
	s := newTestServer(t)
	doctor := s.createDoctor("sarah@clinic.test")
	slot := s.createSlot(doctor.ID.String(), "10:00")

	const requests = 20
	codes := make([]int, requests)
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body, _ := json.Marshal(bookingBody(slot.ID.String(), fmt.Sprintf("patient%d", i)))
			req := httptest.NewRequest(http.MethodPost, "/api/bookings", bytes.NewReader(body))
			rec := httptest.NewRecorder()
			s.handler.ServeHTTP(rec, req)
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	created, conflicts := 0, 0
	for _, code := range codes {
		switch code {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			conflicts++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, requests-1, conflicts)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	doctor := s.createDoctor("sarah@clinic.test")
	slot := s.createSlot(doctor.ID.String(), "10:00")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"malformed json", http.MethodPost, "/api/bookings", "not an object", http.StatusBadRequest},
		{"bad slot id", http.MethodPost, "/api/bookings", bookingBody("42", "John"), http.StatusBadRequest},
		{"invalid email", http.MethodPost, "/api/bookings", map[string]any{"slot_id": slot.ID.String(), "patient_name": "John", "patient_email": "nope"}, http.StatusBadRequest},
		{"unknown slot", http.MethodPost, "/api/bookings", bookingBody("7f1c4b9e-3c55-4c0a-9a61-0a4f7d1f2b11", "John"), http.StatusNotFound},
		{"unknown booking cancel", http.MethodPut, "/api/bookings/7f1c4b9e-3c55-4c0a-9a61-0a4f7d1f2b11/cancel", nil, http.StatusConflict},
		{"unknown booking", http.MethodGet, "/api/bookings/7f1c4b9e-3c55-4c0a-9a61-0a4f7d1f2b11", nil, http.StatusNotFound},
		{"bad status filter", http.MethodGet, "/api/bookings?status=LOST", nil, http.StatusBadRequest},
		{"bad id", http.MethodGet, "/api/slots/abc", nil, http.StatusBadRequest},
		{"bad date filter", http.MethodGet, "/api/slots?date=03-10-2025", nil, http.StatusBadRequest},
		{"duplicate slot", http.MethodPost, "/api/slots", map[string]any{"doctor_id": doctor.ID.String(), "slot_date": "2025-03-10", "slot_time": "10:00"}, http.StatusConflict},
		{"duration out of bounds", http.MethodPost, "/api/slots", map[string]any{"doctor_id": doctor.ID.String(), "slot_date": "2025-03-10", "slot_time": "11:00", "duration_minutes": 5}, http.StatusBadRequest},
		{"bad slot time", http.MethodPost, "/api/slots", map[string]any{"doctor_id": doctor.ID.String(), "slot_date": "2025-03-10", "slot_time": "25:00"}, http.StatusBadRequest},
		{"end past midnight", http.MethodPost, "/api/slots/bulk", map[string]any{"doctor_id": doctor.ID.String(), "slot_date": "2025-03-10", "start_time": "23:00", "end_time": "24:30"}, http.StatusBadRequest},
		{"inverted range", http.MethodPost, "/api/slots/bulk", map[string]any{"doctor_id": doctor.ID.String(), "slot_date": "2025-03-10", "start_time": "17:00", "end_time": "09:00"}, http.StatusBadRequest},
		{"duplicate doctor", http.MethodPost, "/api/doctors", map[string]any{"name": "X", "specialization": "Y", "email": "sarah@clinic.test"}, http.StatusConflict},
		{"doctor with slots", http.MethodDelete, "/api/doctors/" + doctor.ID.String(), nil, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := s.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.Error)
		})
	}
}

func TestListEndpointsReturnEmptyArrays(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/api/doctors", "/api/slots", "/api/bookings"} {
		rec, env := s.do(http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, "[]", string(env.Data), path)
		assert.Equal(t, 0, *env.Count)
	}
}

func TestDoctorCRUD(t *testing.T) {
	s := newTestServer(t)
	doctor := s.createDoctor("sarah@clinic.test")

	rec, env := s.do(http.MethodPut, "/api/doctors/"+doctor.ID.String(), map[string]any{"phone": "+1 555 0100"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeData[DoctorResponse](t, env)
	require.NotNil(t, updated.Phone)
	assert.Equal(t, "+1 555 0100", *updated.Phone)
	assert.Equal(t, doctor.Name, updated.Name)

	rec, env = s.do(http.MethodGet, "/api/doctors?specialization=cardiology", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, *env.Count)

	rec, _ = s.do(http.MethodDelete, "/api/doctors/"+doctor.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(http.MethodGet, "/api/doctors/"+doctor.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t,
		Dependency{Name: "postgres", Check: func(ctx context.Context) error { return nil }},
		Dependency{Name: "redis", Check: func(ctx context.Context) error { return errors.New("down") }, Optional: true},
	)

	rec, _ := s.do(http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec, _ = s.do(http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ready ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "degraded", ready.Status)
	assert.Equal(t, map[string]string{"postgres": "ok", "redis": "down"}, ready.Dependencies)

	s.do(http.MethodGet, "/api/doctors", nil)
	rec, _ = s.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `clinic_http_requests_total{code="2xx",method="GET"`)
}

func TestReadinessFailsOnRequiredDependency(t *testing.T) {
	s := newTestServer(t,
		Dependency{Name: "postgres", Check: func(ctx context.Context) error { return errors.New("refused") }},
	)

	rec, _ := s.do(http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
