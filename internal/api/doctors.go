package api

import (
	"net/http"

	"github.com/hackgods/doctor-appointment-booking/internal/appointment"
)

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func listDoctorsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors, err := svc.ListDoctors(r.Context(), r.URL.Query().Get("specialization"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeList(w, mapSlice(doctors, toDoctorResponse))
	}
}

func getDoctorHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		d, err := svc.GetDoctor(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, toDoctorResponse(*d), "")
	}
}

func createDoctorHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DoctorRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		d, err := svc.CreateDoctor(r.Context(), appointment.DoctorInput{
			Name:           deref(req.Name),
			Specialization: deref(req.Specialization),
			Email:          deref(req.Email),
			Phone:          req.Phone,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusCreated, toDoctorResponse(*d), "doctor created")
	}
}

func updateDoctorHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		var req DoctorRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		d, err := svc.UpdateDoctor(r.Context(), id, appointment.DoctorUpdate{
			Name:           req.Name,
			Specialization: req.Specialization,
			Email:          req.Email,
			Phone:          req.Phone,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, toDoctorResponse(*d), "doctor updated")
	}
}

func deleteDoctorHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		if err := svc.DeleteDoctor(r.Context(), id); err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, nil, "doctor deleted")
	}
}
