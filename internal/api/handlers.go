package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicore/scheduling/internal/scheduling"
)

func parseDate(s string) (time.Time, bool) {
	d, err := time.Parse(scheduling.DateLayout, s)
	return d, err == nil
}

func availabilityHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(r.URL.Query().Get("doctor_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		date, ok := parseDate(r.URL.Query().Get("date"))
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		avail, err := svc.Availability(r.Context(), doctorID, date)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, AvailabilityResponse{
			Availability: avail.Windows,
			Blocked:      avail.Blocked,
			FreeSlots:    avail.Free,
		})
	}
}

func createAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		var patientID *uuid.UUID
		if req.PatientID != nil {
			id, err := uuid.Parse(*req.PatientID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			patientID = &id
		}

		date, ok := parseDate(req.Date)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		appt, err := svc.Create(r.Context(), scheduling.CreateParams{
			DoctorID:   doctorID,
			PatientID:  patientID,
			GuestName:  req.GuestName,
			Department: req.Department,
			Date:       date,
			StartMin:   req.StartMin,
			EndMin:     req.EndMin,
			Reason:     req.Reason,
			Location:   req.Location,
		})
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var filter scheduling.ListFilter

		if v := q.Get("doctor_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			filter.DoctorID = &id
		}
		if v := q.Get("status"); v != "" {
			status := scheduling.Status(v)
			filter.Status = &status
		}
		for name, dst := range map[string]**time.Time{
			"date": &filter.Date,
			"from": &filter.From,
			"to":   &filter.To,
		} {
			if v := q.Get(name); v != "" {
				d, ok := parseDate(v)
				if !ok {
					writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be YYYY-MM-DD")
					return
				}
				*dst = &d
			}
		}

		limit := 0
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
				return
			}
			limit = n
		}

		appts, next, err := svc.List(r.Context(), filter, limit, q.Get("cursor"))
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		resp := AppointmentListResponse{
			Appointments: make([]AppointmentResponse, 0, len(appts)),
			NextCursor:   next,
		}
		for i := range appts {
			resp.Appointments = append(resp.Appointments, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func updateAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req UpdateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		var params scheduling.UpdateParams
		if req.DoctorID != nil {
			docID, err := uuid.Parse(*req.DoctorID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			params.DoctorID = &docID
		}
		if req.PatientID != nil {
			patID, err := uuid.Parse(*req.PatientID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			params.PatientID = &patID
		}
		if req.Date != nil {
			d, ok := parseDate(*req.Date)
			if !ok {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			params.Date = &d
		}
		params.GuestName = req.GuestName
		params.Department = req.Department
		params.StartMin = req.StartMin
		params.EndMin = req.EndMin
		params.Reason = req.Reason
		params.Location = req.Location

		appt, err := svc.Update(r.Context(), id, params)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func patchStatusHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req PatchStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		change, err := svc.PatchStatus(r.Context(), id, scheduling.Status(req.Status), req.CancelReason)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		// Completion answers with the created visit reference; every other
		// transition answers with the appointment body.
		if change.VisitID != nil {
			writeJSON(w, http.StatusOK, VisitRefResponse{VisitID: *change.VisitID})
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(change.Appointment))
	}
}

// Availability-window administration.

func listWindowsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}

		windows, err := svc.ListWindows(r.Context(), doctorID)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		resp := make([]WindowResponse, 0, len(windows))
		for i := range windows {
			resp = append(resp, toWindowResponse(&windows[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createWindowHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}

		var req CreateWindowRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		window, err := svc.AddWindow(r.Context(), doctorID, req.DayOfWeek, req.StartMin, req.EndMin)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toWindowResponse(window))
	}
}

func deleteWindowHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}
		windowID, err := uuid.Parse(chi.URLParam(r, "windowID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_window_id", "windowID must be a valid UUID")
			return
		}

		if err := svc.RemoveWindow(r.Context(), doctorID, windowID); err != nil {
			handleSchedulingError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Blackout-period administration.

func listBlackoutsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}

		var date *time.Time
		if v := r.URL.Query().Get("date"); v != "" {
			d, ok := parseDate(v)
			if !ok {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			date = &d
		}

		blackouts, err := svc.ListBlackouts(r.Context(), doctorID, date)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		resp := make([]BlackoutResponse, 0, len(blackouts))
		for i := range blackouts {
			resp = append(resp, toBlackoutResponse(&blackouts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createBlackoutHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}

		var req CreateBlackoutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		date, ok := parseDate(req.Date)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		blackout, err := svc.AddBlackout(r.Context(), doctorID, date, req.StartMin, req.EndMin, req.Reason)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toBlackoutResponse(blackout))
	}
}

func deleteBlackoutHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}
		blackoutID, err := uuid.Parse(chi.URLParam(r, "blackoutID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_blackout_id", "blackoutID must be a valid UUID")
			return
		}

		if err := svc.RemoveBlackout(r.Context(), doctorID, blackoutID); err != nil {
			handleSchedulingError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
