package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/clinicore/scheduling/internal/scheduling"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("encode response body")
	}
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// handleSchedulingError maps the service error taxonomy onto HTTP statuses.
func handleSchedulingError(w http.ResponseWriter, err error) {
	var (
		validation  *scheduling.ValidationError
		unavailable *scheduling.SlotUnavailableError
		transition  *scheduling.InvalidTransitionError
	)

	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "validation_error", validation.Error())
	case errors.As(err, &unavailable):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:     "slot_unavailable",
			Details:   unavailable.Error(),
			Conflicts: unavailable.Conflicts,
		})
	case errors.As(err, &transition):
		writeError(w, http.StatusConflict, "invalid_transition", transition.Error())
	case errors.Is(err, scheduling.ErrReasonRequired):
		writeError(w, http.StatusBadRequest, "cancel_reason_required", err.Error())
	case errors.Is(err, scheduling.ErrImmutable):
		writeError(w, http.StatusConflict, "immutable_state", err.Error())
	case errors.Is(err, scheduling.ErrScheduleLocked):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusConflict, "schedule_locked", "schedule is being modified, please retry shortly")
	case errors.Is(err, scheduling.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, scheduling.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, scheduling.ErrWindowNotFound):
		writeError(w, http.StatusNotFound, "window_not_found", err.Error())
	case errors.Is(err, scheduling.ErrBlackoutNotFound):
		writeError(w, http.StatusNotFound, "blackout_not_found", err.Error())
	default:
		log.Error().Err(err).Msg("unhandled service error")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
