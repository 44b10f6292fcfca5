package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hackgods/appointment-engine/internal/appointment"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

var validationMessages = map[string]string{
	"required": "field is required",
	"email":    "invalid email format",
	"uuid":     "must be a UUID",
	"datetime": "must be a date in YYYY-MM-DD form",
	"min":      "value is too small",
	"max":      "value is too long",
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the handler may continue.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return false
		}
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return false
		}
		resp := ValidationErrorResponse{Error: "validation_failed"}
		for _, e := range verrs {
			msg := validationMessages[e.Tag()]
			if msg == "" {
				msg = e.Error()
			}
			resp.Fields = append(resp.Fields, FieldValidation{Field: e.Field(), Message: msg})
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return false
	}
	return true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func dateQuery(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	d, err := appointment.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date query parameter must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return d, true
}

func pageQuery(w http.ResponseWriter, r *http.Request) (appointment.Page, bool) {
	var p appointment.Page
	for name, dst := range map[string]*int{"limit": &p.Limit, "offset": &p.Offset} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a non-negative integer")
			return p, false
		}
		*dst = n
	}
	return p, true
}

func caller(r *http.Request) Identity {
	id, _ := IdentityFromContext(r.Context())
	return id
}

// handleError maps engine errors onto HTTP statuses and stable error codes.
func handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
	case errors.Is(err, appointment.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, appointment.ErrOverlap):
		writeError(w, http.StatusConflict, "overlap", err.Error())
	case errors.Is(err, appointment.ErrSlotNotAvailable):
		writeError(w, http.StatusUnprocessableEntity, "slot_not_available", err.Error())
	case errors.Is(err, appointment.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", err.Error())
	case errors.Is(err, appointment.ErrTerminalState):
		writeError(w, http.StatusConflict, "terminal_state", err.Error())
	case errors.Is(err, appointment.ErrNotOwner):
		writeError(w, http.StatusForbidden, "not_owner", err.Error())
	case errors.Is(err, appointment.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, "not_authorized", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrPractitionerNotFound):
		writeError(w, http.StatusNotFound, "practitioner_not_found", err.Error())
	case errors.Is(err, appointment.ErrWindowNotFound):
		writeError(w, http.StatusNotFound, "window_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, appointment.ErrStoreUnavailable):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "temporarily unavailable, retry with backoff")
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusRequestTimeout, "request_cancelled", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// Directory

func registerPractitionerHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterPractitionerRequest
		if !decode(w, r, &req) {
			return
		}

		p, err := svc.RegisterPractitioner(r.Context(), caller(r).ID, req.Name, req.Specialty)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toPractitioner(*p))
	}
}

func updatePractitionerHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "practitionerID")
		if !ok {
			return
		}
		var req RegisterPractitionerRequest
		if !decode(w, r, &req) {
			return
		}

		p, err := svc.UpdatePractitioner(r.Context(), caller(r).ID, id, req.Name, req.Specialty)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toPractitioner(*p))
	}
}

func getPractitionerHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "practitionerID")
		if !ok {
			return
		}

		p, err := svc.GetPractitioner(r.Context(), id)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toPractitioner(*p))
	}
}

func listPractitionersHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var filter *appointment.Specialty
		if label := r.URL.Query().Get("specialty"); label != "" {
			spec, custom := appointment.ParseSpecialty(label)
			if custom != "" {
				// nobody can be filed under an unknown specialty
				writeJSON(w, http.StatusOK, []PractitionerResponse{})
				return
			}
			filter = &spec
		}

		list, err := svc.ListPractitioners(r.Context(), filter)
		if err != nil {
			handleError(w, err)
			return
		}
		out := make([]PractitionerResponse, 0, len(list))
		for _, p := range list {
			out = append(out, toPractitioner(p))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func listSpecialtiesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var out []string
		for _, s := range appointment.Specialties() {
			out = append(out, s.String())
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func registerPatientHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterPatientRequest
		if !decode(w, r, &req) {
			return
		}

		p, err := svc.RegisterPatient(r.Context(), caller(r).ID, req.Name, req.Email)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toPatient(*p))
	}
}

func getPatientHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "patientID")
		if !ok {
			return
		}
		if id != caller(r).ID {
			handleError(w, appointment.ErrNotAuthorized)
			return
		}

		p, err := svc.GetPatient(r.Context(), id)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toPatient(*p))
	}
}

// Slot Registry

func declareAvailabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "practitionerID")
		if !ok {
			return
		}
		if id != caller(r).ID {
			handleError(w, appointment.ErrNotOwner)
			return
		}
		var req DeclareAvailabilityRequest
		if !decode(w, r, &req) {
			return
		}

		date, err := appointment.ParseDate(req.Date)
		if err != nil {
			handleError(w, err)
			return
		}
		start, err := appointment.ParseTimeOfDay(req.Start)
		if err != nil {
			handleError(w, err)
			return
		}
		end, err := appointment.ParseTimeOfDay(req.End)
		if err != nil {
			handleError(w, err)
			return
		}

		win, err := svc.DeclareAvailability(r.Context(), id, date, start, end, req.GranularityMinutes)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toWindow(*win))
	}
}

func listWindowsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "practitionerID")
		if !ok {
			return
		}
		date, ok := dateQuery(w, r)
		if !ok {
			return
		}

		windows, err := svc.ListWindows(r.Context(), id, date)
		if err != nil {
			handleError(w, err)
			return
		}
		out := make([]WindowResponse, 0, len(windows))
		for _, win := range windows {
			out = append(out, toWindow(win))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func revokeWindowHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "windowID")
		if !ok {
			return
		}

		res, err := svc.RevokeWindow(r.Context(), id, caller(r).ID)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, RevokeResponse{
			Window:    toWindow(res.Window),
			Cancelled: toAppointments(res.Cancelled),
			Retained:  toAppointments(res.Retained),
		})
	}
}

func listSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "practitionerID")
		if !ok {
			return
		}
		date, ok := dateQuery(w, r)
		if !ok {
			return
		}

		slots, err := svc.ListSlots(r.Context(), id, date)
		if err != nil {
			handleError(w, err)
			return
		}
		out := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			out = append(out, SlotResponse{Start: s.Start.String(), End: s.End.String(), WindowID: s.WindowID, Available: s.Available})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func slotAvailabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "practitionerID")
		if !ok {
			return
		}
		date, ok := dateQuery(w, r)
		if !ok {
			return
		}
		start, err := appointment.ParseTimeOfDay(r.URL.Query().Get("start"))
		if err != nil {
			handleError(w, err)
			return
		}

		available, err := svc.IsSlotAvailable(r.Context(), id, date, start)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, SlotAvailabilityResponse{
			PractitionerID: id,
			Date:           appointment.FormatDate(date),
			SlotStart:      start.String(),
			Available:      available,
		})
	}
}

// Booking and lifecycle

func bookAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if !decode(w, r, &req) {
			return
		}
		if req.IdempotencyKey == "" {
			req.IdempotencyKey = r.Header.Get("Idempotency-Key")
		}

		practitionerID, err := uuid.Parse(req.PractitionerID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitioner_id must be a valid UUID")
			return
		}
		date, err := appointment.ParseDate(req.Date)
		if err != nil {
			handleError(w, err)
			return
		}
		start, err := appointment.ParseTimeOfDay(req.SlotStart)
		if err != nil {
			handleError(w, err)
			return
		}

		appt, err := svc.BookAppointment(r.Context(), appointment.BookingRequest{
			PatientID:      caller(r).ID,
			PractitionerID: practitionerID,
			Date:           date,
			SlotStart:      start,
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointment(*appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "appointmentID")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id, caller(r).ID)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointment(*appt))
	}
}

func confirmAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "appointmentID")
		if !ok {
			return
		}
		var req ConfirmRequest
		if !decode(w, r, &req) {
			return
		}

		appt, err := svc.Confirm(r.Context(), id, caller(r).ID, req.Message)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointment(*appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "appointmentID")
		if !ok {
			return
		}
		var req CancelRequest
		if !decode(w, r, &req) {
			return
		}

		appt, err := svc.Cancel(r.Context(), id, caller(r).ID, req.Reason)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointment(*appt))
	}
}

func historyHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "appointmentID")
		if !ok {
			return
		}

		entries, err := svc.History(r.Context(), id, caller(r).ID)
		if err != nil {
			handleError(w, err)
			return
		}
		out := make([]AuditEntryResponse, 0, len(entries))
		for _, e := range entries {
			out = append(out, AuditEntryResponse{At: e.At, Actor: e.Actor, From: string(e.From), To: string(e.To), Reason: e.Reason})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// Query Index

func listPatientAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "patientID")
		if !ok {
			return
		}
		if id != caller(r).ID {
			handleError(w, appointment.ErrNotAuthorized)
			return
		}
		page, ok := pageQuery(w, r)
		if !ok {
			return
		}

		list, err := svc.ListByPatient(r.Context(), id, page)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointments(list))
	}
}

func listPractitionerAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "practitionerID")
		if !ok {
			return
		}
		if id != caller(r).ID {
			handleError(w, appointment.ErrNotOwner)
			return
		}
		page, ok := pageQuery(w, r)
		if !ok {
			return
		}

		list, err := svc.ListByPractitioner(r.Context(), id, page)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointments(list))
	}
}
