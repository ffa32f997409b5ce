package handlers

import (
	"net/http"
	"time"

	"github.com/md-rashed-zaman/circulation/libs/httpx"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/circulation"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/model"
)

type createAppointmentRequest struct {
	BookID        string    `json:"book_id" validate:"required"`
	UserID        string    `json:"user_id"`
	PickupTime    time.Time `json:"pickup_time" validate:"required"`
	AgreedToTerms bool      `json:"agreed_to_terms"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var req createAppointmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	appt, err := h.svc.CreateAppointment(r.Context(), actor, circulation.NewAppointment{
		BookID:        req.BookID,
		UserID:        req.UserID,
		PickupTime:    req.PickupTime,
		AgreedToTerms: req.AgreedToTerms,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toAppointment(appt))
}

func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	appts, err := h.svc.ListAppointments(r.Context(), actor, circulation.AppointmentFilter{
		BookID: q.Get("book_id"),
		UserID: q.Get("user_id"),
		Status: model.AppointmentStatus(q.Get("status")),
		Limit:  limit,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointments": mapSlice(appts, toAppointment)})
}

func (h *Handler) PendingAppointments(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	appts, err := h.svc.PendingAppointments(r.Context(), actor)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointments": mapSlice(appts, toAppointment)})
}

func (h *Handler) ConfirmAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	appt, borrowal, err := h.svc.ConfirmAppointment(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"appointment": toAppointment(appt),
		"borrowal":    toBorrowal(borrowal),
	})
}

func (h *Handler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if !h.decode(w, r, &req) {
		return
	}
	appt, err := h.svc.CancelAppointment(r.Context(), actor, r.PathValue("id"), req.Reason)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointment(appt))
}
