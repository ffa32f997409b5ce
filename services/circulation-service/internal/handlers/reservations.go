package handlers

import (
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/circulation/libs/httpx"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/circulation"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/model"
)

type createReservationRequest struct {
	BookID string `json:"book_id" validate:"required"`
	UserID string `json:"user_id"`
}

func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var req createReservationRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.CreateReservation(r.Context(), actor, req.BookID, req.UserID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toReservation(res))
}

// ListReservations accepts a comma separated status filter, e.g. ?status=active,ready.
func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
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
	f := circulation.ReservationFilter{
		BookID: q.Get("book_id"),
		UserID: q.Get("user_id"),
		Limit:  limit,
	}
	for _, s := range strings.Split(q.Get("status"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			f.Statuses = append(f.Statuses, model.ReservationStatus(s))
		}
	}
	list, err := h.svc.ListReservations(r.Context(), actor, f)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"reservations": mapSlice(list, toReservation)})
}

func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	res, err := h.svc.CancelReservation(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toReservation(res))
}

func (h *Handler) FulfillReservation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	res, borrowal, err := h.svc.FulfillReservation(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"reservation": toReservation(res),
		"borrowal":    toBorrowal(borrowal),
	})
}
