package handlers

import (
	"net/http"

	"github.com/md-rashed-zaman/circulation/libs/httpx"
)

type renewalRequest struct {
	// RequestedDays of zero falls back to the default renewal period.
	RequestedDays int `json:"requested_days" validate:"gte=0"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) RequestRenewal(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var req renewalRequest
	if !h.decode(w, r, &req) {
		return
	}
	rr, err := h.svc.RequestRenewal(r.Context(), actor, r.PathValue("id"), req.RequestedDays)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toRenewal(rr))
}

func (h *Handler) ListRenewals(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	list, err := h.svc.ListRenewals(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"renewals": mapSlice(list, toRenewal)})
}

func (h *Handler) ApproveRenewal(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	rr, b, err := h.svc.ApproveRenewal(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"renewal":  toRenewal(rr),
		"borrowal": toBorrowal(b),
	})
}

func (h *Handler) RejectRenewal(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if !h.decode(w, r, &req) {
		return
	}
	rr, err := h.svc.RejectRenewal(r.Context(), actor, r.PathValue("id"), req.Reason)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toRenewal(rr))
}
