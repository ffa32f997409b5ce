package handlers

import (
	"net/http"

	"github.com/md-rashed-zaman/circulation/libs/auth"
	"github.com/md-rashed-zaman/circulation/libs/httpx"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/circulation"
)

// Sweep runs one expiry pass on demand. Admin only; the background worker
// covers the normal schedule.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if actor.Role != auth.RoleAdmin {
		h.writeErr(w, r, circulation.ErrForbidden)
		return
	}
	res, err := h.svc.Sweep(r.Context())
	if err != nil {
		h.logger.Warn("manual sweep finished with errors", "err", err)
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	u, err := h.svc.GetUser(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUser(u))
}
