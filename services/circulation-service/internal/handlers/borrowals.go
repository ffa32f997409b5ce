package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/md-rashed-zaman/circulation/libs/httpx"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/circulation"
)

type directBorrowRequest struct {
	BookID  string     `json:"book_id" validate:"required"`
	UserID  string     `json:"user_id" validate:"required"`
	DueDate *time.Time `json:"due_date"`
}

func (h *Handler) DirectBorrow(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var req directBorrowRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := circulation.NewBorrowal{BookID: req.BookID, UserID: req.UserID}
	if req.DueDate != nil {
		in.DueDate = *req.DueDate
	}
	b, err := h.svc.DirectBorrow(r.Context(), actor, in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toBorrowal(b))
}

// ListBorrowals supports ?open=true to hide returned loans.
func (h *Handler) ListBorrowals(w http.ResponseWriter, r *http.Request) {
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
	f := circulation.BorrowalFilter{
		BookID: q.Get("book_id"),
		UserID: q.Get("user_id"),
		Limit:  limit,
	}
	if raw := q.Get("open"); raw != "" {
		open, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, string(circulation.CodeInvalidInput), "open must be a boolean")
			return
		}
		f.OpenOnly = open
	}
	list, err := h.svc.ListBorrowals(r.Context(), actor, f)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"borrowals": mapSlice(list, toBorrowal)})
}

func (h *Handler) ReturnBorrowal(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	b, err := h.svc.ReturnBorrowal(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toBorrowal(b))
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > 500 {
		return 0, circulation.InvalidInput("limit must be between 0 and 500")
	}
	return n, nil
}
