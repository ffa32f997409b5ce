package handlers

import (
	"net/http"

	"github.com/md-rashed-zaman/circulation/libs/httpx"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/circulation"
)

type createBookRequest struct {
	Title    string `json:"title" validate:"required,max=300"`
	Author   string `json:"author" validate:"max=200"`
	Quantity int    `json:"quantity" validate:"min=1"`
}

type setQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required,min=0"`
}

func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var req createBookRequest
	if !h.decode(w, r, &req) {
		return
	}
	book, err := h.svc.AddBook(r.Context(), actor, circulation.NewBook{
		Title:    req.Title,
		Author:   req.Author,
		Quantity: req.Quantity,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toBook(book))
}

func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}
	books, err := h.svc.ListBooks(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"books": mapSlice(books, toBook)})
}

func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}
	book, err := h.svc.GetBook(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toBook(book))
}

func (h *Handler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var req setQuantityRequest
	if !h.decode(w, r, &req) {
		return
	}
	book, err := h.svc.SetQuantity(r.Context(), actor, r.PathValue("id"), *req.Quantity)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toBook(book))
}

// Queue lists the open reservations for a book in pickup order.
func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}
	queue, err := h.svc.Queue(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"reservations": mapSlice(queue, toReservation)})
}
