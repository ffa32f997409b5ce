package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/md-rashed-zaman/circulation/libs/auth"
	"github.com/md-rashed-zaman/circulation/libs/httpx"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/circulation"
)

const (
	HeaderUserID = "X-User-Id"
	HeaderRole   = "X-Role"
)

// Handler exposes the circulation service over HTTP/JSON.
type Handler struct {
	svc       *circulation.Service
	logger    *slog.Logger
	validate  *validator.Validate
	jwtSecret string
}

// New builds the handler. With a non-empty jwtSecret callers must present an
// HS256 bearer token; otherwise identity comes from gateway headers.
func New(svc *circulation.Service, logger *slog.Logger, jwtSecret string) *Handler {
	return &Handler{
		svc:       svc,
		logger:    logger,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		jwtSecret: jwtSecret,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/books", h.CreateBook)
	mux.HandleFunc("GET /api/v1/books", h.ListBooks)
	mux.HandleFunc("GET /api/v1/books/{id}", h.GetBook)
	mux.HandleFunc("PUT /api/v1/books/{id}/quantity", h.SetQuantity)
	mux.HandleFunc("GET /api/v1/books/{id}/queue", h.Queue)

	mux.HandleFunc("POST /api/v1/appointments", h.CreateAppointment)
	mux.HandleFunc("GET /api/v1/appointments", h.ListAppointments)
	mux.HandleFunc("GET /api/v1/appointments/pending", h.PendingAppointments)
	mux.HandleFunc("POST /api/v1/appointments/{id}/confirm", h.ConfirmAppointment)
	mux.HandleFunc("POST /api/v1/appointments/{id}/cancel", h.CancelAppointment)

	mux.HandleFunc("POST /api/v1/reservations", h.CreateReservation)
	mux.HandleFunc("GET /api/v1/reservations", h.ListReservations)
	mux.HandleFunc("POST /api/v1/reservations/{id}/cancel", h.CancelReservation)
	mux.HandleFunc("POST /api/v1/reservations/{id}/fulfill", h.FulfillReservation)

	mux.HandleFunc("POST /api/v1/borrowals", h.DirectBorrow)
	mux.HandleFunc("GET /api/v1/borrowals", h.ListBorrowals)
	mux.HandleFunc("POST /api/v1/borrowals/{id}/return", h.ReturnBorrowal)
	mux.HandleFunc("POST /api/v1/borrowals/{id}/renewals", h.RequestRenewal)
	mux.HandleFunc("GET /api/v1/borrowals/{id}/renewals", h.ListRenewals)
	mux.HandleFunc("POST /api/v1/renewals/{id}/approve", h.ApproveRenewal)
	mux.HandleFunc("POST /api/v1/renewals/{id}/reject", h.RejectRenewal)

	mux.HandleFunc("POST /api/v1/sweep", h.Sweep)
	mux.HandleFunc("GET /api/v1/users/{id}", h.GetUser)
}

var errUnauthenticated = errors.New("missing or invalid credentials")

func (h *Handler) actor(r *http.Request) (circulation.Actor, error) {
	if h.jwtSecret != "" {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			return circulation.Actor{}, errUnauthenticated
		}
		claims, err := auth.ParseAndVerifyHS256(strings.TrimSpace(raw), h.jwtSecret)
		if err != nil {
			return circulation.Actor{}, errUnauthenticated
		}
		return circulation.Actor{UserID: claims.Subject, Role: claims.Role}, nil
	}

	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		return circulation.Actor{}, errUnauthenticated
	}
	role := strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderRole)))
	if role == "" {
		role = auth.RoleReader
	}
	if !auth.ValidRole(role) {
		return circulation.Actor{}, errUnauthenticated
	}
	return circulation.Actor{UserID: userID, Role: role}, nil
}

// authenticate writes a 401 and reports false when the caller has no identity.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (circulation.Actor, bool) {
	a, err := h.actor(r)
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
		return circulation.Actor{}, false
	}
	return a, true
}

// decode reads and validates a request body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, string(circulation.CodeInvalidInput), err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, string(circulation.CodeInvalidInput), validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}

// StatusOf maps a domain error code to an HTTP status.
func StatusOf(code circulation.Code) int {
	switch code {
	case circulation.CodeNotFound:
		return http.StatusNotFound
	case circulation.CodeInvalidInput, circulation.CodeInvalidTerms, circulation.CodeInvalidTime:
		return http.StatusBadRequest
	case circulation.CodeForbidden:
		return http.StatusForbidden
	case "":
		return http.StatusInternalServerError
	default:
		return http.StatusConflict
	}
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	code := circulation.CodeOf(err)
	status := StatusOf(code)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"err", err,
		)
		httpx.WriteError(w, status, "internal", "internal error")
		return
	}
	httpx.WriteError(w, status, string(code), circulation.MessageOf(err))
}
