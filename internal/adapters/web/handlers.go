package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"cylinder-billing/internal/app"

	"github.com/go-chi/chi/v5"
)

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc       app.ApplicationService
	router    chi.Router
	jwtSecret string
	logger    *slog.Logger
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, allowedOrigins, jwtSecret string, logger *slog.Logger) http.Handler {
	h := &Handler{
		svc:       svc,
		jwtSecret: jwtSecret,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recoverer(logger))
	r.Use(CORS(allowedOrigins))

	// Health (public)
	r.Get("/api/health", h.health)

	// Auth (public)
	r.Post("/api/auth/login", h.login)
	r.Post("/api/auth/logout", h.logout)

	// Protected API routes (return 401 JSON if unauthenticated)
	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Use(RequestBodyLimit(1 << 20)) // 1 MB

		r.Get("/api/auth/me", h.me)

		// Customers
		r.Get("/api/customers", h.listCustomers)
		r.Post("/api/customers", h.createCustomer)

		// Delivery ledger
		r.Get("/api/deliveries", h.listDeliveries)
		r.Post("/api/deliveries", h.recordDelivery)
		r.Put("/api/deliveries/{id}", h.updateDelivery)
		r.Delete("/api/deliveries/{id}", h.deleteDelivery)

		// Bills
		r.Post("/api/bills/generate", h.generateBills)
		r.Get("/api/bills", h.listBills)
		r.Get("/api/bills/{id}", h.getBill)
		r.Delete("/api/bills/{id}", h.deleteBill)

		// Payments
		r.Post("/api/payments", h.recordPayment)
		r.Delete("/api/payments/{id}", h.deletePayment)

		// Invoices
		r.Post("/api/bills/{id}/invoice", h.generateInvoice)
		r.Delete("/api/invoices/{id}", h.deleteInvoice)

		// Audit trail
		r.Get("/api/logs", h.listLogs)
	})

	h.router = r
	return r
}

// health returns service status.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string `json:"status"`
	}
	writeJSON(w, response{Status: "ok"})
}

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	result, err := h.svc.ListCustomers(r.Context(), *p)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	var req app.CustomerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	customer, err := h.svc.CreateCustomer(r.Context(), *p, req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(customer)
}

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	req := app.DeliveryListRequest{
		Kind: r.URL.Query().Get("kind"),
		From: r.URL.Query().Get("from"),
		To:   r.URL.Query().Get("to"),
	}
	if raw := r.URL.Query().Get("customer_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, r, "invalid customer_id", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		req.CustomerID = &id
	}
	result, err := h.svc.ListDeliveries(r.Context(), *p, req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) recordDelivery(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	var req app.DeliveryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	entry, err := h.svc.RecordDelivery(r.Context(), *p, req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(entry)
}

func (h *Handler) updateDelivery(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.DeliveryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	entry, err := h.svc.UpdateDelivery(r.Context(), *p, id, req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, entry)
}

func (h *Handler) deleteDelivery(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteDelivery(r.Context(), *p, id); err != nil {
		writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) generateBills(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	var req app.GenerateBillsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.GenerateBills(r.Context(), *p, req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) listBills(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	var customerID *int64
	if raw := r.URL.Query().Get("customer_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, r, "invalid customer_id", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		customerID = &id
	}
	result, err := h.svc.ListBills(r.Context(), *p, customerID)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) getBill(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.GetBill(r.Context(), *p, id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) deleteBill(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteBill(r.Context(), *p, id); err != nil {
		writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	var req app.PaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.RecordPayment(r.Context(), *p, req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(result)
}

func (h *Handler) deletePayment(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeletePayment(r.Context(), *p, id); err != nil {
		writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) generateInvoice(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	invoice, err := h.svc.GenerateInvoice(r.Context(), *p, id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(invoice)
}

func (h *Handler) deleteInvoice(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteInvoice(r.Context(), *p, id); err != nil {
		writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listLogs(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, r, "limit must be between 1 and 1000", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		limit = n
	}
	result, err := h.svc.ListLogs(r.Context(), *p, limit)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, result)
}

// pathID extracts the {id} URL parameter as int64, writing a 404 when the
// value is not a well-formed id.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, r, "not found", string(app.FailureNotFound), http.StatusNotFound)
		return 0, false
	}
	return id, true
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}
