package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/planpay/planledger/internal/alert"
	"github.com/planpay/planledger/internal/claim"
	"github.com/planpay/planledger/internal/invoice"
	"github.com/planpay/planledger/internal/ledger"
	"github.com/planpay/planledger/internal/payment"
	"github.com/planpay/planledger/internal/plan"
	"github.com/planpay/planledger/internal/priceguide"
)

const maxBodyBytes = 1 << 20

// Engine bundles the settlement components the HTTP surface fronts.
type Engine struct {
	Ledger     *ledger.Ledger
	Validator  *invoice.Validator
	Settlement *claim.Settlement
	Batcher    *payment.Batcher
	Alerts     *alert.Engine
	Now        func() time.Time
}

type handler struct {
	engine Engine
	logger *slog.Logger
}

type actorRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

type attachRequest struct {
	InvoiceID string `json:"invoice_id"`
}

type outcomeRequest struct {
	Accepted  bool   `json:"accepted"`
	Reference string `json:"reference,omitempty"`
}

type categoryResponse struct {
	CategoryID string `json:"category_id"`
	Allocated  int64  `json:"allocated"`
	Committed  int64  `json:"committed"`
	Spent      int64  `json:"spent"`
	Available  int64  `json:"available"`
	Version    uint64 `json:"version"`
}

func NewHandler(engine Engine, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if engine.Now == nil {
		engine.Now = time.Now
	}
	h := &handler{engine: engine, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handleRoot)
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/invoices", h.handleInvoices)
	mux.HandleFunc("/invoices/", h.handleInvoiceByID)
	mux.HandleFunc("/categories/", h.handleCategoryByID)
	mux.HandleFunc("/claims", h.handleClaims)
	mux.HandleFunc("/claims/", h.handleClaimByID)
	mux.HandleFunc("/batches", h.handleBatches)
	mux.HandleFunc("/batches/", h.handleBatchByID)
	mux.HandleFunc("/alerts", h.handleAlerts)
	mux.HandleFunc("/alerts/sweep", h.handleAlertSweep)
	return h.logged(mux)
}

func (h *handler) logged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

func (h *handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":   "planledger",
		"status": "ok",
	})
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *handler) handleInvoices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var inv invoice.Invoice
	if err := decodeJSON(r, &inv); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.engine.Validator.Create(r.Context(), inv)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) handleInvoiceByID(w http.ResponseWriter, r *http.Request) {
	id, action, err := resourcePath("/invoices/", r.URL.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if action == "" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		inv, err := h.engine.Validator.Get(id)
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, inv)
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req actorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var inv invoice.Invoice
	switch action {
	case "submit":
		inv, err = h.engine.Validator.Submit(r.Context(), id, req.Actor)
	case "approve":
		inv, err = h.engine.Validator.Approve(r.Context(), id, req.Actor)
	case "reject":
		inv, err = h.engine.Validator.Reject(r.Context(), id, req.Actor, req.Reason)
	case "reverse":
		inv, err = h.engine.Validator.Reverse(r.Context(), id, req.Actor, req.Reason)
	default:
		writeError(w, http.StatusNotFound, "unknown invoice action")
		return
	}
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *handler) handleCategoryByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, _, err := resourcePath("/categories/", r.URL.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	state, err := h.engine.Ledger.Snapshot(id)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, categoryResponse{
		CategoryID: state.CategoryID,
		Allocated:  state.Allocated.Cents(),
		Committed:  state.Committed.Cents(),
		Spent:      state.Spent.Cents(),
		Available:  state.Available(),
		Version:    state.Version,
	})
}

func (h *handler) handleClaims(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusCreated, h.engine.Settlement.Create())
}

func (h *handler) handleClaimByID(w http.ResponseWriter, r *http.Request) {
	id, action, err := resourcePath("/claims/", r.URL.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		c, err := h.engine.Settlement.Get(id)
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, c)
	case action == "export" && r.Method == http.MethodGet:
		export, err := h.engine.Settlement.Export(id)
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(export)
	case action == "invoices" && r.Method == http.MethodPost:
		var req attachRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		c, err := h.engine.Settlement.AddInvoice(id, req.InvoiceID)
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, c)
	case action == "invoices" && r.Method == http.MethodDelete:
		var req attachRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		c, err := h.engine.Settlement.RemoveInvoice(id, req.InvoiceID)
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, c)
	case action == "submit" && r.Method == http.MethodPost:
		c, err := h.engine.Settlement.Submit(r.Context(), id)
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, c)
	case action == "outcome" && r.Method == http.MethodPost:
		var req outcomeRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		c, err := h.engine.Settlement.RecordOutcome(id, req.Accepted, req.Reference)
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, c)
	default:
		writeError(w, http.StatusNotFound, "unknown claim action")
	}
}

func (h *handler) handleBatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusCreated, h.engine.Batcher.Create())
}

func (h *handler) handleBatchByID(w http.ResponseWriter, r *http.Request) {
	id, action, err := resourcePath("/batches/", r.URL.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		batch, err := h.engine.Batcher.Get(id)
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, batch)
	case action == "file" && r.Method == http.MethodGet:
		batch, err := h.engine.Batcher.Get(id)
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		if batch.BankFile == "" {
			writeError(w, http.StatusConflict, "batch has no generated file")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, batch.BankFile)
	case r.Method == http.MethodPost:
		var batch payment.Batch
		switch action {
		case "generate":
			batch, err = h.engine.Batcher.Generate(r.Context(), id)
		case "send":
			batch, err = h.engine.Batcher.Send(id)
		case "confirm":
			batch, err = h.engine.Batcher.Confirm(id)
		case "void":
			batch, err = h.engine.Batcher.Void(id)
		default:
			writeError(w, http.StatusNotFound, "unknown batch action")
			return
		}
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, batch)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Alerts.Alerts())
}

func (h *handler) handleAlertSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	created, err := h.engine.Alerts.Sweep(r.Context(), h.engine.Now())
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	if created == nil {
		created = []alert.Alert{}
	}
	writeJSON(w, http.StatusOK, created)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, invoice.ErrInvoiceNotFound),
		errors.Is(err, claim.ErrClaimNotFound),
		errors.Is(err, claim.ErrInvoiceNotOnClaim),
		errors.Is(err, payment.ErrBatchNotFound),
		errors.Is(err, ledger.ErrUnknownCategory),
		errors.Is(err, plan.ErrUnknownPlan),
		errors.Is(err, plan.ErrUnknownParticipant),
		errors.Is(err, plan.ErrUnknownProvider),
		errors.Is(err, priceguide.ErrUnknownSupportItem),
		errors.Is(err, priceguide.ErrUnknownVersion),
		errors.Is(err, priceguide.ErrNoCurrentPriceGuide):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrStaleLedgerVersion),
		errors.Is(err, invoice.ErrConflictRetriesExhausted),
		errors.Is(err, invoice.ErrInvalidTransition),
		errors.Is(err, claim.ErrInvalidClaimState),
		errors.Is(err, claim.ErrInvoiceAlreadyClaimed),
		errors.Is(err, payment.ErrInvalidBatchTransition):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrBudgetExceeded),
		errors.Is(err, invoice.ErrPriceExceedsLimit),
		errors.Is(err, invoice.ErrCategoryMismatch),
		errors.Is(err, invoice.ErrCancellationRuleViolated),
		errors.Is(err, invoice.ErrNonTimeQuantity),
		errors.Is(err, invoice.ErrItemOutsidePlanWindow),
		errors.Is(err, invoice.ErrNoLines),
		errors.Is(err, priceguide.ErrTtpNotEligible),
		errors.Is(err, priceguide.ErrInvalidRemotenessTier),
		errors.Is(err, plan.ErrCategoryNotOnPlan),
		errors.Is(err, claim.ErrInvoiceNotApproved),
		errors.Is(err, claim.ErrReferenceRequired),
		errors.Is(err, claim.ErrEmptyClaim),
		errors.Is(err, payment.ErrEmptyBatch):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// resourcePath splits "/prefix/{id}" or "/prefix/{id}/{action}".
func resourcePath(prefix string, path string) (string, string, error) {
	raw := strings.TrimPrefix(path, prefix)
	if raw == "" || raw == path {
		return "", "", errors.New("missing resource id")
	}
	parts := strings.SplitN(raw, "/", 2)
	id, err := url.PathUnescape(parts[0])
	if err != nil || id == "" {
		return "", "", errors.New("invalid resource id")
	}
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}
	return id, action, nil
}
