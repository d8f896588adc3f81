package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iamapinan/farmaroi-stock/internal/domain"
	"github.com/iamapinan/farmaroi-stock/internal/draft"
	"github.com/iamapinan/farmaroi-stock/internal/identity"
	"github.com/iamapinan/farmaroi-stock/internal/service"
	"github.com/iamapinan/farmaroi-stock/internal/store"
)

type API struct {
	service       *service.Service
	identity      identity.Provider
	allowedOrigin string
	log           zerolog.Logger
}

func New(svc *service.Service, provider identity.Provider, allowedOrigin string, log zerolog.Logger) *API {
	return &API{
		service:       svc,
		identity:      provider,
		allowedOrigin: allowedOrigin,
		log:           log.With().Str("component", "httpapi").Logger(),
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)

	mux.HandleFunc("/api/v1/products", a.handleProducts)
	mux.HandleFunc("/api/v1/products/", a.handleProductActions)
	mux.HandleFunc("/api/v1/branches", a.handleBranches)
	mux.HandleFunc("/api/v1/branches/", a.handleBranchActions)

	mux.HandleFunc("/api/v1/stock/balance", a.handleStockBalance)
	mux.HandleFunc("/api/v1/stock/count", a.handleStockCount)
	mux.HandleFunc("/api/v1/stock/min-stock", a.handleMinStock)
	mux.HandleFunc("/api/v1/stock-in", a.handleStockIn)

	mux.HandleFunc("/api/v1/checks", a.handleChecks)
	mux.HandleFunc("/api/v1/checks/today", a.handleTodayCheck)
	mux.HandleFunc("/api/v1/checks/", a.handleCheckActions)

	mux.HandleFunc("/api/v1/transactions", a.handleTransactions)
	mux.HandleFunc("/api/v1/transactions/", a.handleTransactionActions)

	mux.HandleFunc("/api/v1/draft", a.handleDraft)
	mux.HandleFunc("/api/v1/draft/stream", a.handleDraftStream)

	return a.withMiddleware(mux)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(startedAt)).
			Msg("request")
	})
}

// requireUser resolves the identity stamp for mutating requests. The stamp
// is required so every written record names who wrote it; it grants nothing.
func (a *API) requireUser(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	user, err := a.identity.UserFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, errors.New("identity required"))
		return nil, false
	}
	return r.WithContext(service.WithUser(r.Context(), user)), true
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		products, err := a.service.ListProducts(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})
	case http.MethodPost:
		r, ok := a.requireUser(w, r)
		if !ok {
			return
		}

		var req domain.ProductCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		product, err := a.service.CreateProduct(r.Context(), req)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"product": product})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleProductActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeMethodNotAllowed(w)
		return
	}
	r, ok := a.requireUser(w, r)
	if !ok {
		return
	}

	productID := strings.TrimPrefix(r.URL.Path, "/api/v1/products/")
	if productID == "" || strings.Contains(productID, "/") {
		writeError(w, http.StatusNotFound, errors.New("missing product id"))
		return
	}

	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.UpdateProduct(r.Context(), productID, req)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleBranches(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		branches, err := a.service.ListBranches(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"branches": branches})
	case http.MethodPost:
		r, ok := a.requireUser(w, r)
		if !ok {
			return
		}

		var req struct {
			Name string `json:"name"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		branch, err := a.service.CreateBranch(r.Context(), req.Name)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"branch": branch})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleBranchActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	branchID := strings.TrimPrefix(r.URL.Path, "/api/v1/branches/")
	if branchID == "" || strings.Contains(branchID, "/") {
		writeError(w, http.StatusNotFound, errors.New("missing branch id"))
		return
	}

	branch, err := a.service.GetBranch(r.Context(), branchID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"branch": branch})
}

func (a *API) handleStockBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	rows, err := a.service.BranchBalance(r.Context(), r.URL.Query().Get("branch_id"))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": rows})
}

func (a *API) handleStockCount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeMethodNotAllowed(w)
		return
	}
	r, ok := a.requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		BranchID  string  `json:"branch_id"`
		ProductID string  `json:"product_id"`
		Amount    float64 `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.service.SetStockCount(r.Context(), req.BranchID, req.ProductID, req.Amount); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleMinStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeMethodNotAllowed(w)
		return
	}
	r, ok := a.requireUser(w, r)
	if !ok {
		return
	}

	var req domain.BranchThreshold
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.service.UpsertMinStock(r.Context(), req); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleStockIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	r, ok := a.requireUser(w, r)
	if !ok {
		return
	}

	var req domain.StockInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	summary, err := a.service.RecordStockIn(r.Context(), req)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"summary": summary})
}

func (a *API) handleChecks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 500)
		checks, err := a.service.ListChecks(r.Context(), r.URL.Query().Get("branch_id"), limit)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"checks": checks})
	case http.MethodPost:
		r, ok := a.requireUser(w, r)
		if !ok {
			return
		}

		var req domain.SubmitCheckRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		check, err := a.service.SubmitCheck(r.Context(), req)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"check": check})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleTodayCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	check, err := a.service.FindTodayCheck(r.Context(), r.URL.Query().Get("branch_id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{"check": nil})
			return
		}
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"check": check})
}

// handleCheckActions routes /api/v1/checks/{id}, /{id}/edit and /{id}/receive.
func (a *API) handleCheckActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/checks/")
	checkID, action, _ := strings.Cut(rest, "/")
	if checkID == "" {
		writeError(w, http.StatusNotFound, errors.New("missing check id"))
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		check, err := a.service.GetCheck(r.Context(), checkID)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"check": check})
	case "edit":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		state, err := a.service.LoadCheckForEdit(r.Context(), checkID)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	case "receive":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		r, ok := a.requireUser(w, r)
		if !ok {
			return
		}

		var req domain.ReceiveRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		req.OrderID = checkID

		summary, err := a.service.ReceiveOrder(r.Context(), req)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"summary": summary})
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown check action"))
	}
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	from, err := parseDayParam(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseDayParam(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !to.IsZero() {
		to = to.Add(24 * time.Hour)
	}

	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	txns, err := a.service.ListTransactions(r.Context(), r.URL.Query().Get("branch_id"), from, to, limit)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

func (a *API) handleTransactionActions(w http.ResponseWriter, r *http.Request) {
	txnID := strings.TrimPrefix(r.URL.Path, "/api/v1/transactions/")
	if txnID == "" || strings.Contains(txnID, "/") {
		writeError(w, http.StatusNotFound, errors.New("missing transaction id"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		txn, err := a.service.GetTransaction(r.Context(), txnID)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transaction": txn})
	case http.MethodPut:
		r, ok := a.requireUser(w, r)
		if !ok {
			return
		}

		var req struct {
			Items []domain.TransactionLine `json:"items"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		txn, err := a.service.EditTransaction(r.Context(), txnID, req.Items)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transaction": txn})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleDraft(w http.ResponseWriter, r *http.Request) {
	branchID := r.URL.Query().Get("branch_id")
	day := r.URL.Query().Get("day")

	switch r.Method {
	case http.MethodGet:
		snap, err := a.service.DraftSnapshot(r.Context(), branchID, day)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"draft": snap})
	case http.MethodPut:
		r, ok := a.requireUser(w, r)
		if !ok {
			return
		}

		var req struct {
			BranchID  string            `json:"branch_id"`
			Day       string            `json:"day"`
			ProductID string            `json:"product_id"`
			Fields    draft.FieldUpdate `json:"fields"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		if err := a.service.WriteDraftField(r.Context(), req.BranchID, req.Day, req.ProductID, req.Fields); err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case http.MethodDelete:
		r, ok := a.requireUser(w, r)
		if !ok {
			return
		}

		if err := a.service.ClearDraft(r.Context(), branchID, day); err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeMethodNotAllowed(w)
	}
}

// handleDraftStream pushes the branch-day draft as server-sent events: the
// current snapshot on connect, then a fresh snapshot after every write.
func (a *API) handleDraftStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	snapshots, err := a.service.SubscribeDraft(r.Context(), r.URL.Query().Get("branch_id"), r.URL.Query().Get("day"))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for snap := range snapshots {
		payload, err := json.Marshal(snap)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}

func parseDayParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q, want YYYY-MM-DD", raw)
	}
	return day.UTC(), nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNothingToReceive):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrCheckCompleted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic so internal details never reach a client.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
