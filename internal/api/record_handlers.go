package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/medtrust/predledger/internal/ledger"
	"github.com/medtrust/predledger/internal/middleware"
	"github.com/medtrust/predledger/internal/record"
)

// StoreRecordRequest represents the request body for storing a prediction
// result directly.
type StoreRecordRequest struct {
	Inputs      map[string]float64 `json:"inputs"`
	Prediction  string             `json:"prediction"`
	Probability float64            `json:"probability"`
}

// StoreRecordResponse is returned for both full and partial store success.
// IndexPending is true when the record is committed to the ledger but not
// yet visible in the caller's listing.
type StoreRecordResponse struct {
	ID           string `json:"id"`
	IndexPending bool   `json:"index_pending,omitempty"`
}

// ListRecordsResponse wraps the entries of a record listing.
type ListRecordsResponse struct {
	Records []record.Entry `json:"records"`
}

// RecordHandlers holds dependencies for record HTTP handlers.
type RecordHandlers struct {
	svc    *record.Service
	logger *slog.Logger
}

// NewRecordHandlers creates a new RecordHandlers instance.
func NewRecordHandlers(svc *record.Service, logger *slog.Logger) *RecordHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordHandlers{svc: svc, logger: logger}
}

// Register wires the record routes onto the mux.
func (h *RecordHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("/records", h.handleCollection)
	mux.HandleFunc("/records/", h.handleItem)
}

func (h *RecordHandlers) handleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.StoreRecord(w, r)
	case http.MethodGet:
		h.ListRecords(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
	}
}

func (h *RecordHandlers) handleItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/records/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && parts[0] != "" && r.Method == http.MethodGet:
		h.GetRecord(w, r, parts[0])
	case len(parts) == 2 && parts[0] != "" && parts[1] == "reindex" && r.Method == http.MethodPost:
		h.ReindexRecord(w, r, parts[0])
	case len(parts) == 1 && parts[0] == "":
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Record ID is required")
	default:
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Not found")
	}
}

// StoreRecord handles POST /records - appends a result to the ledger and
// the caller's index.
func (h *RecordHandlers) StoreRecord(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == "" {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	var req StoreRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	if req.Prediction == "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "prediction is required")
		return
	}
	if req.Probability < 0 || req.Probability > 1 {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "probability must be between 0.0 and 1.0")
		return
	}

	result := ledger.Result{
		Inputs:      req.Inputs,
		Prediction:  req.Prediction,
		Probability: req.Probability,
	}

	recordID, err := h.svc.Store(r.Context(), identity, result)
	if err != nil {
		var idxErr *record.IndexWriteError
		switch {
		case errors.As(err, &idxErr):
			// Ledger commit succeeded; the listing will catch up once the
			// index write is repaired.
			WriteJSON(w, http.StatusAccepted, StoreRecordResponse{
				ID:           idxErr.RecordID,
				IndexPending: true,
			})
		case errors.Is(err, ledger.ErrRejected):
			WriteError(w, r.Context(), http.StatusUnprocessableEntity, ErrCodeLedgerRejected, "Ledger rejected the result payload")
		case errors.Is(err, ledger.ErrUnavailable):
			WriteError(w, r.Context(), http.StatusServiceUnavailable, ErrCodeLedgerUnavailable, "Ledger is unavailable, please retry")
		default:
			WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to store record")
		}
		return
	}

	WriteJSON(w, http.StatusCreated, StoreRecordResponse{ID: recordID})
}

// ListRecords handles GET /records - lists the caller's records in index
// order. Records the ledger cannot currently serve come back as unavailable
// entries instead of failing the listing.
func (h *RecordHandlers) ListRecords(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == "" {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	entries, err := h.svc.List(r.Context(), identity)
	if err != nil {
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to list records")
		return
	}

	WriteJSON(w, http.StatusOK, ListRecordsResponse{Records: entries})
}

// GetRecord handles GET /records/{id} - fetches a single record after
// checking it belongs to the caller's index. An id outside the caller's
// index is indistinguishable from an unknown id.
func (h *RecordHandlers) GetRecord(w http.ResponseWriter, r *http.Request, recordID string) {
	identity := middleware.GetIdentity(r.Context())
	if identity == "" {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	rec, err := h.svc.Get(r.Context(), identity, recordID)
	if err != nil {
		switch {
		case errors.Is(err, record.ErrNotOwned), errors.Is(err, ledger.ErrNotFound):
			WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Record not found")
		case errors.Is(err, ledger.ErrUnavailable):
			WriteError(w, r.Context(), http.StatusServiceUnavailable, ErrCodeLedgerUnavailable, "Ledger is unavailable, please retry")
		default:
			WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to fetch record")
		}
		return
	}

	WriteJSON(w, http.StatusOK, rec)
}

// ReindexRecord handles POST /records/{id}/reindex - restores a committed
// ledger record to the caller's index after a partial store.
func (h *RecordHandlers) ReindexRecord(w http.ResponseWriter, r *http.Request, recordID string) {
	identity := middleware.GetIdentity(r.Context())
	if identity == "" {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	if err := h.svc.Reindex(r.Context(), identity, recordID); err != nil {
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Record not found on ledger")
		case errors.Is(err, ledger.ErrUnavailable):
			WriteError(w, r.Context(), http.StatusServiceUnavailable, ErrCodeLedgerUnavailable, "Ledger is unavailable, please retry")
		default:
			WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to reindex record")
		}
		return
	}

	h.logger.Info("record reindex requested", "identity", identity, "record_id", recordID)
	WriteJSON(w, http.StatusOK, StoreRecordResponse{ID: recordID})
}
