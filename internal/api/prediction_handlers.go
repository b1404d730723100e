package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/medtrust/predledger/internal/ledger"
	"github.com/medtrust/predledger/internal/middleware"
	"github.com/medtrust/predledger/internal/predictor"
	"github.com/medtrust/predledger/internal/record"
)

// Predictor scores a patient feature vector. Satisfied by *predictor.Client.
type Predictor interface {
	Predict(ctx context.Context, inputs map[string]float64) (*predictor.Prediction, error)
}

// PredictRequest represents the request body for the predict-then-store
// composite operation.
type PredictRequest struct {
	Inputs map[string]float64 `json:"inputs"`
}

// PredictResponse carries the model's answer and the id of the stored record.
type PredictResponse struct {
	ID           string  `json:"id"`
	Prediction   string  `json:"prediction"`
	Probability  float64 `json:"probability"`
	IndexPending bool    `json:"index_pending,omitempty"`
}

// PredictionHandlers holds dependencies for prediction HTTP handlers.
type PredictionHandlers struct {
	model  Predictor
	svc    *record.Service
	logger *slog.Logger
}

// NewPredictionHandlers creates a new PredictionHandlers instance.
func NewPredictionHandlers(model Predictor, svc *record.Service, logger *slog.Logger) *PredictionHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &PredictionHandlers{model: model, svc: svc, logger: logger}
}

// Register wires the prediction routes onto the mux.
func (h *PredictionHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("/predictions", h.Predict)
}

// Predict handles POST /predictions - scores the feature vector against the
// model server and stores the result through the record service.
func (h *PredictionHandlers) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	identity := middleware.GetIdentity(r.Context())
	if identity == "" {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	pred, err := h.model.Predict(r.Context(), req.Inputs)
	if err != nil {
		switch {
		case errors.Is(err, predictor.ErrBadInput):
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, err.Error())
		case errors.Is(err, predictor.ErrModelUnavailable):
			WriteError(w, r.Context(), http.StatusServiceUnavailable, ErrCodeModelUnavailable, "Model server is unavailable, please retry")
		default:
			WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Prediction failed")
		}
		return
	}

	result := ledger.Result{
		Inputs:      req.Inputs,
		Prediction:  pred.Label,
		Probability: pred.Probability,
	}

	recordID, err := h.svc.Store(r.Context(), identity, result)
	if err != nil {
		var idxErr *record.IndexWriteError
		switch {
		case errors.As(err, &idxErr):
			WriteJSON(w, http.StatusAccepted, PredictResponse{
				ID:           idxErr.RecordID,
				Prediction:   pred.Label,
				Probability:  pred.Probability,
				IndexPending: true,
			})
		case errors.Is(err, ledger.ErrRejected):
			WriteError(w, r.Context(), http.StatusUnprocessableEntity, ErrCodeLedgerRejected, "Ledger rejected the result payload")
		case errors.Is(err, ledger.ErrUnavailable):
			WriteError(w, r.Context(), http.StatusServiceUnavailable, ErrCodeLedgerUnavailable, "Ledger is unavailable, please retry")
		default:
			WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to store prediction")
		}
		return
	}

	WriteJSON(w, http.StatusCreated, PredictResponse{
		ID:          recordID,
		Prediction:  pred.Label,
		Probability: pred.Probability,
	})
}
