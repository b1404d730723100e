// Package predictor provides a typed HTTP client for the external
// model-serving endpoint that scores patient parameter vectors.
package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrModelUnavailable is returned when the model server cannot be reached
// or answers with a server error.
var ErrModelUnavailable = errors.New("model server unavailable")

// ErrBadInput is returned when the model server rejects the feature vector.
var ErrBadInput = errors.New("model rejected input")

// RequiredFeatures lists the patient parameters the model expects, in the
// order the clinical form presents them.
var RequiredFeatures = []string{
	"age", "sex", "cp", "trestbps", "chol", "fbs", "restecg",
	"thalach", "exang", "oldpeak", "slope", "ca", "thal",
}

// Prediction is the model's answer for one feature vector.
type Prediction struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Client calls the model server's /predict endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a predictor client. The timeout bounds each request.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// predictResponse mirrors the model server's response body. The key names
// come from the serving layer and are part of its contract.
type predictResponse struct {
	Label       string   `json:"Heart Disease Prediction"`
	Probability *float64 `json:"Federated Average Probability"`
}

// ValidateInputs checks that every required feature is present. Extra keys
// are rejected so typos do not silently score a wrong vector.
func ValidateInputs(inputs map[string]float64) error {
	if len(inputs) != len(RequiredFeatures) {
		return fmt.Errorf("%w: expected %d features, got %d", ErrBadInput, len(RequiredFeatures), len(inputs))
	}
	for _, name := range RequiredFeatures {
		if _, ok := inputs[name]; !ok {
			return fmt.Errorf("%w: missing feature %q", ErrBadInput, name)
		}
	}
	return nil
}

// Predict scores the feature vector against the model server. Transport
// failures and 5xx responses map to ErrModelUnavailable; a 4xx response
// maps to ErrBadInput.
func (c *Client) Predict(ctx context.Context, inputs map[string]float64) (*Prediction, error) {
	if err := ValidateInputs(inputs); err != nil {
		return nil, err
	}

	body, err := json.Marshal(inputs)
	if err != nil {
		return nil, fmt.Errorf("encode feature vector: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var out predictResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("%w: decode predict response: %v", ErrModelUnavailable, err)
		}
		if out.Label == "" || out.Probability == nil {
			return nil, fmt.Errorf("%w: predict response missing fields", ErrModelUnavailable)
		}
		c.logger.Debug("model prediction received",
			slog.String("label", out.Label),
			slog.Float64("probability", *out.Probability),
		)
		return &Prediction{Label: out.Label, Probability: *out.Probability}, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("%w: model returned status %d", ErrBadInput, resp.StatusCode)

	default:
		return nil, fmt.Errorf("%w: model returned status %d", ErrModelUnavailable, resp.StatusCode)
	}
}
