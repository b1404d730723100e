package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	opCreate = "CREATE"

	// transactionsPath is the ledger's transaction resource. Appends go
	// through commit mode so a returned id always refers to a durably
	// committed record.
	transactionsPath = "/api/v1/transactions"
	commitMode       = "mode=commit"
)

// Client is an HTTP Gateway implementation for a BigchainDB-style
// transaction API. Every append is signed with the injected keypair over
// the canonical CBOR encoding of the transaction payload.
type Client struct {
	baseURL    string
	keypair    *Keypair
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a ledger client. The timeout bounds each individual
// request; callers can tighten it further per call through the context.
func NewClient(baseURL string, keypair *Keypair, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		keypair: keypair,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// appendRequest is the wire format for transaction submission.
type appendRequest struct {
	Operation string          `json:"operation"`
	Asset     assetEnvelope   `json:"asset"`
	Metadata  metadataEnvelope `json:"metadata"`
	PublicKey string          `json:"public_key"`
	Signature string          `json:"signature"`
}

type assetEnvelope struct {
	Data Result `json:"data"`
}

type metadataEnvelope struct {
	Timestamp string `json:"timestamp"`
}

// appendResponse carries the ledger-assigned id on success.
type appendResponse struct {
	ID string `json:"id"`
}

// fetchResponse is the wire format returned by the transaction read endpoint.
type fetchResponse struct {
	ID       string           `json:"id"`
	Asset    assetEnvelope    `json:"asset"`
	Metadata metadataEnvelope `json:"metadata"`
}

// errorResponse is the ledger's error body. The message is best-effort;
// classification happens on the status code.
type errorResponse struct {
	Message string `json:"message"`
}

// Append signs and submits the result as a CREATE transaction, returning
// the committed record id. Transport failures and timeouts map to
// ErrUnavailable; a 4xx response maps to ErrRejected.
func (c *Client) Append(ctx context.Context, result Result) (string, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	_, sig, err := c.keypair.signTransaction(result, timestamp)
	if err != nil {
		return "", err
	}

	reqBody := appendRequest{
		Operation: opCreate,
		Asset:     assetEnvelope{Data: result},
		Metadata:  metadataEnvelope{Timestamp: timestamp},
		PublicKey: c.keypair.PublicKeyHex(),
		Signature: hex.EncodeToString(sig),
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("encode transaction: %w", err)
	}

	url := c.baseURL + transactionsPath + "?" + commitMode
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build append request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK:
		var out appendResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("%w: decode append response: %v", ErrUnavailable, err)
		}
		if out.ID == "" {
			return "", fmt.Errorf("%w: append response missing id", ErrUnavailable)
		}
		c.logger.Debug("ledger append committed", slog.String("record_id", out.ID))
		return out.ID, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", fmt.Errorf("%w: %s", ErrRejected, readErrorMessage(resp.Body))

	default:
		return "", fmt.Errorf("%w: ledger returned status %d", ErrUnavailable, resp.StatusCode)
	}
}

// Fetch retrieves a committed record by id. An unknown id maps to
// ErrNotFound; transport failures and non-404 errors map to ErrUnavailable.
func (c *Client) Fetch(ctx context.Context, id string) (*Record, error) {
	url := c.baseURL + transactionsPath + "/" + id
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var out fetchResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("%w: decode fetch response: %v", ErrUnavailable, err)
		}
		record := &Record{
			ID:     out.ID,
			Result: out.Asset.Data,
		}
		if record.ID == "" {
			record.ID = id
		}
		if out.Metadata.Timestamp != "" {
			ts, err := time.Parse(time.RFC3339Nano, out.Metadata.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("%w: parse record timestamp: %v", ErrUnavailable, err)
			}
			record.Timestamp = ts
		}
		return record, nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)

	default:
		return nil, fmt.Errorf("%w: ledger returned status %d", ErrUnavailable, resp.StatusCode)
	}
}

// Ping verifies the ledger API root is reachable. Used by readiness checks.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1", nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: ledger returned status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// readErrorMessage extracts the ledger's error message, falling back to
// a generic string when the body is empty or not JSON.
func readErrorMessage(body io.Reader) string {
	var errResp errorResponse
	if err := json.NewDecoder(body).Decode(&errResp); err == nil && errResp.Message != "" {
		return errResp.Message
	}
	return "payload rejected"
}
