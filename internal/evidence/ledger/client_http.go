package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"aegis/internal/platform/config"
)

// HTTPClient talks to the evidence ledger gateway over its JSON API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient builds a ledger client from config. A nil httpClient gets a
// default with the configured submit timeout.
func NewHTTPClient(cfg config.LedgerConfig, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.SubmitTimeout}
	}
	return &HTTPClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}
}

type submitRequest struct {
	Metadata []byte `json:"metadata"`
}

type submitResponse struct {
	TxID string `json:"tx_id"`
}

type queryResponse struct {
	Metadata      []byte    `json:"metadata"`
	Block         int64     `json:"block"`
	Confirmations int       `json:"confirmations"`
	Timestamp     time.Time `json:"timestamp"`
}

func (c *HTTPClient) Submit(ctx context.Context, metadata []byte) (string, error) {
	body, err := json.Marshal(submitRequest{Metadata: metadata})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/transactions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ledger submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ledger submit: status %d: %s", resp.StatusCode, payload)
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ledger submit: decode response: %w", err)
	}
	if out.TxID == "" {
		return "", fmt.Errorf("ledger submit: empty tx id")
	}
	return out.TxID, nil
}

func (c *HTTPClient) Query(ctx context.Context, txID string) (*Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/transactions/"+txID, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrTxNotFound
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ledger query: status %d: %s", resp.StatusCode, payload)
	}

	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ledger query: decode response: %w", err)
	}
	return &Record{
		Metadata:      out.Metadata,
		Block:         out.Block,
		Confirmations: out.Confirmations,
		Timestamp:     out.Timestamp,
	}, nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
