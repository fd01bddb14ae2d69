// Package relay submits contract calls through the gasless meta-transaction
// relay and waits for them to settle.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the production relay endpoint.
const DefaultBaseURL = "https://relayer-v2.polymarket.com"

// Client talks to the meta-transaction relay. Both operations block until
// the task reaches a terminal state; there is no fire-and-forget path.
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	limiter      *rate.Limiter
	pollInterval time.Duration
	log          *zap.Logger
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL sets a custom relay endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPollInterval sets the settlement polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithLogger sets the client logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates a relay client. apiKey is the relay session credential,
// distinct from trading credentials.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter:      rate.NewLimiter(rate.Limit(5), 5),
		pollInterval: 2 * time.Second,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type submitResponse struct {
	TransactionID string `json:"transactionID"`
}

// Deploy asks the relay to deploy the smart-contract wallet owned by eoa and
// waits for settlement. The returned settlement carries the address the
// relay reports as deployed; callers must verify it independently.
func (c *Client) Deploy(ctx context.Context, eoa common.Address) (*Settlement, error) {
	req := map[string]string{
		"from":           eoa.Hex(),
		"idempotencyKey": uuid.NewString(),
	}

	var resp submitResponse
	if err := c.post(ctx, "/wallet/deploy", req, &resp); err != nil {
		return nil, err
	}

	c.log.Info("relay deploy submitted",
		zap.String("eoa", eoa.Hex()),
		zap.String("transaction_id", resp.TransactionID))

	settlement, err := c.awaitSettlement(ctx, resp.TransactionID)
	if err != nil {
		return nil, err
	}
	if !settlement.State.Succeeded() {
		return settlement, &TaskError{TransactionID: resp.TransactionID, Label: "deploy"}
	}
	return settlement, nil
}

// Execute submits an ordered batch of contract calls as one atomic relay
// task and waits for settlement. All calls land in a single transaction, so
// partial application is impossible.
func (c *Client) Execute(ctx context.Context, txns []Transaction, label string) (*Settlement, error) {
	if len(txns) == 0 {
		return nil, fmt.Errorf("relay: empty batch for %q", label)
	}

	req := map[string]interface{}{
		"transactions":   txns,
		"label":          label,
		"idempotencyKey": uuid.NewString(),
	}

	var resp submitResponse
	if err := c.post(ctx, "/submit", req, &resp); err != nil {
		return nil, err
	}

	c.log.Info("relay batch submitted",
		zap.String("label", label),
		zap.Int("calls", len(txns)),
		zap.String("transaction_id", resp.TransactionID))

	settlement, err := c.awaitSettlement(ctx, resp.TransactionID)
	if err != nil {
		return nil, err
	}
	if !settlement.State.Succeeded() {
		return settlement, &TaskError{TransactionID: resp.TransactionID, Label: label}
	}
	return settlement, nil
}

// awaitSettlement polls the task until it reaches a terminal state or ctx
// expires. The relay owns the wait-for-settlement contract; we only poll.
func (c *Client) awaitSettlement(ctx context.Context, transactionID string) (*Settlement, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		var settlement Settlement
		if err := c.get(ctx, "/transaction/"+transactionID, &settlement); err != nil {
			return nil, err
		}
		if settlement.State.Terminal() {
			return &settlement, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("relay: awaiting settlement of %s: %w", transactionID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, path string, payload, result interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, body, result)
}

func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("relay request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w (status %d)", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("relay error %d: %s", resp.StatusCode, string(msg))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
