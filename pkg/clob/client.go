package clob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/BadGenius22/rekon/pkg/creds"
	"github.com/BadGenius22/rekon/pkg/eth"
)

// Signer is the wallet surface the client needs: EIP-712 auth messages for
// credential issuance and order intents for submission. *eth.Signer
// implements it; wallet connectors supply their own.
type Signer interface {
	Address() common.Address
	SignClobAuth(chainID int64, timestamp string, nonce *big.Int) (string, error)
	SignOrder(chainID int64, exchange common.Address, order *eth.OrderData) (string, error)
}

// Client is an exchange API client. Construction performs no network calls;
// the client is validated by its first real request.
type Client struct {
	baseURL    string
	chainID    int64
	signer     Signer
	hmac       *eth.HMACSigner
	credential *creds.Credentials
	funder     string
	sigType    int
	builder    *BuilderSigner
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL sets a custom exchange endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithChainID sets the chain ID used in EIP-712 domains.
func WithChainID(chainID int64) Option {
	return func(c *Client) { c.chainID = chainID }
}

// WithCredentials sets trading API credentials for authenticated calls.
func WithCredentials(cr *creds.Credentials) Option {
	return func(c *Client) {
		c.credential = cr
		c.hmac = eth.NewHMACSigner(cr.APIKey, cr.Secret, cr.Passphrase)
	}
}

// WithFunder sets the funding address orders draw from. For smart-contract
// wallet trading this is the Safe address, not the signing EOA.
func WithFunder(funder string) Option {
	return func(c *Client) { c.funder = funder }
}

// WithSignatureType sets the order signature type.
func WithSignatureType(sigType int) Option {
	return func(c *Client) { c.sigType = sigType }
}

// WithBuilderSigner attaches the remote builder-attribution signer.
func WithBuilderSigner(b *BuilderSigner) Option {
	return func(c *Client) { c.builder = b }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates an exchange client for the given signer.
func NewClient(signer Signer, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		chainID: eth.ChainIDPolygon,
		signer:  signer,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(10), 5),
		sigType: SignatureTypeEOA,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.funder == "" {
		c.funder = signer.Address().Hex()
	}
	return c
}

// Address returns the signing address.
func (c *Client) Address() string {
	return c.signer.Address().Hex()
}

// Funder returns the funding address.
func (c *Client) Funder() string {
	return c.funder
}

// HasCredentials reports whether trading credentials are set.
func (c *Client) HasCredentials() bool {
	return c.credential != nil
}

// --- Credential issuance (EIP-712 authenticated) ---

// DeriveAPIKey retrieves previously issued credentials for the signing
// identity. It fails for identities that never created credentials; callers
// treat that as normal control flow.
func (c *Client) DeriveAPIKey(ctx context.Context) (*creds.Credentials, error) {
	headers, err := c.l1Headers()
	if err != nil {
		return nil, err
	}

	var cr creds.Credentials
	if err := c.get(ctx, "/auth/derive-api-key", headers, &cr); err != nil {
		return nil, err
	}
	c.adopt(&cr)
	return &cr, nil
}

// CreateAPIKey issues new credentials for the signing identity.
func (c *Client) CreateAPIKey(ctx context.Context) (*creds.Credentials, error) {
	headers, err := c.l1Headers()
	if err != nil {
		return nil, err
	}

	var cr creds.Credentials
	if err := c.post(ctx, "/auth/api-key", headers, nil, &cr); err != nil {
		return nil, err
	}
	c.adopt(&cr)
	return &cr, nil
}

func (c *Client) l1Headers() (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := big.NewInt(0)

	signature, err := c.signer.SignClobAuth(c.chainID, timestamp, nonce)
	if err != nil {
		return nil, fmt.Errorf("sign auth message: %w", err)
	}
	return eth.L1AuthHeaders(c.Address(), signature, timestamp, 0), nil
}

func (c *Client) adopt(cr *creds.Credentials) {
	c.credential = cr
	c.hmac = eth.NewHMACSigner(cr.APIKey, cr.Secret, cr.Passphrase)
}

// --- Authenticated order operations ---

// GetOpenOrders fetches the open orders for the authenticated identity.
func (c *Client) GetOpenOrders(ctx context.Context) ([]Order, error) {
	headers, err := c.l2Headers("GET", "/orders", nil)
	if err != nil {
		return nil, err
	}

	var orders []Order
	if err := c.get(ctx, "/orders", headers, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// PostOrder submits a signed order. When a builder signer is configured, the
// order is attributed via remotely signed headers before submission.
func (c *Client) PostOrder(ctx context.Context, order *SignedOrder) (*PostOrderResponse, error) {
	body, err := json.Marshal(order)
	if err != nil {
		return nil, err
	}

	headers, err := c.l2Headers("POST", "/order", body)
	if err != nil {
		return nil, err
	}

	if c.builder != nil {
		attribution, err := c.builder.SignSubmission(ctx, body)
		if err != nil {
			return nil, fmt.Errorf("builder attribution: %w", err)
		}
		for k, v := range attribution {
			headers[k] = v
		}
	}

	var resp PostOrderResponse
	if err := c.post(ctx, "/order", headers, body, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return &resp, fmt.Errorf("order rejected: %s", resp.ErrorMsg)
	}
	return &resp, nil
}

// CancelOrder cancels a single order by ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.CancelOrders(ctx, []string{orderID})
}

// CancelOrders cancels multiple orders. Partial failure is an error.
func (c *Client) CancelOrders(ctx context.Context, orderIDs []string) error {
	body, err := json.Marshal(orderIDs)
	if err != nil {
		return err
	}

	headers, err := c.l2Headers("DELETE", "/orders", body)
	if err != nil {
		return err
	}

	var resp CancelOrderResponse
	if err := c.delete(ctx, "/orders", headers, body, &resp); err != nil {
		return err
	}
	if len(resp.NotCanceled) > 0 {
		return fmt.Errorf("some orders not canceled: %v", resp.NotCanceled)
	}
	return nil
}

func (c *Client) l2Headers(method, path string, body []byte) (map[string]string, error) {
	if c.hmac == nil {
		return nil, fmt.Errorf("trading credentials required")
	}
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	return c.hmac.SignRequest(timestamp, method, path, body, c.funder)
}

// --- HTTP helpers ---

func (c *Client) get(ctx context.Context, path string, headers map[string]string, result interface{}) error {
	return c.do(ctx, http.MethodGet, path, headers, nil, result)
}

func (c *Client) post(ctx context.Context, path string, headers map[string]string, body []byte, result interface{}) error {
	return c.do(ctx, http.MethodPost, path, headers, body, result)
}

func (c *Client) delete(ctx context.Context, path string, headers map[string]string, body []byte, result interface{}) error {
	return c.do(ctx, http.MethodDelete, path, headers, body, result)
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, body []byte, result interface{}) error {
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
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("api error %d: %s", resp.StatusCode, string(msg))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
