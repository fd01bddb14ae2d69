package clob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// BuilderSigner attributes order submissions to this application by having a
// server-held key sign the submission. The attribution key never leaves the
// remote endpoint; the client only forwards the payload and attaches the
// returned headers.
type BuilderSigner struct {
	endpoint   string
	httpClient *http.Client
}

// NewBuilderSigner creates a remote attribution signer. No network call is
// made until the first submission.
func NewBuilderSigner(endpoint string) *BuilderSigner {
	return &BuilderSigner{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type builderResponse struct {
	Headers map[string]string `json:"headers"`
}

// SignSubmission sends the serialized order to the signing endpoint and
// returns the attribution headers to attach to the exchange request.
func (b *BuilderSigner) SignSubmission(ctx context.Context, order []byte) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(order))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("signing endpoint error %d: %s", resp.StatusCode, string(msg))
	}

	var out builderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode signing response: %w", err)
	}
	return out.Headers, nil
}
