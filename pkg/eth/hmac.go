package eth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
)

// HMACSigner signs authenticated API requests with a credential secret.
type HMACSigner struct {
	apiKey     string
	secret     string
	passphrase string
}

// NewHMACSigner creates an HMAC request signer.
func NewHMACSigner(apiKey, secret, passphrase string) *HMACSigner {
	return &HMACSigner{apiKey: apiKey, secret: secret, passphrase: passphrase}
}

// SignRequest signs an HTTP request and returns the auth headers.
// The address header carries the funding (smart-contract wallet) address,
// not the signing EOA.
func (s *HMACSigner) SignRequest(timestamp, method, path string, body []byte, funder string) (map[string]string, error) {
	message := timestamp + method + path
	if len(body) > 0 {
		message += string(body)
	}

	// Secrets are issued URL-safe base64 encoded; fall back to standard
	// encoding for older credentials.
	secret, err := base64.URLEncoding.DecodeString(s.secret)
	if err != nil {
		secret, err = base64.StdEncoding.DecodeString(s.secret)
		if err != nil {
			return nil, fmt.Errorf("decode secret: %w", err)
		}
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	signature := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"POLY_ADDRESS":    funder,
		"POLY_SIGNATURE":  signature,
		"POLY_TIMESTAMP":  timestamp,
		"POLY_API_KEY":    s.apiKey,
		"POLY_PASSPHRASE": s.passphrase,
	}, nil
}

// L1AuthHeaders returns headers for EIP-712 authenticated requests.
func L1AuthHeaders(address, signature, timestamp string, nonce int64) map[string]string {
	return map[string]string{
		"POLY_ADDRESS":   address,
		"POLY_SIGNATURE": signature,
		"POLY_TIMESTAMP": timestamp,
		"POLY_NONCE":     strconv.FormatInt(nonce, 10),
	}
}
