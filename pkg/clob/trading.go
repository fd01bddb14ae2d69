package clob

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/BadGenius22/rekon/pkg/creds"
)

// SignerContext carries what the trading client needs beyond the wallet:
// the remote builder-attribution endpoint and the exchange base URL.
type SignerContext struct {
	Signer              Signer
	ChainID             int64
	BaseURL             string
	BuilderSignEndpoint string
}

// NewTradingClient assembles an authenticated trading client bound to the
// smart-contract wallet address and the issued credentials. Orders are
// funded by the Safe, intent-signed by the user's wallet, and attributed via
// the remote signing endpoint. No network call happens here; the client is
// validated on its first real request.
func NewTradingClient(safeAddress common.Address, credential *creds.Credentials, sc SignerContext) *Client {
	opts := []Option{
		WithFunder(safeAddress.Hex()),
		WithSignatureType(SignatureTypeGnosisSafe),
		WithCredentials(credential),
	}
	if sc.ChainID != 0 {
		opts = append(opts, WithChainID(sc.ChainID))
	}
	if sc.BaseURL != "" {
		opts = append(opts, WithBaseURL(sc.BaseURL))
	}
	if sc.BuilderSignEndpoint != "" {
		opts = append(opts, WithBuilderSigner(NewBuilderSigner(sc.BuilderSignEndpoint)))
	}
	return NewClient(sc.Signer, opts...)
}
