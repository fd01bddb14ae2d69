package eth

import "github.com/ethereum/go-ethereum/common"

// ChainIDPolygon is the chain the exchange contracts live on.
const ChainIDPolygon = 137

// Exchange and collateral contract addresses on Polygon.
var (
	// CTFExchangeAddress is the main CTF Exchange contract.
	CTFExchangeAddress = common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")

	// NegRiskCTFExchangeAddress is the Neg Risk CTF Exchange contract.
	NegRiskCTFExchangeAddress = common.HexToAddress("0xC5d563A36AE78145C45a50134d48A1215220f80a")

	// NegRiskAdapterAddress wraps neg-risk markets for the exchange.
	NegRiskAdapterAddress = common.HexToAddress("0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296")

	// USDCAddress is the collateral token (6 decimals).
	USDCAddress = common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")

	// CTFAddress is the conditional tokens (ERC-1155) contract.
	CTFAddress = common.HexToAddress("0x4D97DCd97eC945f40cF65F87097ACe5EA0476045")

	// SafeFactoryAddress deploys the per-user smart-contract wallets.
	SafeFactoryAddress = common.HexToAddress("0xaacFeEa03eb1561C4e67d661e40682Bd20E3541b")
)

// SafeInitCodeHash is the keccak256 of the proxy creation bytecode used by
// the factory. It is part of the CREATE2 address derivation and must match
// the deployed factory exactly.
var SafeInitCodeHash = common.HexToHash("0x56e3081a3d1bb38ed4eed0a7b0459ba79d86e8306c7df7e0f6820557e355a9ee")
