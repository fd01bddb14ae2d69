package clob

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/BadGenius22/rekon/pkg/eth"
)

// usdcDecimals is the base-unit scale of the collateral token.
const usdcDecimals = 6

var zeroAddress = "0x0000000000000000000000000000000000000000"

// BuildOrder assembles an unsigned order payload from args. Amounts are
// computed in decimal and emitted as integer base units; the maker is the
// configured funder and the signer is the wallet address.
func (c *Client) BuildOrder(args *OrderArgs) (*OrderPayload, error) {
	price, err := decimal.NewFromString(args.Price)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", args.Price, err)
	}
	size, err := decimal.NewFromString(args.Size)
	if err != nil {
		return nil, fmt.Errorf("parse size %q: %w", args.Size, err)
	}
	if price.Sign() <= 0 || size.Sign() <= 0 {
		return nil, fmt.Errorf("price and size must be positive")
	}

	scale := decimal.New(1, usdcDecimals)
	notional := price.Mul(size).Mul(scale).Round(0)
	shares := size.Mul(scale).Round(0)

	var makerAmount, takerAmount decimal.Decimal
	if args.Side == OrderSideBuy {
		// Buyer pays collateral, receives shares.
		makerAmount, takerAmount = notional, shares
	} else {
		makerAmount, takerAmount = shares, notional
	}

	salt, err := generateSalt()
	if err != nil {
		return nil, err
	}

	expiration := "0"
	if args.Expiration > 0 {
		expiration = fmt.Sprintf("%d", args.Expiration)
	}

	return &OrderPayload{
		Salt:          salt,
		Maker:         c.funder,
		Signer:        c.Address(),
		Taker:         zeroAddress,
		TokenID:       args.TokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    expiration,
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          string(args.Side),
		SignatureType: c.sigType,
	}, nil
}

// SignOrder signs an order payload with the user's wallet. negRisk selects
// the exchange contract the order is bound to.
func (c *Client) SignOrder(order *OrderPayload, negRisk bool) (string, error) {
	exchange := eth.CTFExchangeAddress
	if negRisk {
		exchange = eth.NegRiskCTFExchangeAddress
	}

	data, err := orderData(order)
	if err != nil {
		return "", err
	}
	return c.signer.SignOrder(c.chainID, exchange, data)
}

// CreateAndPostOrder builds, signs, and submits an order in one step.
func (c *Client) CreateAndPostOrder(ctx context.Context, args *OrderArgs, negRisk bool) (*PostOrderResponse, error) {
	order, err := c.BuildOrder(args)
	if err != nil {
		return nil, fmt.Errorf("build order: %w", err)
	}

	signature, err := c.SignOrder(order, negRisk)
	if err != nil {
		return nil, fmt.Errorf("sign order: %w", err)
	}

	orderType := args.OrderType
	if orderType == "" {
		orderType = OrderTypeGTC
	}

	return c.PostOrder(ctx, &SignedOrder{
		Order:     *order,
		Signature: signature,
		Owner:     c.funder,
		OrderType: orderType,
	})
}

func orderData(order *OrderPayload) (*eth.OrderData, error) {
	salt, ok := new(big.Int).SetString(order.Salt, 10)
	if !ok {
		return nil, fmt.Errorf("invalid salt %q", order.Salt)
	}
	tokenID, ok := new(big.Int).SetString(order.TokenID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid token id %q", order.TokenID)
	}
	makerAmount, ok := new(big.Int).SetString(order.MakerAmount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid maker amount %q", order.MakerAmount)
	}
	takerAmount, ok := new(big.Int).SetString(order.TakerAmount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid taker amount %q", order.TakerAmount)
	}
	expiration, ok := new(big.Int).SetString(order.Expiration, 10)
	if !ok {
		return nil, fmt.Errorf("invalid expiration %q", order.Expiration)
	}
	nonce, ok := new(big.Int).SetString(order.Nonce, 10)
	if !ok {
		return nil, fmt.Errorf("invalid nonce %q", order.Nonce)
	}
	feeRateBps, ok := new(big.Int).SetString(order.FeeRateBps, 10)
	if !ok {
		return nil, fmt.Errorf("invalid fee rate %q", order.FeeRateBps)
	}

	var side uint8
	if order.Side == string(OrderSideSell) {
		side = 1
	}

	return &eth.OrderData{
		Salt:          salt,
		Maker:         common.HexToAddress(order.Maker),
		Signer:        common.HexToAddress(order.Signer),
		Taker:         common.HexToAddress(order.Taker),
		TokenID:       tokenID,
		MakerAmount:   makerAmount,
		TakerAmount:   takerAmount,
		Expiration:    expiration,
		Nonce:         nonce,
		FeeRateBps:    feeRateBps,
		Side:          side,
		SignatureType: uint8(order.SignatureType),
	}, nil
}

func generateSalt() (string, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return n.String(), nil
}
