// Package clob is the client for the exchange's central limit order book:
// trading credential issuance and authenticated order placement.
package clob

import "time"

const (
	// DefaultBaseURL is the exchange API base URL.
	DefaultBaseURL = "https://clob.polymarket.com"
)

// Signature types accepted by the exchange.
const (
	SignatureTypeEOA        = 0
	SignatureTypeProxy      = 1
	SignatureTypeGnosisSafe = 2
)

// OrderSide is the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType is the time-in-force of an order.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC"
	OrderTypeFOK OrderType = "FOK"
	OrderTypeGTD OrderType = "GTD"
)

// OrderStatus is the exchange-side status of an order.
type OrderStatus string

const (
	OrderStatusLive      OrderStatus = "LIVE"
	OrderStatusMatched   OrderStatus = "MATCHED"
	OrderStatusDelayed   OrderStatus = "DELAYED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// OrderArgs are the caller-facing arguments for building an order.
type OrderArgs struct {
	TokenID    string
	Side       OrderSide
	Price      string // human units, e.g. "0.57"
	Size       string // shares
	OrderType  OrderType
	Expiration int64 // unix seconds, 0 = never
}

// OrderPayload is the EIP-712 order message in wire form.
type OrderPayload struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
}

// SignedOrder is an order plus the user's intent signature, ready to submit.
type SignedOrder struct {
	Order     OrderPayload `json:"order"`
	Signature string       `json:"signature"`
	Owner     string       `json:"owner"`
	OrderType OrderType    `json:"orderType"`
}

// PostOrderResponse is the exchange's reply to an order submission.
type PostOrderResponse struct {
	OrderID  string `json:"orderId"`
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Order is an order as reported by the exchange.
type Order struct {
	ID         string      `json:"id"`
	Status     OrderStatus `json:"status"`
	TokenID    string      `json:"asset_id"`
	Side       OrderSide   `json:"side"`
	Price      string      `json:"price"`
	Size       string      `json:"size"`
	SizeFilled string      `json:"size_filled"`
	CreatedAt  time.Time   `json:"created_at"`
}

// CancelOrderResponse lists which orders were and were not cancelled.
type CancelOrderResponse struct {
	Canceled    []string        `json:"canceled"`
	NotCanceled []CancelFailure `json:"not_canceled"`
}

// CancelFailure explains one failed cancellation.
type CancelFailure struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}
