// Package swapnet is the client for the cross-chain liquidity network used by
// the swap coordinator.
package swapnet

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"

	"github.com/chainswap/swap-engine/pkg/config"
)

// Client talks to the liquidity network's HTTP API
type Client struct {
	cfg        *config.SwapnetConfig
	httpClient *http.Client
}

// NewClient creates a new liquidity network client
func NewClient(cfg *config.SwapnetConfig) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// QuoteRequest asks the network for a cross-chain price
type QuoteRequest struct {
	FromChain  string `json:"fromChain"`
	ToChain    string `json:"toChain"`
	FromAsset  string `json:"fromAsset"`
	ToAsset    string `json:"toAsset"`
	SendAmount string `json:"sendAmount"`
}

// QuoteResponse carries the network's strategy and the receivable amount
type QuoteResponse struct {
	StrategyID    string `json:"strategyId"`
	ReceiveAmount string `json:"receiveAmount"`
}

// ReceiveAmountInt parses the receive amount into base units
func (q *QuoteResponse) ReceiveAmountInt() (*big.Int, error) {
	v, ok := new(big.Int).SetString(q.ReceiveAmount, 10)
	if !ok {
		return nil, fmt.Errorf("malformed receive amount: %s", q.ReceiveAmount)
	}
	return v, nil
}

// Quote prices a cross-chain swap
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*QuoteResponse, error) {
	var resp QuoteResponse
	if err := c.post(ctx, "/v1/quote", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateOrderRequest registers a swap with the network
type CreateOrderRequest struct {
	StrategyID    string `json:"strategyId"`
	SecretHash    string `json:"secretHash"`
	SendAmount    string `json:"sendAmount"`
	ReceiveAmount string `json:"receiveAmount"`
	// Receiver is the caller's address on the destination chain
	Receiver string `json:"receiver"`
	// RefundAddress is the caller's address on the source chain
	RefundAddress string `json:"refundAddress"`
	Timelock      int64  `json:"timelock"`
}

// CreateOrderResponse identifies the created order. For UTXO-funded legs the
// network supplies the deposit address an external actor must fund.
type CreateOrderResponse struct {
	OrderID        string `json:"orderId"`
	DepositAddress string `json:"depositAddress,omitempty"`
	// CounterpartyAddress is the network filler allowed to redeem the
	// source-leg lock
	CounterpartyAddress string `json:"counterpartyAddress,omitempty"`
}

// CreateOrder registers a swap with the network
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResponse, error) {
	var resp CreateOrderResponse
	if err := c.post(ctx, "/v1/orders", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type orderStatusResponse struct {
	OrderID         string `json:"orderId"`
	Status          string `json:"status"`
	DepositSeen     bool   `json:"depositSeen"`
	RevealedSecret  string `json:"revealedSecret,omitempty"`
	DestinationTxID string `json:"destinationTxId,omitempty"`
}

// OrderStatus is the network's view of a swap in flight
type OrderStatus struct {
	OrderID     string
	DepositSeen bool
	// RevealedSecret is the preimage the counterparty published on the
	// destination leg, nil until revealed
	RevealedSecret []byte
}

// Status returns the current network-side status of an order
func (c *Client) Status(ctx context.Context, orderID string) (*OrderStatus, error) {
	var resp orderStatusResponse
	if err := c.get(ctx, "/v1/orders/"+orderID, &resp); err != nil {
		return nil, err
	}

	status := &OrderStatus{
		OrderID:     resp.OrderID,
		DepositSeen: resp.DepositSeen,
	}
	if resp.RevealedSecret != "" {
		secret, err := hex.DecodeString(resp.RevealedSecret)
		if err != nil {
			return nil, fmt.Errorf("malformed revealed secret for order %s: %w", orderID, err)
		}
		status.RevealedSecret = secret
	}
	return status, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("liquidity network unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Message string `json:"message"`
		}
		msg := string(raw)
		if json.Unmarshal(raw, &errBody) == nil && errBody.Message != "" {
			msg = errBody.Message
		}
		return fmt.Errorf("liquidity network returned status %d: %s", resp.StatusCode, msg)
	}

	return json.Unmarshal(raw, out)
}
