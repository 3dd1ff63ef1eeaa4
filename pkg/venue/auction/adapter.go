// Package auction implements the batch-auction venue family: off-chain signed
// intents settled on-chain by a competitive solver.
package auction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	apperrors "github.com/chainswap/swap-engine/pkg/app/errors"
	"github.com/chainswap/swap-engine/pkg/config"
	"github.com/chainswap/swap-engine/pkg/venue"
	"github.com/chainswap/swap-engine/pkg/wallet"
)

// VenueID is the stable identifier of the batch-auction venue
const VenueID = "batch-auction"

// Adapter quotes through the venue's off-chain quoting service and submits
// signed intents for asynchronous settlement.
type Adapter struct {
	cfg        *config.AuctionConfig
	httpClient *http.Client
	settlement common.Address
	wrapped    string
	logger     *zap.Logger
}

// NewAdapter creates the batch-auction venue adapter
func NewAdapter(cfg *config.AuctionConfig, wrappedNative string, logger *zap.Logger) *Adapter {
	a := &Adapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		settlement: common.HexToAddress(cfg.SettlementContract),
		wrapped:    wrappedNative,
		logger:     logger.Named("auction"),
	}
	a.warnIfTokenExpired()
	return a
}

func (a *Adapter) ID() string { return VenueID }

func (a *Adapter) Spender() common.Address { return a.settlement }

type quoteRequest struct {
	SellToken   string `json:"sellToken"`
	BuyToken    string `json:"buyToken"`
	SellAmount  string `json:"sellAmountBeforeFee"`
	SlippageBps int    `json:"slippageBps"`
}

type quoteResponse struct {
	QuoteID    string `json:"id"`
	BuyAmount  string `json:"buyAmount"`
	FeeAmount  string `json:"feeAmount"`
	ValidTo    int64  `json:"validTo"`
	SigningKey string `json:"signingScheme"`
}

// GetQuote requests a signed price from the off-chain quoting service. Native
// legs are substituted with the wrapped token for pricing.
func (a *Adapter) GetQuote(ctx context.Context, req venue.QuoteRequest) (*venue.Quote, error) {
	sell := req.Sell.Wrapped(a.wrapped)
	buy := req.Buy.Wrapped(a.wrapped)

	body := quoteRequest{
		SellToken:   sell.Address,
		BuyToken:    buy.Address,
		SellAmount:  req.SellAmount.String(),
		SlippageBps: req.SlippageBps,
	}

	var resp quoteResponse
	if err := a.post(ctx, "/api/v1/quote", body, &resp); err != nil {
		return nil, err
	}

	buyAmount, ok := new(big.Int).SetString(resp.BuyAmount, 10)
	if !ok {
		return nil, apperrors.VenueQuote(nil, VenueID, "quoting service returned a malformed buy amount: "+resp.BuyAmount)
	}
	feeAmount, ok := new(big.Int).SetString(resp.FeeAmount, 10)
	if !ok {
		feeAmount = big.NewInt(0)
	}

	return &venue.Quote{
		VenueID:     VenueID,
		Sell:        req.Sell,
		Buy:         req.Buy,
		SellAmount:  req.SellAmount,
		BuyAmount:   buyAmount,
		FeeAmount:   feeAmount,
		SlippageBps: req.SlippageBps,
		ExpiresAt:   time.Unix(resp.ValidTo, 0),
	}, nil
}

type orderRequest struct {
	SellToken  string `json:"sellToken"`
	BuyToken   string `json:"buyToken"`
	SellAmount string `json:"sellAmount"`
	BuyAmount  string `json:"buyAmount"`
	ValidTo    int64  `json:"validTo"`
	Receiver   string `json:"receiver"`
	Signature  string `json:"signature"`
}

type orderResponse struct {
	UID string `json:"uid"`
}

// ExecuteSwap signs the trade intent and submits it to the order book. The
// returned order settles asynchronously; the caller polls it to a terminal
// state through OrderStatus.
func (a *Adapter) ExecuteSwap(ctx context.Context, w *wallet.EvmWallet, q *venue.Quote) (*venue.Order, error) {
	if q.Expired(time.Now()) {
		return nil, apperrors.QuoteExpired(VenueID, "quote expired before submission")
	}

	sell := q.Sell.Wrapped(a.wrapped)
	buy := q.Buy.Wrapped(a.wrapped)
	minBuy := new(big.Int).Mul(q.BuyAmount, big.NewInt(int64(10_000-q.SlippageBps)))
	minBuy.Div(minBuy, big.NewInt(10_000))

	sig, err := signIntent(w, sell.Address, buy.Address, q.SellAmount, minBuy, q.ExpiresAt.Unix())
	if err != nil {
		return nil, apperrors.VenueExecution(err, VenueID, "failed to sign order intent")
	}

	body := orderRequest{
		SellToken:  sell.Address,
		BuyToken:   buy.Address,
		SellAmount: q.SellAmount.String(),
		BuyAmount:  minBuy.String(),
		ValidTo:    q.ExpiresAt.Unix(),
		Receiver:   w.Address(),
		Signature:  sig,
	}

	var resp orderResponse
	if err := a.post(ctx, "/api/v1/orders", body, &resp); err != nil {
		return nil, err
	}

	a.logger.Info("Order submitted",
		zap.String("uid", resp.UID),
		zap.String("sell", q.Sell.Symbol),
		zap.String("buy", q.Buy.Symbol))

	return &venue.Order{
		ID:         resp.UID,
		VenueID:    VenueID,
		Sell:       q.Sell,
		Buy:        q.Buy,
		SellAmount: q.SellAmount,
		BuyAmount:  q.BuyAmount,
		State:      venue.OrderOpen,
		CreatedAt:  time.Now(),
	}, nil
}

type statusResponse struct {
	UID                string `json:"uid"`
	Status             string `json:"status"`
	ExecutedSellAmount string `json:"executedSellAmount"`
	ExecutedBuyAmount  string `json:"executedBuyAmount"`
}

// OrderStatus returns the current state of a submitted order. It backs the
// order monitor's polling.
func (a *Adapter) OrderStatus(ctx context.Context, orderID string) (*venue.Order, error) {
	var resp statusResponse
	if err := a.get(ctx, "/api/v1/orders/"+orderID, &resp); err != nil {
		return nil, err
	}

	order := &venue.Order{
		ID:      orderID,
		VenueID: VenueID,
		State:   mapState(resp.Status),
	}
	if v, ok := new(big.Int).SetString(resp.ExecutedSellAmount, 10); ok {
		order.ExecutedSellAmount = v
	}
	if v, ok := new(big.Int).SetString(resp.ExecutedBuyAmount, 10); ok {
		order.ExecutedBuyAmount = v
	}
	return order, nil
}

func mapState(status string) venue.OrderState {
	switch status {
	case "open":
		return venue.OrderOpen
	case "presignaturePending":
		return venue.OrderPresignaturePending
	case "fulfilled":
		return venue.OrderFulfilled
	case "cancelled":
		return venue.OrderCancelled
	case "expired":
		return venue.OrderExpired
	default:
		return venue.OrderCreated
	}
}

// signIntent hashes the order fields and signs with the wallet key. The venue
// recovers the owner address from the signature on submission.
func signIntent(w *wallet.EvmWallet, sellToken, buyToken string, sellAmount, buyAmount *big.Int, validTo int64) (string, error) {
	digest := crypto.Keccak256(
		common.HexToAddress(sellToken).Bytes(),
		common.HexToAddress(buyToken).Bytes(),
		common.LeftPadBytes(sellAmount.Bytes(), 32),
		common.LeftPadBytes(buyAmount.Bytes(), 32),
		common.LeftPadBytes(big.NewInt(validTo).Bytes(), 32),
		w.CommonAddress().Bytes(),
	)
	sig, err := crypto.Sign(digest, w.Signer())
	if err != nil {
		return "", err
	}
	return "0x" + common.Bytes2Hex(sig), nil
}

func (a *Adapter) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apperrors.VenueUnavailable(err, VenueID, "failed to encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return apperrors.VenueUnavailable(err, VenueID, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, out)
}

func (a *Adapter) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+path, nil)
	if err != nil {
		return apperrors.VenueUnavailable(err, VenueID, "failed to build request")
	}
	return a.do(req, out)
}

func (a *Adapter) do(req *http.Request, out interface{}) error {
	if a.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIToken)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return apperrors.VenueUnavailable(err, VenueID, "quoting service unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.VenueUnavailable(err, VenueID, "failed to read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Surface the venue's own message when the body carries one
		var errBody struct {
			Message string `json:"message"`
		}
		msg := string(raw)
		if json.Unmarshal(raw, &errBody) == nil && errBody.Message != "" {
			msg = errBody.Message
		}
		return apperrors.VenueQuote(nil, VenueID,
			fmt.Sprintf("status %d: %s", resp.StatusCode, msg))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return apperrors.VenueQuote(err, VenueID, "malformed response from quoting service")
	}
	return nil
}

// warnIfTokenExpired parses the configured bearer token without verifying it,
// purely to flag an expired credential at startup instead of at first quote.
func (a *Adapter) warnIfTokenExpired() {
	if a.cfg.APIToken == "" {
		return
	}
	token, _, err := jwt.NewParser().ParseUnverified(a.cfg.APIToken, jwt.MapClaims{})
	if err != nil {
		return
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	if exp.Before(time.Now()) {
		a.logger.Warn("Venue API token is expired",
			zap.Time("expired_at", exp.Time))
	}
}
