// Package api exposes the swap engine over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apperrors "github.com/chainswap/swap-engine/pkg/app/errors"
	"github.com/chainswap/swap-engine/pkg/asset"
	"github.com/chainswap/swap-engine/pkg/service"
	"github.com/chainswap/swap-engine/pkg/wallet"
)

const requestTimeout = 60 * time.Second

type handler struct {
	svc    service.Service
	logger *zap.Logger
}

// NewRouter builds the engine's HTTP surface over the given service
func NewRouter(svc service.Service, metricsEnabled bool, logger *zap.Logger) chi.Router {
	h := &handler{svc: svc, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/wallets", h.deriveWallet)
		r.Post("/swaps", h.executeSwap)
		r.Post("/cross-chain-swaps", h.startCrossChainSwap)
		r.Get("/swaps/{id}", h.swapStatus)
	})

	return r
}

type deriveWalletRequest struct {
	UserID uint64 `json:"userId"`
	Family string `json:"family"`
	Index  uint32 `json:"index"`
}

func (h *handler) deriveWallet(w http.ResponseWriter, r *http.Request) {
	var req deriveWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	info, err := h.svc.DeriveWallet(r.Context(), req.UserID, wallet.ChainFamily(req.Family), req.Index)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

type executeSwapRequest struct {
	UserID      uint64      `json:"userId"`
	WalletIndex uint32      `json:"walletIndex"`
	Sell        asset.Asset `json:"sell"`
	Buy         asset.Asset `json:"buy"`
	SellAmount  string      `json:"sellAmount"`
	SlippageBps int         `json:"slippageBps"`
}

func (h *handler) executeSwap(w http.ResponseWriter, r *http.Request) {
	var req executeSwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, ok := new(big.Int).SetString(req.SellAmount, 10)
	if !ok || amount.Sign() <= 0 {
		h.writeError(w, http.StatusBadRequest, errors.New("sellAmount must be a positive integer"))
		return
	}

	result, err := h.svc.ExecuteBestSwap(r.Context(), &service.SwapRequest{
		UserID:      req.UserID,
		WalletIndex: req.WalletIndex,
		Sell:        req.Sell,
		Buy:         req.Buy,
		SellAmount:  amount,
		SlippageBps: req.SlippageBps,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

type crossChainSwapRequest struct {
	UserID      uint64 `json:"userId"`
	WalletIndex uint32 `json:"walletIndex"`
	FromChain   string `json:"fromChain"`
	ToChain     string `json:"toChain"`
	FromFamily  string `json:"fromFamily"`
	FromSymbol  string `json:"fromAssetSymbol"`
	ToSymbol    string `json:"toAssetSymbol"`
	SendAmount  string `json:"sendAmount"`
}

func (h *handler) startCrossChainSwap(w http.ResponseWriter, r *http.Request) {
	var req crossChainSwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, ok := new(big.Int).SetString(req.SendAmount, 10)
	if !ok || amount.Sign() <= 0 {
		h.writeError(w, http.StatusBadRequest, errors.New("sendAmount must be a positive integer"))
		return
	}

	sw, err := h.svc.StartCrossChainSwap(r.Context(), &service.CrossChainRequest{
		UserID:      req.UserID,
		WalletIndex: req.WalletIndex,
		FromChain:   req.FromChain,
		ToChain:     req.ToChain,
		FromFamily:  wallet.ChainFamily(req.FromFamily),
		FromSymbol:  req.FromSymbol,
		ToSymbol:    req.ToSymbol,
		SendAmount:  amount,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, sw)
}

func (h *handler) swapStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := h.svc.GetSwapStatus(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusNotFound, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// writeServiceError maps the engine's error taxonomy onto HTTP statuses
func (h *handler) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperrors.Is(err, apperrors.KindInsufficientBalance),
		apperrors.Is(err, apperrors.KindInsufficientAllowance),
		apperrors.Is(err, apperrors.KindUnsupportedChainPair):
		status = http.StatusUnprocessableEntity
	case apperrors.IsNoLiquidity(err),
		apperrors.Is(err, apperrors.KindInsufficientLiquidity):
		status = http.StatusConflict
	case apperrors.Is(err, apperrors.KindQuoteExpired):
		status = http.StatusGone
	case apperrors.Is(err, apperrors.KindVenueUnavailable):
		status = http.StatusBadGateway
	// configuration failures are server-side and stay 500
	case apperrors.Is(err, apperrors.KindDerivation):
		status = http.StatusBadRequest
	}
	h.writeError(w, status, err)
}

func (h *handler) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("response encoding failed", zap.Error(err))
	}
}
