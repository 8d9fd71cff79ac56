package trade

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"github.com/boxmeout/pool-engine/internal/model"
	"github.com/boxmeout/pool-engine/internal/policy"
	"github.com/boxmeout/pool-engine/internal/store"
	"github.com/boxmeout/pool-engine/internal/token"
)

// Handler exposes the engine over HTTP. Amounts cross the wire as decimal
// strings and are parsed into 128-bit integers at the boundary.
type Handler struct {
	engine *Engine
}

// NewHandler creates the HTTP handler set for an engine.
func NewHandler(e *Engine) *Handler {
	return &Handler{engine: e}
}

// --- Request/Response types ---

// CreatePoolRequest is the JSON body for pool creation.
type CreatePoolRequest struct {
	MarketID         string `json:"market_id"`
	Creator          string `json:"creator"`
	InitialLiquidity string `json:"initial_liquidity"`
}

// TradeRequest is the JSON body for POST /trades/buy and /trades/sell.
// Amount is collateral in for buys and shares in for sells; Minimum is the
// slippage bound on the output (optional, empty = no bound).
type TradeRequest struct {
	Trader   string `json:"trader"`
	MarketID string `json:"market_id"`
	Outcome  string `json:"outcome"`
	Amount   string `json:"amount"`
	Minimum  string `json:"minimum,omitempty"`
}

// TradeResponse is the JSON body returned from trade execution.
type TradeResponse struct {
	TradeID string   `json:"trade_id"`
	Output  string   `json:"output"`
	Fee     string   `json:"fee"`
	Pool    PoolView `json:"pool"`
}

// LiquidityRequest is the JSON body for POST /pools/{marketID}/liquidity.
type LiquidityRequest struct {
	Provider string `json:"provider"`
	Amount   string `json:"amount"`
}

// WithdrawRequest is the JSON body for POST /pools/{marketID}/liquidity/withdraw.
type WithdrawRequest struct {
	Provider string `json:"provider"`
	LPTokens string `json:"lp_tokens"`
}

// --- HTTP Handlers ---

// CreatePool handles POST /api/v1/pools
func (h *Handler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req CreatePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Creator == "" {
		writeError(w, "creator is required", http.StatusBadRequest)
		return
	}

	id, err := model.ParseMarketID(req.MarketID)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(req.InitialLiquidity)
	if err != nil {
		writeError(w, "invalid initial_liquidity", http.StatusBadRequest)
		return
	}

	res, err := h.engine.CreatePool(r.Context(), req.Creator, id, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"lp_minted": res.LPMinted.Dec(),
		"pool":      poolView(res.Pool),
	})
}

// ListPools handles GET /api/v1/pools
func (h *Handler) ListPools(w http.ResponseWriter, r *http.Request) {
	views, err := h.engine.ListPools(r.Context())
	if err != nil {
		writeError(w, "failed to list pools", http.StatusInternalServerError)
		return
	}
	if views == nil {
		views = []PoolView{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

// GetPool handles GET /api/v1/pools/{marketID}
func (h *Handler) GetPool(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}

	view, err := h.engine.PoolState(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

// GetOdds handles GET /api/v1/pools/{marketID}/odds
// A market without a pool reports even odds.
func (h *Handler) GetOdds(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}

	view, err := h.engine.Odds(r.Context(), id)
	if err != nil {
		writeError(w, "failed to compute odds", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

// QuoteBuy handles GET /api/v1/pools/{marketID}/quote?outcome=YES&amount=N
func (h *Handler) QuoteBuy(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}

	outcome, err := model.ParseOutcome(r.URL.Query().Get("outcome"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, "invalid amount", http.StatusBadRequest)
		return
	}

	view, err := h.engine.QuoteBuy(r.Context(), id, outcome, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

// Buy handles POST /api/v1/trades/buy
func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	h.executeTrade(w, r, h.engine.Buy)
}

// Sell handles POST /api/v1/trades/sell
func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	h.executeTrade(w, r, h.engine.Sell)
}

type tradeFunc func(ctx context.Context, trader string, id model.MarketID, outcome model.Outcome, amount, minimum *uint256.Int) (*TradeResult, error)

func (h *Handler) executeTrade(w http.ResponseWriter, r *http.Request, exec tradeFunc) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Trader == "" {
		writeError(w, "trader is required", http.StatusBadRequest)
		return
	}

	id, err := model.ParseMarketID(req.MarketID)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	outcome, err := model.ParseOutcome(req.Outcome)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, "invalid amount", http.StatusBadRequest)
		return
	}

	var minimum *uint256.Int
	if req.Minimum != "" {
		minimum, err = parseAmount(req.Minimum)
		if err != nil {
			writeError(w, "invalid minimum", http.StatusBadRequest)
			return
		}
	}

	res, err := exec(r.Context(), req.Trader, id, outcome, amount, minimum)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(TradeResponse{
		TradeID: res.TradeID,
		Output:  res.Output.Dec(),
		Fee:     res.Fee.Dec(),
		Pool:    poolView(res.Pool),
	})
}

// AddLiquidity handles POST /api/v1/pools/{marketID}/liquidity
func (h *Handler) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}

	var req LiquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Provider == "" {
		writeError(w, "provider is required", http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, "invalid amount", http.StatusBadRequest)
		return
	}

	res, err := h.engine.AddLiquidity(r.Context(), req.Provider, id, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"lp_minted": res.LPMinted.Dec(),
		"pool":      poolView(res.Pool),
	})
}

// RemoveLiquidity handles POST /api/v1/pools/{marketID}/liquidity/withdraw
func (h *Handler) RemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}

	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Provider == "" {
		writeError(w, "provider is required", http.StatusBadRequest)
		return
	}
	lpTokens, err := parseAmount(req.LPTokens)
	if err != nil {
		writeError(w, "invalid lp_tokens", http.StatusBadRequest)
		return
	}

	res, err := h.engine.RemoveLiquidity(r.Context(), req.Provider, id, lpTokens)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"yes_out": res.YesOut.Dec(),
		"no_out":  res.NoOut.Dec(),
		"pool":    poolView(res.Pool),
	})
}

// GetLPPosition handles GET /api/v1/pools/{marketID}/liquidity/{provider}
func (h *Handler) GetLPPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	provider := chi.URLParam(r, "provider")

	view, err := h.engine.LPPosition(r.Context(), id, provider)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

// GetTradeHistory handles GET /api/v1/pools/{marketID}/trades?offset=N&limit=N
func (h *Handler) GetTradeHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	trades, err := h.engine.TradeHistory(r.Context(), id, offset, limit)
	if err != nil {
		writeError(w, "failed to load trade history", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.TradeRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// GetTraderHistory handles GET /api/v1/traders/{trader}/trades
func (h *Handler) GetTraderHistory(w http.ResponseWriter, r *http.Request) {
	trader := chi.URLParam(r, "trader")

	trades, err := h.engine.TraderHistory(r.Context(), trader)
	if err != nil {
		writeError(w, "failed to load trade history", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.TradeRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// GetAnalytics handles GET /api/v1/pools/{marketID}/analytics
func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}

	view, err := h.engine.Analytics(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

// GetGlobalAnalytics handles GET /api/v1/analytics.
func (h *Handler) GetGlobalAnalytics(w http.ResponseWriter, r *http.Request) {
	view, err := h.engine.GlobalAnalytics(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

// GetBalance handles GET /api/v1/balances/{account}
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	balance, err := h.engine.ledger.BalanceOf(r.Context(), account)
	if err != nil {
		writeError(w, "failed to load balance", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"account": account,
		"balance": balance.Dec(),
	})
}

// FaucetRequest is the JSON body for POST /faucet (development only).
type FaucetRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// Faucet handles POST /api/v1/faucet. Only routed when the dev faucet is
// enabled in config; it mints collateral out of thin air.
func (h *Handler) Faucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, "invalid amount", http.StatusBadRequest)
		return
	}

	if err := h.engine.ledger.Mint(r.Context(), req.Account, amount); err != nil {
		writeEngineError(w, err)
		return
	}

	balance, _ := h.engine.ledger.BalanceOf(r.Context(), req.Account)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"account": req.Account,
		"balance": balance.Dec(),
	})
}

// --- Helpers ---

func marketID(w http.ResponseWriter, r *http.Request) (model.MarketID, bool) {
	id, err := model.ParseMarketID(chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return model.MarketID{}, false
	}
	return id, true
}

// parseAmount parses a decimal-string amount into a 128-bit quantity.
func parseAmount(s string) (*uint256.Int, error) {
	x, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, err
	}
	if x.BitLen() > 128 {
		return nil, errors.New("amount exceeds 128-bit range")
	}
	return x, nil
}

// writeEngineError maps engine errors to HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, model.ErrInvalidOutcome), errors.Is(err, model.ErrInvalidMarketID):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrPoolNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrPoolAlreadyExists),
		errors.Is(err, ErrSlippageExceeded),
		errors.Is(err, ErrInsufficientLiquidity),
		errors.Is(err, ErrInsufficientLPBalance),
		errors.Is(err, ErrInvariantViolation),
		errors.Is(err, policy.ErrCapExceeded),
		errors.Is(err, policy.ErrMinimumLiquidityFloor),
		errors.Is(err, token.ErrInsufficientFunds):
		status = http.StatusConflict
	}
	writeError(w, err.Error(), status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
