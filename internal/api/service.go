// Package api provides the HTTP gateway to the chain: transaction
// submission, raw contract queries, REST views over positions and
// collateral prices, block production and a WebSocket event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/mirror-engine/internal/collateral"
	"github.com/atmx/mirror-engine/internal/host"
	"github.com/atmx/mirror-engine/internal/metrics"
	"github.com/atmx/mirror-engine/internal/mint"
	"github.com/atmx/mirror-engine/internal/model"
	"github.com/atmx/mirror-engine/internal/store"
)

// Addresses are the contracts the REST views read from.
type Addresses struct {
	Mint       string
	Collateral string
}

// Service serves the gateway. The chain serializes transactions itself.
type Service struct {
	chain         *host.Chain
	addrs         Addresses
	blockInterval time.Duration
	wsHub         *WSHub // optional
}

// NewService creates a gateway over chain. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(chain *host.Chain, addrs Addresses, blockInterval time.Duration, hub *WSHub) *Service {
	return &Service{
		chain:         chain,
		addrs:         addrs,
		blockInterval: blockInterval,
		wsHub:         hub,
	}
}

// Routes mounts the gateway under r. limiter may be nil.
func (s *Service) Routes(r chi.Router, limiter *RateLimiter) {
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}
	if limiter != nil {
		r.With(limiter.Middleware).Post("/tx", s.SubmitTx)
	} else {
		r.Post("/tx", s.SubmitTx)
	}
	r.Post("/query/{contract}", s.Query)

	r.Get("/positions", s.ListPositions)
	r.Get("/positions/{idx}", s.GetPosition)
	r.Get("/collaterals/{asset}/price", s.GetCollateralPrice)
	r.Get("/balances/{addr}/{denom}", s.GetBalance)

	r.Get("/blocks/latest", s.LatestBlock)
	r.Post("/blocks", s.AdvanceBlock)
}

// TxRequest is the JSON body for POST /tx.
type TxRequest struct {
	Sender   string          `json:"sender"`
	Contract string          `json:"contract"`
	Msg      json.RawMessage `json:"msg"`
	Funds    string          `json:"funds,omitempty"` // e.g. "1000uusd,5uluna"
}

// BlockRequest is the JSON body for POST /blocks.
type BlockRequest struct {
	Seconds int64 `json:"seconds,omitempty"`
}

// SubmitTx handles POST /api/v1/tx.
func (s *Service) SubmitTx(w http.ResponseWriter, r *http.Request) {
	var req TxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Sender == "" || req.Contract == "" || len(req.Msg) == 0 {
		writeError(w, "sender, contract and msg are required", http.StatusBadRequest)
		return
	}
	funds, err := model.ParseCoins(req.Funds)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	res, err := s.chain.ExecuteRaw(r.Context(), req.Sender, req.Contract, req.Msg, funds)
	metrics.TxLatency.WithLabelValues(req.Contract).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TxTotal.WithLabelValues(req.Contract, "rejected").Inc()
		slog.Info("tx rejected",
			"sender", req.Sender,
			"contract", req.Contract,
			"err", err,
		)
		writeError(w, err.Error(), statusFor(err))
		return
	}
	metrics.TxTotal.WithLabelValues(req.Contract, "committed").Inc()
	s.observe(res)

	slog.Info("tx committed",
		"tx_id", res.ID,
		"height", res.Height,
		"sender", req.Sender,
		"contract", req.Contract,
		"events", len(res.Events),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "tx_committed",
			TxID:     res.ID,
			Height:   res.Height,
			Sender:   req.Sender,
			Contract: req.Contract,
			Events:   res.Events,
		})
	}

	writeJSON(w, http.StatusOK, res)
}

// observe updates position metrics from the mint contract's events.
func (s *Service) observe(res *host.TxResult) {
	for _, ev := range res.Events {
		if ev.Type != "wasm" || ev.Contract != s.addrs.Mint {
			continue
		}
		switch ev.Attr("action") {
		case "open_position":
			metrics.PositionsOpened.WithLabelValues(ev.Attr("is_short")).Inc()
		case "auction":
			metrics.Liquidations.WithLabelValues(assetOf(ev.Attr("liquidated_amount"))).Inc()
		}
		if ev.Attr("closed") == "true" {
			metrics.PositionsClosed.Inc()
		}
	}
}

// assetOf strips the amount from an "{amount}{asset}" attribute.
func assetOf(amount string) string {
	return strings.TrimLeft(amount, "0123456789.")
}

// Query handles POST /api/v1/query/{contract}. The body is the raw query
// message and the contract's response is returned verbatim.
func (s *Service) Query(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	res, err := s.chain.QueryRaw(r.Context(), chi.URLParam(r, "contract"), raw)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(res)
}

// GetPosition handles GET /api/v1/positions/{idx}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.ParseUint(chi.URLParam(r, "idx"), 10, 64)
	if err != nil {
		writeError(w, "position index must be an unsigned integer", http.StatusBadRequest)
		return
	}
	var p mint.PositionResponse
	if err := s.chain.Query(r.Context(), s.addrs.Mint, mint.QueryMsg{Position: &mint.PositionQuery{PositionIdx: idx}}, &p); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListPositions handles GET /api/v1/positions
// Optional filters: ?owner=, ?asset=, ?start_after=, ?limit=, ?order_by=asc|desc.
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	q, err := positionsQuery(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var res mint.PositionsResponse
	if err := s.chain.Query(r.Context(), s.addrs.Mint, mint.QueryMsg{Positions: q}, &res); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func positionsQuery(r *http.Request) (*mint.PositionsQuery, error) {
	v := r.URL.Query()
	q := &mint.PositionsQuery{}
	if owner := v.Get("owner"); owner != "" {
		q.OwnerAddr = &owner
	}
	if asset := v.Get("asset"); asset != "" {
		q.AssetToken = &asset
	}
	if sa := v.Get("start_after"); sa != "" {
		n, err := strconv.ParseUint(sa, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid start_after %q", sa)
		}
		q.StartAfter = &n
	}
	if l := v.Get("limit"); l != "" {
		n, err := strconv.ParseUint(l, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid limit %q", l)
		}
		limit := uint32(n)
		q.Limit = &limit
	}
	if o := v.Get("order_by"); o != "" {
		order := model.OrderBy(o)
		if err := order.Validate(); err != nil {
			return nil, err
		}
		q.OrderBy = &order
	}
	return q, nil
}

// GetCollateralPrice handles GET /api/v1/collaterals/{asset}/price
func (s *Service) GetCollateralPrice(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	res, err := collateral.QueryPrice(r.Context(), s.chain, s.addrs.Collateral, asset, s.chain.Block().Seconds())
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetBalance handles GET /api/v1/balances/{addr}/{denom}
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	coin, err := s.chain.Balance(r.Context(), chi.URLParam(r, "addr"), chi.URLParam(r, "denom"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, coin)
}

// LatestBlock handles GET /api/v1/blocks/latest
func (s *Service) LatestBlock(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.chain.Block())
}

// AdvanceBlock handles POST /api/v1/blocks
// Advances the chain by one block. The body may override the block interval.
func (s *Service) AdvanceBlock(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Seconds < 0 {
		writeError(w, "seconds must not be negative", http.StatusBadRequest)
		return
	}
	d := s.blockInterval
	if req.Seconds > 0 {
		d = time.Duration(req.Seconds) * time.Second
	}
	block, err := s.chain.NextBlock(r.Context(), d)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	metrics.BlockHeight.Set(float64(block.Height))
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: "new_block", Height: block.Height})
	}
	writeJSON(w, http.StatusOK, block)
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, host.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, host.ErrUnknownContract),
		errors.Is(err, collateral.ErrAssetNotFound),
		errors.Is(err, collateral.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
