package rpc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"

	"tradevault/audit"
	"tradevault/core/types"
	"tradevault/crypto"
	"tradevault/native/vault"
)

// amountParam accepts decimal strings so callers never lose precision to
// JSON number parsing.
type amountParam string

func (a amountParam) value(field string, required bool) (*big.Int, error) {
	trimmed := string(a)
	if trimmed == "" {
		if required {
			return nil, fmt.Errorf("%s required", field)
		}
		return nil, nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("%s must be a non-negative decimal string", field)
	}
	return value, nil
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected a single params object")
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

func decodeVaultID(raw string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid vault id: %w", err)
	}
	return addr, nil
}

func decodePayload(raw string) ([]byte, error) {
	if raw == "" {
		return nil, nil
	}
	payload, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("payload must be base64: %w", err)
	}
	return payload, nil
}

type paramsPayload struct {
	SwapEngine     string      `json:"swapEngine"`
	PositionEngine string      `json:"positionEngine"`
	CooldownSecs   int64       `json:"cooldownSeconds"`
	PerTradeCap    amountParam `json:"perTradeCap"`
	DailyCap       amountParam `json:"dailyCap"`
	MaxPositions   uint32      `json:"maxPositions"`
	MaxEscrow      amountParam `json:"maxEscrow"`
}

func (p paramsPayload) toVaultParams() (vault.VaultParams, error) {
	perTrade, err := p.PerTradeCap.value("perTradeCap", true)
	if err != nil {
		return vault.VaultParams{}, err
	}
	daily, err := p.DailyCap.value("dailyCap", true)
	if err != nil {
		return vault.VaultParams{}, err
	}
	maxEscrow, err := p.MaxEscrow.value("maxEscrow", true)
	if err != nil {
		return vault.VaultParams{}, err
	}
	return vault.VaultParams{
		SwapEngine:     p.SwapEngine,
		PositionEngine: p.PositionEngine,
		Cooldown:       p.CooldownSecs,
		PerTradeCap:    perTrade,
		DailyCap:       daily,
		MaxPositions:   p.MaxPositions,
		MaxEscrow:      maxEscrow,
	}, nil
}

type vaultView struct {
	ID             string `json:"id"`
	Owner          string `json:"owner"`
	Authority      string `json:"authority"`
	Paused         bool   `json:"paused"`
	SwapEngine     string `json:"swapEngine"`
	PositionEngine string `json:"positionEngine"`
	CooldownSecs   int64  `json:"cooldownSeconds"`
	PerTradeCap    string `json:"perTradeCap"`
	DailyCap       string `json:"dailyCap"`
	MaxPositions   uint32 `json:"maxPositions"`
	MaxEscrow      string `json:"maxEscrow"`
	TotalEscrowed  string `json:"totalEscrowed"`
	DayIndex       int64  `json:"dayIndex"`
	DailyUsed      string `json:"dailyUsed"`
	LastTradeAt    int64  `json:"lastTradeAt"`
	LastOrderID    uint64 `json:"lastOrderId"`
	TradeCount     uint64 `json:"tradeCount"`
	CreatedAt      int64  `json:"createdAt"`
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func newVaultView(v *vault.Vault) vaultView {
	return vaultView{
		ID:             v.ID.String(),
		Owner:          v.Owner.String(),
		Authority:      v.Authority.String(),
		Paused:         v.Paused,
		SwapEngine:     v.SwapEngine,
		PositionEngine: v.PositionEngine,
		CooldownSecs:   v.Cooldown,
		PerTradeCap:    amountString(v.PerTradeCap),
		DailyCap:       amountString(v.DailyCap),
		MaxPositions:   v.MaxPositions,
		MaxEscrow:      amountString(v.MaxEscrow),
		TotalEscrowed:  amountString(v.TotalEscrowed),
		DayIndex:       v.DayIndex,
		DailyUsed:      amountString(v.DailyUsed),
		LastTradeAt:    v.LastTradeAt,
		LastOrderID:    v.LastOrderID,
		TradeCount:     v.TradeCount,
		CreatedAt:      v.CreatedAt,
	}
}

type executorView struct {
	Executor    string `json:"executor"`
	Enabled     bool   `json:"enabled"`
	PerTradeCap string `json:"perTradeCap"`
	DailyCap    string `json:"dailyCap"`
	DayIndex    int64  `json:"dayIndex"`
	DailyUsed   string `json:"dailyUsed"`
	LastTradeAt int64  `json:"lastTradeAt"`
}

func newExecutorView(rec *vault.ExecutorRecord) executorView {
	return executorView{
		Executor:    rec.Executor.String(),
		Enabled:     rec.Enabled,
		PerTradeCap: amountString(rec.PerTradeCap),
		DailyCap:    amountString(rec.DailyCap),
		DayIndex:    rec.DayIndex,
		DailyUsed:   amountString(rec.DailyUsed),
		LastTradeAt: rec.LastTradeAt,
	}
}

type positionView struct {
	ID        uint64 `json:"id"`
	Handle    string `json:"handle,omitempty"`
	AssetIn   string `json:"assetIn"`
	AssetOut  string `json:"assetOut"`
	Deposited string `json:"deposited"`
	CreatedAt int64  `json:"createdAt"`
	Active    bool   `json:"active"`
}

func newPositionView(p *vault.Position) positionView {
	return positionView{
		ID:        p.ID,
		Handle:    p.Handle,
		AssetIn:   p.AssetIn,
		AssetOut:  p.AssetOut,
		Deposited: amountString(p.Deposited),
		CreatedAt: p.CreatedAt,
		Active:    p.Active,
	}
}

func (s *Server) handleInitialize(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller crypto.Address) {
	var payload paramsPayload
	if err := decodeParams(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	params, err := payload.toVaultParams()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	created, err := s.node.Initialize(caller, params)
	if err != nil {
		writeVaultError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newVaultView(created))
}

type vaultOnlyPayload struct {
	Vault string `json:"vault"`
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller crypto.Address) {
	s.setPaused(w, req, caller, true)
}

func (s *Server) handleUnpause(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller crypto.Address) {
	s.setPaused(w, req, caller, false)
}

func (s *Server) setPaused(w http.ResponseWriter, req *RPCRequest, caller crypto.Address, paused bool) {
	var payload vaultOnlyPayload
	if err := decodeParams(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	vaultID, err := decodeVaultID(payload.Vault)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if paused {
		err = s.node.Pause(vaultID, caller)
	} else {
		err = s.node.Unpause(vaultID, caller)
	}
	if err != nil {
		writeVaultError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"paused": paused})
}

func (s *Server) handleSetParams(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller crypto.Address) {
	var payload struct {
		Vault string `json:"vault"`
		paramsPayload
	}
	if err := decodeParams(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	vaultID, err := decodeVaultID(payload.Vault)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	params, err := payload.toVaultParams()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	updated, err := s.node.SetParams(vaultID, caller, params)
	if err != nil {
		writeVaultError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newVaultView(updated))
}

type mintPayload struct {
	Vault string `json:"vault"`
	Asset string `json:"asset"`
}

func (s *Server) handleAddMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller crypto.Address) {
	s.changeMint(w, req, caller, true)
}

func (s *Server) handleRemoveMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller crypto.Address) {
	s.changeMint(w, req, caller, false)
}

func (s *Server) changeMint(w http.ResponseWriter, req *RPCRequest, caller crypto.Address, add bool) {
	var payload mintPayload
	if err := decodeParams(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	vaultID, err := decodeVaultID(payload.Vault)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if add {
		err = s.node.AddMint(vaultID, caller, payload.Asset)
	} else {
		err = s.node.RemoveMint(vaultID, caller, payload.Asset)
	}
	if err != nil {
		writeVaultError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"asset": payload.Asset})
}

func (s *Server) handleSetExecutor(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller crypto.Address) {
	var payload struct {
		Vault       string      `json:"vault"`
		Executor    string      `json:"executor"`
		Enabled     bool        `json:"enabled"`
		PerTradeCap amountParam `json:"perTradeCap"`
		DailyCap    amountParam `json:"dailyCap"`
	}
	if err := decodeParams(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	vaultID, err := decodeVaultID(payload.Vault)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	executor, err := crypto.DecodeAddress(payload.Executor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("invalid executor: %v", err), nil)
		return
	}
	perTrade, err := payload.PerTradeCap.value("perTradeCap", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	daily, err := payload.DailyCap.value("dailyCap", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	rec, err := s.node.SetExecutor(vaultID, caller, executor, payload.Enabled, perTrade, daily)
	if err != nil {
		writeVaultError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newExecutorView(rec))
}

type fundsPayload struct {
	Vault  string      `json:"vault"`
	Asset  string      `json:"asset"`
	Amount amountParam `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller crypto.Address) {
	s.moveFunds(w, req, caller, true)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller crypto.Address) {
	s.moveFunds(w, req, caller, false)
}

func (s *Server) moveFunds(w http.ResponseWriter, req *RPCRequest, caller crypto.Address, deposit bool) {
	var payload fundsPayload
	if err := decodeParams(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	vaultID, err := decodeVaultID(payload.Vault)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := payload.Amount.value("amount", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	var balance *big.Int
	if deposit {
		balance, err = s.node.Deposit(vaultID, caller, payload.Asset, amount)
	} else {
		balance, err = s.node.Withdraw(vaultID, caller, payload.Asset, amount)
	}
	if err != nil {
		writeVaultError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"asset":   payload.Asset,
		"balance": amountString(balance),
	})
}

func (s *Server) handleExecuteSwap(w http.ResponseWriter, r *http.Request, req *RPCRequest, caller crypto.Address) {
	var payload struct {
		Vault    string      `json:"vault"`
		AssetIn  string      `json:"assetIn"`
		AssetOut string      `json:"assetOut"`
		AmountIn amountParam `json:"amountIn"`
		MinOut   amountParam `json:"minOut"`
		OrderID  uint64      `json:"orderId"`
		Payload  string      `json:"payload,omitempty"`
	}
	if err := decodeParams(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	vaultID, err := decodeVaultID(payload.Vault)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amountIn, err := payload.AmountIn.value("amountIn", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	minOut, err := payload.MinOut.value("minOut", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	raw, err := decodePayload(payload.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	result, err := s.node.ExecuteSwap(r.Context(), vaultID, caller, vault.SwapParams{
		AssetIn:  payload.AssetIn,
		AssetOut: payload.AssetOut,
		AmountIn: amountIn,
		MinOut:   minOut,
		OrderID:  payload.OrderID,
		Payload:  raw,
	})
	if err != nil {
		writeVaultError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"spentIn":     amountString(result.SpentIn),
		"receivedOut": amountString(result.ReceivedOut),
		"dailyUsed":   amountString(result.DailyUsed),
		"tradeCount":  result.TradeCount,
		"timestamp":   result.Timestamp,
	})
}

func (s *Server) handleOpenPosition(w http.ResponseWriter, r *http.Request, req *RPCRequest, caller crypto.Address) {
	var payload struct {
		Vault        string      `json:"vault"`
		PositionID   uint64      `json:"positionId"`
		AssetIn      string      `json:"assetIn"`
		AssetOut     string      `json:"assetOut"`
		TotalDeposit amountParam `json:"totalDeposit"`
		OrderID      uint64      `json:"orderId"`
		Payload      string      `json:"payload,omitempty"`
	}
	if err := decodeParams(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	vaultID, err := decodeVaultID(payload.Vault)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	deposit, err := payload.TotalDeposit.value("totalDeposit", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	raw, err := decodePayload(payload.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	result, err := s.node.OpenPosition(r.Context(), vaultID, caller, vault.OpenPositionParams{
		PositionID:   payload.PositionID,
		AssetIn:      payload.AssetIn,
		AssetOut:     payload.AssetOut,
		TotalDeposit: deposit,
		OrderID:      payload.OrderID,
		Payload:      raw,
	})
	if err != nil {
		writeVaultError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"position":      newPositionView(result.Position),
		"totalEscrowed": amountString(result.TotalEscrowed),
		"timestamp":     result.Timestamp,
	})
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request, req *RPCRequest, caller crypto.Address) {
	var payload struct {
		Vault      string `json:"vault"`
		PositionID uint64 `json:"positionId"`
		Payload    string `json:"payload,omitempty"`
	}
	if err := decodeParams(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	vaultID, err := decodeVaultID(payload.Vault)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	raw, err := decodePayload(payload.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	result, err := s.node.ClosePosition(r.Context(), vaultID, caller, payload.PositionID, raw)
	if err != nil {
		writeVaultError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"position":      newPositionView(result.Position),
		"refund":        amountString(result.Refund),
		"totalEscrowed": amountString(result.TotalEscrowed),
		"timestamp":     result.Timestamp,
	})
}

func (s *Server) handleGetVault(w http.ResponseWriter, req *RPCRequest) {
	var payload vaultOnlyPayload
	if err := decodeParams(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	vaultID, err := decodeVaultID(payload.Vault)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	v, err := s.node.Vault(vaultID)
	if err != nil {
		writeVaultError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newVaultView(v))
}

func (s *Server) handleGetExecutor(w http.ResponseWriter, req *RPCRequest) {
	var payload struct {
		Vault    string `json:"vault"`
		Executor string `json:"executor"`
	}
	if err := decodeParams(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	vaultID, err := decodeVaultID(payload.Vault)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	executor, err := crypto.DecodeAddress(payload.Executor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("invalid executor: %v", err), nil)
		return
	}
	rec, ok, err := s.node.Executor(vaultID, executor)
	if err != nil {
		writeVaultError(w, req.ID, err)
		return
	}
	if !ok {
		writeResult(w, req.ID, nil)
		return
	}
	writeResult(w, req.ID, newExecutorView(rec))
}

func (s *Server) handleGetPosition(w http.ResponseWriter, req *RPCRequest) {
	var payload struct {
		Vault      string `json:"vault"`
		PositionID uint64 `json:"positionId"`
	}
	if err := decodeParams(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	vaultID, err := decodeVaultID(payload.Vault)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	pos, ok, err := s.node.Position(vaultID, payload.PositionID)
	if err != nil {
		writeVaultError(w, req.ID, err)
		return
	}
	if !ok {
		writeResult(w, req.ID, nil)
		return
	}
	writeResult(w, req.ID, newPositionView(pos))
}

func (s *Server) handleGetBalance(w http.ResponseWriter, req *RPCRequest) {
	var payload struct {
		Vault string `json:"vault"`
		Asset string `json:"asset"`
	}
	if err := decodeParams(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	vaultID, err := decodeVaultID(payload.Vault)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	balance, err := s.node.CustodyBalance(vaultID, payload.Asset)
	if err != nil {
		writeVaultError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"asset":   payload.Asset,
		"balance": amountString(balance),
	})
}

func (s *Server) handleGetWhitelist(w http.ResponseWriter, req *RPCRequest) {
	var payload vaultOnlyPayload
	if err := decodeParams(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	vaultID, err := decodeVaultID(payload.Vault)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	assets, err := s.node.WhitelistedAssets(vaultID)
	if err != nil {
		writeVaultError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"assets": assets})
}

type eventView struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Timestamp  int64             `json:"timestamp"`
	Attributes map[string]string `json:"attributes"`
}

func newEventView(evt types.Event) eventView {
	return eventView{
		Sequence:   evt.Sequence,
		Type:       evt.Type,
		Timestamp:  evt.Timestamp,
		Attributes: evt.Attributes,
	}
}

func (s *Server) handleGetEvents(w http.ResponseWriter, req *RPCRequest) {
	if s.aud == nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, "event store not configured", nil)
		return
	}
	var payload struct {
		Vault         string `json:"vault,omitempty"`
		Type          string `json:"type,omitempty"`
		AfterSequence uint64 `json:"afterSequence,omitempty"`
		Limit         int    `json:"limit,omitempty"`
	}
	if err := decodeParams(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	events, err := s.aud.Events(audit.Query{
		Vault:         payload.Vault,
		Type:          payload.Type,
		AfterSequence: payload.AfterSequence,
		Limit:         payload.Limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	views := make([]eventView, 0, len(events))
	for _, evt := range events {
		views = append(views, newEventView(evt))
	}
	writeResult(w, req.ID, views)
}
