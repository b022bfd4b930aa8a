package server

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"fiatreserve/core/types"
	"fiatreserve/integrations/exports"
	"fiatreserve/native/reserve"
	"fiatreserve/native/token"
	"fiatreserve/services/reserved/storage"
)

const maxBodyBytes = 1 << 16

type amountRequest struct {
	Amount string `json:"amount"`
}

type allocationRequest struct {
	Allocation string `json:"allocation"`
}

type addressRequest struct {
	Address string `json:"address"`
}

type approveRequest struct {
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type transferRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type pauseRequest struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

type operationResponse struct {
	Operation string              `json:"operation"`
	Result    any                 `json:"result,omitempty"`
	Events    []types.EventRecord `json:"events"`
}

var errBadRequest = errors.New("bad request")

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, string(reserve.KindValidation), "invalid payload")
		return false
	}
	return true
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, errBadRequest
	}
	return amount, nil
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, errBadRequest
	}
	return common.HexToAddress(raw), nil
}

// execute runs fn as one committed operation on behalf of the caller and
// answers with its result and events.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, op string, fn func(caller common.Address) (any, error)) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "unauthenticated", "caller unknown")
		return
	}
	var result any
	records, err := s.app.Runtime.Execute(r.Context(), op, func() error {
		var err error
		result, err = fn(caller)
		return err
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if records == nil {
		records = []types.EventRecord{}
	}
	writeJSON(w, http.StatusOK, operationResponse{Operation: op, Result: result, Events: records})
}

func (s *Server) view(w http.ResponseWriter, r *http.Request, fn func() (any, error)) {
	var result any
	err := s.app.Runtime.View(func() error {
		var err error
		result, err = fn()
		return err
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) withAmount(w http.ResponseWriter, r *http.Request) (*big.Int, bool) {
	var req amountRequest
	if !decode(w, r, &req) {
		return nil, false
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, string(reserve.KindValidation), "amount must be a base-10 integer")
		return nil, false
	}
	return amount, true
}

func (s *Server) withAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	var req addressRequest
	if !decode(w, r, &req) {
		return common.Address{}, false
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, string(reserve.KindValidation), "address must be hex")
		return common.Address{}, false
	}
	return addr, true
}

type reserveStatus struct {
	Address        string          `json:"address"`
	Stable         string          `json:"stable"`
	Fiat           string          `json:"fiat"`
	Strategy       string          `json:"strategy"`
	Initialized    bool            `json:"initialized"`
	Owner          string          `json:"owner"`
	PendingOwner   string          `json:"pendingOwner"`
	Coordinator    string          `json:"coordinator"`
	MintPrice      string          `json:"mintPrice"`
	RedeemPrice    string          `json:"redeemPrice"`
	Position       positionPayload `json:"position"`
	Collateralized bool            `json:"collateralized"`
}

type positionPayload struct {
	Idle       string `json:"idle"`
	Deployed   string `json:"deployed"`
	Total      string `json:"total"`
	Target     string `json:"target"`
	Assets     string `json:"assets"`
	Supply     string `json:"supply"`
	Allocation string `json:"allocation"`
}

func positionFrom(p reserve.Position) positionPayload {
	return positionPayload{
		Idle:       amountString(p.Idle),
		Deployed:   amountString(p.Deployed),
		Total:      amountString(p.Total),
		Target:     amountString(p.Target),
		Assets:     amountString(p.Assets),
		Supply:     amountString(p.Supply),
		Allocation: amountString(p.Allocation),
	}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func (s *Server) handleReserveStatus(w http.ResponseWriter, r *http.Request) {
	res := s.app.Reserve
	s.view(w, r, func() (any, error) {
		initialized, err := res.Initialized()
		if err != nil {
			return nil, err
		}
		owner, err := res.Owner()
		if err != nil {
			return nil, err
		}
		pending, err := res.PendingOwner()
		if err != nil {
			return nil, err
		}
		coordinator, err := res.Coordinator()
		if err != nil {
			return nil, err
		}
		pos, err := res.Position()
		if err != nil {
			return nil, err
		}
		return reserveStatus{
			Address:        res.Address().Hex(),
			Stable:         res.Stable().Address().Hex(),
			Fiat:           res.Fiat().Address().Hex(),
			Strategy:       res.Strategy().Name(),
			Initialized:    initialized,
			Owner:          owner.Hex(),
			PendingOwner:   pending.Hex(),
			Coordinator:    coordinator.Hex(),
			MintPrice:      res.MintPrice().String(),
			RedeemPrice:    res.RedeemPrice().String(),
			Position:       positionFrom(pos),
			Collateralized: pos.Collateralized(),
		}, nil
	})
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, "initialize", func(caller common.Address) (any, error) {
		return nil, s.app.Reserve.Initialize(caller)
	})
}

type exchangeResult struct {
	StableAmount string `json:"stableAmount"`
	FiatAmount   string `json:"fiatAmount"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	amount, ok := s.withAmount(w, r)
	if !ok {
		return
	}
	s.execute(w, r, "mint", func(caller common.Address) (any, error) {
		fiat, err := s.app.Reserve.Mint(caller, amount)
		if err != nil {
			return nil, err
		}
		return exchangeResult{StableAmount: amount.String(), FiatAmount: fiat.String()}, nil
	})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	amount, ok := s.withAmount(w, r)
	if !ok {
		return
	}
	s.execute(w, r, "redeem", func(caller common.Address) (any, error) {
		fiat, err := s.app.Reserve.Redeem(caller, amount)
		if err != nil {
			return nil, err
		}
		return exchangeResult{StableAmount: amount.String(), FiatAmount: fiat.String()}, nil
	})
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	amount, ok := s.withAmount(w, r)
	if !ok {
		return
	}
	s.execute(w, r, "issue", func(caller common.Address) (any, error) {
		return nil, s.app.Reserve.Issue(caller, amount)
	})
}

func (s *Server) handleAllocation(w http.ResponseWriter, r *http.Request) {
	var req allocationRequest
	if !decode(w, r, &req) {
		return
	}
	allocation, err := parseAmount(req.Allocation)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, string(reserve.KindValidation), "allocation must be a base-10 integer")
		return
	}
	s.execute(w, r, "update_allocation", func(caller common.Address) (any, error) {
		return nil, s.app.Reserve.UpdateAllocation(caller, allocation)
	})
}

func (s *Server) handleCoordinator(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.withAddress(w, r)
	if !ok {
		return
	}
	s.execute(w, r, "update_coordinator", func(caller common.Address) (any, error) {
		return nil, s.app.Reserve.UpdateCoordinator(caller, addr)
	})
}

func (s *Server) handlePendingOwner(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.withAddress(w, r)
	if !ok {
		return
	}
	s.execute(w, r, "update_pending_owner", func(caller common.Address) (any, error) {
		return nil, s.app.Reserve.UpdatePendingOwner(caller, addr)
	})
}

func (s *Server) handleAcceptOwner(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, "accept_owner", func(caller common.Address) (any, error) {
		return nil, s.app.Reserve.AcceptOwner(caller)
	})
}

func (s *Server) tokenFromPath(w http.ResponseWriter, r *http.Request) (*token.Token, bool) {
	symbol := chi.URLParam(r, "symbol")
	tok, ok := s.app.Token(symbol)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "not_found", "unknown token "+strings.ToUpper(symbol))
		return nil, false
	}
	return tok, true
}

type tokenInfo struct {
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	Decimals    uint8  `json:"decimals"`
	Address     string `json:"address"`
	TotalSupply string `json:"totalSupply"`
}

func (s *Server) handleTokenInfo(w http.ResponseWriter, r *http.Request) {
	tok, ok := s.tokenFromPath(w, r)
	if !ok {
		return
	}
	s.view(w, r, func() (any, error) {
		supply, err := tok.TotalSupply()
		if err != nil {
			return nil, err
		}
		return tokenInfo{
			Symbol:      tok.Symbol(),
			Name:        tok.Name(),
			Decimals:    tok.Decimals(),
			Address:     tok.Address().Hex(),
			TotalSupply: supply.String(),
		}, nil
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	tok, ok := s.tokenFromPath(w, r)
	if !ok {
		return
	}
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, string(reserve.KindValidation), "address must be hex")
		return
	}
	s.view(w, r, func() (any, error) {
		bal, err := tok.BalanceOf(addr)
		if err != nil {
			return nil, err
		}
		return map[string]string{"symbol": tok.Symbol(), "address": addr.Hex(), "balance": bal.String()}, nil
	})
}

func (s *Server) handleAllowance(w http.ResponseWriter, r *http.Request) {
	tok, ok := s.tokenFromPath(w, r)
	if !ok {
		return
	}
	owner, err := parseAddress(chi.URLParam(r, "owner"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, string(reserve.KindValidation), "owner must be hex")
		return
	}
	spender, err := parseAddress(chi.URLParam(r, "spender"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, string(reserve.KindValidation), "spender must be hex")
		return
	}
	s.view(w, r, func() (any, error) {
		allowance, err := tok.Allowance(owner, spender)
		if err != nil {
			return nil, err
		}
		return map[string]string{"symbol": tok.Symbol(), "allowance": allowance.String()}, nil
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	tok, ok := s.tokenFromPath(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if !decode(w, r, &req) {
		return
	}
	spender, err := parseAddress(req.Spender)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, string(reserve.KindValidation), "spender must be hex")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, string(reserve.KindValidation), "amount must be a base-10 integer")
		return
	}
	s.execute(w, r, "approve", func(caller common.Address) (any, error) {
		return nil, tok.Approve(caller, spender, amount)
	})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	tok, ok := s.tokenFromPath(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !decode(w, r, &req) {
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, string(reserve.KindValidation), "recipient must be hex")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, string(reserve.KindValidation), "amount must be a base-10 integer")
		return
	}
	s.execute(w, r, "transfer", func(caller common.Address) (any, error) {
		return nil, tok.Transfer(caller, to, amount)
	})
}

type marketStats struct {
	Name      string `json:"name"`
	Address   string `json:"address"`
	Cash      string `json:"cash"`
	Borrowed  string `json:"borrowed"`
	Supplied  string `json:"supplied"`
	Index     string `json:"index"`
	SupplyAPY string `json:"supplyApy"`
	BorrowAPR string `json:"borrowApr"`
}

func (s *Server) handleMarketStats(w http.ResponseWriter, r *http.Request) {
	market := s.app.Market
	s.view(w, r, func() (any, error) {
		stats, err := market.Stats()
		if err != nil {
			return nil, err
		}
		return marketStats{
			Name:      stats.Name,
			Address:   market.Address().Hex(),
			Cash:      amountString(stats.Cash),
			Borrowed:  amountString(stats.Borrowed),
			Supplied:  amountString(stats.Supplied),
			Index:     amountString(stats.Index),
			SupplyAPY: stats.SupplyAPY.FloatString(6),
			BorrowAPR: stats.BorrowAPR.FloatString(6),
		}, nil
	})
}

// requireOwner limits simulation and admin endpoints to the reserve owner.
func (s *Server) requireOwner(caller common.Address) error {
	owner, err := s.app.Reserve.Owner()
	if err != nil {
		return err
	}
	if owner == (common.Address{}) || owner != caller {
		return reserve.ErrNotOwner
	}
	return nil
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	amount, ok := s.withAmount(w, r)
	if !ok {
		return
	}
	s.execute(w, r, "market_borrow", func(caller common.Address) (any, error) {
		if err := s.requireOwner(caller); err != nil {
			return nil, err
		}
		return nil, s.app.Market.Borrow(caller, amount)
	})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	amount, ok := s.withAmount(w, r)
	if !ok {
		return
	}
	s.execute(w, r, "market_repay", func(caller common.Address) (any, error) {
		if err := s.requireOwner(caller); err != nil {
			return nil, err
		}
		return nil, s.app.Market.Repay(caller, amount)
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if !decode(w, r, &req) {
		return
	}
	module := strings.ToLower(strings.TrimSpace(req.Module))
	if module == "" {
		writeJSONError(w, http.StatusBadRequest, string(reserve.KindValidation), "module required")
		return
	}
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "unauthenticated", "caller unknown")
		return
	}
	if err := s.app.Runtime.View(func() error { return s.requireOwner(caller) }); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.app.Pauses.Set(module, req.Paused)
	s.logger.Warn("reserved: module pause updated", "module", module, "paused", req.Paused, "caller", caller.Hex())
	writeJSON(w, http.StatusOK, map[string]any{"module": module, "paused": s.app.Pauses.IsPaused(module)})
}

func (s *Server) eventFilter(w http.ResponseWriter, r *http.Request) (storage.EventFilter, bool) {
	q := r.URL.Query()
	after, err := parseCursor(q.Get("after"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, string(reserve.KindValidation), "after must be a non-negative integer")
		return storage.EventFilter{}, false
	}
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSONError(w, http.StatusBadRequest, string(reserve.KindValidation), "limit must be a non-negative integer")
			return storage.EventFilter{}, false
		}
	}
	return storage.EventFilter{After: after, Limit: limit, Type: q.Get("type")}, true
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSONError(w, http.StatusServiceUnavailable, string(reserve.KindUnavailable), "event history not configured")
		return
	}
	filter, ok := s.eventFilter(w, r)
	if !ok {
		return
	}
	records, err := s.store.Events(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": records})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSONError(w, http.StatusServiceUnavailable, string(reserve.KindUnavailable), "event history not configured")
		return
	}
	filter, ok := s.eventFilter(w, r)
	if !ok {
		return
	}
	format := exports.Format(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))))
	if format == "" {
		format = exports.FormatJSONL
	}
	records, err := s.store.Events(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	data, checksum, err := exports.Events(format, records)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, string(reserve.KindValidation), err.Error())
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("X-Checksum-SHA256", checksum)
	w.Header().Set("Content-Disposition", "attachment; filename=events."+string(format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSONError(w, http.StatusServiceUnavailable, string(reserve.KindUnavailable), "snapshot history not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	snaps, err := s.store.Snapshots(r.Context(), limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, map[string]any{
			"id":         snap.ID,
			"idle":       amountString(snap.Idle),
			"deployed":   amountString(snap.Deployed),
			"assets":     amountString(snap.Assets),
			"supply":     amountString(snap.Supply),
			"allocation": amountString(snap.Allocation),
			"recordedAt": snap.RecordedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": out})
}
