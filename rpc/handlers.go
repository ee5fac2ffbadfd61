package rpc

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	nativecommon "rigchain/native/common"
	"rigchain/native/mining"
	"rigchain/native/params"
	"rigchain/native/rig"
	"rigchain/native/sale"
	"rigchain/native/supply"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

// statusFor maps engine sentinels onto HTTP status codes. Unknown errors are
// treated as internal.
func statusFor(err error) int {
	switch {
	case errors.Is(err, rig.ErrRigNotFound),
		errors.Is(err, params.ErrChangeNotFound):
		return http.StatusNotFound
	case errors.Is(err, rig.ErrNotOwner),
		errors.Is(err, params.ErrNotAuthority),
		errors.Is(err, nativecommon.ErrAddressBanned):
		return http.StatusForbidden
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, nativecommon.ErrQuotaClaimsExceeded),
		errors.Is(err, nativecommon.ErrQuotaTokensExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, supply.ErrSupplyCapExceeded),
		errors.Is(err, rig.ErrAlreadyRegistered),
		errors.Is(err, rig.ErrNotRegistered),
		errors.Is(err, rig.ErrRigRegistered),
		errors.Is(err, rig.ErrRigRetired),
		errors.Is(err, sale.ErrReferrerAlreadySet),
		errors.Is(err, params.ErrTimelockNotElapsed),
		errors.Is(err, params.ErrAlreadyExecuted),
		errors.Is(err, params.ErrAlreadyCancelled):
		return http.StatusConflict
	case errors.Is(err, mining.ErrNonMonotonicTime),
		errors.Is(err, mining.ErrHashPowerUnderflow),
		errors.Is(err, mining.ErrHashPowerOverflow),
		errors.Is(err, sale.ErrInvalidAmount),
		errors.Is(err, sale.ErrSelfReferral),
		errors.Is(err, sale.ErrInvalidReferrer),
		errors.Is(err, sale.ErrReferralCycle),
		errors.Is(err, sale.ErrChainTooDeep),
		errors.Is(err, params.ErrUnknownKind):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, into any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(into)
}

func pathAddress(r *http.Request, param string) (common.Address, error) {
	raw := chi.URLParam(r, param)
	if !common.IsHexAddress(raw) {
		return common.Address{}, errors.New("invalid address")
	}
	return common.HexToAddress(raw), nil
}

func bodyAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, errors.New("invalid address")
	}
	return common.HexToAddress(raw), nil
}

func pathRigID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
}

// --- supply ---

type supplyResponse struct {
	Cap          string `json:"cap"`
	Circulating  string `json:"circulating"`
	Headroom     string `json:"headroom"`
	TotalMinted  string `json:"totalMinted"`
	TotalBurned  string `json:"totalBurned"`
	TotalForgone string `json:"totalForgone"`
}

func (s *Server) handleSupply(w http.ResponseWriter, _ *http.Request) {
	snap := s.supply.SnapshotNow()
	s.writeJSON(w, http.StatusOK, supplyResponse{
		Cap:          s.supply.Cap().String(),
		Circulating:  s.supply.Circulating().String(),
		Headroom:     s.supply.Headroom().String(),
		TotalMinted:  snap.TotalMinted.String(),
		TotalBurned:  snap.TotalBurned.String(),
		TotalForgone: snap.TotalForgone.String(),
	})
}

// --- mining ---

type minerResponse struct {
	Owner          string `json:"owner"`
	HashPower      uint64 `json:"hashPower"`
	LastSettlement int64  `json:"lastSettlement"`
	PendingReward  string `json:"pendingReward"`
}

func minerToResponse(acct *mining.MinerAccount) minerResponse {
	pending := "0"
	if acct.PendingReward != nil {
		pending = acct.PendingReward.String()
	}
	return minerResponse{
		Owner:          acct.Owner.Hex(),
		HashPower:      acct.HashPower,
		LastSettlement: acct.LastSettlement,
		PendingReward:  pending,
	}
}

func (s *Server) handleMinerInfo(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	acct, err := s.mining.MinerInfo(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if acct == nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "miner not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, minerToResponse(acct))
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	accrued, err := s.mining.Settle(addr, s.now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"accrued": accrued.String()})
}

type claimResponse struct {
	Minted    string `json:"minted"`
	Remaining string `json:"remaining"`
	Partial   bool   `json:"partial"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	result, err := s.mining.Claim(addr, s.now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, claimResponse{
		Minted:    result.Minted.String(),
		Remaining: result.Remaining.String(),
		Partial:   result.Partial(),
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	balance, err := s.tokens.BalanceOf(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

// --- rigs ---

type rigResponse struct {
	ID         uint64 `json:"id"`
	HashPower  uint64 `json:"hashPower"`
	Owner      string `json:"owner"`
	Registered bool   `json:"registered"`
	Retired    bool   `json:"retired"`
}

func rigToResponse(r *rig.Rig) rigResponse {
	return rigResponse{
		ID:         r.ID,
		HashPower:  r.HashPower,
		Owner:      r.Owner.Hex(),
		Registered: r.Registered,
		Retired:    r.Retired,
	}
}

type openBoxRequest struct {
	Owner string `json:"owner"`
}

func (s *Server) handleOpenBox(w http.ResponseWriter, r *http.Request) {
	var req openBoxRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	owner, err := bodyAddress(req.Owner)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	opened, err := s.rigs.OpenBox(owner, s.now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rigToResponse(opened))
}

func (s *Server) handleRigInfo(w http.ResponseWriter, r *http.Request) {
	id, err := pathRigID(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	info, err := s.rigs.Info(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rigToResponse(info))
}

type callerRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) rigAction(w http.ResponseWriter, r *http.Request, action func(id uint64, caller common.Address, now int64) error) {
	id, err := pathRigID(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	var req callerRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	caller, err := bodyAddress(req.Caller)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := action(id, caller, s.now()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	s.rigAction(w, r, s.rigs.Register)
}

func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	s.rigAction(w, r, s.rigs.Deregister)
}

func (s *Server) handleRetire(w http.ResponseWriter, r *http.Request) {
	s.rigAction(w, r, s.rigs.Retire)
}

type transferRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := pathRigID(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	from, err := bodyAddress(req.From)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	to, err := bodyAddress(req.To)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.rigs.Transfer(id, from, to, s.now()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- sale ---

type setReferrerRequest struct {
	Referred string `json:"referred"`
	Referrer string `json:"referrer"`
}

func (s *Server) handleSetReferrer(w http.ResponseWriter, r *http.Request) {
	var req setReferrerRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	referred, err := bodyAddress(req.Referred)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	referrer, err := bodyAddress(req.Referrer)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.sale.SetReferrer(referred, referrer); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type purchaseRequest struct {
	Buyer        string `json:"buyer"`
	StableAmount string `json:"stableAmount"`
}

type payoutResponse struct {
	Level      uint32 `json:"level"`
	Recipient  string `json:"recipient"`
	Amount     string `json:"amount"`
	ToTreasury bool   `json:"toTreasury"`
}

type purchaseResponse struct {
	Receipt     string           `json:"receipt"`
	Buyer       string           `json:"buyer"`
	StableIn    string           `json:"stableIn"`
	TokenAmount string           `json:"tokenAmount"`
	BurnAmount  string           `json:"burnAmount"`
	Remainder   string           `json:"remainder"`
	Payouts     []payoutResponse `json:"payouts"`
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	buyer, err := bodyAddress(req.Buyer)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	stable, ok := new(big.Int).SetString(req.StableAmount, 10)
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid stableAmount"})
		return
	}
	receipt, err := s.sale.Purchase(buyer, stable, s.now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	payouts := make([]payoutResponse, 0, len(receipt.Payouts))
	for _, p := range receipt.Payouts {
		payouts = append(payouts, payoutResponse{
			Level:      p.Level,
			Recipient:  p.Recipient.Hex(),
			Amount:     p.Amount.String(),
			ToTreasury: p.ToTreasury,
		})
	}
	s.writeJSON(w, http.StatusOK, purchaseResponse{
		Receipt:     receipt.ID,
		Buyer:       receipt.Buyer.Hex(),
		StableIn:    receipt.StableIn.String(),
		TokenAmount: receipt.TokenAmount.String(),
		BurnAmount:  receipt.BurnAmount.String(),
		Remainder:   receipt.Remainder.String(),
		Payouts:     payouts,
	})
}

// --- params ---

type changeRequest struct {
	Caller  string          `json:"caller"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type changeResponse struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	RequestedAt  int64  `json:"requestedAt"`
	ExecutableAt int64  `json:"executableAt"`
	Executed     bool   `json:"executed"`
	Cancelled    bool   `json:"cancelled"`
}

func changeToResponse(c *params.PendingChange) changeResponse {
	return changeResponse{
		ID:           c.ID,
		Kind:         c.Kind,
		RequestedAt:  c.RequestedAt,
		ExecutableAt: c.ExecutableAt,
		Executed:     c.Executed,
		Cancelled:    c.Cancelled,
	}
}

func (s *Server) handleRequestChange(w http.ResponseWriter, r *http.Request) {
	var req changeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	caller, err := bodyAddress(req.Caller)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	change, err := s.timelock.Request(caller, req.Kind, req.Payload, s.now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, changeToResponse(change))
}

func (s *Server) changeAction(w http.ResponseWriter, r *http.Request, action func(caller common.Address, id string, now int64) error) {
	id := chi.URLParam(r, "id")
	var req callerRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	caller, err := bodyAddress(req.Caller)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := action(caller, id, s.now()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleExecuteChange(w http.ResponseWriter, r *http.Request) {
	s.changeAction(w, r, s.timelock.Execute)
}

func (s *Server) handleCancelChange(w http.ResponseWriter, r *http.Request) {
	s.changeAction(w, r, s.timelock.Cancel)
}

func (s *Server) handlePendingChange(w http.ResponseWriter, r *http.Request) {
	change, err := s.timelock.Pending(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, changeToResponse(change))
}
