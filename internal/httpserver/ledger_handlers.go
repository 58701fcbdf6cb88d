package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tokligence/tokligence-ledger/internal/account"
	"github.com/tokligence/tokligence-ledger/internal/ledger"
)

type balanceChangeRequest struct {
	UserID string          `json:"userId"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
	TxID   string          `json:"txId"`
}

// balanceChangeResponse mirrors the coordinator's structured result.
type balanceChangeResponse struct {
	Success   bool             `json:"success"`
	Balance   *decimal.Decimal `json:"balance,omitempty"`
	TxID      string           `json:"txId"`
	Error     string           `json:"error,omitempty"`
	ErrorCode string           `json:"errorCode,omitempty"`
}

func (s *Server) handleDeduct(w http.ResponseWriter, r *http.Request) {
	s.handleBalanceChange(w, r, s.coordinator.Deduct)
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	s.handleBalanceChange(w, r, s.coordinator.Credit)
}

func (s *Server) handleBalanceChange(w http.ResponseWriter, r *http.Request, apply func(context.Context, string, decimal.Decimal, string, string) ledger.Result) {
	var req balanceChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	res := apply(r.Context(), req.UserID, req.Amount, req.Reason, req.TxID)

	resp := balanceChangeResponse{
		Success: res.Success,
		TxID:    res.TxID,
	}
	if res.Success {
		balance := res.Balance
		resp.Balance = &balance
		s.respondJSON(w, http.StatusOK, resp)
		return
	}

	resp.Error = ledger.Message(res.Err)
	resp.ErrorCode = ledger.Code(res.Err)
	// Business outcomes stay 200 so clients branch on the body; only a
	// storage failure that exhausted its retries is a server error.
	status := http.StatusOK
	if errors.Is(res.Err, ledger.ErrStorage) {
		status = http.StatusInternalServerError
	}
	s.respondJSON(w, status, resp)
}

type createAccountRequest struct {
	UserID  string          `json:"userId"`
	Balance decimal.Decimal `json:"balance"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	acct := &account.Account{UserID: req.UserID, Balance: req.Balance}
	err := s.accounts.Create(r.Context(), acct)
	switch {
	case errors.Is(err, account.ErrInvalidID):
		s.respondError(w, http.StatusBadRequest, err)
	case errors.Is(err, account.ErrExists):
		s.respondError(w, http.StatusConflict, err)
	case err != nil:
		s.respondError(w, http.StatusInternalServerError, err)
	default:
		s.logger.Printf("event=account_created user=%s balance=%s", acct.UserID, acct.Balance)
		s.respondJSON(w, http.StatusCreated, map[string]any{"account": acct})
	}
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	acct, err := s.accounts.Get(r.Context(), userID)
	switch {
	case errors.Is(err, account.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err)
	case err != nil:
		s.respondError(w, http.StatusInternalServerError, err)
	default:
		s.respondJSON(w, http.StatusOK, map[string]any{"account": acct})
	}
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	txns, err := s.coordinator.Transactions(r.Context(), userID, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if txns == nil {
		txns = []ledger.Transaction{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"transactions": txns})
}
