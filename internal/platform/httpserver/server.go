package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	billingledger "github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger"
	ledgererrors "github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/domain/errors"
	ledgerhttp "github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/transport/http"
)

type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger
	addr   string
	ledger billingledger.Module
}

func New(ledger billingledger.Module, logger *slog.Logger, addr string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:    http.NewServeMux(),
		logger: logger,
		addr:   addr,
		ledger: ledger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler exposes the route table for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /v1/ledger/accounts", s.handleEnsureAccount)
	s.mux.HandleFunc("GET /v1/ledger/accounts/{owner_type}/{owner_id}/balance", s.handleGetBalance)
	s.mux.HandleFunc("GET /v1/ledger/accounts/{owner_type}/{owner_id}/history", s.handleGetHistory)
	s.mux.HandleFunc("GET /v1/ledger/accounts/{owner_type}/{owner_id}/reconcile", s.handleReconcile)
	s.mux.HandleFunc("POST /v1/ledger/transfers", s.handleTransfer)
	s.mux.HandleFunc("POST /v1/ledger/deposits", s.handleDeposit)
	s.mux.HandleFunc("POST /v1/ledger/withdrawals", s.handleWithdraw)
	s.mux.HandleFunc("POST /v1/ledger/purchases", s.handlePurchase)
	s.mux.HandleFunc("GET /v1/ledger/chain/verify", s.handleVerifyChain)

	// Platform treasury has no owner id in its path.
	s.mux.HandleFunc("GET /v1/ledger/accounts/platform/balance", s.handlePlatformBalance)
}

func (s *Server) handleEnsureAccount(w http.ResponseWriter, r *http.Request) {
	var req ledgerhttp.EnsureAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeLedgerError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.ledger.Handler.EnsureAccountHandler(r.Context(), req)
	if err != nil {
		writeLedgerDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	resp, err := s.ledger.Handler.GetBalanceHandler(r.Context(), ownerFromPath(r))
	if err != nil {
		writeLedgerDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePlatformBalance(w http.ResponseWriter, r *http.Request) {
	resp, err := s.ledger.Handler.GetBalanceHandler(r.Context(), ledgerhttp.OwnerDTO{Type: "platform"})
	if err != nil {
		writeLedgerDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := ledgerhttp.HistoryRequest{Owner: ownerFromPath(r)}

	if pageRaw := query.Get("page"); pageRaw != "" {
		page, err := strconv.Atoi(pageRaw)
		if err != nil {
			writeLedgerError(w, http.StatusBadRequest, "invalid_page", "page must be an integer")
			return
		}
		req.Page = page
	}
	if sizeRaw := query.Get("page_size"); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil {
			writeLedgerError(w, http.StatusBadRequest, "invalid_page_size", "page_size must be an integer")
			return
		}
		req.PageSize = size
	}

	resp, err := s.ledger.Handler.GetHistoryHandler(r.Context(), req)
	if err != nil {
		writeLedgerDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	resp, err := s.ledger.Handler.ReconcileHandler(r.Context(), ledgerhttp.ReconcileRequest{Owner: ownerFromPath(r)})
	if err != nil {
		writeLedgerDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req ledgerhttp.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeLedgerError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}
	resp, err := s.ledger.Handler.TransferHandler(r.Context(), req)
	if err != nil {
		writeLedgerDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req ledgerhttp.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeLedgerError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}
	resp, err := s.ledger.Handler.DepositHandler(r.Context(), req)
	if err != nil {
		writeLedgerDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req ledgerhttp.WithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeLedgerError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}
	resp, err := s.ledger.Handler.WithdrawHandler(r.Context(), req)
	if err != nil {
		writeLedgerDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req ledgerhttp.PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeLedgerError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}
	resp, err := s.ledger.Handler.DebitForPurchaseHandler(r.Context(), req)
	if err != nil {
		writeLedgerDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	req := ledgerhttp.VerifyChainRequest{}
	if limitRaw := r.URL.Query().Get("limit"); limitRaw != "" {
		limit, err := strconv.Atoi(limitRaw)
		if err != nil {
			writeLedgerError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
			return
		}
		req.Limit = limit
	}
	resp, err := s.ledger.Handler.VerifyChainHandler(r.Context(), req)
	if err != nil {
		writeLedgerDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func ownerFromPath(r *http.Request) ledgerhttp.OwnerDTO {
	return ledgerhttp.OwnerDTO{
		Type: r.PathValue("owner_type"),
		ID:   r.PathValue("owner_id"),
	}
}

func writeLedgerDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledgererrors.ErrAccountNotFound),
		errors.Is(err, ledgererrors.ErrEntryNotFound):
		writeLedgerError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ledgererrors.ErrInsufficientFunds):
		writeLedgerError(w, http.StatusPaymentRequired, "insufficient_funds", err.Error())
	case errors.Is(err, ledgererrors.ErrIdempotencyConflict),
		errors.Is(err, ledgererrors.ErrDuplicateIdempotencyKey):
		writeLedgerError(w, http.StatusConflict, "idempotency_conflict", err.Error())
	case errors.Is(err, ledgererrors.ErrLockTimeout):
		writeLedgerError(w, http.StatusServiceUnavailable, "lock_timeout", err.Error())
	case errors.Is(err, ledgererrors.ErrInvalidAmount),
		errors.Is(err, ledgererrors.ErrInvalidOwner),
		errors.Is(err, ledgererrors.ErrInvalidTxType),
		errors.Is(err, ledgererrors.ErrInvalidIdempotencyKey),
		errors.Is(err, ledgererrors.ErrSelfTransfer):
		writeLedgerError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		writeLedgerError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeLedgerError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, ledgerhttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
