package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"rentflow/auth"
	"rentflow/custody"
	"rentflow/dispute"
	"rentflow/ledger"
	"rentflow/metrics"
	"rentflow/receipt"
	"rentflow/rental"
	"rentflow/timeline"
)

type ctxKey string

const (
	ctxKeyAddress ctxKey = "address"
	ctxKeyRole    ctxKey = "role"
)

// TimelineReader is satisfied by the in-memory and PostgreSQL journals.
type TimelineReader interface {
	ListByPosition(ctx context.Context, positionID uint64) ([]timeline.Event, error)
}

// Server is the JSON adapter over the rental services.
type Server struct {
	authService     *auth.Service
	rentals         *rental.Service
	disputes        *dispute.Resolver
	ledger          *ledger.Ledger
	assets          *custody.MemoryRegistry
	assetCollection string
	timeline        TimelineReader
	log             logrus.FieldLogger
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/tokens", s.handleIssueToken).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(s.requireCaller)
	authed.HandleFunc("/assets", s.handleMintAsset).Methods(http.MethodPost)
	authed.HandleFunc("/positions", s.handleListPositions).Methods(http.MethodGet)
	authed.HandleFunc("/positions", s.handleRegister).Methods(http.MethodPost)
	authed.HandleFunc("/positions/{id}", s.handleGetPosition).Methods(http.MethodGet)
	authed.HandleFunc("/positions/{id}", s.handleUnregister).Methods(http.MethodDelete)
	authed.HandleFunc("/positions/{id}/timeline", s.handleTimeline).Methods(http.MethodGet)
	authed.HandleFunc("/positions/{id}/requests", s.handleRequestRent).Methods(http.MethodPost)
	authed.HandleFunc("/positions/{id}/approval", s.handleApproval).Methods(http.MethodPost)
	authed.HandleFunc("/positions/{id}/completion", s.handleCompletion).Methods(http.MethodPost)
	authed.HandleFunc("/positions/{id}/violations", s.handleViolation).Methods(http.MethodPost)
	authed.HandleFunc("/positions/{id}/settlement", s.handleSettlement).Methods(http.MethodPost)
	authed.HandleFunc("/positions/{id}/disposition", s.handleDisposition).Methods(http.MethodPost)
	authed.HandleFunc("/balances/withdrawals", s.handleWithdrawBalance).Methods(http.MethodPost)
	authed.HandleFunc("/balances/{address}", s.handleBalance).Methods(http.MethodGet)
	authed.HandleFunc("/fees", s.handleFees).Methods(http.MethodGet)
	authed.HandleFunc("/fees/ratio", s.handleSetFeeRatio).Methods(http.MethodPut)
	authed.HandleFunc("/fees/withdrawals", s.handleWithdrawFees).Methods(http.MethodPost)
	authed.HandleFunc("/penalties/payments", s.handlePayPenalty).Methods(http.MethodPost)

	return r
}

// requireCaller resolves the bearer token into the caller's address and role.
func (s *Server) requireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		caller, err := s.authService.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyAddress, caller.Address)
		ctx = context.WithValue(ctx, ctxKeyRole, caller.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerFrom(r *http.Request) ledger.Address {
	address, _ := r.Context().Value(ctxKeyAddress).(string)
	return ledger.Address(address)
}

func roleFrom(r *http.Request) auth.Role {
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	return role
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req auth.TokenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.authService.IssueToken(req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, err.Error())
		case errors.Is(err, auth.ErrReservedAddress):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, auth.ErrMissingAddress), errors.Is(err, auth.ErrInvalidRole):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.internalError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{
		Token:     res.Token,
		Address:   res.Caller.Address,
		Role:      string(res.Caller.Role),
		ExpiresAt: res.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// handleMintAsset lets the authority seed the built-in asset collection.
func (s *Server) handleMintAsset(w http.ResponseWriter, r *http.Request) {
	if roleFrom(r) != auth.RoleAuthority {
		writeError(w, http.StatusForbidden, "authority only")
		return
	}
	var req mintAssetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AssetID == "" || req.Owner == "" {
		writeError(w, http.StatusBadRequest, "assetId and owner are required")
		return
	}
	if err := s.assets.Mint(req.AssetID, ledger.Address(req.Owner), req.MetadataURI); err != nil {
		if errors.Is(err, custody.ErrAssetExists) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"collection": s.assetCollection,
		"assetId":    req.AssetID,
		"owner":      req.Owner,
	})
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := rental.Filters{
		Owner:  ledger.Address(q.Get("owner")),
		Renter: ledger.Address(q.Get("renter")),
		Status: rental.Status(strings.ToUpper(q.Get("status"))),
	}
	var ok bool
	if filters.Page, ok = queryInt(w, q.Get("page"), "page"); !ok {
		return
	}
	if filters.PageSize, ok = queryInt(w, q.Get("pageSize"), "pageSize"); !ok {
		return
	}

	items, total, err := s.rentals.List(r.Context(), filters)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]positionResponse, 0, len(items))
	for _, item := range items {
		out = append(out, newPositionResponse(item, s.rentals.StatusOf(item)))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out, "total": total})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	collection := req.Collection
	if collection == "" {
		collection = s.assetCollection
	}
	wrap, err := s.rentals.Register(r.Context(), callerFrom(r), rental.RegisterParams{
		Asset:                custody.AssetRef{Collection: collection, AssetID: req.AssetID},
		MinRentalPeriod:      req.MinRentalPeriod,
		MaxRentalPeriod:      req.MaxRentalPeriod,
		DailyRate:            ledger.Amount(req.DailyRate),
		SecurityDepositRatio: req.SecurityDepositRatio,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPositionResponse(wrap, rental.StatusFree))
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := positionID(w, r)
	if !ok {
		return
	}
	wrap, err := s.rentals.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	status, err := s.rentals.Status(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	resp := newPositionResponse(wrap, status)
	if uri, err := s.rentals.MetadataURI(r.Context(), id); err == nil {
		resp.MetadataURI = uri
	} else {
		s.log.WithError(err).WithField("position_id", id).Warn("resolve metadata")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	s.positionAction(w, r, s.rentals.Unregister)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	id, ok := positionID(w, r)
	if !ok {
		return
	}
	events, err := s.timeline.ListByPosition(r.Context(), uint64(id))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, eventResponse{
			ID:         ev.ID,
			Type:       string(ev.Type),
			Actor:      ev.Actor,
			Payload:    ev.Payload,
			OccurredAt: ev.OccurredAt.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) handleRequestRent(w http.ResponseWriter, r *http.Request) {
	id, ok := positionID(w, r)
	if !ok {
		return
	}
	var req rentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	wrap, err := s.rentals.RequestRent(r.Context(), callerFrom(r), id, req.RentalPeriod, ledger.Amount(req.Payment))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPositionResponse(wrap, rental.StatusRequestPending))
}

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	id, ok := positionID(w, r)
	if !ok {
		return
	}
	var req approvalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	wrap, err := s.rentals.ApproveRentRequest(r.Context(), callerFrom(r), id, req.Approve)
	if err != nil && !errors.Is(err, ledger.ErrPaymentFailed) {
		s.writeServiceError(w, r, err)
		return
	}
	status := rental.StatusRented
	if !req.Approve {
		status = rental.StatusFree
	}
	resp := newPositionResponse(wrap, status)
	resp.PaymentFailures = paymentFailures(err)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	s.positionAction(w, r, s.rentals.CompleteRent)
}

func (s *Server) handleViolation(w http.ResponseWriter, r *http.Request) {
	s.positionAction(w, r, s.rentals.RaiseViolation)
}

func (s *Server) handleSettlement(w http.ResponseWriter, r *http.Request) {
	s.positionAction(w, r, func(ctx context.Context, _ ledger.Address, id rental.PositionID) (rental.Wrap, error) {
		return s.rentals.Settle(ctx, id)
	})
}

// positionAction runs a caller-scoped transition and reports the position
// with its status fresh from the clock.
func (s *Server) positionAction(w http.ResponseWriter, r *http.Request, action func(context.Context, ledger.Address, rental.PositionID) (rental.Wrap, error)) {
	id, ok := positionID(w, r)
	if !ok {
		return
	}
	wrap, err := action(r.Context(), callerFrom(r), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPositionResponse(wrap, s.rentals.StatusOf(wrap)))
}

func (s *Server) handleDisposition(w http.ResponseWriter, r *http.Request) {
	id, ok := positionID(w, r)
	if !ok {
		return
	}
	var req dispositionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	outcome, err := s.disputes.DisposeDispute(r.Context(), callerFrom(r), dispute.DisposeParams{
		PositionID:           id,
		Judgment:             dispute.Judgment(req.Judgment),
		DecisionPaymentRatio: req.DecisionPaymentRatio,
		OwnerPenaltyRatio:    req.OwnerPenaltyRatio,
	})
	committed := err == nil || errors.Is(err, ledger.ErrPaymentFailed) || errors.Is(err, rental.ErrAssetNotReturned)
	if !committed {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeResponse{
		PositionID:      uint64(outcome.PositionID),
		Judgment:        string(outcome.Judgment),
		RaisedBy:        string(outcome.RaisedBy),
		RentalFee:       uint64(outcome.RentalFee),
		OwnerPayout:     uint64(outcome.OwnerPayout),
		RenterPayout:    uint64(outcome.RenterPayout),
		ServiceFee:      uint64(outcome.ServiceFee),
		Unallocated:     uint64(outcome.Unallocated),
		Penalty:         uint64(outcome.Penalty),
		Destroyed:       outcome.Destroyed,
		AssetReturned:   !errors.Is(err, rental.ErrAssetNotReturned),
		PaymentFailures: paymentFailures(err),
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	address := ledger.Address(mux.Vars(r)["address"])
	writeJSON(w, http.StatusOK, balanceResponse{
		Address: string(address),
		Balance: uint64(s.ledger.OwnerBalance(address)),
		Penalty: uint64(s.ledger.PenaltyOf(address)),
	})
}

func (s *Server) handleWithdrawBalance(w http.ResponseWriter, r *http.Request) {
	amount, err := s.ledger.WithdrawOwnerBalance(r.Context(), callerFrom(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"amount": uint64(amount)})
}

func (s *Server) handleFees(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, feesResponse{
		Ratio:   s.ledger.ServiceFeeRatio(),
		Balance: uint64(s.ledger.ServiceFeeBalance()),
		Escrow:  uint64(s.ledger.Escrowed()),
		Parked:  uint64(s.ledger.Parked()),
	})
}

func (s *Server) handleSetFeeRatio(w http.ResponseWriter, r *http.Request) {
	var req feeRatioRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.ledger.SetServiceFeeRatio(r.Context(), callerFrom(r), req.Ratio); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint8{"ratio": req.Ratio})
}

func (s *Server) handleWithdrawFees(w http.ResponseWriter, r *http.Request) {
	var req feeWithdrawalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := s.ledger.WithdrawServiceFeeBalance(r.Context(), callerFrom(r), ledger.Address(req.Recipient))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"amount": uint64(amount)})
}

func (s *Server) handlePayPenalty(w http.ResponseWriter, r *http.Request) {
	var req penaltyPaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	err := s.disputes.PayPenalty(r.Context(), callerFrom(r), ledger.Amount(req.Amount))
	if err != nil && !errors.Is(err, ledger.ErrPaymentFailed) {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"amount":          req.Amount,
		"paymentFailures": paymentFailures(err),
	})
}

// writeServiceError maps domain errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rental.ErrInvalidPosition):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, rental.ErrNotOwner),
		errors.Is(err, rental.ErrNotRenter),
		errors.Is(err, rental.ErrNotParty),
		errors.Is(err, rental.ErrNotAssetOwner),
		errors.Is(err, ledger.ErrNotAuthority):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, rental.ErrNotFree),
		errors.Is(err, rental.ErrNotPending),
		errors.Is(err, rental.ErrNotRented),
		errors.Is(err, rental.ErrNotViolated),
		errors.Is(err, rental.ErrNotLapsed),
		errors.Is(err, rental.ErrOwnerHasPenalty),
		errors.Is(err, rental.ErrReceiptLocked),
		errors.Is(err, receipt.ErrTransferGuard),
		errors.Is(err, ledger.ErrReentrantCall):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, rental.ErrRegistryCaller):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, rental.ErrMissingCaller),
		errors.Is(err, rental.ErrSelfReferential),
		errors.Is(err, rental.ErrInvalidPeriodBounds),
		errors.Is(err, rental.ErrInvalidRate),
		errors.Is(err, rental.ErrInvalidRatio),
		errors.Is(err, rental.ErrOwnerIsRenter),
		errors.Is(err, rental.ErrPeriodOutOfBounds),
		errors.Is(err, rental.ErrWrongUpfrontAmount),
		errors.Is(err, dispute.ErrInvalidRatio),
		errors.Is(err, dispute.ErrInvalidJudgment),
		errors.Is(err, ledger.ErrInvalidRatio),
		errors.Is(err, ledger.ErrWrongPenaltyAmount),
		errors.Is(err, custody.ErrUnknownCollection),
		errors.Is(err, custody.ErrAssetNotFound):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrPaymentFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.internalError(w, r, err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.WithError(err).
		WithField("method", r.Method).
		WithField("path", r.URL.Path).
		Error("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

// queryInt parses an optional non-negative integer query parameter. An
// absent value is zero.
func queryInt(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return n, true
}

func positionID(w http.ResponseWriter, r *http.Request) (rental.PositionID, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return 0, false
	}
	return rental.PositionID(id), true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func paymentFailures(err error) []paymentFailureResponse {
	failures := ledger.PaymentErrors(err)
	if len(failures) == 0 {
		return nil
	}
	out := make([]paymentFailureResponse, 0, len(failures))
	for _, f := range failures {
		out = append(out, paymentFailureResponse{
			Operation: f.Operation,
			Recipient: string(f.Recipient),
			Amount:    uint64(f.Amount),
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
