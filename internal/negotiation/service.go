package negotiation

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/arcboost/stimulus-engine/internal/model"
	"github.com/arcboost/stimulus-engine/internal/store"
)

// Service exposes the state machine over HTTP.
type Service struct {
	machine *Machine
}

// NewService wraps a machine with HTTP handlers.
func NewService(machine *Machine) *Service {
	return &Service{machine: machine}
}

// --- Request/Response types ---

// CreateDealRequest is the JSON body for POST /api/v1/deals.
type CreateDealRequest struct {
	DealID    string          `json:"deal_id"` // optional; generated when empty
	Mode      model.DealMode  `json:"mode"`    // "on_chain" or "sim"; defaults to "sim"
	Buyer     string          `json:"buyer"`
	Seller    string          `json:"seller"`
	SKU       string          `json:"sku"`
	Qty       decimal.Decimal `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	VATRate   decimal.Decimal `json:"vat_rate"`
	Role      model.TurnRole  `json:"role"` // author of the opening proposal
	Proposal  json.RawMessage `json:"proposal"`
}

// TurnRequest is the JSON body for POST /api/v1/deals/{dealID}/turns.
type TurnRequest struct {
	Role    model.TurnRole    `json:"role"`
	Subtype model.TurnSubtype `json:"subtype"`
	Payload json.RawMessage   `json:"payload"`
}

// AdmitRequest is the JSON body for POST /api/v1/deals/{dealID}/admit.
// Terms, when present, replace the draft's negotiable fields before the
// completeness check.
type AdmitRequest struct {
	Role  model.TurnRole   `json:"role"`
	Terms *store.DealTerms `json:"terms,omitempty"`
}

// SettleRequest is the JSON body for POST /api/v1/deals/{dealID}/settle.
type SettleRequest struct {
	Role       model.TurnRole  `json:"role"`
	Commitment json.RawMessage `json:"commitment_json"`
}

// TerminateRequest is the JSON body for abort and fail.
type TerminateRequest struct {
	Role   model.TurnRole `json:"role"`
	Reason string         `json:"reason"`
}

// --- HTTP Handlers ---

// CreateDeal handles POST /api/v1/deals
func (s *Service) CreateDeal(w http.ResponseWriter, r *http.Request) {
	var req CreateDealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, "invalid request body", http.StatusBadRequest)
		return
	}

	role := req.Role
	if role == "" {
		role = model.RoleBuyer
	}
	deal := &model.Deal{
		DealID:    req.DealID,
		Mode:      req.Mode,
		Buyer:     req.Buyer,
		Seller:    req.Seller,
		SKU:       req.SKU,
		Qty:       req.Qty,
		UnitPrice: req.UnitPrice,
		VATRate:   req.VATRate,
	}

	created, err := s.machine.CreateDeal(r.Context(), deal, role, req.Proposal)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(created)
}

// SubmitTurn handles POST /api/v1/deals/{dealID}/turns
func (s *Service) SubmitTurn(w http.ResponseWriter, r *http.Request) {
	dealID := chi.URLParam(r, "dealID")

	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Role == "" {
		writeErr(w, "role is required", http.StatusBadRequest)
		return
	}
	if req.Subtype == "" {
		req.Subtype = model.SubtypeCounter
	}

	turn, err := s.machine.AppendTurn(r.Context(), dealID, req.Role, req.Subtype, req.Payload)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(turn)
}

// Admit handles POST /api/v1/deals/{dealID}/admit
func (s *Service) Admit(w http.ResponseWriter, r *http.Request) {
	dealID := chi.URLParam(r, "dealID")

	var req AdmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, "invalid request body", http.StatusBadRequest)
		return
	}
	role := req.Role
	if role == "" {
		role = model.RoleJudge
	}

	deal, err := s.machine.Admit(r.Context(), dealID, role, req.Terms)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(deal)
}

// Settle handles POST /api/v1/deals/{dealID}/settle
func (s *Service) Settle(w http.ResponseWriter, r *http.Request) {
	dealID := chi.URLParam(r, "dealID")

	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, "invalid request body", http.StatusBadRequest)
		return
	}
	role := req.Role
	if role == "" {
		role = model.RoleBuyer
	}

	receipt, err := s.machine.Settle(r.Context(), dealID, role, req.Commitment)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(receipt)
}

// Abort handles POST /api/v1/deals/{dealID}/abort
func (s *Service) Abort(w http.ResponseWriter, r *http.Request) {
	s.terminate(w, r, false)
}

// Fail handles POST /api/v1/deals/{dealID}/fail
func (s *Service) Fail(w http.ResponseWriter, r *http.Request) {
	s.terminate(w, r, true)
}

func (s *Service) terminate(w http.ResponseWriter, r *http.Request, fail bool) {
	dealID := chi.URLParam(r, "dealID")

	var req TerminateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, "invalid request body", http.StatusBadRequest)
		return
	}
	role := req.Role
	if role == "" {
		role = model.RoleJudge
	}

	var err error
	if fail {
		err = s.machine.Fail(r.Context(), dealID, role, req.Reason)
	} else {
		err = s.machine.Abort(r.Context(), dealID, role, req.Reason)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"deal_id": dealID, "status": terminalStatus(fail)})
}

func terminalStatus(fail bool) string {
	if fail {
		return string(model.StatusFailed)
	}
	return string(model.StatusAborted)
}

// writeDomainError maps domain error types onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		validation *model.ValidationError
		conflict   *model.StateConflictError
		confirm    *model.ConfirmationError
	)
	switch {
	case errors.As(err, &validation):
		writeErr(w, validation.Error(), http.StatusBadRequest)
	case errors.As(err, &conflict):
		writeErr(w, conflict.Error(), http.StatusConflict)
	case errors.As(err, &confirm):
		writeErr(w, confirm.Error(), http.StatusBadGateway)
	case errors.Is(err, store.ErrNotFound):
		writeErr(w, "deal not found", http.StatusNotFound)
	default:
		writeErr(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeErr writes a JSON error response.
func writeErr(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
