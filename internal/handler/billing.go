package handler

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	apperrors "github.com/astroconnect/call-billing-go/internal/errors"
	"github.com/astroconnect/call-billing-go/internal/service"
)

type BillingHandler struct {
	orchestrator *service.Orchestrator
	wallet       *service.WalletService
}

func NewBillingHandler(orchestrator *service.Orchestrator, wallet *service.WalletService) *BillingHandler {
	return &BillingHandler{
		orchestrator: orchestrator,
		wallet:       wallet,
	}
}

type billingRequest struct {
	Action          string `json:"action"`
	CallID          string `json:"callId"`
	UserID          string `json:"userId"`
	AstrologerID    string `json:"astrologerId"`
	DurationSeconds *int64 `json:"durationSeconds"`
	RatePerMinute   string `json:"ratePerMinute"`
	Limit           int    `json:"limit"`
}

// Handle dispatches one billing action. The single-endpoint shape matches the
// clients the platform already ships; the action string selects the operation.
func (h *BillingHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var req billingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	log.Debug().Str("action", req.Action).Str("callId", req.CallID).Msg("billing action")

	ctx := r.Context()
	var (
		data any
		err  error
	)

	switch req.Action {
	case "validate-balance":
		if req.UserID == "" {
			err = apperrors.MissingRequired("userId")
			break
		}
		if req.AstrologerID == "" {
			err = apperrors.MissingRequired("astrologerId")
			break
		}
		data, err = h.orchestrator.ValidateBalanceForCall(ctx, req.UserID, req.AstrologerID)

	case "initialize-call":
		data, err = h.orchestrator.InitializeCallBilling(ctx, req.CallID, req.UserID, req.AstrologerID)

	case "update-duration":
		if req.CallID == "" {
			err = apperrors.MissingRequired("callId")
			break
		}
		if req.DurationSeconds == nil {
			err = apperrors.MissingRequired("durationSeconds")
			break
		}
		data, err = h.orchestrator.UpdateCallDuration(ctx, req.CallID, *req.DurationSeconds)

	case "finalize-call":
		data, err = h.orchestrator.FinalizeCall(ctx, req.CallID)

	case "immediate-settlement":
		data, err = h.orchestrator.ImmediateSettlement(ctx, req.CallID)

	case "cancel-call":
		err = h.orchestrator.CancelCallBilling(ctx, req.CallID)
		data = map[string]string{"callId": req.CallID, "status": "cancelled"}

	case "get-call-billing":
		if req.CallID == "" {
			err = apperrors.MissingRequired("callId")
			break
		}
		data, err = h.orchestrator.GetCallBilling(ctx, req.CallID)

	case "get-user-history":
		if req.UserID == "" {
			err = apperrors.MissingRequired("userId")
			break
		}
		data, err = h.orchestrator.GetUserCallHistory(ctx, req.UserID, req.Limit)

	case "set-rate":
		if req.RatePerMinute == "" {
			err = apperrors.MissingRequired("ratePerMinute")
			break
		}
		rate, parseErr := decimal.NewFromString(req.RatePerMinute)
		if parseErr != nil {
			err = apperrors.InvalidInput("ratePerMinute", "not a valid decimal")
			break
		}
		data, err = h.orchestrator.SetAstrologerRate(ctx, req.AstrologerID, rate)

	case "get-earnings":
		if req.AstrologerID == "" {
			err = apperrors.MissingRequired("astrologerId")
			break
		}
		data, err = h.orchestrator.GetAstrologerEarnings(ctx, req.AstrologerID)

	default:
		err = apperrors.InvalidInput("action", "unknown action")
	}

	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    data,
	})
}

func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, apperrors.MissingRequired("amount")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, apperrors.InvalidInput("amount", "not a valid decimal")
	}
	return amount, nil
}

type walletRequest struct {
	Action      string `json:"action"`
	UserID      string `json:"userId"`
	Amount      string `json:"amount"`
	Reference   string `json:"reference"`
	Description string `json:"description"`
	Limit       int    `json:"limit"`
}

// HandleWallet exposes wallet reads and top-ups.
func (h *BillingHandler) HandleWallet(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if req.UserID == "" {
		writeError(w, apperrors.MissingRequired("userId"))
		return
	}

	ctx := r.Context()
	var (
		data any
		err  error
	)

	switch req.Action {
	case "get-wallet":
		data, err = h.wallet.GetWallet(ctx, req.UserID)

	case "credit":
		amount, parseErr := parseAmount(req.Amount)
		if parseErr != nil {
			err = parseErr
			break
		}
		var description *string
		if req.Description != "" {
			description = &req.Description
		}
		data, err = h.wallet.Credit(ctx, req.UserID, amount, req.Reference, description)

	case "get-transactions":
		data, err = h.wallet.Transactions(ctx, req.UserID, req.Limit)

	default:
		err = apperrors.InvalidInput("action", "unknown action")
	}

	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    data,
	})
}
