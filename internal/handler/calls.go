package handler

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/astroconnect/call-billing-go/internal/errors"
	"github.com/astroconnect/call-billing-go/internal/model"
	"github.com/astroconnect/call-billing-go/internal/service"
)

type CallsHandler struct {
	calls        *service.CallStateService
	orchestrator *service.Orchestrator
}

func NewCallsHandler(calls *service.CallStateService, orchestrator *service.Orchestrator) *CallsHandler {
	return &CallsHandler{
		calls:        calls,
		orchestrator: orchestrator,
	}
}

type callsRequest struct {
	Action       string `json:"action"`
	CallID       string `json:"callId"`
	UserID       string `json:"userId"`
	AstrologerID string `json:"astrologerId"`
	CallType     string `json:"callType"`
	Status       string `json:"status"`
	Reason       string `json:"reason"`
}

func (h *CallsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var req callsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	log.Debug().Str("action", req.Action).Str("callId", req.CallID).Msg("calls action")

	ctx := r.Context()
	var (
		data any
		err  error
	)

	switch req.Action {
	case "create-call":
		data, err = h.calls.CreateCall(ctx, model.CreateCallParams{
			UserID:       req.UserID,
			AstrologerID: req.AstrologerID,
			CallType:     model.CallType(req.CallType),
		})

	case "update-call-status":
		data, err = h.updateStatus(r, req)

	case "end-call":
		data, err = h.endCall(r, req)

	case "get-call":
		if req.CallID == "" {
			err = apperrors.MissingRequired("callId")
			break
		}
		data, err = h.calls.GetCall(ctx, req.CallID)

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

func (h *CallsHandler) updateStatus(r *http.Request, req callsRequest) (any, error) {
	if req.CallID == "" {
		return nil, apperrors.MissingRequired("callId")
	}

	ctx := r.Context()
	switch model.CallStatus(req.Status) {
	case model.CallStatusActive:
		return h.calls.AcceptCall(ctx, req.CallID)

	case model.CallStatusRejected:
		call, err := h.calls.RejectCall(ctx, req.CallID)
		if err != nil {
			return nil, err
		}
		if err := h.orchestrator.CancelCallBilling(ctx, req.CallID); err != nil {
			log.Error().Err(err).Str("callId", req.CallID).Msg("failed to cancel billing for rejected call")
		}
		return call, nil

	case model.CallStatusCancelled:
		var reason *string
		if req.Reason != "" {
			reason = &req.Reason
		}
		if _, err := h.calls.CancelCall(ctx, req.CallID, reason); err != nil {
			return nil, err
		}
		if err := h.orchestrator.CancelCallBilling(ctx, req.CallID); err != nil {
			log.Error().Err(err).Str("callId", req.CallID).Msg("failed to cancel billing for cancelled call")
		}
		return h.calls.GetCall(ctx, req.CallID)

	default:
		return nil, apperrors.InvalidInput("status", "must be active, rejected or cancelled")
	}
}

// endCall freezes the call and settles it. A call that never had a billing
// record (rejected before setup, for instance) still completes cleanly.
func (h *CallsHandler) endCall(r *http.Request, req callsRequest) (any, error) {
	if req.CallID == "" {
		return nil, apperrors.MissingRequired("callId")
	}

	ctx := r.Context()
	call, err := h.calls.CompleteCall(ctx, req.CallID)
	if err != nil {
		return nil, err
	}

	settlement, err := h.orchestrator.FinalizeCall(ctx, req.CallID)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.ErrCodeNotFound {
			log.Warn().Str("callId", req.CallID).Msg("call ended without billing record")
			return map[string]any{"call": call}, nil
		}
		return nil, err
	}

	call, err = h.calls.GetCall(ctx, req.CallID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"call":       call,
		"settlement": settlement,
	}, nil
}
