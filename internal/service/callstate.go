package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/astroconnect/call-billing-go/internal/errors"
	"github.com/astroconnect/call-billing-go/internal/model"
	"github.com/astroconnect/call-billing-go/internal/repository"
)

// EventPublisher fans call lifecycle and billing tick events out to live
// subscribers. Implemented by the SSE broker; a failed publish is logged and
// never fails the operation that produced the event.
type EventPublisher interface {
	Publish(ctx context.Context, callID, event string, data json.RawMessage) error
}

// Participant flag updates and status transitions are single guarded
// statements, so duplicated or reordered gateway events collapse into no-ops
// instead of double side effects.
type CallStateService struct {
	callRepo repository.CallRepository
	events   EventPublisher
}

func NewCallStateService(callRepo repository.CallRepository, events EventPublisher) *CallStateService {
	return &CallStateService{
		callRepo: callRepo,
		events:   events,
	}
}

// JoinResult reports what a participant-joined observation changed.
type JoinResult struct {
	Call *model.CallSession
	// ConnectedNow is true only for the observation that moved the call to
	// connected.
	ConnectedNow bool
	// CanStartBilling signals the orchestrator to attempt billing activation.
	// The billing record's own status gate makes the attempt exactly-once.
	CanStartBilling bool
}

// LeaveResult reports what a participant-left observation changed.
type LeaveResult struct {
	Call *model.CallSession
	// ShouldFinalize is true when billing was running and this departure
	// should trigger settlement.
	ShouldFinalize bool
	// CancelledNow is true when everyone left before billing ever started and
	// this observation cancelled the call.
	CancelledNow bool
}

func (s *CallStateService) CreateCall(ctx context.Context, params model.CreateCallParams) (*model.CallSession, error) {
	if params.UserID == "" {
		return nil, apperrors.MissingRequired("userId")
	}
	if params.AstrologerID == "" {
		return nil, apperrors.MissingRequired("astrologerId")
	}
	if params.CallType != model.CallTypeVideo && params.CallType != model.CallTypeVoice {
		return nil, apperrors.InvalidInput("callType", "must be video or voice")
	}

	call, err := s.callRepo.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create call: %w", err)
	}

	log.Info().
		Str("callId", call.ID).
		Str("userId", call.UserID).
		Str("astrologerId", call.AstrologerID).
		Str("callType", string(call.CallType)).
		Msg("call created")

	s.publishStatus(ctx, call.ID)
	return call, nil
}

func (s *CallStateService) GetCall(ctx context.Context, callID string) (*model.CallSession, error) {
	call, err := s.callRepo.FindByID(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("find call: %w", err)
	}
	if call == nil {
		return nil, apperrors.NotFound("Call")
	}
	return call, nil
}

// AcceptCall moves a pending call to active and assigns the media room name.
func (s *CallStateService) AcceptCall(ctx context.Context, callID string) (*model.CallSession, error) {
	call, err := s.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}

	roomName := fmt.Sprintf("call-%s-%s", callID, uuid.NewString()[:8])
	changed, err := s.callRepo.Accept(ctx, callID, roomName)
	if err != nil {
		return nil, fmt.Errorf("accept call: %w", err)
	}
	if !changed {
		return nil, apperrors.InvalidTransition(string(call.Status), string(model.CallStatusActive))
	}

	log.Info().Str("callId", callID).Str("roomName", roomName).Msg("call accepted")
	s.publishStatus(ctx, callID)
	return s.GetCall(ctx, callID)
}

func (s *CallStateService) RejectCall(ctx context.Context, callID string) (*model.CallSession, error) {
	call, err := s.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}

	changed, err := s.callRepo.Finish(ctx, callID,
		[]model.CallStatus{model.CallStatusPending}, model.CallStatusRejected, nil)
	if err != nil {
		return nil, fmt.Errorf("reject call: %w", err)
	}
	if !changed {
		return nil, apperrors.InvalidTransition(string(call.Status), string(model.CallStatusRejected))
	}

	log.Info().Str("callId", callID).Msg("call rejected")
	s.publishStatus(ctx, callID)
	return s.GetCall(ctx, callID)
}

// CancelCall moves any non-terminal call to cancelled. Returns false without
// error when the call was already terminal.
func (s *CallStateService) CancelCall(ctx context.Context, callID string, reason *string) (bool, error) {
	changed, err := s.callRepo.Finish(ctx, callID, []model.CallStatus{
		model.CallStatusPending,
		model.CallStatusActive,
		model.CallStatusConnected,
		model.CallStatusBillingActive,
	}, model.CallStatusCancelled, reason)
	if err != nil {
		return false, fmt.Errorf("cancel call: %w", err)
	}
	if changed {
		log.Info().Str("callId", callID).Msg("call cancelled")
		s.publishStatus(ctx, callID)
	}
	return changed, nil
}

func (s *CallStateService) MarkParticipantJoined(ctx context.Context, callID string, role model.ParticipantRole) (*JoinResult, error) {
	first, err := s.callRepo.SetParticipantJoined(ctx, callID, role)
	if err != nil {
		return nil, fmt.Errorf("mark participant joined: %w", err)
	}

	connectedNow, err := s.callRepo.SetConnectedIfBothJoined(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("connect call: %w", err)
	}

	call, err := s.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}

	if first {
		log.Info().
			Str("callId", callID).
			Str("role", string(role)).
			Bool("connected", connectedNow).
			Msg("participant joined")
	}
	if connectedNow {
		s.publishStatus(ctx, callID)
	}

	return &JoinResult{
		Call:            call,
		ConnectedNow:    connectedNow,
		CanStartBilling: call.AudioPublished && call.BothJoined() && !call.Status.IsTerminal(),
	}, nil
}

// MarkAudioPublished records that an audio track went live in the room.
// Billing may only start once this has been observed.
func (s *CallStateService) MarkAudioPublished(ctx context.Context, callID string) (*JoinResult, error) {
	first, err := s.callRepo.SetAudioPublished(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("mark audio published: %w", err)
	}

	call, err := s.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}

	if first {
		log.Info().Str("callId", callID).Msg("audio track published")
	}

	return &JoinResult{
		Call:            call,
		CanStartBilling: call.BothJoined() && !call.Status.IsTerminal(),
	}, nil
}

func (s *CallStateService) MarkParticipantLeft(ctx context.Context, callID string, role model.ParticipantRole) (*LeaveResult, error) {
	first, err := s.callRepo.SetParticipantLeft(ctx, callID, role)
	if err != nil {
		return nil, fmt.Errorf("mark participant left: %w", err)
	}

	call, err := s.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}

	result := &LeaveResult{Call: call}
	if !first {
		return result, nil
	}

	log.Info().Str("callId", callID).Str("role", string(role)).Msg("participant left")

	if call.Status == model.CallStatusBillingActive {
		result.ShouldFinalize = true
		return result, nil
	}

	// Everyone gone before billing started: the consultation never happened.
	if !call.UserJoined && !call.AstrologerJoined && !call.Status.IsTerminal() {
		reason := "all participants left before billing started"
		cancelled, err := s.CancelCall(ctx, callID, &reason)
		if err != nil {
			return nil, err
		}
		result.CancelledNow = cancelled
		if cancelled {
			result.Call, err = s.GetCall(ctx, callID)
			if err != nil {
				return nil, err
			}
		}
	}

	return result, nil
}

// StartBillingTransition moves a connected call to billing_active.
func (s *CallStateService) StartBillingTransition(ctx context.Context, callID string) (bool, error) {
	changed, err := s.callRepo.UpdateStatusIf(ctx, callID,
		[]model.CallStatus{model.CallStatusConnected}, model.CallStatusBillingActive)
	if err != nil {
		return false, fmt.Errorf("start billing transition: %w", err)
	}
	if changed {
		s.publishStatus(ctx, callID)
	}
	return changed, nil
}

// CompleteCall freezes end_time and moves the call to completed. Repeats are
// harmless: the guarded update fires once and later calls read the frozen row.
func (s *CallStateService) CompleteCall(ctx context.Context, callID string) (*model.CallSession, error) {
	changed, err := s.callRepo.Finish(ctx, callID, []model.CallStatus{
		model.CallStatusActive,
		model.CallStatusConnected,
		model.CallStatusBillingActive,
	}, model.CallStatusCompleted, nil)
	if err != nil {
		return nil, fmt.Errorf("complete call: %w", err)
	}

	call, err := s.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if changed {
		log.Info().Str("callId", callID).Msg("call completed")
		s.publishStatus(ctx, callID)
	}
	return call, nil
}

// Duration returns elapsed talk seconds, measured on the server clock.
func (s *CallStateService) Duration(ctx context.Context, callID string) (int64, error) {
	call, err := s.GetCall(ctx, callID)
	if err != nil {
		return 0, err
	}
	return call.DurationSeconds(time.Now()), nil
}

func (s *CallStateService) publishStatus(ctx context.Context, callID string) {
	if s.events == nil {
		return
	}
	call, err := s.callRepo.FindByID(ctx, callID)
	if err != nil || call == nil {
		return
	}
	if err := s.events.Publish(ctx, callID, "call_status", call.ToSSEEventData()); err != nil {
		log.Warn().Err(err).Str("callId", callID).Msg("failed to publish call status event")
	}
}
