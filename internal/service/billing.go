package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/astroconnect/call-billing-go/internal/audit"
	"github.com/astroconnect/call-billing-go/internal/config"
	apperrors "github.com/astroconnect/call-billing-go/internal/errors"
	"github.com/astroconnect/call-billing-go/internal/model"
	"github.com/astroconnect/call-billing-go/internal/repository"
)

// Ledger is the wallet surface settlement needs. Satisfied by WalletService.
type Ledger interface {
	DebitUpTo(ctx context.Context, userID string, amount decimal.Decimal, reference string, description *string, metadata json.RawMessage) (*model.DebitResult, error)
	ReleaseHold(ctx context.Context, userID, callID string) error
}

// CallLifecycle is the call-state surface billing needs. Satisfied by
// CallStateService.
type CallLifecycle interface {
	GetCall(ctx context.Context, callID string) (*model.CallSession, error)
	StartBillingTransition(ctx context.Context, callID string) (bool, error)
	CompleteCall(ctx context.Context, callID string) (*model.CallSession, error)
}

// BillingService accrues per-second charges and settles them exactly once.
// The finalized claim on the billing record is the single writer election:
// whoever flips active to finalized performs the debit, everyone else reads
// the stored result.
type BillingService struct {
	billingRepo repository.BillingRepository
	calls       CallLifecycle
	ledger      Ledger
	events      EventPublisher
}

func NewBillingService(billingRepo repository.BillingRepository, calls CallLifecycle, ledger Ledger, events EventPublisher) *BillingService {
	return &BillingService{
		billingRepo: billingRepo,
		calls:       calls,
		ledger:      ledger,
		events:      events,
	}
}

func (s *BillingService) GetRecord(ctx context.Context, callID string) (*model.CallBillingRecord, error) {
	record, err := s.billingRepo.FindByCallID(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("find billing record: %w", err)
	}
	if record == nil {
		return nil, apperrors.NotFound("Billing record")
	}
	return record, nil
}

// StartBilling activates accrual for a call. The record's not_started gate
// makes this exactly-once under racing join and track events; losing the race
// is not an error.
func (s *BillingService) StartBilling(ctx context.Context, callID string) (bool, error) {
	started, err := s.billingRepo.StartBilling(ctx, callID)
	if err != nil {
		return false, fmt.Errorf("start billing: %w", err)
	}
	if !started {
		return false, nil
	}

	if _, err := s.calls.StartBillingTransition(ctx, callID); err != nil {
		log.Error().Err(err).Str("callId", callID).Msg("failed to move call to billing_active")
	}

	log.Info().Str("callId", callID).Msg("billing started")
	audit.Log(ctx, audit.Event{Type: audit.EventBillingStarted, CallID: callID})
	s.publishTick(ctx, callID)
	return true, nil
}

// UpdateDuration records a duration checkpoint while the call runs. No money
// moves here; checkpoints only feed live UI and shrink the window a crash can
// lose.
func (s *BillingService) UpdateDuration(ctx context.Context, callID string, seconds int64) (*model.CallBillingRecord, error) {
	if seconds < 0 {
		return nil, apperrors.InvalidInput("durationSeconds", "must not be negative")
	}

	updated, err := s.billingRepo.UpdateAccumulated(ctx, callID, seconds)
	if err != nil {
		return nil, fmt.Errorf("update duration: %w", err)
	}
	if !updated {
		record, err := s.billingRepo.FindByCallID(ctx, callID)
		if err != nil {
			return nil, fmt.Errorf("find billing record: %w", err)
		}
		if record == nil {
			return nil, apperrors.NotFound("Billing record")
		}
		if record.BillingStatus == model.BillingStatusFinalized {
			// Late checkpoint after settlement: the stored result stands.
			return record, nil
		}
		return nil, apperrors.BillingNotActive(callID)
	}

	s.publishTick(ctx, callID)
	return s.GetRecord(ctx, callID)
}

// FinalizeBilling settles a call. The winning caller freezes the call's end
// time, prices the elapsed time rounded up to whole minutes, and debits the
// wallet clamped to its balance. A record that is finalized but has no stored
// reason was claimed by a finalizer that never finished; such a settlement is
// resumed, not replayed. Only a record with stored figures returns the result
// unchanged.
func (s *BillingService) FinalizeBilling(ctx context.Context, callID, reason string) (*model.FinalizeResult, error) {
	record, err := s.GetRecord(ctx, callID)
	if err != nil {
		return nil, err
	}

	claimed, err := s.billingRepo.ClaimFinalize(ctx, callID,
		[]model.BillingStatus{model.BillingStatusNotStarted, model.BillingStatusActive})
	if err != nil {
		return nil, fmt.Errorf("claim finalize: %w", err)
	}
	if claimed {
		return s.settle(ctx, record, reason)
	}

	record, err = s.GetRecord(ctx, callID)
	if err != nil {
		return nil, err
	}
	if record.BillingStatus == model.BillingStatusCancelled {
		return nil, apperrors.BillingNotActive(callID)
	}
	if record.FinalizeReason == nil {
		// Claimed but never stored: the claimant crashed mid-settlement or is
		// still between the claim and the store. The call's end time freezes
		// once and the debit is keyed by reference, so every resumer lands on
		// the same figures and the wallet is debited at most once.
		log.Warn().Str("callId", callID).Msg("resuming incomplete settlement")
		return s.settle(ctx, record, reason)
	}
	return storedResult(record), nil
}

func (s *BillingService) settle(ctx context.Context, record *model.CallBillingRecord, reason string) (*model.FinalizeResult, error) {
	callID := record.CallID

	call, err := s.calls.CompleteCall(ctx, callID)
	if err != nil {
		return nil, err
	}

	durationSeconds := call.DurationSeconds(time.Now())
	durationMinutes := ceilMinutes(durationSeconds)
	amount := record.RatePerMinute.Mul(decimal.NewFromInt(durationMinutes))

	if err := s.ledger.ReleaseHold(ctx, record.UserID, callID); err != nil {
		log.Error().Err(err).Str("callId", callID).Msg("failed to release hold before settlement")
	}

	finalAmount := decimal.Zero
	shortfall := amount
	description := fmt.Sprintf("Consultation charge for call %s", callID)
	debit, err := s.ledger.DebitUpTo(ctx, record.UserID, amount, ChargeReference(callID), &description, callMetadata(callID, durationMinutes))
	if err != nil {
		// The claim already succeeded; settlement must not wedge the call.
		// Record the full shortfall for reconciliation instead of failing.
		log.Error().Err(err).Str("callId", callID).Msg("settlement debit failed, recording full shortfall")
	} else {
		finalAmount = debit.Debited
		shortfall = debit.Shortfall
	}

	if err := s.billingRepo.StoreFinalResult(ctx, callID, durationSeconds, durationMinutes, finalAmount, shortfall, reason); err != nil {
		return nil, fmt.Errorf("store final result: %w", err)
	}

	log.Info().
		Str("callId", callID).
		Int64("durationSeconds", durationSeconds).
		Int64("durationMinutes", durationMinutes).
		Str("finalAmount", finalAmount.String()).
		Str("shortfall", shortfall.String()).
		Str("reason", reason).
		Msg("billing finalized")

	audit.Log(ctx, audit.Event{
		Type:   audit.EventSettlementFinalized,
		CallID: callID,
		UserID: record.UserID,
		Details: map[string]interface{}{
			"durationMinutes": durationMinutes,
			"finalAmount":     finalAmount.String(),
			"reason":          reason,
		},
	})
	if shortfall.GreaterThan(decimal.Zero) {
		audit.Log(ctx, audit.Event{
			Type:   audit.EventSettlementShortfall,
			CallID: callID,
			UserID: record.UserID,
			Details: map[string]interface{}{
				"shortfall": shortfall.String(),
			},
		})
	}

	s.publishTick(ctx, callID)

	return &model.FinalizeResult{
		CallID:          callID,
		DurationSeconds: durationSeconds,
		DurationMinutes: durationMinutes,
		FinalAmount:     finalAmount,
		ShortfallAmount: shortfall,
		Reason:          reason,
	}, nil
}

// CancelBilling marks the record cancelled and frees the initialize-time
// reservation. No charge is taken. A missing record, or one that already
// finished, is a harmless no-op.
func (s *BillingService) CancelBilling(ctx context.Context, callID string) error {
	record, err := s.billingRepo.FindByCallID(ctx, callID)
	if err != nil {
		return fmt.Errorf("find billing record: %w", err)
	}
	if record == nil {
		return nil
	}

	cancelled, err := s.billingRepo.Cancel(ctx, callID)
	if err != nil {
		return fmt.Errorf("cancel billing: %w", err)
	}
	if cancelled {
		if err := s.ledger.ReleaseHold(ctx, record.UserID, callID); err != nil {
			log.Error().Err(err).Str("callId", callID).Msg("failed to release hold on cancel")
		}
		log.Info().Str("callId", callID).Msg("billing cancelled")
		s.publishTick(ctx, callID)
	}
	return nil
}

func storedResult(record *model.CallBillingRecord) *model.FinalizeResult {
	reason := ""
	if record.FinalizeReason != nil {
		reason = *record.FinalizeReason
	}
	return &model.FinalizeResult{
		CallID:          record.CallID,
		DurationSeconds: record.AccumulatedSeconds,
		DurationMinutes: record.DurationMinutes,
		FinalAmount:     record.FinalAmount,
		ShortfallAmount: record.ShortfallAmount,
		Reason:          reason,
		AlreadySettled:  true,
	}
}

func (s *BillingService) publishTick(ctx context.Context, callID string) {
	if s.events == nil {
		return
	}
	record, err := s.billingRepo.FindByCallID(ctx, callID)
	if err != nil || record == nil {
		return
	}
	if err := s.events.Publish(ctx, callID, "billing_tick", record.ToSSEEventData()); err != nil {
		log.Warn().Err(err).Str("callId", callID).Msg("failed to publish billing tick")
	}
}

func ceilMinutes(seconds int64) int64 {
	if seconds <= 0 {
		return 0
	}
	return (seconds + config.BillingMinuteSeconds - 1) / config.BillingMinuteSeconds
}

func callMetadata(callID string, minutes int64) json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"callId":  callID,
		"minutes": minutes,
	})
	return data
}
