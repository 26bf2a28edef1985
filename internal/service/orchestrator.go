package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	apperrors "github.com/astroconnect/call-billing-go/internal/errors"
	"github.com/astroconnect/call-billing-go/internal/model"
	"github.com/astroconnect/call-billing-go/internal/repository"
)

// Biller is the settlement surface the orchestrator drives. Satisfied by
// BillingService.
type Biller interface {
	StartBilling(ctx context.Context, callID string) (bool, error)
	UpdateDuration(ctx context.Context, callID string, seconds int64) (*model.CallBillingRecord, error)
	FinalizeBilling(ctx context.Context, callID, reason string) (*model.FinalizeResult, error)
	CancelBilling(ctx context.Context, callID string) error
}

// WalletAccess is the wallet surface the orchestrator needs: affordability
// reads plus the per-call reservation placed when billing is initialized.
type WalletAccess interface {
	GetWallet(ctx context.Context, userID string) (*model.Wallet, error)
	Hold(ctx context.Context, userID string, amount decimal.Decimal, callID string) (*model.Transaction, error)
}

// Orchestrator is the coordination layer behind the billing API: it snapshots
// rates into billing records, runs affordability checks, and validates
// per-call operations before handing them to the billing service.
type Orchestrator struct {
	rates       repository.RateRepository
	billingRepo repository.BillingRepository
	billing     Biller
	wallet      WalletAccess
	minMinutes  int
}

func NewOrchestrator(
	rates repository.RateRepository,
	billingRepo repository.BillingRepository,
	billing Biller,
	wallet WalletAccess,
	minMinutes int,
) *Orchestrator {
	return &Orchestrator{
		rates:       rates,
		billingRepo: billingRepo,
		billing:     billing,
		wallet:      wallet,
		minMinutes:  minMinutes,
	}
}

// ValidateBalanceForCall checks the user can afford the minimum consultation
// length at the astrologer's rate. Reports the exact shortfall and never
// reserves or moves funds.
func (o *Orchestrator) ValidateBalanceForCall(ctx context.Context, userID, astrologerID string) (*model.BalanceValidation, error) {
	rate, err := o.rateFor(ctx, astrologerID)
	if err != nil {
		return nil, err
	}

	wallet, err := o.wallet.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	required := rate.Mul(decimal.NewFromInt(int64(o.minMinutes)))
	available := wallet.Available()
	validation := &model.BalanceValidation{
		Valid:          available.GreaterThanOrEqual(required),
		CurrentBalance: available,
		RequiredAmount: required,
		Shortfall:      decimal.Zero,
	}
	if !validation.Valid {
		validation.Shortfall = required.Sub(available)
	}
	return validation, nil
}

// InitializeCallBilling creates the billing record for a call, snapshotting
// the astrologer's current rate. The snapshot is what mid-call rate changes
// can never touch. The minimum consultation charge is held against the wallet
// here and released again on cancel or settlement. Duplicate call IDs
// conflict.
func (o *Orchestrator) InitializeCallBilling(ctx context.Context, callID, userID, astrologerID string) (*model.CallBillingRecord, error) {
	if callID == "" {
		return nil, apperrors.MissingRequired("callId")
	}
	if userID == "" {
		return nil, apperrors.MissingRequired("userId")
	}
	if astrologerID == "" {
		return nil, apperrors.MissingRequired("astrologerId")
	}

	rate, err := o.rateFor(ctx, astrologerID)
	if err != nil {
		return nil, err
	}

	holdAmount := rate.Mul(decimal.NewFromInt(int64(o.minMinutes)))
	if _, err := o.wallet.Hold(ctx, userID, holdAmount, callID); err != nil {
		return nil, err
	}

	record, err := o.billingRepo.Create(ctx, model.CreateBillingParams{
		CallID:        callID,
		UserID:        userID,
		AstrologerID:  astrologerID,
		RatePerMinute: rate,
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, apperrors.AlreadyExists("Billing record")
		}
		return nil, fmt.Errorf("initialize call billing: %w", err)
	}

	log.Info().
		Str("callId", callID).
		Str("userId", userID).
		Str("astrologerId", astrologerID).
		Str("ratePerMinute", rate.String()).
		Msg("call billing initialized")

	return record, nil
}

func (o *Orchestrator) StartCallBilling(ctx context.Context, callID string) (bool, error) {
	if callID == "" {
		return false, apperrors.MissingRequired("callId")
	}
	return o.billing.StartBilling(ctx, callID)
}

func (o *Orchestrator) UpdateCallDuration(ctx context.Context, callID string, seconds int64) (*model.CallBillingRecord, error) {
	if callID == "" {
		return nil, apperrors.MissingRequired("callId")
	}
	return o.billing.UpdateDuration(ctx, callID, seconds)
}

// FinalizeCall settles a normally-ended call.
func (o *Orchestrator) FinalizeCall(ctx context.Context, callID string) (*model.FinalizeResult, error) {
	if callID == "" {
		return nil, apperrors.MissingRequired("callId")
	}
	return o.billing.FinalizeBilling(ctx, callID, "call_ended")
}

// ImmediateSettlement settles a call out of band, typically an operator action
// on a stuck call. Same settlement path, different audit reason.
func (o *Orchestrator) ImmediateSettlement(ctx context.Context, callID string) (*model.FinalizeResult, error) {
	if callID == "" {
		return nil, apperrors.MissingRequired("callId")
	}
	return o.billing.FinalizeBilling(ctx, callID, "immediate_settlement")
}

func (o *Orchestrator) CancelCallBilling(ctx context.Context, callID string) error {
	if callID == "" {
		return apperrors.MissingRequired("callId")
	}
	return o.billing.CancelBilling(ctx, callID)
}

func (o *Orchestrator) GetCallBilling(ctx context.Context, callID string) (*model.CallBillingRecord, error) {
	record, err := o.billingRepo.FindByCallID(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("find billing record: %w", err)
	}
	if record == nil {
		return nil, apperrors.NotFound("Billing record")
	}
	return record, nil
}

func (o *Orchestrator) GetUserCallHistory(ctx context.Context, userID string, limit int) ([]model.CallBillingRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	records, err := o.billingRepo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list call history: %w", err)
	}
	return records, nil
}

// SetAstrologerRate stores the astrologer's per-minute price. Calls already
// initialized keep their snapshotted rate; only new calls see the change.
func (o *Orchestrator) SetAstrologerRate(ctx context.Context, astrologerID string, ratePerMinute decimal.Decimal) (*model.AstrologerRate, error) {
	if astrologerID == "" {
		return nil, apperrors.MissingRequired("astrologerId")
	}
	if ratePerMinute.LessThanOrEqual(decimal.Zero) {
		return nil, apperrors.InvalidInput("ratePerMinute", "must be positive")
	}

	rate, err := o.rates.Upsert(ctx, astrologerID, ratePerMinute)
	if err != nil {
		return nil, fmt.Errorf("upsert astrologer rate: %w", err)
	}

	log.Info().
		Str("astrologerId", astrologerID).
		Str("ratePerMinute", ratePerMinute.String()).
		Msg("astrologer rate set")

	return rate, nil
}

func (o *Orchestrator) GetAstrologerEarnings(ctx context.Context, astrologerID string) (*model.AstrologerEarnings, error) {
	earnings, err := o.billingRepo.EarningsByAstrologer(ctx, astrologerID)
	if err != nil {
		return nil, fmt.Errorf("aggregate earnings: %w", err)
	}
	return earnings, nil
}

func (o *Orchestrator) rateFor(ctx context.Context, astrologerID string) (decimal.Decimal, error) {
	rate, err := o.rates.FindByAstrologerID(ctx, astrologerID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("find astrologer rate: %w", err)
	}
	if rate == nil {
		return decimal.Zero, apperrors.NotFound("Astrologer rate")
	}
	return rate.RatePerMinute, nil
}
