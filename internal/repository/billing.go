package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/astroconnect/call-billing-go/internal/model"
)

type BillingRepository interface {
	Create(ctx context.Context, params model.CreateBillingParams) (*model.CallBillingRecord, error)
	FindByCallID(ctx context.Context, callID string) (*model.CallBillingRecord, error)
	// StartBilling activates a not_started record, stamping billing_started_at
	// once. Returns true when this call performed the activation.
	StartBilling(ctx context.Context, callID string) (bool, error)
	// UpdateAccumulated advances the duration checkpoint. Monotonic: a stale
	// seconds value never rewinds the stored one.
	UpdateAccumulated(ctx context.Context, callID string, seconds int64) (bool, error)
	// ClaimFinalize moves the record to finalized from one of the given
	// statuses. Exactly one caller wins the claim; everyone else reads the
	// stored result.
	ClaimFinalize(ctx context.Context, callID string, from []model.BillingStatus) (bool, error)
	// StoreFinalResult persists the settled figures on an already-finalized
	// record.
	StoreFinalResult(ctx context.Context, callID string, durationSeconds, durationMinutes int64, finalAmount, shortfall decimal.Decimal, reason string) error
	Cancel(ctx context.Context, callID string) (bool, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]model.CallBillingRecord, error)
	EarningsByAstrologer(ctx context.Context, astrologerID string) (*model.AstrologerEarnings, error)
}

type billingRepo struct {
	db *sqlx.DB
}

func NewBillingRepository(db *sqlx.DB) BillingRepository {
	return &billingRepo{db: db}
}

func (r *billingRepo) Create(ctx context.Context, params model.CreateBillingParams) (*model.CallBillingRecord, error) {
	var record model.CallBillingRecord
	err := r.db.GetContext(ctx, &record, `
		INSERT INTO call_billing (call_id, user_id, astrologer_id, rate_per_minute, billing_status)
		VALUES ($1, $2, $3, $4, 'not_started')
		RETURNING *
	`, params.CallID, params.UserID, params.AstrologerID, params.RatePerMinute)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *billingRepo) FindByCallID(ctx context.Context, callID string) (*model.CallBillingRecord, error) {
	var record model.CallBillingRecord
	err := r.db.GetContext(ctx, &record, `
		SELECT * FROM call_billing WHERE call_id = $1
	`, callID)
	return HandleNotFound(&record, err)
}

func (r *billingRepo) StartBilling(ctx context.Context, callID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE call_billing SET
			billing_status = 'active',
			billing_started_at = COALESCE(billing_started_at, NOW()),
			updated_at = NOW()
		WHERE call_id = $1 AND billing_status = 'not_started'
	`, callID)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *billingRepo) UpdateAccumulated(ctx context.Context, callID string, seconds int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE call_billing SET
			accumulated_seconds = GREATEST(accumulated_seconds, $2),
			updated_at = NOW()
		WHERE call_id = $1 AND billing_status = 'active'
	`, callID, seconds)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *billingRepo) ClaimFinalize(ctx context.Context, callID string, from []model.BillingStatus) (bool, error) {
	values := make([]string, len(from))
	for i, s := range from {
		values[i] = string(s)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE call_billing SET billing_status = 'finalized', updated_at = NOW()
		WHERE call_id = $1 AND billing_status = ANY($2)
	`, callID, pq.Array(values))
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *billingRepo) StoreFinalResult(ctx context.Context, callID string, durationSeconds, durationMinutes int64, finalAmount, shortfall decimal.Decimal, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE call_billing SET
			accumulated_seconds = $2,
			duration_minutes = $3,
			final_amount = $4,
			shortfall_amount = $5,
			finalize_reason = $6,
			updated_at = NOW()
		WHERE call_id = $1 AND billing_status = 'finalized'
	`, callID, durationSeconds, durationMinutes, finalAmount, shortfall, reason)
	return err
}

func (r *billingRepo) Cancel(ctx context.Context, callID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE call_billing SET billing_status = 'cancelled', updated_at = NOW()
		WHERE call_id = $1 AND billing_status IN ('not_started', 'active')
	`, callID)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *billingRepo) ListByUser(ctx context.Context, userID string, limit int) ([]model.CallBillingRecord, error) {
	var records []model.CallBillingRecord
	err := r.db.SelectContext(ctx, &records, `
		SELECT * FROM call_billing
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	return records, err
}

func (r *billingRepo) EarningsByAstrologer(ctx context.Context, astrologerID string) (*model.AstrologerEarnings, error) {
	var earnings model.AstrologerEarnings
	err := r.db.GetContext(ctx, &earnings, `
		SELECT
			$1 AS astrologer_id,
			COUNT(*) AS total_calls,
			COALESCE(SUM(duration_minutes), 0) AS total_minutes,
			COALESCE(SUM(final_amount), 0) AS total_earnings
		FROM call_billing
		WHERE astrologer_id = $1 AND billing_status = 'finalized'
	`, astrologerID)
	if err != nil {
		return nil, err
	}
	return &earnings, nil
}
