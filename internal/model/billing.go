package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type CallBillingRecord struct {
	CallID             string          `db:"call_id" json:"callId"`
	UserID             string          `db:"user_id" json:"userId"`
	AstrologerID       string          `db:"astrologer_id" json:"astrologerId"`
	RatePerMinute      decimal.Decimal `db:"rate_per_minute" json:"ratePerMinute"`
	BillingStatus      BillingStatus   `db:"billing_status" json:"billingStatus"`
	BillingStartedAt   *time.Time      `db:"billing_started_at" json:"billingStartedAt,omitempty"`
	AccumulatedSeconds int64           `db:"accumulated_seconds" json:"accumulatedSeconds"`
	DurationMinutes    int64           `db:"duration_minutes" json:"durationMinutes"`
	FinalAmount        decimal.Decimal `db:"final_amount" json:"finalAmount"`
	ShortfallAmount    decimal.Decimal `db:"shortfall_amount" json:"shortfallAmount"`
	FinalizeReason     *string         `db:"finalize_reason" json:"finalizeReason,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updatedAt"`
}

// RunningAmount prices the accumulated seconds at the per-minute rate without
// rounding up to a whole minute. Settlement rounding happens only at finalize.
func (r *CallBillingRecord) RunningAmount() decimal.Decimal {
	if r.AccumulatedSeconds <= 0 {
		return decimal.Zero
	}
	seconds := decimal.NewFromInt(r.AccumulatedSeconds)
	return r.RatePerMinute.Mul(seconds).Div(decimal.NewFromInt(60)).Round(2)
}

// ToSSEEventData returns JSON data for SSE billing tick events
func (r *CallBillingRecord) ToSSEEventData() json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"callId":             r.CallID,
		"billingStatus":      r.BillingStatus,
		"accumulatedSeconds": r.AccumulatedSeconds,
		"runningAmount":      r.RunningAmount(),
		"updatedAt":          r.UpdatedAt,
	})
	return data
}

type CreateBillingParams struct {
	CallID        string
	UserID        string
	AstrologerID  string
	RatePerMinute decimal.Decimal
}

// FinalizeResult is the settled outcome of a call, stable across repeated
// finalize attempts.
type FinalizeResult struct {
	CallID          string          `json:"callId"`
	DurationSeconds int64           `json:"durationSeconds"`
	DurationMinutes int64           `json:"durationMinutes"`
	FinalAmount     decimal.Decimal `json:"finalAmount"`
	ShortfallAmount decimal.Decimal `json:"shortfallAmount"`
	Reason          string          `json:"reason"`
	AlreadySettled  bool            `json:"alreadySettled"`
}

// AstrologerEarnings aggregates finalized billing records for one astrologer.
type AstrologerEarnings struct {
	AstrologerID  string          `db:"astrologer_id" json:"astrologerId"`
	TotalCalls    int64           `db:"total_calls" json:"totalCalls"`
	TotalMinutes  int64           `db:"total_minutes" json:"totalMinutes"`
	TotalEarnings decimal.Decimal `db:"total_earnings" json:"totalEarnings"`
}

type AstrologerRate struct {
	AstrologerID  string          `db:"astrologer_id" json:"astrologerId"`
	RatePerMinute decimal.Decimal `db:"rate_per_minute" json:"ratePerMinute"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updatedAt"`
}
