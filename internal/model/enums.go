package model

type CallStatus string

const (
	CallStatusPending       CallStatus = "pending"
	CallStatusActive        CallStatus = "active"
	CallStatusConnected     CallStatus = "connected"
	CallStatusBillingActive CallStatus = "billing_active"
	CallStatusCompleted     CallStatus = "completed"
	CallStatusCancelled     CallStatus = "cancelled"
	CallStatusRejected      CallStatus = "rejected"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusCancelled, CallStatusRejected:
		return true
	}
	return false
}

type CallType string

const (
	CallTypeVideo CallType = "video"
	CallTypeVoice CallType = "voice"
)

type BillingStatus string

const (
	BillingStatusNotStarted BillingStatus = "not_started"
	BillingStatusActive     BillingStatus = "active"
	BillingStatusFinalized  BillingStatus = "finalized"
	BillingStatusCancelled  BillingStatus = "cancelled"
)

type TransactionType string

const (
	TransactionTypeCredit TransactionType = "credit"
	TransactionTypeDebit  TransactionType = "debit"
	TransactionTypeHold   TransactionType = "hold"
)

type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusReleased  TransactionStatus = "released"
)

type ParticipantRole string

const (
	RoleUser       ParticipantRole = "user"
	RoleAstrologer ParticipantRole = "astrologer"
)
