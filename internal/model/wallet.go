package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Wallet struct {
	UserID    string          `db:"user_id" json:"userId"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	Held      decimal.Decimal `db:"held" json:"held"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time       `db:"updated_at" json:"updatedAt"`
}

// Available is the balance minus pending holds; debits are checked against it.
func (w *Wallet) Available() decimal.Decimal {
	return w.Balance.Sub(w.Held)
}

type Transaction struct {
	ID          string            `db:"id" json:"id"`
	UserID      string            `db:"user_id" json:"userId"`
	Type        TransactionType   `db:"type" json:"type"`
	Amount      decimal.Decimal   `db:"amount" json:"amount"`
	Status      TransactionStatus `db:"status" json:"status"`
	Reference   string            `db:"reference" json:"reference"`
	Description *string           `db:"description" json:"description,omitempty"`
	Metadata    json.RawMessage   `db:"metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time         `db:"created_at" json:"createdAt"`
}

type CreateTransactionParams struct {
	UserID      string
	Type        TransactionType
	Amount      decimal.Decimal
	Status      TransactionStatus
	Reference   string
	Description *string
	Metadata    json.RawMessage
}

// DebitResult reports how much of a requested debit was actually taken when
// the ledger clamps to the available balance.
type DebitResult struct {
	Transaction *Transaction    `json:"transaction,omitempty"`
	Debited     decimal.Decimal `json:"debited"`
	Shortfall   decimal.Decimal `json:"shortfall"`
	Duplicate   bool            `json:"duplicate"`
}

// BalanceValidation is the pre-call affordability check result.
type BalanceValidation struct {
	Valid          bool            `json:"valid"`
	CurrentBalance decimal.Decimal `json:"currentBalance"`
	RequiredAmount decimal.Decimal `json:"requiredAmount"`
	Shortfall      decimal.Decimal `json:"shortfall"`
}
