package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/astroconnect/call-billing-go/internal/model"
)

type WalletRepository interface {
	// GetOrCreate returns the user's wallet, creating an empty one on first
	// touch.
	GetOrCreate(ctx context.Context, userID string) (*model.Wallet, error)
	// GetForUpdate locks the wallet row for the duration of the surrounding
	// transaction. Only meaningful on a repository bound with WithTx.
	GetForUpdate(ctx context.Context, userID string) (*model.Wallet, error)
	// AdjustBalance applies deltas to the balance and held columns.
	AdjustBalance(ctx context.Context, userID string, balanceDelta, heldDelta decimal.Decimal) error
	CreateTransaction(ctx context.Context, params model.CreateTransactionParams) (*model.Transaction, error)
	FindTransactionByReference(ctx context.Context, userID, reference string) (*model.Transaction, error)
	// UpdateTransactionStatus moves a transaction to a new status. The ledger
	// is append-only; rows are never removed, released holds stay in history.
	UpdateTransactionStatus(ctx context.Context, id string, status model.TransactionStatus) error
	ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) WalletRepository
}

type walletRepo struct {
	db sqlxDB
}

func NewWalletRepository(db *sqlx.DB) WalletRepository {
	return &walletRepo{db: db}
}

func (r *walletRepo) WithTx(tx *sqlx.Tx) WalletRepository {
	return &walletRepo{db: tx}
}

func (r *walletRepo) GetOrCreate(ctx context.Context, userID string) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.GetContext(ctx, &wallet, `
		INSERT INTO wallets (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING *
	`, userID)
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *walletRepo) GetForUpdate(ctx context.Context, userID string) (*model.Wallet, error) {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO wallets (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return nil, err
	}

	var wallet model.Wallet
	err := r.db.GetContext(ctx, &wallet, `
		SELECT * FROM wallets WHERE user_id = $1 FOR UPDATE
	`, userID)
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *walletRepo) AdjustBalance(ctx context.Context, userID string, balanceDelta, heldDelta decimal.Decimal) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE wallets SET
			balance = balance + $2,
			held = held + $3,
			updated_at = NOW()
		WHERE user_id = $1
	`, userID, balanceDelta, heldDelta)
	return err
}

func (r *walletRepo) CreateTransaction(ctx context.Context, params model.CreateTransactionParams) (*model.Transaction, error) {
	var txn model.Transaction
	err := r.db.GetContext(ctx, &txn, `
		INSERT INTO wallet_transactions (user_id, type, amount, status, reference, description, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *
	`, params.UserID, params.Type, params.Amount, params.Status,
		params.Reference, params.Description, params.Metadata)
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *walletRepo) FindTransactionByReference(ctx context.Context, userID, reference string) (*model.Transaction, error) {
	var txn model.Transaction
	err := r.db.GetContext(ctx, &txn, `
		SELECT * FROM wallet_transactions
		WHERE user_id = $1 AND reference = $2
	`, userID, reference)
	return HandleNotFound(&txn, err)
}

func (r *walletRepo) UpdateTransactionStatus(ctx context.Context, id string, status model.TransactionStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE wallet_transactions SET status = $2 WHERE id = $1
	`, id, status)
	return err
}

func (r *walletRepo) ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	var txns []model.Transaction
	err := r.db.SelectContext(ctx, &txns, `
		SELECT * FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	return txns, err
}
