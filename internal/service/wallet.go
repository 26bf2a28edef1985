package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/astroconnect/call-billing-go/internal/database"
	apperrors "github.com/astroconnect/call-billing-go/internal/errors"
	"github.com/astroconnect/call-billing-go/internal/model"
	"github.com/astroconnect/call-billing-go/internal/repository"
)

// WalletService is the prepaid ledger. Every mutation runs in a single
// transaction holding the wallet row lock, so the sufficiency check and the
// balance write cannot interleave with a concurrent spend.
type WalletService struct {
	db         database.TxRunner
	walletRepo repository.WalletRepository
}

func NewWalletService(db database.TxRunner, walletRepo repository.WalletRepository) *WalletService {
	return &WalletService{
		db:         db,
		walletRepo: walletRepo,
	}
}

func (s *WalletService) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	wallet, err := s.walletRepo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return wallet, nil
}

func (s *WalletService) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	wallet, err := s.GetWallet(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return wallet.Available(), nil
}

// Credit adds funds. Idempotent per reference: a duplicate reference returns
// the stored transaction without touching the balance.
func (s *WalletService) Credit(ctx context.Context, userID string, amount decimal.Decimal, reference string, description *string) (*model.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, apperrors.InvalidInput("amount", "must be positive")
	}
	if reference == "" {
		return nil, apperrors.MissingRequired("reference")
	}

	var txn *model.Transaction
	err := s.db.WithTxRetry(ctx, func(tx *sqlx.Tx) error {
		repo := s.walletRepo.WithTx(tx)
		if _, err := repo.GetForUpdate(ctx, userID); err != nil {
			return err
		}

		existing, err := repo.FindTransactionByReference(ctx, userID, reference)
		if err != nil {
			return err
		}
		if existing != nil {
			txn = existing
			return nil
		}

		txn, err = repo.CreateTransaction(ctx, model.CreateTransactionParams{
			UserID:      userID,
			Type:        model.TransactionTypeCredit,
			Amount:      amount,
			Status:      model.TransactionStatusCompleted,
			Reference:   reference,
			Description: description,
		})
		if err != nil {
			return err
		}
		return repo.AdjustBalance(ctx, userID, amount, decimal.Zero)
	})
	if err != nil {
		return nil, fmt.Errorf("credit wallet: %w", err)
	}

	log.Info().
		Str("userId", userID).
		Str("amount", amount.String()).
		Str("reference", reference).
		Msg("wallet credited")

	return txn, nil
}

// Debit removes funds. Fails with INSUFFICIENT_BALANCE when amount exceeds
// the available balance; the balance is left untouched on failure.
func (s *WalletService) Debit(ctx context.Context, userID string, amount decimal.Decimal, reference string, description *string, metadata json.RawMessage) (*model.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, apperrors.InvalidInput("amount", "must be positive")
	}
	if reference == "" {
		return nil, apperrors.MissingRequired("reference")
	}

	var txn *model.Transaction
	err := s.db.WithTxRetry(ctx, func(tx *sqlx.Tx) error {
		repo := s.walletRepo.WithTx(tx)
		wallet, err := repo.GetForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		existing, err := repo.FindTransactionByReference(ctx, userID, reference)
		if err != nil {
			return err
		}
		if existing != nil {
			txn = existing
			return nil
		}

		if amount.GreaterThan(wallet.Available()) {
			return apperrors.InsufficientBalance(amount.String(), wallet.Available().String())
		}

		txn, err = repo.CreateTransaction(ctx, model.CreateTransactionParams{
			UserID:      userID,
			Type:        model.TransactionTypeDebit,
			Amount:      amount,
			Status:      model.TransactionStatusCompleted,
			Reference:   reference,
			Description: description,
			Metadata:    metadata,
		})
		if err != nil {
			return err
		}
		return repo.AdjustBalance(ctx, userID, amount.Neg(), decimal.Zero)
	})
	if err != nil {
		if apperrors.IsAppError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("debit wallet: %w", err)
	}

	log.Info().
		Str("userId", userID).
		Str("amount", amount.String()).
		Str("reference", reference).
		Msg("wallet debited")

	return txn, nil
}

// DebitUpTo debits min(amount, available) and reports the shortfall. Used by
// settlement, which must never fail a call completion on a thin wallet.
// Idempotent per reference: a duplicate returns the stored transaction with
// zero additional effect.
func (s *WalletService) DebitUpTo(ctx context.Context, userID string, amount decimal.Decimal, reference string, description *string, metadata json.RawMessage) (*model.DebitResult, error) {
	if amount.LessThan(decimal.Zero) {
		return nil, apperrors.InvalidInput("amount", "must not be negative")
	}
	if reference == "" {
		return nil, apperrors.MissingRequired("reference")
	}

	result := &model.DebitResult{Debited: decimal.Zero, Shortfall: decimal.Zero}
	err := s.db.WithTxRetry(ctx, func(tx *sqlx.Tx) error {
		repo := s.walletRepo.WithTx(tx)
		wallet, err := repo.GetForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		existing, err := repo.FindTransactionByReference(ctx, userID, reference)
		if err != nil {
			return err
		}
		if existing != nil {
			result.Transaction = existing
			result.Debited = existing.Amount
			result.Shortfall = amount.Sub(existing.Amount)
			if result.Shortfall.LessThan(decimal.Zero) {
				result.Shortfall = decimal.Zero
			}
			result.Duplicate = true
			return nil
		}

		debited := amount
		if debited.GreaterThan(wallet.Available()) {
			debited = wallet.Available()
		}
		result.Debited = debited
		result.Shortfall = amount.Sub(debited)

		if debited.LessThanOrEqual(decimal.Zero) {
			result.Debited = decimal.Zero
			result.Shortfall = amount
			return nil
		}

		result.Transaction, err = repo.CreateTransaction(ctx, model.CreateTransactionParams{
			UserID:      userID,
			Type:        model.TransactionTypeDebit,
			Amount:      debited,
			Status:      model.TransactionStatusCompleted,
			Reference:   reference,
			Description: description,
			Metadata:    metadata,
		})
		if err != nil {
			return err
		}
		return repo.AdjustBalance(ctx, userID, debited.Neg(), decimal.Zero)
	})
	if err != nil {
		return nil, fmt.Errorf("debit up to: %w", err)
	}

	if result.Shortfall.GreaterThan(decimal.Zero) && !result.Duplicate {
		log.Warn().
			Str("userId", userID).
			Str("requested", amount.String()).
			Str("debited", result.Debited.String()).
			Str("shortfall", result.Shortfall.String()).
			Str("reference", reference).
			Msg("debit clamped to available balance")
	}

	return result, nil
}

// Hold reserves funds against a call without moving them. A held amount counts
// against availability until released or settled.
func (s *WalletService) Hold(ctx context.Context, userID string, amount decimal.Decimal, callID string) (*model.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, apperrors.InvalidInput("amount", "must be positive")
	}

	reference := HoldReference(callID)
	var txn *model.Transaction
	err := s.db.WithTxRetry(ctx, func(tx *sqlx.Tx) error {
		repo := s.walletRepo.WithTx(tx)
		wallet, err := repo.GetForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		existing, err := repo.FindTransactionByReference(ctx, userID, reference)
		if err != nil {
			return err
		}
		if existing != nil {
			txn = existing
			return nil
		}

		if amount.GreaterThan(wallet.Available()) {
			return apperrors.InsufficientBalance(amount.String(), wallet.Available().String())
		}

		txn, err = repo.CreateTransaction(ctx, model.CreateTransactionParams{
			UserID:    userID,
			Type:      model.TransactionTypeHold,
			Amount:    amount,
			Status:    model.TransactionStatusPending,
			Reference: reference,
		})
		if err != nil {
			return err
		}
		return repo.AdjustBalance(ctx, userID, decimal.Zero, amount)
	})
	if err != nil {
		if apperrors.IsAppError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("hold funds: %w", err)
	}

	log.Info().
		Str("userId", userID).
		Str("callId", callID).
		Str("amount", amount.String()).
		Msg("funds held")

	return txn, nil
}

// ReleaseHold frees a call's reservation. A missing hold is a no-op, so the
// release can be retried and ordered freely against settlement.
func (s *WalletService) ReleaseHold(ctx context.Context, userID, callID string) error {
	reference := HoldReference(callID)
	err := s.db.WithTxRetry(ctx, func(tx *sqlx.Tx) error {
		repo := s.walletRepo.WithTx(tx)
		if _, err := repo.GetForUpdate(ctx, userID); err != nil {
			return err
		}

		hold, err := repo.FindTransactionByReference(ctx, userID, reference)
		if err != nil {
			return err
		}
		if hold == nil || hold.Status != model.TransactionStatusPending {
			return nil
		}

		if err := repo.UpdateTransactionStatus(ctx, hold.ID, model.TransactionStatusReleased); err != nil {
			return err
		}
		return repo.AdjustBalance(ctx, userID, decimal.Zero, hold.Amount.Neg())
	})
	if err != nil {
		return fmt.Errorf("release hold: %w", err)
	}

	log.Debug().
		Str("userId", userID).
		Str("callId", callID).
		Msg("hold released")

	return nil
}

func (s *WalletService) Transactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	txns, err := s.walletRepo.ListTransactions(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txns, nil
}

// ChargeReference is the settlement debit reference for a call. One reference
// per call is what makes the final debit exactly-once.
func ChargeReference(callID string) string {
	return "call-charge-" + callID
}

// HoldReference is the reservation reference for a call.
func HoldReference(callID string) string {
	return "call-hold-" + callID
}
