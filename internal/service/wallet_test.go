package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/astroconnect/call-billing-go/internal/errors"
	"github.com/astroconnect/call-billing-go/internal/model"
)

func testWallet(userID string, balance, held int64) *model.Wallet {
	return &model.Wallet{
		UserID:  userID,
		Balance: decimal.NewFromInt(balance),
		Held:    decimal.NewFromInt(held),
	}
}

func TestCredit(t *testing.T) {
	ctx := context.Background()

	t.Run("creates transaction and adjusts balance", func(t *testing.T) {
		repo := new(mockWalletRepo)
		svc := NewWalletService(&fakeTxRunner{}, repo)

		repo.On("GetForUpdate", ctx, "user-1").Return(testWallet("user-1", 100, 0), nil)
		repo.On("FindTransactionByReference", ctx, "user-1", "topup-1").Return(nil, nil)
		repo.On("CreateTransaction", ctx, mock.MatchedBy(func(p model.CreateTransactionParams) bool {
			return p.Type == model.TransactionTypeCredit && p.Amount.Equal(decimal.NewFromInt(50))
		})).Return(&model.Transaction{ID: "txn-1", Amount: decimal.NewFromInt(50)}, nil)
		repo.On("AdjustBalance", ctx, "user-1", decimal.NewFromInt(50), decimal.Zero).Return(nil)

		txn, err := svc.Credit(ctx, "user-1", decimal.NewFromInt(50), "topup-1", nil)

		require.NoError(t, err)
		assert.Equal(t, "txn-1", txn.ID)
		repo.AssertExpectations(t)
	})

	t.Run("duplicate reference returns stored transaction untouched", func(t *testing.T) {
		repo := new(mockWalletRepo)
		svc := NewWalletService(&fakeTxRunner{}, repo)

		stored := &model.Transaction{ID: "txn-prev", Amount: decimal.NewFromInt(50)}
		repo.On("GetForUpdate", ctx, "user-1").Return(testWallet("user-1", 100, 0), nil)
		repo.On("FindTransactionByReference", ctx, "user-1", "topup-1").Return(stored, nil)

		txn, err := svc.Credit(ctx, "user-1", decimal.NewFromInt(50), "topup-1", nil)

		require.NoError(t, err)
		assert.Equal(t, "txn-prev", txn.ID)
		repo.AssertNotCalled(t, "CreateTransaction", mock.Anything, mock.Anything)
		repo.AssertNotCalled(t, "AdjustBalance", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		repo := new(mockWalletRepo)
		svc := NewWalletService(&fakeTxRunner{}, repo)

		_, err := svc.Credit(ctx, "user-1", decimal.Zero, "topup-1", nil)

		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
	})

	t.Run("rejects empty reference", func(t *testing.T) {
		repo := new(mockWalletRepo)
		svc := NewWalletService(&fakeTxRunner{}, repo)

		_, err := svc.Credit(ctx, "user-1", decimal.NewFromInt(10), "", nil)

		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeMissingRequired, apperrors.GetCode(err))
	})
}

func TestDebit(t *testing.T) {
	ctx := context.Background()

	t.Run("debits when available covers amount", func(t *testing.T) {
		repo := new(mockWalletRepo)
		svc := NewWalletService(&fakeTxRunner{}, repo)

		repo.On("GetForUpdate", ctx, "user-1").Return(testWallet("user-1", 100, 0), nil)
		repo.On("FindTransactionByReference", ctx, "user-1", "charge-1").Return(nil, nil)
		repo.On("CreateTransaction", ctx, mock.MatchedBy(func(p model.CreateTransactionParams) bool {
			return p.Type == model.TransactionTypeDebit && p.Amount.Equal(decimal.NewFromInt(60))
		})).Return(&model.Transaction{ID: "txn-1", Amount: decimal.NewFromInt(60)}, nil)
		repo.On("AdjustBalance", ctx, "user-1", decimal.NewFromInt(-60), decimal.Zero).Return(nil)

		txn, err := svc.Debit(ctx, "user-1", decimal.NewFromInt(60), "charge-1", nil, nil)

		require.NoError(t, err)
		assert.Equal(t, "txn-1", txn.ID)
		repo.AssertExpectations(t)
	})

	t.Run("insufficient balance leaves wallet untouched", func(t *testing.T) {
		repo := new(mockWalletRepo)
		svc := NewWalletService(&fakeTxRunner{}, repo)

		repo.On("GetForUpdate", ctx, "user-1").Return(testWallet("user-1", 50, 0), nil)
		repo.On("FindTransactionByReference", ctx, "user-1", "charge-1").Return(nil, nil)

		_, err := svc.Debit(ctx, "user-1", decimal.NewFromInt(100), "charge-1", nil, nil)

		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInsufficientBalance, apperrors.GetCode(err))
		repo.AssertNotCalled(t, "CreateTransaction", mock.Anything, mock.Anything)
		repo.AssertNotCalled(t, "AdjustBalance", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("held funds count against availability", func(t *testing.T) {
		repo := new(mockWalletRepo)
		svc := NewWalletService(&fakeTxRunner{}, repo)

		// 100 balance, 80 held: only 20 available.
		repo.On("GetForUpdate", ctx, "user-1").Return(testWallet("user-1", 100, 80), nil)
		repo.On("FindTransactionByReference", ctx, "user-1", "charge-1").Return(nil, nil)

		_, err := svc.Debit(ctx, "user-1", decimal.NewFromInt(30), "charge-1", nil, nil)

		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInsufficientBalance, apperrors.GetCode(err))
	})
}

func TestDebitUpTo(t *testing.T) {
	ctx := context.Background()

	t.Run("clamps to available and reports shortfall", func(t *testing.T) {
		repo := new(mockWalletRepo)
		svc := NewWalletService(&fakeTxRunner{}, repo)

		repo.On("GetForUpdate", ctx, "user-1").Return(testWallet("user-1", 30, 0), nil)
		repo.On("FindTransactionByReference", ctx, "user-1", "call-charge-c1").Return(nil, nil)
		repo.On("CreateTransaction", ctx, mock.MatchedBy(func(p model.CreateTransactionParams) bool {
			return p.Amount.Equal(decimal.NewFromInt(30))
		})).Return(&model.Transaction{ID: "txn-1", Amount: decimal.NewFromInt(30)}, nil)
		repo.On("AdjustBalance", ctx, "user-1", decimal.NewFromInt(-30), decimal.Zero).Return(nil)

		result, err := svc.DebitUpTo(ctx, "user-1", decimal.NewFromInt(100), "call-charge-c1", nil, nil)

		require.NoError(t, err)
		assert.True(t, result.Debited.Equal(decimal.NewFromInt(30)))
		assert.True(t, result.Shortfall.Equal(decimal.NewFromInt(70)))
		assert.False(t, result.Duplicate)
		repo.AssertExpectations(t)
	})

	t.Run("full debit when balance covers amount", func(t *testing.T) {
		repo := new(mockWalletRepo)
		svc := NewWalletService(&fakeTxRunner{}, repo)

		repo.On("GetForUpdate", ctx, "user-1").Return(testWallet("user-1", 200, 0), nil)
		repo.On("FindTransactionByReference", ctx, "user-1", "call-charge-c1").Return(nil, nil)
		repo.On("CreateTransaction", ctx, mock.Anything).Return(&model.Transaction{ID: "txn-1", Amount: decimal.NewFromInt(100)}, nil)
		repo.On("AdjustBalance", ctx, "user-1", decimal.NewFromInt(-100), decimal.Zero).Return(nil)

		result, err := svc.DebitUpTo(ctx, "user-1", decimal.NewFromInt(100), "call-charge-c1", nil, nil)

		require.NoError(t, err)
		assert.True(t, result.Debited.Equal(decimal.NewFromInt(100)))
		assert.True(t, result.Shortfall.IsZero())
	})

	t.Run("duplicate reference replays stored result", func(t *testing.T) {
		repo := new(mockWalletRepo)
		svc := NewWalletService(&fakeTxRunner{}, repo)

		stored := &model.Transaction{ID: "txn-prev", Amount: decimal.NewFromInt(40)}
		repo.On("GetForUpdate", ctx, "user-1").Return(testWallet("user-1", 0, 0), nil)
		repo.On("FindTransactionByReference", ctx, "user-1", "call-charge-c1").Return(stored, nil)

		result, err := svc.DebitUpTo(ctx, "user-1", decimal.NewFromInt(100), "call-charge-c1", nil, nil)

		require.NoError(t, err)
		assert.True(t, result.Duplicate)
		assert.True(t, result.Debited.Equal(decimal.NewFromInt(40)))
		assert.True(t, result.Shortfall.Equal(decimal.NewFromInt(60)))
		repo.AssertNotCalled(t, "CreateTransaction", mock.Anything, mock.Anything)
		repo.AssertNotCalled(t, "AdjustBalance", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("empty wallet records full shortfall without a transaction", func(t *testing.T) {
		repo := new(mockWalletRepo)
		svc := NewWalletService(&fakeTxRunner{}, repo)

		repo.On("GetForUpdate", ctx, "user-1").Return(testWallet("user-1", 0, 0), nil)
		repo.On("FindTransactionByReference", ctx, "user-1", "call-charge-c1").Return(nil, nil)

		result, err := svc.DebitUpTo(ctx, "user-1", decimal.NewFromInt(100), "call-charge-c1", nil, nil)

		require.NoError(t, err)
		assert.True(t, result.Debited.IsZero())
		assert.True(t, result.Shortfall.Equal(decimal.NewFromInt(100)))
		assert.Nil(t, result.Transaction)
		repo.AssertNotCalled(t, "CreateTransaction", mock.Anything, mock.Anything)
	})

	t.Run("rejects negative amount", func(t *testing.T) {
		repo := new(mockWalletRepo)
		svc := NewWalletService(&fakeTxRunner{}, repo)

		_, err := svc.DebitUpTo(ctx, "user-1", decimal.NewFromInt(-1), "call-charge-c1", nil, nil)

		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
	})
}

func TestHold(t *testing.T) {
	ctx := context.Background()

	t.Run("reserves funds as pending hold", func(t *testing.T) {
		repo := new(mockWalletRepo)
		svc := NewWalletService(&fakeTxRunner{}, repo)

		repo.On("GetForUpdate", ctx, "user-1").Return(testWallet("user-1", 100, 0), nil)
		repo.On("FindTransactionByReference", ctx, "user-1", "call-hold-c1").Return(nil, nil)
		repo.On("CreateTransaction", ctx, mock.MatchedBy(func(p model.CreateTransactionParams) bool {
			return p.Type == model.TransactionTypeHold && p.Status == model.TransactionStatusPending
		})).Return(&model.Transaction{ID: "txn-1", Amount: decimal.NewFromInt(25)}, nil)
		repo.On("AdjustBalance", ctx, "user-1", decimal.Zero, decimal.NewFromInt(25)).Return(nil)

		txn, err := svc.Hold(ctx, "user-1", decimal.NewFromInt(25), "c1")

		require.NoError(t, err)
		assert.Equal(t, "txn-1", txn.ID)
		repo.AssertExpectations(t)
	})

	t.Run("insufficient available funds", func(t *testing.T) {
		repo := new(mockWalletRepo)
		svc := NewWalletService(&fakeTxRunner{}, repo)

		repo.On("GetForUpdate", ctx, "user-1").Return(testWallet("user-1", 10, 0), nil)
		repo.On("FindTransactionByReference", ctx, "user-1", "call-hold-c1").Return(nil, nil)

		_, err := svc.Hold(ctx, "user-1", decimal.NewFromInt(25), "c1")

		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInsufficientBalance, apperrors.GetCode(err))
	})
}

func TestReleaseHold(t *testing.T) {
	ctx := context.Background()

	t.Run("marks pending hold released and frees held funds", func(t *testing.T) {
		repo := new(mockWalletRepo)
		svc := NewWalletService(&fakeTxRunner{}, repo)

		hold := &model.Transaction{
			ID:     "txn-hold",
			Amount: decimal.NewFromInt(25),
			Type:   model.TransactionTypeHold,
			Status: model.TransactionStatusPending,
		}
		repo.On("GetForUpdate", ctx, "user-1").Return(testWallet("user-1", 100, 25), nil)
		repo.On("FindTransactionByReference", ctx, "user-1", "call-hold-c1").Return(hold, nil)
		repo.On("UpdateTransactionStatus", ctx, "txn-hold", model.TransactionStatusReleased).Return(nil)
		repo.On("AdjustBalance", ctx, "user-1", decimal.Zero, decimal.NewFromInt(-25)).Return(nil)

		err := svc.ReleaseHold(ctx, "user-1", "c1")

		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("missing hold is a no-op", func(t *testing.T) {
		repo := new(mockWalletRepo)
		svc := NewWalletService(&fakeTxRunner{}, repo)

		repo.On("GetForUpdate", ctx, "user-1").Return(testWallet("user-1", 100, 0), nil)
		repo.On("FindTransactionByReference", ctx, "user-1", "call-hold-c1").Return(nil, nil)

		err := svc.ReleaseHold(ctx, "user-1", "c1")

		require.NoError(t, err)
		repo.AssertNotCalled(t, "UpdateTransactionStatus", mock.Anything, mock.Anything, mock.Anything)
		repo.AssertNotCalled(t, "AdjustBalance", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestWalletReferences(t *testing.T) {
	assert.Equal(t, "call-charge-abc", ChargeReference("abc"))
	assert.Equal(t, "call-hold-abc", HoldReference("abc"))
}
