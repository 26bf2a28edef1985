package handler

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/astroconnect/call-billing-go/internal/database"
	"github.com/astroconnect/call-billing-go/internal/model"
	"github.com/astroconnect/call-billing-go/internal/repository"
	"github.com/astroconnect/call-billing-go/internal/service"
)

type fakeTxRunner struct{}

func (f *fakeTxRunner) WithTx(ctx context.Context, fn database.TxFunc) error {
	return fn(nil)
}

func (f *fakeTxRunner) WithTxRetry(ctx context.Context, fn database.TxFunc) error {
	return fn(nil)
}

type mockCallRepo struct {
	mock.Mock
}

func (m *mockCallRepo) Create(ctx context.Context, params model.CreateCallParams) (*model.CallSession, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CallSession), args.Error(1)
}

func (m *mockCallRepo) FindByID(ctx context.Context, id string) (*model.CallSession, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CallSession), args.Error(1)
}

func (m *mockCallRepo) FindByRoomName(ctx context.Context, roomName string) (*model.CallSession, error) {
	args := m.Called(ctx, roomName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CallSession), args.Error(1)
}

func (m *mockCallRepo) FindRecentInFlight(ctx context.Context, since time.Time) ([]model.CallSession, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CallSession), args.Error(1)
}

func (m *mockCallRepo) UpdateStatusIf(ctx context.Context, id string, from []model.CallStatus, to model.CallStatus) (bool, error) {
	args := m.Called(ctx, id, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *mockCallRepo) Accept(ctx context.Context, id, roomName string) (bool, error) {
	args := m.Called(ctx, id, roomName)
	return args.Bool(0), args.Error(1)
}

func (m *mockCallRepo) Finish(ctx context.Context, id string, from []model.CallStatus, to model.CallStatus, timeoutReason *string) (bool, error) {
	args := m.Called(ctx, id, from, to, timeoutReason)
	return args.Bool(0), args.Error(1)
}

func (m *mockCallRepo) SetParticipantJoined(ctx context.Context, id string, role model.ParticipantRole) (bool, error) {
	args := m.Called(ctx, id, role)
	return args.Bool(0), args.Error(1)
}

func (m *mockCallRepo) SetParticipantLeft(ctx context.Context, id string, role model.ParticipantRole) (bool, error) {
	args := m.Called(ctx, id, role)
	return args.Bool(0), args.Error(1)
}

func (m *mockCallRepo) SetConnectedIfBothJoined(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockCallRepo) SetAudioPublished(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockCallRepo) FindTimedOut(ctx context.Context, pendingBefore, connectBefore time.Time) ([]model.CallSession, error) {
	args := m.Called(ctx, pendingBefore, connectBefore)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CallSession), args.Error(1)
}

type mockBillingRepo struct {
	mock.Mock
}

func (m *mockBillingRepo) Create(ctx context.Context, params model.CreateBillingParams) (*model.CallBillingRecord, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CallBillingRecord), args.Error(1)
}

func (m *mockBillingRepo) FindByCallID(ctx context.Context, callID string) (*model.CallBillingRecord, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CallBillingRecord), args.Error(1)
}

func (m *mockBillingRepo) StartBilling(ctx context.Context, callID string) (bool, error) {
	args := m.Called(ctx, callID)
	return args.Bool(0), args.Error(1)
}

func (m *mockBillingRepo) UpdateAccumulated(ctx context.Context, callID string, seconds int64) (bool, error) {
	args := m.Called(ctx, callID, seconds)
	return args.Bool(0), args.Error(1)
}

func (m *mockBillingRepo) ClaimFinalize(ctx context.Context, callID string, from []model.BillingStatus) (bool, error) {
	args := m.Called(ctx, callID, from)
	return args.Bool(0), args.Error(1)
}

func (m *mockBillingRepo) StoreFinalResult(ctx context.Context, callID string, durationSeconds, durationMinutes int64, finalAmount, shortfall decimal.Decimal, reason string) error {
	args := m.Called(ctx, callID, durationSeconds, durationMinutes, finalAmount, shortfall, reason)
	return args.Error(0)
}

func (m *mockBillingRepo) Cancel(ctx context.Context, callID string) (bool, error) {
	args := m.Called(ctx, callID)
	return args.Bool(0), args.Error(1)
}

func (m *mockBillingRepo) ListByUser(ctx context.Context, userID string, limit int) ([]model.CallBillingRecord, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CallBillingRecord), args.Error(1)
}

func (m *mockBillingRepo) EarningsByAstrologer(ctx context.Context, astrologerID string) (*model.AstrologerEarnings, error) {
	args := m.Called(ctx, astrologerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AstrologerEarnings), args.Error(1)
}

type mockRateRepo struct {
	mock.Mock
}

func (m *mockRateRepo) FindByAstrologerID(ctx context.Context, astrologerID string) (*model.AstrologerRate, error) {
	args := m.Called(ctx, astrologerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AstrologerRate), args.Error(1)
}

func (m *mockRateRepo) Upsert(ctx context.Context, astrologerID string, ratePerMinute decimal.Decimal) (*model.AstrologerRate, error) {
	args := m.Called(ctx, astrologerID, ratePerMinute)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AstrologerRate), args.Error(1)
}

type mockWalletRepo struct {
	mock.Mock
}

func (m *mockWalletRepo) GetOrCreate(ctx context.Context, userID string) (*model.Wallet, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Wallet), args.Error(1)
}

func (m *mockWalletRepo) GetForUpdate(ctx context.Context, userID string) (*model.Wallet, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Wallet), args.Error(1)
}

func (m *mockWalletRepo) AdjustBalance(ctx context.Context, userID string, balanceDelta, heldDelta decimal.Decimal) error {
	args := m.Called(ctx, userID, balanceDelta, heldDelta)
	return args.Error(0)
}

func (m *mockWalletRepo) CreateTransaction(ctx context.Context, params model.CreateTransactionParams) (*model.Transaction, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *mockWalletRepo) FindTransactionByReference(ctx context.Context, userID, reference string) (*model.Transaction, error) {
	args := m.Called(ctx, userID, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *mockWalletRepo) UpdateTransactionStatus(ctx context.Context, id string, status model.TransactionStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *mockWalletRepo) ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Transaction), args.Error(1)
}

func (m *mockWalletRepo) WithTx(tx *sqlx.Tx) repository.WalletRepository {
	return m
}

type mockBiller struct {
	mock.Mock
}

func (m *mockBiller) StartBilling(ctx context.Context, callID string) (bool, error) {
	args := m.Called(ctx, callID)
	return args.Bool(0), args.Error(1)
}

func (m *mockBiller) UpdateDuration(ctx context.Context, callID string, seconds int64) (*model.CallBillingRecord, error) {
	args := m.Called(ctx, callID, seconds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CallBillingRecord), args.Error(1)
}

func (m *mockBiller) FinalizeBilling(ctx context.Context, callID, reason string) (*model.FinalizeResult, error) {
	args := m.Called(ctx, callID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FinalizeResult), args.Error(1)
}

func (m *mockBiller) CancelBilling(ctx context.Context, callID string) error {
	args := m.Called(ctx, callID)
	return args.Error(0)
}

type mockWalletAccess struct {
	mock.Mock
}

func (m *mockWalletAccess) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Wallet), args.Error(1)
}

func (m *mockWalletAccess) Hold(ctx context.Context, userID string, amount decimal.Decimal, callID string) (*model.Transaction, error) {
	args := m.Called(ctx, userID, amount, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

type mockCallEvents struct {
	mock.Mock
}

func (m *mockCallEvents) MarkParticipantJoined(ctx context.Context, callID string, role model.ParticipantRole) (*service.JoinResult, error) {
	args := m.Called(ctx, callID, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.JoinResult), args.Error(1)
}

func (m *mockCallEvents) MarkAudioPublished(ctx context.Context, callID string) (*service.JoinResult, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.JoinResult), args.Error(1)
}

func (m *mockCallEvents) MarkParticipantLeft(ctx context.Context, callID string, role model.ParticipantRole) (*service.LeaveResult, error) {
	args := m.Called(ctx, callID, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.LeaveResult), args.Error(1)
}
