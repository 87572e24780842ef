package saga

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/scalable-order-system/internal/model"
	"github.com/fairyhunter13/scalable-order-system/internal/service"
	"github.com/fairyhunter13/scalable-order-system/pkg/database"
)

// mockTx is a mock implementation of pgx.Tx for testing transactions.
type mockTx struct {
	commitFn   func(ctx context.Context) error
	rollbackFn func(ctx context.Context) error
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("nested transactions not supported")
}

func (m *mockTx) Commit(ctx context.Context) error {
	if m.commitFn != nil {
		return m.commitFn(ctx)
	}
	return nil
}

func (m *mockTx) Rollback(ctx context.Context) error {
	if m.rollbackFn != nil {
		return m.rollbackFn(ctx)
	}
	return nil
}

func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return nil
}

func (m *mockTx) LargeObjects() pgx.LargeObjects {
	return pgx.LargeObjects{}
}

func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func (m *mockTx) Conn() *pgx.Conn {
	return nil
}

// mockTxBeginner is a mock implementation of TxBeginner.
type mockTxBeginner struct {
	beginFn func(ctx context.Context) (pgx.Tx, error)
}

func (m *mockTxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	if m.beginFn != nil {
		return m.beginFn(ctx)
	}
	return &mockTx{}, nil
}

// passLocker runs fn immediately, recording the keys taken.
type passLocker struct {
	keys []string
	err  error
}

func (l *passLocker) WithLock(ctx context.Context, key string, wait, lease time.Duration, fn func(ctx context.Context) error) error {
	l.keys = append(l.keys, key)
	if l.err != nil {
		return l.err
	}
	return fn(ctx)
}

// mockProductStore is a mock implementation of ProductStore.
type mockProductStore struct {
	getOptionForUpdateFn func(ctx context.Context, tx database.TxQuerier, optionID int64) (*model.ProductOption, string, error)
	updateStockFn        func(ctx context.Context, tx database.TxQuerier, optionID int64, stock int, expectedVersion int64) error
}

func (m *mockProductStore) GetOptionForUpdate(ctx context.Context, tx database.TxQuerier, optionID int64) (*model.ProductOption, string, error) {
	if m.getOptionForUpdateFn != nil {
		return m.getOptionForUpdateFn(ctx, tx, optionID)
	}
	return nil, "", nil
}

func (m *mockProductStore) UpdateStock(ctx context.Context, tx database.TxQuerier, optionID int64, stock int, expectedVersion int64) error {
	if m.updateStockFn != nil {
		return m.updateStockFn(ctx, tx, optionID, stock, expectedVersion)
	}
	return nil
}

// mockUserStore is a mock implementation of UserStore.
type mockUserStore struct {
	getForUpdateFn  func(ctx context.Context, tx database.TxQuerier, userID int64) (*model.User, error)
	updateBalanceFn func(ctx context.Context, tx database.TxQuerier, userID, balance, expectedVersion int64) error
}

func (m *mockUserStore) GetForUpdate(ctx context.Context, tx database.TxQuerier, userID int64) (*model.User, error) {
	if m.getForUpdateFn != nil {
		return m.getForUpdateFn(ctx, tx, userID)
	}
	return nil, nil
}

func (m *mockUserStore) UpdateBalance(ctx context.Context, tx database.TxQuerier, userID, balance, expectedVersion int64) error {
	if m.updateBalanceFn != nil {
		return m.updateBalanceFn(ctx, tx, userID, balance, expectedVersion)
	}
	return nil
}

// mockUserCouponStore is a mock implementation of UserCouponStore.
type mockUserCouponStore struct {
	getForUpdateFn func(ctx context.Context, tx database.TxQuerier, userID, couponID int64) (*model.UserCoupon, error)
	updateStatusFn func(ctx context.Context, tx database.TxQuerier, userCouponID int64, status model.UserCouponStatus, usedAt *time.Time) error
}

func (m *mockUserCouponStore) GetForUpdate(ctx context.Context, tx database.TxQuerier, userID, couponID int64) (*model.UserCoupon, error) {
	if m.getForUpdateFn != nil {
		return m.getForUpdateFn(ctx, tx, userID, couponID)
	}
	return nil, nil
}

func (m *mockUserCouponStore) UpdateStatus(ctx context.Context, tx database.TxQuerier, userCouponID int64, status model.UserCouponStatus, usedAt *time.Time) error {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, tx, userCouponID, status, usedAt)
	}
	return nil
}

// mockOrderStore is a mock implementation of OrderStore.
type mockOrderStore struct {
	insertFn           func(ctx context.Context, tx database.TxQuerier, order *model.Order) (int64, error)
	insertItemsFn      func(ctx context.Context, tx database.TxQuerier, items []model.OrderItem) error
	getByIDFn          func(ctx context.Context, orderID int64) (*model.Order, error)
	getByIDForUpdateFn func(ctx context.Context, tx database.TxQuerier, orderID int64) (*model.Order, error)
	getItemsFn         func(ctx context.Context, q database.TxQuerier, orderID int64) ([]model.OrderItem, error)
	markCancelledFn    func(ctx context.Context, tx database.TxQuerier, orderID int64, at time.Time) error
}

func (m *mockOrderStore) Insert(ctx context.Context, tx database.TxQuerier, order *model.Order) (int64, error) {
	if m.insertFn != nil {
		return m.insertFn(ctx, tx, order)
	}
	return 0, nil
}

func (m *mockOrderStore) InsertItems(ctx context.Context, tx database.TxQuerier, items []model.OrderItem) error {
	if m.insertItemsFn != nil {
		return m.insertItemsFn(ctx, tx, items)
	}
	return nil
}

func (m *mockOrderStore) GetByID(ctx context.Context, orderID int64) (*model.Order, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, orderID)
	}
	return nil, service.ErrOrderNotFound
}

func (m *mockOrderStore) GetByIDForUpdate(ctx context.Context, tx database.TxQuerier, orderID int64) (*model.Order, error) {
	if m.getByIDForUpdateFn != nil {
		return m.getByIDForUpdateFn(ctx, tx, orderID)
	}
	return nil, service.ErrOrderNotFound
}

func (m *mockOrderStore) GetItems(ctx context.Context, q database.TxQuerier, orderID int64) ([]model.OrderItem, error) {
	if m.getItemsFn != nil {
		return m.getItemsFn(ctx, q, orderID)
	}
	return []model.OrderItem{}, nil
}

func (m *mockOrderStore) MarkCancelled(ctx context.Context, tx database.TxQuerier, orderID int64, at time.Time) error {
	if m.markCancelledFn != nil {
		return m.markCancelledFn(ctx, tx, orderID, at)
	}
	return nil
}

// mockOutboxStore is a mock implementation of OutboxStore.
type mockOutboxStore struct {
	saveFn func(ctx context.Context, tx database.TxQuerier, msg *model.OutboxMessage) error
	saved  []*model.OutboxMessage
}

func (m *mockOutboxStore) Save(ctx context.Context, tx database.TxQuerier, msg *model.OutboxMessage) error {
	m.saved = append(m.saved, msg)
	if m.saveFn != nil {
		return m.saveFn(ctx, tx, msg)
	}
	return nil
}

func int64Ptr(v int64) *int64 { return &v }

var testTimings = StepTimings{LockWait: 5 * time.Second, LockLease: 2 * time.Second}

func TestDeductInventoryStep_Execute_Success(t *testing.T) {
	type update struct {
		optionID int64
		stock    int
		version  int64
	}
	var updates []update

	products := &mockProductStore{
		getOptionForUpdateFn: func(ctx context.Context, tx database.TxQuerier, optionID int64) (*model.ProductOption, string, error) {
			return &model.ProductOption{OptionID: optionID, Stock: 10, Version: 3}, "Keyboard", nil
		},
		updateStockFn: func(ctx context.Context, tx database.TxQuerier, optionID int64, stock int, expectedVersion int64) error {
			updates = append(updates, update{optionID, stock, expectedVersion})
			return nil
		},
	}
	locker := &passLocker{}
	step := NewDeductInventoryStep(&mockTxBeginner{}, products, &mockOrderStore{}, locker, testTimings)

	snap := &Snapshot{UserID: 1, Items: []SnapshotItem{
		{OptionID: 11, Quantity: 2},
		{OptionID: 12, Quantity: 5},
	}}
	err := step.Execute(context.Background(), snap)

	require.NoError(t, err)
	assert.Equal(t, []update{{11, 8, 3}, {12, 5, 3}}, updates)
	assert.Equal(t, []string{"product:stock:11", "product:stock:12"}, locker.keys)
}

func TestDeductInventoryStep_Execute_InsufficientStock_RestoresEarlierLines(t *testing.T) {
	type update struct {
		optionID int64
		stock    int
	}
	var updates []update

	stocks := map[int64]int{11: 10, 12: 1}
	products := &mockProductStore{
		getOptionForUpdateFn: func(ctx context.Context, tx database.TxQuerier, optionID int64) (*model.ProductOption, string, error) {
			return &model.ProductOption{OptionID: optionID, Stock: stocks[optionID], Version: 1}, "Keyboard", nil
		},
		updateStockFn: func(ctx context.Context, tx database.TxQuerier, optionID int64, stock int, expectedVersion int64) error {
			stocks[optionID] = stock
			updates = append(updates, update{optionID, stock})
			return nil
		},
	}
	step := NewDeductInventoryStep(&mockTxBeginner{}, products, &mockOrderStore{}, &passLocker{}, testTimings)

	snap := &Snapshot{UserID: 1, Items: []SnapshotItem{
		{OptionID: 11, Quantity: 2},
		{OptionID: 12, Quantity: 5},
	}}
	err := step.Execute(context.Background(), snap)

	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrInsufficientStock)
	// First line deducted 10->8, then restored by re-reading current stock
	// and adding the quantity back. The failed line is never touched.
	assert.Equal(t, []update{{11, 8}, {11, 10}}, updates)
}

func TestDeductInventoryStep_Compensate_UsesDurableItems(t *testing.T) {
	var restored []int64
	products := &mockProductStore{
		getOptionForUpdateFn: func(ctx context.Context, tx database.TxQuerier, optionID int64) (*model.ProductOption, string, error) {
			return &model.ProductOption{OptionID: optionID, Stock: 5, Version: 2}, "Keyboard", nil
		},
		updateStockFn: func(ctx context.Context, tx database.TxQuerier, optionID int64, stock int, expectedVersion int64) error {
			restored = append(restored, optionID)
			assert.Equal(t, 8, stock)
			return nil
		},
	}
	orders := &mockOrderStore{
		getItemsFn: func(ctx context.Context, q database.TxQuerier, orderID int64) ([]model.OrderItem, error) {
			assert.Equal(t, int64(99), orderID)
			return []model.OrderItem{
				{OptionID: 21, Quantity: 3},
				{OptionID: 22, Quantity: 3},
			}, nil
		},
	}
	step := NewDeductInventoryStep(&mockTxBeginner{}, products, orders, &passLocker{}, testTimings)

	// Snapshot items deliberately differ from durable items; durable wins.
	snap := &Snapshot{UserID: 1, OrderID: 99, Items: []SnapshotItem{{OptionID: 11, Quantity: 1}}}
	err := step.Compensate(context.Background(), snap)

	require.NoError(t, err)
	assert.Equal(t, []int64{21, 22}, restored)
}

func TestDeductInventoryStep_Compensate_RestoreFailureIsCritical(t *testing.T) {
	products := &mockProductStore{
		getOptionForUpdateFn: func(ctx context.Context, tx database.TxQuerier, optionID int64) (*model.ProductOption, string, error) {
			return &model.ProductOption{OptionID: optionID, Stock: 5, Version: 2}, "Keyboard", nil
		},
		updateStockFn: func(ctx context.Context, tx database.TxQuerier, optionID int64, stock int, expectedVersion int64) error {
			return errors.New("connection reset")
		},
	}
	step := NewDeductInventoryStep(&mockTxBeginner{}, products, &mockOrderStore{}, &passLocker{}, testTimings)

	snap := &Snapshot{UserID: 1, Items: []SnapshotItem{{OptionID: 11, Quantity: 1}}}
	err := step.Compensate(context.Background(), snap)

	require.Error(t, err)
	assert.Equal(t, service.KindCritical, service.Classify(err))
}

func TestDeductBalanceStep_Execute_ZeroAmountSkips(t *testing.T) {
	locker := &passLocker{}
	step := NewDeductBalanceStep(&mockTxBeginner{}, &mockUserStore{}, &mockOrderStore{}, locker, testTimings)

	err := step.Execute(context.Background(), &Snapshot{UserID: 1, FinalAmount: 0})

	require.NoError(t, err)
	assert.Empty(t, locker.keys, "a zero-amount order must not touch the wallet")
}

func TestDeductBalanceStep_Execute_Success(t *testing.T) {
	var gotBalance, gotVersion int64
	users := &mockUserStore{
		getForUpdateFn: func(ctx context.Context, tx database.TxQuerier, userID int64) (*model.User, error) {
			return &model.User{UserID: userID, Balance: 50_000, Version: 7}, nil
		},
		updateBalanceFn: func(ctx context.Context, tx database.TxQuerier, userID, balance, expectedVersion int64) error {
			gotBalance, gotVersion = balance, expectedVersion
			return nil
		},
	}
	locker := &passLocker{}
	step := NewDeductBalanceStep(&mockTxBeginner{}, users, &mockOrderStore{}, locker, testTimings)

	err := step.Execute(context.Background(), &Snapshot{UserID: 9, FinalAmount: 18_000})

	require.NoError(t, err)
	assert.Equal(t, int64(32_000), gotBalance)
	assert.Equal(t, int64(7), gotVersion)
	assert.Equal(t, []string{"user:balance:9"}, locker.keys)
}

func TestDeductBalanceStep_Execute_InsufficientBalance(t *testing.T) {
	users := &mockUserStore{
		getForUpdateFn: func(ctx context.Context, tx database.TxQuerier, userID int64) (*model.User, error) {
			return &model.User{UserID: userID, Balance: 100, Version: 1}, nil
		},
	}
	step := NewDeductBalanceStep(&mockTxBeginner{}, users, &mockOrderStore{}, &passLocker{}, testTimings)

	err := step.Execute(context.Background(), &Snapshot{UserID: 9, FinalAmount: 18_000})

	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrInsufficientBalance)
}

func TestDeductBalanceStep_Compensate_RefundsDurableAmount(t *testing.T) {
	var refunded int64
	users := &mockUserStore{
		getForUpdateFn: func(ctx context.Context, tx database.TxQuerier, userID int64) (*model.User, error) {
			return &model.User{UserID: userID, Balance: 1_000, Version: 2}, nil
		},
		updateBalanceFn: func(ctx context.Context, tx database.TxQuerier, userID, balance, expectedVersion int64) error {
			refunded = balance
			return nil
		},
	}
	orders := &mockOrderStore{
		getByIDFn: func(ctx context.Context, orderID int64) (*model.Order, error) {
			return &model.Order{OrderID: orderID, FinalAmount: 18_000}, nil
		},
	}
	step := NewDeductBalanceStep(&mockTxBeginner{}, users, orders, &passLocker{}, testTimings)

	// Snapshot says a different amount; the durable order row wins.
	err := step.Compensate(context.Background(), &Snapshot{UserID: 9, OrderID: 77, FinalAmount: 5})

	require.NoError(t, err)
	assert.Equal(t, int64(19_000), refunded)
}

func TestDeductBalanceStep_Compensate_RefundFailureIsCritical(t *testing.T) {
	users := &mockUserStore{
		getForUpdateFn: func(ctx context.Context, tx database.TxQuerier, userID int64) (*model.User, error) {
			return nil, errors.New("connection reset")
		},
	}
	step := NewDeductBalanceStep(&mockTxBeginner{}, users, &mockOrderStore{}, &passLocker{}, testTimings)

	err := step.Compensate(context.Background(), &Snapshot{UserID: 9, FinalAmount: 500})

	require.Error(t, err)
	assert.Equal(t, service.KindCritical, service.Classify(err))
}

func TestUseCouponStep_Execute_NoCouponSkips(t *testing.T) {
	called := false
	coupons := &mockUserCouponStore{
		getForUpdateFn: func(ctx context.Context, tx database.TxQuerier, userID, couponID int64) (*model.UserCoupon, error) {
			called = true
			return nil, nil
		},
	}
	step := NewUseCouponStep(&mockTxBeginner{}, coupons)

	err := step.Execute(context.Background(), &Snapshot{UserID: 1})

	require.NoError(t, err)
	assert.False(t, called)
}

func TestUseCouponStep_Execute_MarksUsed(t *testing.T) {
	var gotStatus model.UserCouponStatus
	var gotUsedAt *time.Time
	coupons := &mockUserCouponStore{
		getForUpdateFn: func(ctx context.Context, tx database.TxQuerier, userID, couponID int64) (*model.UserCoupon, error) {
			return &model.UserCoupon{UserCouponID: 5, Status: model.UserCouponUnused}, nil
		},
		updateStatusFn: func(ctx context.Context, tx database.TxQuerier, userCouponID int64, status model.UserCouponStatus, usedAt *time.Time) error {
			gotStatus, gotUsedAt = status, usedAt
			return nil
		},
	}
	step := NewUseCouponStep(&mockTxBeginner{}, coupons)

	err := step.Execute(context.Background(), &Snapshot{UserID: 1, CouponID: int64Ptr(3)})

	require.NoError(t, err)
	assert.Equal(t, model.UserCouponUsed, gotStatus)
	require.NotNil(t, gotUsedAt)
}

func TestUseCouponStep_Execute_AlreadyUsed(t *testing.T) {
	coupons := &mockUserCouponStore{
		getForUpdateFn: func(ctx context.Context, tx database.TxQuerier, userID, couponID int64) (*model.UserCoupon, error) {
			return &model.UserCoupon{UserCouponID: 5, Status: model.UserCouponUsed}, nil
		},
	}
	step := NewUseCouponStep(&mockTxBeginner{}, coupons)

	err := step.Execute(context.Background(), &Snapshot{UserID: 1, CouponID: int64Ptr(3)})

	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrCouponInvalid)
}

func TestUseCouponStep_Execute_MissingGrant(t *testing.T) {
	coupons := &mockUserCouponStore{
		getForUpdateFn: func(ctx context.Context, tx database.TxQuerier, userID, couponID int64) (*model.UserCoupon, error) {
			return nil, service.ErrUserCouponNotFound
		},
	}
	step := NewUseCouponStep(&mockTxBeginner{}, coupons)

	err := step.Execute(context.Background(), &Snapshot{UserID: 1, CouponID: int64Ptr(3)})

	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrCouponInvalid)
}

func TestUseCouponStep_Compensate_Idempotent(t *testing.T) {
	updated := false
	coupons := &mockUserCouponStore{
		getForUpdateFn: func(ctx context.Context, tx database.TxQuerier, userID, couponID int64) (*model.UserCoupon, error) {
			return &model.UserCoupon{UserCouponID: 5, Status: model.UserCouponUnused}, nil
		},
		updateStatusFn: func(ctx context.Context, tx database.TxQuerier, userCouponID int64, status model.UserCouponStatus, usedAt *time.Time) error {
			updated = true
			return nil
		},
	}
	step := NewUseCouponStep(&mockTxBeginner{}, coupons)

	err := step.Compensate(context.Background(), &Snapshot{UserID: 1, CouponID: int64Ptr(3)})

	require.NoError(t, err)
	assert.False(t, updated, "a coupon already UNUSED must be left alone")
}

func TestUseCouponStep_Compensate_RevertsToUnused(t *testing.T) {
	var gotStatus model.UserCouponStatus
	var gotUsedAt *time.Time
	coupons := &mockUserCouponStore{
		getForUpdateFn: func(ctx context.Context, tx database.TxQuerier, userID, couponID int64) (*model.UserCoupon, error) {
			used := time.Now()
			return &model.UserCoupon{UserCouponID: 5, Status: model.UserCouponUsed, UsedAt: &used}, nil
		},
		updateStatusFn: func(ctx context.Context, tx database.TxQuerier, userCouponID int64, status model.UserCouponStatus, usedAt *time.Time) error {
			gotStatus, gotUsedAt = status, usedAt
			return nil
		},
	}
	step := NewUseCouponStep(&mockTxBeginner{}, coupons)

	err := step.Compensate(context.Background(), &Snapshot{UserID: 1, CouponID: int64Ptr(3)})

	require.NoError(t, err)
	assert.Equal(t, model.UserCouponUnused, gotStatus)
	assert.Nil(t, gotUsedAt, "used_at must be cleared on revert")
}

func TestCreateOrderStep_Execute_Success(t *testing.T) {
	var insertedOrder *model.Order
	var insertedItems []model.OrderItem
	orders := &mockOrderStore{
		insertFn: func(ctx context.Context, tx database.TxQuerier, order *model.Order) (int64, error) {
			insertedOrder = order
			order.OrderID = 42
			return 42, nil
		},
		insertItemsFn: func(ctx context.Context, tx database.TxQuerier, items []model.OrderItem) error {
			insertedItems = items
			return nil
		},
	}
	outbox := &mockOutboxStore{}
	woken := false
	step := NewCreateOrderStep(&mockTxBeginner{}, orders, outbox, func() { woken = true })

	snap := &Snapshot{
		UserID:         9,
		CouponID:       int64Ptr(3),
		Subtotal:       20_000,
		CouponDiscount: 2_000,
		FinalAmount:    18_000,
		Items: []SnapshotItem{
			{OptionID: 11, ProductID: 1, ProductName: "Keyboard", OptionName: "Black", Quantity: 2, UnitPrice: 10_000, Subtotal: 20_000},
		},
	}
	err := step.Execute(context.Background(), snap)

	require.NoError(t, err)
	assert.Equal(t, int64(42), snap.OrderID)
	assert.True(t, woken, "a committed order must nudge the dispatcher")

	require.NotNil(t, insertedOrder)
	assert.Equal(t, model.OrderCompleted, insertedOrder.Status)
	assert.Equal(t, int64(18_000), insertedOrder.FinalAmount)

	require.Len(t, insertedItems, 1)
	assert.Equal(t, int64(42), insertedItems[0].OrderID)
	assert.Equal(t, "Keyboard", insertedItems[0].ProductName)

	require.Len(t, outbox.saved, 1)
	assert.Equal(t, model.MessageOrderCompleted, outbox.saved[0].MessageType)
	assert.Equal(t, int64(42), outbox.saved[0].OrderID)

	var payload model.OrderCompletedPayload
	require.NoError(t, json.Unmarshal(outbox.saved[0].Payload, &payload))
	assert.Equal(t, int64(42), payload.OrderID)
	assert.Equal(t, int64(18_000), payload.FinalAmount)
}

func TestCreateOrderStep_Compensate_CancelsAndEmits(t *testing.T) {
	var cancelledID int64
	orders := &mockOrderStore{
		getByIDFn: func(ctx context.Context, orderID int64) (*model.Order, error) {
			return &model.Order{OrderID: orderID, UserID: 9, Status: model.OrderCompleted, FinalAmount: 18_000}, nil
		},
		markCancelledFn: func(ctx context.Context, tx database.TxQuerier, orderID int64, at time.Time) error {
			cancelledID = orderID
			return nil
		},
	}
	outbox := &mockOutboxStore{}
	step := NewCreateOrderStep(&mockTxBeginner{}, orders, outbox, nil)

	err := step.Compensate(context.Background(), &Snapshot{UserID: 9, OrderID: 42})

	require.NoError(t, err)
	assert.Equal(t, int64(42), cancelledID)
	require.Len(t, outbox.saved, 1)
	assert.Equal(t, model.MessageOrderCancelled, outbox.saved[0].MessageType)
}

func TestCreateOrderStep_Compensate_NotCancellable(t *testing.T) {
	orders := &mockOrderStore{
		getByIDFn: func(ctx context.Context, orderID int64) (*model.Order, error) {
			return &model.Order{OrderID: orderID, UserID: 9, Status: model.OrderCancelled}, nil
		},
		markCancelledFn: func(ctx context.Context, tx database.TxQuerier, orderID int64, at time.Time) error {
			return service.ErrOrderNotCancellable
		},
	}
	step := NewCreateOrderStep(&mockTxBeginner{}, orders, &mockOutboxStore{}, nil)

	err := step.Compensate(context.Background(), &Snapshot{UserID: 9, OrderID: 42})

	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrOrderNotCancellable)
}
