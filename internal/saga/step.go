package saga

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/scalable-order-system/internal/model"
	"github.com/fairyhunter13/scalable-order-system/pkg/database"
)

// Step is one local transaction of the order saga. Execute and Compensate
// each run in their own independent DB transaction, never joined to an
// outer one. Compensate must be idempotent and must decide from durable
// state whether its forward effect was applied.
type Step interface {
	// Name is the stable identifier recorded on the execution trail and
	// in dead-letter rows.
	Name() string
	// Order is the fixed position in the forward sequence, 1..N.
	// Duplicate orders across steps are a configuration error.
	Order() int
	Execute(ctx context.Context, snap *Snapshot) error
	Compensate(ctx context.Context, snap *Snapshot) error
}

// Locker is the distributed-lock surface steps depend on.
type Locker interface {
	WithLock(ctx context.Context, key string, wait, lease time.Duration, fn func(ctx context.Context) error) error
}

// UserStore is the user data access surface steps depend on.
type UserStore interface {
	GetForUpdate(ctx context.Context, tx database.TxQuerier, userID int64) (*model.User, error)
	UpdateBalance(ctx context.Context, tx database.TxQuerier, userID, balance, expectedVersion int64) error
}

// ProductStore is the inventory data access surface steps depend on.
type ProductStore interface {
	GetOptionForUpdate(ctx context.Context, tx database.TxQuerier, optionID int64) (*model.ProductOption, string, error)
	UpdateStock(ctx context.Context, tx database.TxQuerier, optionID int64, stock int, expectedVersion int64) error
}

// UserCouponStore is the issued-coupon data access surface steps depend on.
type UserCouponStore interface {
	GetForUpdate(ctx context.Context, tx database.TxQuerier, userID, couponID int64) (*model.UserCoupon, error)
	UpdateStatus(ctx context.Context, tx database.TxQuerier, userCouponID int64, status model.UserCouponStatus, usedAt *time.Time) error
}

// OrderStore is the order data access surface steps depend on.
type OrderStore interface {
	Insert(ctx context.Context, tx database.TxQuerier, order *model.Order) (int64, error)
	InsertItems(ctx context.Context, tx database.TxQuerier, items []model.OrderItem) error
	GetByID(ctx context.Context, orderID int64) (*model.Order, error)
	GetByIDForUpdate(ctx context.Context, tx database.TxQuerier, orderID int64) (*model.Order, error)
	GetItems(ctx context.Context, q database.TxQuerier, orderID int64) ([]model.OrderItem, error)
	MarkCancelled(ctx context.Context, tx database.TxQuerier, orderID int64, at time.Time) error
}

// OutboxStore writes outbox rows inside the step's transaction.
type OutboxStore interface {
	Save(ctx context.Context, tx database.TxQuerier, msg *model.OutboxMessage) error
}

// TxBeginner begins the step's independent transactions.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// StepTimings bounds lock acquisition inside a step.
type StepTimings struct {
	LockWait  time.Duration
	LockLease time.Duration
}
