package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/scalable-order-system/internal/model"
	"github.com/fairyhunter13/scalable-order-system/internal/service"
	"github.com/fairyhunter13/scalable-order-system/pkg/database"
)

// ProductRepository provides data access for products and option inventory.
type ProductRepository struct {
	pool PoolInterface
}

// NewProductRepository creates a new ProductRepository with the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// NewProductRepositoryWithPool creates a ProductRepository with a custom
// pool interface. This is primarily used for testing.
func NewProductRepositoryWithPool(pool PoolInterface) *ProductRepository {
	return &ProductRepository{pool: pool}
}

const optionColumns = `po.option_id, po.product_id, p.name, po.name, po.unit_price, po.stock, po.version, po.updated_at`

// GetOption retrieves a product option together with its product name.
// Returns service.ErrProductNotFound if the option doesn't exist.
func (r *ProductRepository) GetOption(ctx context.Context, optionID int64) (*model.ProductOption, string, error) {
	query := `SELECT ` + optionColumns + `
	          FROM product_options po JOIN products p ON p.product_id = po.product_id
	          WHERE po.option_id = $1`

	return r.scanOption(r.pool.QueryRow(ctx, query, optionID), optionID)
}

// GetOptionForUpdate retrieves a product option with a row-level exclusive
// lock on the option row. The product row is read without a lock; names are
// immutable snapshots as far as ordering is concerned.
func (r *ProductRepository) GetOptionForUpdate(ctx context.Context, tx database.TxQuerier, optionID int64) (*model.ProductOption, string, error) {
	query := `SELECT ` + optionColumns + `
	          FROM product_options po JOIN products p ON p.product_id = po.product_id
	          WHERE po.option_id = $1 FOR UPDATE OF po`

	return r.scanOption(tx.QueryRow(ctx, query, optionID), optionID)
}

func (r *ProductRepository) scanOption(row pgx.Row, optionID int64) (*model.ProductOption, string, error) {
	var opt model.ProductOption
	var productName string
	err := row.Scan(
		&opt.OptionID, &opt.ProductID, &productName, &opt.Name,
		&opt.UnitPrice, &opt.Stock, &opt.Version, &opt.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", service.ErrProductNotFound
		}
		return nil, "", fmt.Errorf("get product option %d: %w", optionID, err)
	}
	return &opt, productName, nil
}

// UpdateStock writes a new stock level and bumps the version. Must be
// called within a transaction after locking the row.
func (r *ProductRepository) UpdateStock(ctx context.Context, tx database.TxQuerier, optionID int64, stock int, expectedVersion int64) error {
	query := `UPDATE product_options SET stock = $1, version = version + 1, updated_at = now()
	          WHERE option_id = $2 AND version = $3`

	tag, err := tx.Exec(ctx, query, stock, optionID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update stock for option %d: %w", optionID, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrVersionConflict
	}
	return nil
}
