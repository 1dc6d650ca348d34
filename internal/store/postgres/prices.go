package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// CatalogPrices источник рыночных цен из таблицы catalog_prices
type CatalogPrices struct {
	pool *pgxpool.Pool
}

// NewCatalogPrices создает источник цен
func NewCatalogPrices(pool *pgxpool.Pool) *CatalogPrices {
	return &CatalogPrices{pool: pool}
}

// Price возвращает цену карты каталога; ok=false, если цены нет
func (p *CatalogPrices) Price(ctx context.Context, catalogItemID string) (decimal.Decimal, bool, error) {
	var price decimal.NullDecimal
	err := p.pool.QueryRow(ctx, `
        SELECT market_price FROM catalog_prices WHERE catalog_item_id = $1
    `, catalogItemID).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, mapErr("get catalog price", err)
	}
	return price.Decimal, price.Valid, nil
}
