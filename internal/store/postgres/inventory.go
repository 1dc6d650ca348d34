package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rajivgeraev/cardtrade-api/internal/models"
)

const itemColumns = `id, owner_id, catalog_item_id, condition, bucket, quantity, tradable,
    market_value, created_at, updated_at, version`

func scanItem(row rowScanner) (*models.InventoryItem, error) {
	var (
		i     models.InventoryItem
		value decimal.NullDecimal
	)
	err := row.Scan(&i.ID, &i.OwnerID, &i.CatalogItemID, &i.Condition, &i.Bucket, &i.Quantity, &i.Tradable,
		&value, &i.CreatedAt, &i.UpdatedAt, &i.Version)
	if err != nil {
		return nil, err
	}
	if value.Valid {
		v := value.Decimal
		i.MarketValue = &v
	}
	return &i, nil
}

func marketValue(i *models.InventoryItem) decimal.NullDecimal {
	if i.MarketValue == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*i.MarketValue)
}

func (t *tx) GetInventoryItem(ctx context.Context, id uuid.UUID) (*models.InventoryItem, error) {
	i, err := scanItem(t.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr("get inventory item", err)
	}
	return i, nil
}

func (t *tx) FindInventoryMatch(ctx context.Context, ownerID uuid.UUID, like *models.InventoryItem) (*models.InventoryItem, error) {
	i, err := scanItem(t.tx.QueryRow(ctx, `
        SELECT `+itemColumns+` FROM inventory_items
        WHERE owner_id = $1 AND catalog_item_id = $2 AND condition = $3 AND bucket = $4
        ORDER BY created_at
        LIMIT 1
    `, ownerID, like.CatalogItemID, like.Condition, like.Bucket))
	if err != nil {
		return nil, mapErr("find inventory match", err)
	}
	return i, nil
}

func (t *tx) ListInventory(ctx context.Context, ownerID uuid.UUID) ([]*models.InventoryItem, error) {
	rows, err := t.tx.Query(ctx, `
        SELECT `+itemColumns+` FROM inventory_items
        WHERE owner_id = $1
        ORDER BY created_at DESC
    `, ownerID)
	if err != nil {
		return nil, mapErr("list inventory", err)
	}
	defer rows.Close()

	var out []*models.InventoryItem
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, mapErr("scan inventory item", err)
		}
		out = append(out, i)
	}
	return out, mapErr("list inventory", rows.Err())
}

func (t *tx) InsertInventoryItem(ctx context.Context, i *models.InventoryItem) error {
	if i.Version == 0 {
		i.Version = 1
	}
	_, err := t.tx.Exec(ctx, `
        INSERT INTO inventory_items (`+itemColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    `, i.ID, i.OwnerID, i.CatalogItemID, i.Condition, i.Bucket, i.Quantity, i.Tradable,
		marketValue(i), i.CreatedAt, i.UpdatedAt, i.Version)
	return mapErr("insert inventory item", err)
}

func (t *tx) UpdateInventoryItem(ctx context.Context, i *models.InventoryItem) error {
	tag, err := t.tx.Exec(ctx, `
        UPDATE inventory_items
        SET owner_id = $3, quantity = $4, tradable = $5, market_value = $6, updated_at = $7,
            version = version + 1
        WHERE id = $1 AND version = $2
    `, i.ID, i.Version, i.OwnerID, i.Quantity, i.Tradable, marketValue(i), i.UpdatedAt)
	if err := casResult("update inventory item", tag, err); err != nil {
		return err
	}
	i.Version++
	return nil
}

func (t *tx) DeleteInventoryItem(ctx context.Context, i *models.InventoryItem) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM inventory_items WHERE id = $1 AND version = $2`, i.ID, i.Version)
	return casResult("delete inventory item", tag, err)
}
