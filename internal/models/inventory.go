package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InventoryItem запись владения: копии карты одного состояния в одной коллекции
type InventoryItem struct {
	ID            uuid.UUID        `json:"id"`
	OwnerID       uuid.UUID        `json:"owner_id"`
	CatalogItemID string           `json:"catalog_item_id"`
	Condition     string           `json:"condition"`
	Bucket        string           `json:"bucket"`
	Quantity      int              `json:"quantity"`
	Tradable      bool             `json:"tradable"`
	MarketValue   *decimal.Decimal `json:"market_value,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	Version       int64            `json:"version"`
}

// Matches проверяет, можно ли слить копию в эту запись
func (i *InventoryItem) Matches(other *InventoryItem) bool {
	return i.CatalogItemID == other.CatalogItemID &&
		i.Condition == other.Condition &&
		i.Bucket == other.Bucket
}

// MatchesRequested проверяет совпадение с предметом из запроса (по ID записи или каталога)
func (i *InventoryItem) MatchesRequested(requested string) bool {
	return i.ID.String() == requested || i.CatalogItemID == requested
}

// Clone возвращает независимую копию записи
func (i *InventoryItem) Clone() *InventoryItem {
	cp := *i
	if i.MarketValue != nil {
		v := *i.MarketValue
		cp.MarketValue = &v
	}
	return &cp
}
