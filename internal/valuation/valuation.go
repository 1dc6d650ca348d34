package valuation

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rajivgeraev/cardtrade-api/internal/models"
)

// Valuer оценивает стоимость записи инвентаря.
// ok=false означает, что стоимость неизвестна и проверка справедливости пропускается.
type Valuer interface {
	Value(ctx context.Context, item *models.InventoryItem) (value decimal.Decimal, ok bool, err error)
}

// PriceSource источник рыночных цен каталога
type PriceSource interface {
	Price(ctx context.Context, catalogItemID string) (price decimal.Decimal, ok bool, err error)
}

// RecordValuer берет стоимость, сохраненную в самой записи инвентаря
type RecordValuer struct{}

func (RecordValuer) Value(_ context.Context, item *models.InventoryItem) (decimal.Decimal, bool, error) {
	if item.MarketValue == nil {
		return decimal.Zero, false, nil
	}
	return *item.MarketValue, true, nil
}

// CatalogValuer берет цену из каталога, а при ее отсутствии - из записи
type CatalogValuer struct {
	Source   PriceSource
	Fallback Valuer
}

func (v CatalogValuer) Value(ctx context.Context, item *models.InventoryItem) (decimal.Decimal, bool, error) {
	price, ok, err := v.Source.Price(ctx, item.CatalogItemID)
	if err != nil {
		return decimal.Zero, false, err
	}
	if ok {
		return price, true, nil
	}
	if v.Fallback == nil {
		return decimal.Zero, false, nil
	}
	return v.Fallback.Value(ctx, item)
}

// StaticPrices фиксированный прайс-лист
type StaticPrices map[string]decimal.Decimal

func (p StaticPrices) Price(_ context.Context, catalogItemID string) (decimal.Decimal, bool, error) {
	price, ok := p[catalogItemID]
	return price, ok, nil
}

// DiffRatio возвращает |a-b| / max(a,b). ok=false, если max равен нулю.
func DiffRatio(a, b decimal.Decimal) (ratio decimal.Decimal, ok bool) {
	maxValue := decimal.Max(a, b)
	if !maxValue.IsPositive() {
		return decimal.Zero, false
	}
	return a.Sub(b).Abs().Div(maxValue), true
}
