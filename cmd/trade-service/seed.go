package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rajivgeraev/cardtrade-api/internal/models"
	"github.com/rajivgeraev/cardtrade-api/internal/store/memory"
	"github.com/rajivgeraev/cardtrade-api/internal/utils"
)

// seedDemo заполняет in-memory хранилище двумя друзьями с картами и печатает их токены
func seedDemo(st *memory.Store, jwtService *utils.JWTService, zl *zap.Logger) {
	now := time.Now()
	users := []struct {
		handle string
		name   string
		card   string
		value  int64
	}{
		{"alice", "Alice", "base-set-4", 120},
		{"bob", "Bob", "base-set-2", 100},
	}

	ids := make([]uuid.UUID, 0, len(users))
	for _, u := range users {
		id := uuid.New()
		ids = append(ids, id)
		st.AddUser(&models.User{ID: id, Handle: u.handle, DisplayName: u.name})

		value := decimal.NewFromInt(u.value)
		st.AddInventoryItem(&models.InventoryItem{
			ID:            uuid.New(),
			OwnerID:       id,
			CatalogItemID: u.card,
			Condition:     "near_mint",
			Bucket:        "default",
			Quantity:      2,
			Tradable:      true,
			MarketValue:   &value,
			CreatedAt:     now,
			UpdatedAt:     now,
		})

		token, err := jwtService.GenerateToken(id)
		if err != nil {
			zl.Warn("demo token", zap.Error(err))
			continue
		}
		zl.Info("demo user", zap.String("handle", u.handle), zap.Stringer("id", id), zap.String("token", token))
	}
	st.AddFriendship(ids[0], ids[1])
}
