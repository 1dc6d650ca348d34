package inventory

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/cardtrade-api/internal/apperr"
	"github.com/rajivgeraev/cardtrade-api/internal/db"
	"github.com/rajivgeraev/cardtrade-api/internal/middleware"
	"github.com/rajivgeraev/cardtrade-api/internal/response"
)

// SetupRoutes настраивает маршруты для API инвентаря
func (s *InventoryService) SetupRoutes(app *fiber.App) {
	api := app.Group("/api/inventory")
	api.Use(middleware.AuthMiddleware(s.jwtService))

	api.Get("/", s.handleList)
	api.Put("/:id/tradable", s.handleSetTradable)
}

type tradableBody struct {
	Tradable *bool `json:"tradable" validate:"required"`
}

func (s *InventoryService) handleList(c fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	items, err := s.List(ctx, userID)
	if err != nil {
		return response.Error(c, s.log, err)
	}
	return c.JSON(fiber.Map{"items": items})
}

func (s *InventoryService) handleSetTradable(c fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}
	itemID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, s.log, apperr.Invalid("Неверный формат ID предмета"))
	}

	var body tradableBody
	if err := response.Bind(c, &body); err != nil {
		return response.Error(c, s.log, err)
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	item, err := s.SetTradable(ctx, userID, itemID, *body.Tradable)
	if err != nil {
		return response.Error(c, s.log, err)
	}
	return c.JSON(item)
}
