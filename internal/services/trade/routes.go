package trade

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/cardtrade-api/internal/apperr"
	"github.com/rajivgeraev/cardtrade-api/internal/db"
	"github.com/rajivgeraev/cardtrade-api/internal/middleware"
	"github.com/rajivgeraev/cardtrade-api/internal/models"
	"github.com/rajivgeraev/cardtrade-api/internal/response"
)

// SetupRoutes настраивает маршруты для API обменов
func (s *TradeService) SetupRoutes(app *fiber.App) {
	// Группа для API обменов
	api := app.Group("/api/trades")

	// Защищенные маршруты (требуют авторизации)
	api.Use(middleware.AuthMiddleware(s.jwtService))

	api.Get("/", s.handleList)
	api.Get("/room/:code", s.handleGetByRoomCode)
	api.Get("/:id", s.handleGet)

	// Выбор и подтверждение предмета
	api.Put("/:id/item", s.handleSelectItem)
	api.Post("/:id/confirm", s.handleConfirm)

	// Отмена или отклонение обмена
	api.Put("/:id/status", s.handleSetStatus)
}

type itemBody struct {
	InventoryItemID string `json:"inventory_item_id" validate:"required,uuid"`
}

type statusBody struct {
	Status string `json:"status" validate:"required,oneof=cancelled rejected"`
}

func (s *TradeService) handleList(c fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	trades, err := s.ListTrades(ctx, userID, models.TradeStatus(c.Query("status")))
	if err != nil {
		return response.Error(c, s.log, err)
	}
	return c.JSON(fiber.Map{"trades": trades})
}

func (s *TradeService) handleGet(c fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}
	tradeID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, s.log, apperr.Invalid("Неверный формат ID обмена"))
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	trade, err := s.GetTrade(ctx, tradeID, userID)
	if err != nil {
		return response.Error(c, s.log, err)
	}
	return c.JSON(trade)
}

func (s *TradeService) handleGetByRoomCode(c fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	trade, err := s.GetTradeByRoomCode(ctx, c.Params("code"), userID)
	if err != nil {
		return response.Error(c, s.log, err)
	}
	return c.JSON(trade)
}

func (s *TradeService) handleSelectItem(c fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}
	tradeID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, s.log, apperr.Invalid("Неверный формат ID обмена"))
	}

	var body itemBody
	if err := response.Bind(c, &body); err != nil {
		return response.Error(c, s.log, err)
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	trade, err := s.SelectItem(ctx, tradeID, userID, uuid.MustParse(body.InventoryItemID))
	if err != nil {
		return response.Error(c, s.log, err)
	}
	return c.JSON(trade)
}

func (s *TradeService) handleConfirm(c fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}
	tradeID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, s.log, apperr.Invalid("Неверный формат ID обмена"))
	}

	var body itemBody
	if err := response.Bind(c, &body); err != nil {
		return response.Error(c, s.log, err)
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	outcome, err := s.ConfirmSide(ctx, tradeID, userID, uuid.MustParse(body.InventoryItemID))
	if err != nil {
		return response.Error(c, s.log, err)
	}
	return c.JSON(fiber.Map{
		"trade_id": tradeID,
		"outcome":  outcome,
	})
}

func (s *TradeService) handleSetStatus(c fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}
	tradeID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, s.log, apperr.Invalid("Неверный формат ID обмена"))
	}

	var body statusBody
	if err := response.Bind(c, &body); err != nil {
		return response.Error(c, s.log, err)
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	trade, err := s.SetStatus(ctx, tradeID, userID, models.TradeStatus(body.Status))
	if err != nil {
		return response.Error(c, s.log, err)
	}
	return c.JSON(fiber.Map{
		"message": "Статус обмена успешно обновлен",
		"trade":   trade,
	})
}
