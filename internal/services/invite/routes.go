package invite

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/cardtrade-api/internal/apperr"
	"github.com/rajivgeraev/cardtrade-api/internal/db"
	"github.com/rajivgeraev/cardtrade-api/internal/middleware"
	"github.com/rajivgeraev/cardtrade-api/internal/response"
)

// SetupRoutes настраивает маршруты для приглашений в приватные комнаты
func (s *InviteService) SetupRoutes(app *fiber.App) {
	api := app.Group("/api/invites")
	api.Use(middleware.AuthMiddleware(s.jwtService))

	api.Post("/", s.handleCreate)
	api.Post("/:id/accept", s.handleAccept)
	api.Post("/:id/reject", s.handleReject)
	api.Post("/:id/cancel", s.handleCancel)
}

type createBody struct {
	ToUser string `json:"to_user" validate:"required,max=64"`
}

func (s *InviteService) handleCreate(c fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	var body createBody
	if err := response.Bind(c, &body); err != nil {
		return response.Error(c, s.log, err)
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	inv, err := s.CreateInvite(ctx, userID, body.ToUser)
	if err != nil {
		return response.Error(c, s.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(inv)
}

func (s *InviteService) handleAccept(c fiber.Ctx) error {
	userID, inviteID, err := actorAndID(c)
	if err != nil {
		return response.Error(c, s.log, err)
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	inv, trade, err := s.AcceptInvite(ctx, inviteID, userID)
	if err != nil {
		return response.Error(c, s.log, err)
	}
	return c.JSON(fiber.Map{
		"invite":    inv,
		"trade":     trade,
		"room_code": trade.PrivateRoomCode,
	})
}

func (s *InviteService) handleReject(c fiber.Ctx) error {
	userID, inviteID, err := actorAndID(c)
	if err != nil {
		return response.Error(c, s.log, err)
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	inv, err := s.RejectInvite(ctx, inviteID, userID)
	if err != nil {
		return response.Error(c, s.log, err)
	}
	return c.JSON(inv)
}

func (s *InviteService) handleCancel(c fiber.Ctx) error {
	userID, inviteID, err := actorAndID(c)
	if err != nil {
		return response.Error(c, s.log, err)
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	inv, err := s.CancelInvite(ctx, inviteID, userID)
	if err != nil {
		return response.Error(c, s.log, err)
	}
	return c.JSON(inv)
}

func actorAndID(c fiber.Ctx) (uuid.UUID, uuid.UUID, error) {
	userID, ok := middleware.UserID(c)
	if !ok {
		return uuid.Nil, uuid.Nil, apperr.Forbidden("Пользователь не авторизован")
	}
	inviteID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, apperr.Invalid("Неверный формат ID приглашения")
	}
	return userID, inviteID, nil
}
