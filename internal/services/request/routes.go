package request

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/cardtrade-api/internal/apperr"
	"github.com/rajivgeraev/cardtrade-api/internal/db"
	"github.com/rajivgeraev/cardtrade-api/internal/middleware"
	"github.com/rajivgeraev/cardtrade-api/internal/models"
	"github.com/rajivgeraev/cardtrade-api/internal/response"
)

// SetupRoutes настраивает маршруты для API запросов на обмен
func (s *RequestService) SetupRoutes(app *fiber.App) {
	api := app.Group("/api/requests")

	// Защищенные маршруты (требуют авторизации)
	api.Use(middleware.AuthMiddleware(s.jwtService))

	api.Post("/", s.handleCreate)
	api.Get("/", s.handleList)

	api.Post("/:id/accept", s.handleAccept)
	api.Post("/:id/reject", s.handleReject)
	api.Post("/:id/cancel", s.handleCancel)
}

type createBody struct {
	ToUser       string  `json:"to_user" validate:"required,max=64"`
	TargetItemID *string `json:"target_item_id" validate:"omitempty,max=128"`
	Note         string  `json:"note" validate:"max=500"`
	IsManual     bool    `json:"is_manual"`
}

func (s *RequestService) handleCreate(c fiber.Ctx) error {
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

	req, err := s.CreateRequest(ctx, CreateRequestParams{
		FromUserID:       userID,
		ToUserIdentifier: body.ToUser,
		TargetItemID:     body.TargetItemID,
		Note:             body.Note,
		IsManual:         body.IsManual,
	})
	if err != nil {
		return response.Error(c, s.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(req)
}

func (s *RequestService) handleList(c fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	requests, err := s.ListRequests(ctx, userID, Direction(c.Query("direction")), models.RequestStatus(c.Query("status")))
	if err != nil {
		return response.Error(c, s.log, err)
	}
	return c.JSON(fiber.Map{"requests": requests})
}

func (s *RequestService) handleAccept(c fiber.Ctx) error {
	userID, requestID, err := s.actorAndID(c)
	if err != nil {
		return response.Error(c, s.log, err)
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	req, trade, err := s.AcceptRequest(ctx, requestID, userID)
	if err != nil {
		return response.Error(c, s.log, err)
	}
	return c.JSON(fiber.Map{
		"request": req,
		"trade":   trade,
		"room":    trade.RoomKey(),
	})
}

func (s *RequestService) handleReject(c fiber.Ctx) error {
	userID, requestID, err := s.actorAndID(c)
	if err != nil {
		return response.Error(c, s.log, err)
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	req, err := s.RejectRequest(ctx, requestID, userID)
	if err != nil {
		return response.Error(c, s.log, err)
	}
	return c.JSON(req)
}

func (s *RequestService) handleCancel(c fiber.Ctx) error {
	userID, requestID, err := s.actorAndID(c)
	if err != nil {
		return response.Error(c, s.log, err)
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	req, err := s.CancelRequest(ctx, requestID, userID)
	if err != nil {
		return response.Error(c, s.log, err)
	}
	return c.JSON(req)
}

func (s *RequestService) actorAndID(c fiber.Ctx) (uuid.UUID, uuid.UUID, error) {
	userID, ok := middleware.UserID(c)
	if !ok {
		return uuid.Nil, uuid.Nil, apperr.Forbidden("Пользователь не авторизован")
	}
	requestID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, apperr.Invalid("Неверный формат ID запроса")
	}
	return userID, requestID, nil
}
