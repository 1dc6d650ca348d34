package response

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"

	"github.com/rajivgeraev/cardtrade-api/internal/apperr"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// В сообщениях используем имена полей из json-тегов
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Bind разбирает тело запроса и проверяет его по validate-тегам
func Bind(c fiber.Ctx, out any) error {
	if err := c.Bind().Body(out); err != nil {
		return apperr.Invalid("Неверный формат данных")
	}
	if err := validate.Struct(out); err != nil {
		details := map[string]any{}
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				details[fe.Field()] = fe.Tag()
			}
		}
		return apperr.Invalid("Ошибка валидации").WithDetails(details)
	}
	return nil
}

// Error отправляет ошибку в едином формате. Внутренние ошибки пишутся в лог без деталей для клиента.
func Error(c fiber.Ctx, log *zap.Logger, err error) error {
	kind := apperr.KindOf(err)
	body := fiber.Map{
		"error": "Внутренняя ошибка сервера",
		"code":  kind.String(),
	}

	if kind == apperr.KindInternal {
		log.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err))
	} else {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			body["error"] = appErr.Message
			if len(appErr.Details) > 0 {
				body["details"] = appErr.Details
			}
		}
		body["retryable"] = kind.Retryable()
	}

	return c.Status(apperr.HTTPStatus(kind)).JSON(body)
}
