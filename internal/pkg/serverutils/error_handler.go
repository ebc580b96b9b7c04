// FILE: internal/pkg/serverutils/error_handler.go
package serverutils

import (
	"errors"
	"log"

	"podcast-research-sync/internal/dto"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandlerMiddleware turns errors returned by handlers into the JSON
// envelope. Quota errors get the dedicated 429 body.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		var limitErr *dto.LimitExceededError
		if errors.As(err, &limitErr) {
			return ctx.Status(fiber.StatusTooManyRequests).JSON(dto.LimitExceededResponse{
				Success:   false,
				Code:      fiber.StatusTooManyRequests,
				Message:   limitErr.Error(),
				ErrorType: "limit_exceeded",
				Data: dto.LimitExceededData{
					Limit:      limitErr.Limit,
					Used:       limitErr.Used,
					ResetAfter: limitErr.ResetAfter,
				},
			})
		}

		var appErr *AppError
		if errors.As(err, &appErr) {
			return ctx.Status(appErr.Code).JSON(ErrorResponse(appErr.Code, appErr.Message))
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return ctx.Status(fiberErr.Code).JSON(ErrorResponse(fiberErr.Code, fiberErr.Message))
		}

		log.Printf("[ERROR] %s %s: %v", ctx.Method(), ctx.Path(), err)
		return ctx.Status(fiber.StatusInternalServerError).JSON(ErrorResponse(fiber.StatusInternalServerError, err.Error()))
	}
}
