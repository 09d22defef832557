package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/soltixdb/morgoth/internal/logging"
	"github.com/soltixdb/morgoth/internal/models"
)

// errorCodes maps HTTP statuses to ErrorDetail codes
var errorCodes = map[int]string{
	fiber.StatusBadRequest:            "BAD_REQUEST",
	fiber.StatusUnauthorized:          "UNAUTHORIZED",
	fiber.StatusNotFound:              "NOT_FOUND",
	fiber.StatusMethodNotAllowed:      "METHOD_NOT_ALLOWED",
	fiber.StatusRequestEntityTooLarge: "PAYLOAD_TOO_LARGE",
	fiber.StatusServiceUnavailable:    "UNAVAILABLE",
}

// ErrorHandler renders errors returned by handlers as ErrorResponse
func ErrorHandler(logger *logging.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "Internal Server Error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			message = fe.Message
		}

		if code >= fiber.StatusInternalServerError {
			logger.Error("Request error", "path", c.Path(), "method", c.Method(), "status", code, "error", err)
		} else {
			logger.Debug("Request rejected", "path", c.Path(), "method", c.Method(), "status", code, "error", err)
		}

		errCode, ok := errorCodes[code]
		if !ok {
			errCode = "ERROR"
		}
		return c.Status(code).JSON(models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    errCode,
				Message: message,
				Path:    c.Path(),
			},
		})
	}
}
