package presenter

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/totegamma/eventchain/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

type validationResponse struct {
	Errors []string `json:"errors"`
}

// OK wraps a successful response.
func OK(c echo.Context, payload any) error {
	return c.JSON(http.StatusOK, payload)
}

func BadRequest(c echo.Context, err error) error {
	slog.InfoContext(c.Request().Context(), "bad request", slog.String("error", err.Error()), slog.String("module", "rest"))
	return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func BadRequestMessage(c echo.Context, msg string) error {
	slog.InfoContext(c.Request().Context(), "bad request", slog.String("error", msg), slog.String("module", "rest"))
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

// ValidationFailed responds with every validation message.
func ValidationFailed(c echo.Context, validation *domain.Validation) error {
	slog.InfoContext(c.Request().Context(), "validation failed", slog.Any("errors", validation.Errors()), slog.String("module", "rest"))
	return c.JSON(http.StatusBadRequest, validationResponse{Errors: validation.Errors()})
}

func Unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
}

func NotFound(c echo.Context, msg string) error {
	return c.JSON(http.StatusNotFound, errorResponse{Error: msg})
}

func Conflict(c echo.Context, err error) error {
	slog.WarnContext(c.Request().Context(), "conflict", slog.String("error", err.Error()), slog.String("module", "rest"))
	return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
}

func InternalError(c echo.Context, err error) error {
	slog.ErrorContext(c.Request().Context(), "internal error", slog.String("error", err.Error()), slog.String("module", "rest"))
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

func Forbidden(c echo.Context) error {
	return c.JSON(http.StatusForbidden, errorResponse{Error: "forbidden"})
}
