package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jinx-bot/jinx-cache/internal/apicache"
	"github.com/jinx-bot/jinx-cache/internal/jinxxy"
)

// AppOptions controls how the admin Fiber application should behave.
type AppOptions struct {
	Logger *logrus.Logger
}

const contextKeyRequestID = "_jinx_request_id"

// NewApp builds a Fiber application with request-id middleware, panic
// recovery, and a JSON error handler that understands cache errors.
// Callers attach their routes afterwards.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}

	// store id 等路由参数会被缓存 worker 长期持有，不能引用 fasthttp 复用的缓冲区。
	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		Immutable:     true,
		ErrorHandler:  errorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))
	return app, nil
}

// requestContextMiddleware 为每个请求生成请求 ID，并在结束后记录访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		err := c.Next()

		logger.WithFields(logrus.Fields{
			"action":     "admin_request",
			"method":     c.Method(),
			"path":       c.Path(),
			"request_id": reqID,
		}).Debug("admin_request_served")
		return err
	}
}

func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status, code := classifyError(err)
		fields := logrus.Fields{
			"action":     "admin_request",
			"path":       c.Path(),
			"request_id": RequestID(c),
			"status":     status,
		}
		if status >= fiber.StatusInternalServerError {
			logger.WithFields(fields).WithError(err).Warn("admin_request_failed")
		}
		return c.Status(status).JSON(fiber.Map{"error": code})
	}
}

// classifyError 把内部错误映射为 HTTP 状态码与稳定的错误码。
func classifyError(err error) (int, string) {
	var fiberErr *fiber.Error
	var apiErr *jinxxy.APIError
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code, errorCode(http.StatusText(fiberErr.Code))
	case errors.Is(err, apicache.ErrMissingAPIKey):
		return fiber.StatusNotFound, "store_not_linked"
	case errors.Is(err, apicache.ErrNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, apicache.ErrClosed):
		return fiber.StatusServiceUnavailable, "cache_closed"
	case errors.As(err, &apiErr) && apiErr.LooksLike403():
		return fiber.StatusBadGateway, "upstream_forbidden"
	case errors.As(err, &apiErr) && apiErr.LooksLike404():
		return fiber.StatusBadGateway, "upstream_not_found"
	default:
		return fiber.StatusBadGateway, "upstream_unavailable"
	}
}

func errorCode(text string) string {
	if text == "" {
		return "error"
	}
	return strings.ReplaceAll(strings.ToLower(text), " ", "_")
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
