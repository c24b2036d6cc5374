package handler

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 64 << 10

// RegisterRoutes mounts the chat API on e.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group(chatPath)
	g.POST("", h.PostChat)
	g.GET("/history/:"+sessionIDParam, h.GetHistory)
	g.DELETE("/history/:"+sessionIDParam, h.DeleteHistory)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})
}

// Middleware returns the standard middleware chain: panic recovery, a
// per-client rate limit when rps is positive, and correlation ids.
func Middleware(rps float64) []echo.MiddlewareFunc {
	mw := []echo.MiddlewareFunc{middleware.Recover()}
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:  rate.Limit(rps),
			Burst: burst,
		})
		mw = append(mw, middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: store,
			ErrorHandler: func(c echo.Context, err error) error {
				return c.JSON(http.StatusForbidden, errorResponse{Error: "FORBIDDEN"})
			},
			DenyHandler: func(c echo.Context, _ string, _ error) error {
				return c.JSON(http.StatusTooManyRequests, errorResponse{Error: "RATE_LIMITED"})
			},
		}))
	}
	mw = append(mw, correlationMiddleware)
	return mw
}

func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := correlationID(c.Request().Header.Get)
		c.Set(correlationHeader, id)
		c.Response().Header().Set(correlationHeader, id)
		return next(c)
	}
}

func echoCorrelationID(c echo.Context) string {
	if v, ok := c.Get(correlationHeader).(string); ok && v != "" {
		return v
	}
	id := correlationID(c.Request().Header.Get)
	c.Response().Header().Set(correlationHeader, id)
	return id
}

// PostChat handles POST /api/chatbot.
func (h *Handler) PostChat(c echo.Context) error {
	corrID := echoCorrelationID(c)
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return writeResult(c, badRequest())
	}
	return writeResult(c, h.chat(c.Request().Context(), corrID, body))
}

// GetHistory handles GET /api/chatbot/history/:sessionId.
func (h *Handler) GetHistory(c echo.Context) error {
	corrID := echoCorrelationID(c)
	return writeResult(c, h.history(c.Request().Context(), corrID, c.Param(sessionIDParam)))
}

// DeleteHistory handles DELETE /api/chatbot/history/:sessionId.
func (h *Handler) DeleteHistory(c echo.Context) error {
	corrID := echoCorrelationID(c)
	return writeResult(c, h.deleteHistory(c.Request().Context(), corrID, c.Param(sessionIDParam)))
}

func writeResult(c echo.Context, res result) error {
	return c.JSON(res.status, res.body)
}
