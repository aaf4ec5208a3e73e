package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"pairbot/internal/metrics"
	"pairbot/internal/usecase"
)

const headerCorrelationID = "X-Correlation-Id"

// Starter begins a pairing session and returns the sink for its response.
type Starter interface {
	Start(number string) (*usecase.OneShot, error)
}

type Handler struct {
	starter Starter
	logger  zerolog.Logger
}

type codeResponse struct {
	Code string `json:"code"`
}

type healthResponse struct {
	Status string `json:"status"`
}

func NewHandler(starter Starter, logger zerolog.Logger) (*Handler, error) {
	if starter == nil {
		return nil, errors.New("handler: starter must not be nil")
	}
	return &Handler{starter: starter, logger: logger}, nil
}

// NewServer returns the echo instance serving the pairing, health and metrics routes.
func NewServer(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(h.correlate)

	e.GET("/", h.Pair)
	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}

// correlate echoes the caller's correlation id or assigns one, then logs and
// counts the request.
func (h *Handler) correlate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(headerCorrelationID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Response().Header().Set(headerCorrelationID, id)

		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		status := c.Response().Status
		elapsed := time.Since(start)
		metrics.RecordHTTPRequest(c.Request().Method, c.Path(), status, elapsed)

		event := h.logger.Info()
		if status >= 500 {
			event = h.logger.Error()
		} else if status >= 400 {
			event = h.logger.Warn()
		}
		event.
			Str("method", c.Request().Method).
			Str("path", c.Path()).
			Int("status", status).
			Dur("duration", elapsed).
			Str("correlation_id", id).
			Msg("http request")
		return nil
	}
}

// Pair starts a session for ?number= and replies with whatever the session
// delivers first: the pairing code, a confirmation, or an error message.
func (h *Handler) Pair(c echo.Context) error {
	sink, err := h.starter.Start(c.QueryParam("number"))
	if errors.Is(err, usecase.ErrSessionInProgress) {
		return c.JSON(http.StatusServiceUnavailable, codeResponse{Code: "Session already in progress"})
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("start session")
		return c.JSON(http.StatusInternalServerError, codeResponse{Code: usecase.MsgServiceUnavailable})
	}

	resp, ok := sink.Wait(c.Request().Context())
	if !ok {
		h.logger.Warn().Msg("caller left before the session responded")
		return nil
	}
	return c.JSON(resp.Status, codeResponse{Code: resp.Code})
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}
