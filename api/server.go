// Package api exposes the completion engine over HTTP for editors that do
// not speak msgpack-RPC.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"localcompletion/engine"
	"localcompletion/logger"
	"localcompletion/metrics"
	"localcompletion/settings"
	"localcompletion/types"
)

// CompleteRequest is the body of POST /v1/complete
type CompleteRequest struct {
	types.DocumentState
	// Trigger is "automatic" (default) or "manual"
	Trigger string `json:"trigger,omitempty"`
}

// CompleteResponse is always a list; empty means no suggestion
type CompleteResponse struct {
	Suggestions []types.Suggestion `json:"suggestions"`
	Status      types.Status       `json:"status"`
}

// HealthResponse is returned by GET /healthz
type HealthResponse struct {
	Status  types.Status `json:"status"`
	History int          `json:"history"`
}

// Server routes HTTP requests to the engine and the settings store
type Server struct {
	app     *fiber.App
	engine  *engine.Engine
	store   *settings.Store
	metrics *metrics.Collector
}

// New builds the routes. store and col may be nil, which disables the
// settings and metrics endpoints.
func New(eng *engine.Engine, store *settings.Store, col *metrics.Collector) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			ErrorHandler:          errorHandler,
		}),
		engine:  eng,
		store:   store,
		metrics: col,
	}
	s.routes()
	return s
}

// App returns the underlying fiber app
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown
func (s *Server) Listen(addr string) error {
	logger.Info("api: listening on %s", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) routes() {
	s.app.Use(requestLogger)

	s.app.Get("/healthz", s.health)

	v1 := s.app.Group("/v1")
	v1.Post("/complete", s.complete)
	v1.Post("/cancel", s.cancel)
	v1.Post("/history/clear", s.clearHistory)

	if s.store != nil {
		v1.Get("/settings", s.getSettings)
		v1.Put("/settings", s.putSettings)
		v1.Post("/toggle", s.toggle)
	}

	if s.metrics != nil {
		handler := promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})
		s.app.Get("/metrics", adaptor.HTTPHandler(handler))
	}
}

func requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	logger.Debug("api: %s %s -> %d (%s)", c.Method(), c.Path(), c.Response().StatusCode(), time.Since(start))
	return err
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		logger.Error("api: %s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:  s.engine.Status(),
		History: s.engine.History().Len(),
	})
}

func (s *Server) complete(c *fiber.Ctx) error {
	var req CompleteRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if req.Trigger != "" && req.Trigger != types.TriggerAutomatic.String() && req.Trigger != types.TriggerManual.String() {
		return fiber.NewError(fiber.StatusBadRequest, "unknown trigger: "+req.Trigger)
	}

	out := s.engine.Request(c.UserContext(), req.DocumentState, types.TriggerKindFromString(req.Trigger))
	if out == nil {
		out = []types.Suggestion{}
	}
	return c.JSON(CompleteResponse{Suggestions: out, Status: s.engine.Status()})
}

func (s *Server) cancel(c *fiber.Ctx) error {
	s.engine.Cancel()
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) clearHistory(c *fiber.Ctx) error {
	s.engine.ClearHistory()
	return c.SendStatus(fiber.StatusNoContent)
}

// redacted hides the API key; PUT leaves it untouched unless the body sets it
func redacted(st settings.Settings) settings.Settings {
	st.APIKey = ""
	return st
}

func (s *Server) getSettings(c *fiber.Ctx) error {
	return c.JSON(redacted(s.store.Get()))
}

func (s *Server) putSettings(c *fiber.Ctx) error {
	body := string(c.Body())
	err := s.store.Update(func(st *settings.Settings) error {
		return st.ApplyJSON(body)
	})
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(redacted(s.store.Get()))
}

func (s *Server) toggle(c *fiber.Ctx) error {
	enabled, err := s.store.ToggleEnabled()
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"enabled": enabled})
}
