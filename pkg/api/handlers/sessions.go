package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/granaryml/granary/pkg/observability"
	"github.com/granaryml/granary/pkg/session"
)

// CreateSession handles POST /api/v1/sessions
func (s *Server) CreateSession(c fiber.Ctx) error {
	state, err := s.deps.Sessions.Create(c.Context())
	if err != nil {
		return s.mapError(err)
	}

	observability.SessionsActive.Inc()

	return c.Status(fiber.StatusCreated).JSON(state)
}

// GetSession handles GET /api/v1/sessions/:id
func (s *Server) GetSession(c fiber.Ctx) error {
	state, err := s.loadSession(c)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(state)
}

// DeleteSession handles DELETE /api/v1/sessions/:id
func (s *Server) DeleteSession(c fiber.Ctx) error {
	err := s.deps.Sessions.Delete(c.Context(), c.Params("id"))
	if errors.Is(err, session.ErrSessionNotFound) {
		return ErrSessionNotFound
	}

	if err != nil {
		return s.mapError(err)
	}

	observability.SessionsActive.Dec()

	return c.SendStatus(fiber.StatusNoContent)
}
