package handlers

import (
	"github.com/gofiber/fiber/v3"

	"github.com/granaryml/granary/pkg/grain"
	"github.com/granaryml/granary/pkg/session"
)

const defaultPreviewLimit = 20

// BuildGrain handles POST /api/v1/sessions/:id/grain. A rebuilt grain
// invalidates every downstream stage before the new definition applies.
func (s *Server) BuildGrain(c fiber.Ctx) error {
	started := s.now()

	state, err := s.loadSession(c)
	if err != nil {
		return err
	}

	var def grain.Definition
	if err := c.Bind().Body(&def); err != nil {
		return ErrInvalidBody
	}

	result, err := s.deps.Grains.Build(c.Context(), &def)
	if err != nil {
		s.observeStage(session.StageGrain, "failed", started)

		return s.mapError(err)
	}

	if _, err := state.Invalidate(s.deps.Sessions.Graph(), session.StageGrain); err != nil {
		return s.mapError(err)
	}

	state.Grain = &def
	state.GrainResult = result

	if err := s.saveSession(c, state); err != nil {
		return err
	}

	s.observeStage(session.StageGrain, string(result.Status), started)

	return c.Status(fiber.StatusOK).JSON(result)
}

// PreviewGrain handles GET /api/v1/sessions/:id/grain/preview
func (s *Server) PreviewGrain(c fiber.Ctx) error {
	state, err := s.loadSession(c)
	if err != nil {
		return err
	}

	if state.Grain == nil {
		return ErrGrainRequired
	}

	limit := fiber.Query(c, "limit", defaultPreviewLimit)

	preview, err := s.deps.Grains.Preview(c.Context(), state.Grain, limit)
	if err != nil {
		return s.mapError(err)
	}

	return c.Status(fiber.StatusOK).JSON(preview)
}
