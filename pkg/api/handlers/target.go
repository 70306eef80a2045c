package handlers

import (
	"github.com/gofiber/fiber/v3"

	"github.com/granaryml/granary/pkg/session"
	"github.com/granaryml/granary/pkg/target"
)

// DefineTarget handles POST /api/v1/sessions/:id/target
func (s *Server) DefineTarget(c fiber.Ctx) error {
	started := s.now()

	state, err := s.loadSession(c)
	if err != nil {
		return err
	}

	if state.Grain == nil || state.GrainResult == nil {
		return ErrGrainRequired
	}

	var def target.Definition
	if err := c.Bind().Body(&def); err != nil {
		return ErrInvalidBody
	}

	entityType, err := s.grainEntityType(c, state)
	if err != nil {
		return err
	}

	result, err := s.deps.Targets.Validate(c.Context(), &def, state.GrainResult.GrainSQL, entityType)
	if err != nil {
		s.observeStage(session.StageTarget, "failed", started)

		return s.mapError(err)
	}

	if _, err := state.Invalidate(s.deps.Sessions.Graph(), session.StageTarget); err != nil {
		return s.mapError(err)
	}

	state.Target = &def
	state.TargetResult = result
	state.TargetDistribution = nil

	if err := s.saveSession(c, state); err != nil {
		return err
	}

	s.observeStage(session.StageTarget, string(result.Status), started)

	return c.Status(fiber.StatusOK).JSON(result)
}

// TargetDistribution handles GET /api/v1/sessions/:id/target/distribution
func (s *Server) TargetDistribution(c fiber.Ctx) error {
	state, err := s.loadSession(c)
	if err != nil {
		return err
	}

	if state.GrainResult == nil {
		return ErrGrainRequired
	}

	if state.Target == nil {
		return ErrTargetRequired
	}

	dist, err := s.deps.Targets.Distribution(c.Context(), state.Target, state.GrainResult.GrainSQL)
	if err != nil {
		return s.mapError(err)
	}

	state.TargetDistribution = dist
	if err := s.saveSession(c, state); err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(dist)
}

// TargetCohorts handles GET /api/v1/sessions/:id/target/cohorts
func (s *Server) TargetCohorts(c fiber.Ctx) error {
	state, err := s.loadSession(c)
	if err != nil {
		return err
	}

	if state.GrainResult == nil {
		return ErrGrainRequired
	}

	if state.Target == nil {
		return ErrTargetRequired
	}

	granularity := fiber.Query(c, "granularity", "month")

	analysis, err := s.deps.Targets.Cohorts(c.Context(), state.Target, state.GrainResult.GrainSQL, granularity)
	if err != nil {
		return s.mapError(err)
	}

	return c.Status(fiber.StatusOK).JSON(analysis)
}

// grainEntityType resolves the database type of the grain entity column
// so target joins can be checked for type compatibility
func (s *Server) grainEntityType(c fiber.Ctx, state *session.State) (string, error) {
	columns, err := s.deps.Inspector.Columns(c.Context(), state.Grain.SourceSchema, state.Grain.SourceTable)
	if err != nil {
		return "", s.mapError(err)
	}

	for _, col := range columns {
		if col.Name == state.Grain.EntityIDColumn {
			return col.DataType, nil
		}
	}

	return "", nil
}
