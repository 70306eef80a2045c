package handlers

import (
	"github.com/gofiber/fiber/v3"

	"github.com/granaryml/granary/pkg/feature"
	"github.com/granaryml/granary/pkg/missing"
	"github.com/granaryml/granary/pkg/report"
	"github.com/granaryml/granary/pkg/session"
)

// ListFeatureTemplates handles GET /api/v1/feature-templates
func (s *Server) ListFeatureTemplates(c fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"templates": feature.Catalog(),
	})
}

// featuresRequest is the body of POST /sessions/:id/features
type featuresRequest struct {
	Features []*feature.Definition `json:"features"`
}

// featuresResponse echoes the generated column sets with any field issues
type featuresResponse struct {
	Status      report.Status        `json:"status"`
	FeatureSets []*feature.ColumnSet `json:"feature_sets,omitempty"`
	Errors      []report.Issue       `json:"errors,omitempty"`
}

// SetFeatures handles POST /api/v1/sessions/:id/features. Redefining the
// feature set invalidates assembly and everything after it.
func (s *Server) SetFeatures(c fiber.Ctx) error {
	started := s.now()

	state, err := s.loadSession(c)
	if err != nil {
		return err
	}

	if state.Grain == nil {
		return ErrGrainRequired
	}

	var req featuresRequest
	if err := c.Bind().Body(&req); err != nil {
		return ErrInvalidBody
	}

	if len(req.Features) == 0 {
		return c.Status(fiber.StatusOK).JSON(featuresResponse{
			Status: report.StatusError,
			Errors: []report.Issue{{Code: "NO_FEATURES", Message: "at least one feature is required", Field: "features"}},
		})
	}

	var issues []report.Issue
	for _, def := range req.Features {
		issues = append(issues, def.Validate()...)
	}

	if len(issues) > 0 {
		s.observeStage(session.StageFeatures, string(report.StatusError), started)

		return c.Status(fiber.StatusOK).JSON(featuresResponse{
			Status: report.StatusError,
			Errors: issues,
		})
	}

	sets, err := s.deps.Engine.GenerateBatch(req.Features, "grain")
	if err != nil {
		s.observeStage(session.StageFeatures, "failed", started)

		return s.mapError(err)
	}

	if _, err := state.Invalidate(s.deps.Sessions.Graph(), session.StageFeatures); err != nil {
		return s.mapError(err)
	}

	state.Features = req.Features
	state.FeatureSets = sets
	// Old policies may name columns that no longer exist
	state.Policies = nil

	if err := s.saveSession(c, state); err != nil {
		return err
	}

	s.observeStage(session.StageFeatures, string(report.StatusOK), started)

	return c.Status(fiber.StatusOK).JSON(featuresResponse{
		Status:      report.StatusOK,
		FeatureSets: sets,
	})
}

// ListMissingStrategies handles GET /api/v1/missing-strategies
func (s *Server) ListMissingStrategies(c fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"strategies": []missing.Strategy{
			missing.StrategyZero,
			missing.StrategyNull,
			missing.StrategySentinel,
			missing.StrategyMean,
		},
	})
}

// policiesRequest is the body of POST /sessions/:id/missing
type policiesRequest struct {
	Policies []missing.ColumnPolicy `json:"policies"`
}

// SetMissingPolicies handles POST /api/v1/sessions/:id/missing
func (s *Server) SetMissingPolicies(c fiber.Ctx) error {
	state, err := s.loadSession(c)
	if err != nil {
		return err
	}

	if len(state.FeatureSets) == 0 {
		return fiber.NewError(fiber.StatusConflict, "no features generated for this session")
	}

	var req policiesRequest
	if err := c.Bind().Body(&req); err != nil {
		return ErrInvalidBody
	}

	var columns []string
	for _, set := range state.FeatureSets {
		columns = append(columns, set.Columns...)
	}

	if issues := missing.ValidatePolicies(req.Policies, columns); len(issues) > 0 {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": report.StatusError,
			"errors": issues,
		})
	}

	// Policies feed assembly, so a change invalidates it
	if _, err := state.Invalidate(s.deps.Sessions.Graph(), session.StageFeatures); err != nil {
		return s.mapError(err)
	}

	state.Policies = req.Policies

	if err := s.saveSession(c, state); err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":   report.StatusOK,
		"policies": state.Policies,
	})
}
