package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/granaryml/granary/pkg/assembler"
	"github.com/granaryml/granary/pkg/export"
	"github.com/granaryml/granary/pkg/observability"
	"github.com/granaryml/granary/pkg/report"
	"github.com/granaryml/granary/pkg/session"
)

// assembleRequest is the body of POST /sessions/:id/assemble
type assembleRequest struct {
	RunQualityChecks bool `json:"run_quality_checks"`
}

// AssembleDataset handles POST /api/v1/sessions/:id/assemble
func (s *Server) AssembleDataset(c fiber.Ctx) error {
	started := s.now()

	state, err := s.loadSession(c)
	if err != nil {
		return err
	}

	if state.Grain == nil {
		return ErrGrainRequired
	}

	if len(state.Features) == 0 {
		return fiber.NewError(fiber.StatusConflict, "no features generated for this session")
	}

	var req assembleRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().Body(&req); err != nil {
			return ErrInvalidBody
		}
	}

	result, err := s.deps.Assembler.Assemble(c.Context(), &assembler.Request{
		Grain:            state.Grain,
		Target:           state.Target,
		Features:         state.Features,
		Policies:         state.Policies,
		RunQualityChecks: req.RunQualityChecks,
	})
	if err != nil {
		s.observeStage(session.StageAssemble, "failed", started)

		return s.mapError(err)
	}

	if _, err := state.Invalidate(s.deps.Sessions.Graph(), session.StageAssemble); err != nil {
		return s.mapError(err)
	}

	state.Assembly = result

	if err := s.saveSession(c, state); err != nil {
		return err
	}

	s.observeStage(session.StageAssemble, string(result.Status), started)

	return c.Status(fiber.StatusOK).JSON(result)
}

// ValidateDataset handles POST /api/v1/sessions/:id/validate
func (s *Server) ValidateDataset(c fiber.Ctx) error {
	started := s.now()

	state, err := s.loadSession(c)
	if err != nil {
		return err
	}

	if state.Assembly == nil || state.Assembly.DatasetSQL == "" {
		return ErrAssemblyRequired
	}

	result := s.deps.Validator.Validate(state.Assembly.DatasetSQL, state.Assembly.Columns)
	s.deps.Validator.CheckSyntax(c.Context(), state.Assembly.DatasetSQL, result)

	if _, err := state.Invalidate(s.deps.Sessions.Graph(), session.StageValidate); err != nil {
		return s.mapError(err)
	}

	state.Validation = result

	if err := s.saveSession(c, state); err != nil {
		return err
	}

	status := report.StatusOK
	if !result.Valid {
		status = report.StatusError
	}

	s.observeStage(session.StageValidate, string(status), started)

	return c.Status(fiber.StatusOK).JSON(result)
}

// exportRequest is the body of POST /sessions/:id/export
type exportRequest struct {
	Format   string `json:"format"`
	RowLimit int    `json:"row_limit"`
}

// ExportDataset handles POST /api/v1/sessions/:id/export. Export is the
// one hard gate: it refuses to run without a passing validation result.
func (s *Server) ExportDataset(c fiber.Ctx) error {
	started := s.now()

	state, err := s.loadSession(c)
	if err != nil {
		return err
	}

	if state.Assembly == nil || state.Assembly.DatasetSQL == "" {
		return ErrAssemblyRequired
	}

	if !state.Validated() {
		observability.ExportsTotal.WithLabelValues("refused").Inc()

		return ErrNotValidated
	}

	var req exportRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().Body(&req); err != nil {
			return ErrInvalidBody
		}
	}

	artifact, err := s.deps.Exporter.Export(c.Context(), &export.Request{
		Manifest: &export.Manifest{
			SessionID:  state.ID,
			Format:     req.Format,
			Columns:    state.Assembly.Columns,
			Grain:      state.Grain,
			Target:     state.Target,
			Features:   state.Features,
			Policies:   state.Policies,
			DatasetSQL: state.Assembly.DatasetSQL,
			Validation: state.Validation,
		},
		RowLimit: req.RowLimit,
	})

	switch {
	case errors.Is(err, export.ErrUnsupportedFormat):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, export.ErrNotValidated):
		observability.ExportsTotal.WithLabelValues("refused").Inc()

		return ErrNotValidated
	case err != nil:
		observability.ExportsTotal.WithLabelValues("error").Inc()
		s.observeStage(session.StageExport, "failed", started)

		return s.mapError(err)
	}

	state.Export = artifact

	if err := s.saveSession(c, state); err != nil {
		return err
	}

	observability.ExportsTotal.WithLabelValues("success").Inc()
	observability.ExportRows.Add(float64(artifact.RowCount))
	s.observeStage(session.StageExport, string(report.StatusOK), started)

	return c.Status(fiber.StatusOK).JSON(artifact)
}
