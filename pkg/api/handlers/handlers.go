// Package handlers implements the HTTP request handlers for the dataset
// pipeline API. Bad stage input comes back as structured results with
// field-level issues; only infrastructure failures map to error statuses.
package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/granaryml/granary/pkg/assembler"
	"github.com/granaryml/granary/pkg/database"
	"github.com/granaryml/granary/pkg/export"
	"github.com/granaryml/granary/pkg/feature"
	"github.com/granaryml/granary/pkg/grain"
	"github.com/granaryml/granary/pkg/observability"
	"github.com/granaryml/granary/pkg/schema"
	"github.com/granaryml/granary/pkg/session"
	"github.com/granaryml/granary/pkg/sqlvalidate"
	"github.com/granaryml/granary/pkg/target"
)

// Dependencies are the pipeline services the handlers dispatch to
type Dependencies struct {
	Sessions  session.StoreInterface
	Inspector schema.Inspector
	Grains    grain.BuilderInterface
	Targets   target.BuilderInterface
	Engine    feature.EngineInterface
	Assembler assembler.AssemblerInterface
	Validator sqlvalidate.ValidatorInterface
	Exporter  export.ExporterInterface
}

// Server holds the handler state
type Server struct {
	deps Dependencies
	log  logrus.FieldLogger
	now  func() time.Time
}

// NewServer creates the API handler set
func NewServer(deps Dependencies, log logrus.FieldLogger) *Server {
	return &Server{
		deps: deps,
		log:  log.WithField("component", "api.handlers"),
		now:  time.Now,
	}
}

// RegisterRoutes attaches every pipeline route to the given router
func RegisterRoutes(router fiber.Router, s *Server) {
	router.Get("/feature-templates", s.ListFeatureTemplates)
	router.Get("/missing-strategies", s.ListMissingStrategies)

	router.Post("/sessions", s.CreateSession)
	router.Get("/sessions/:id", s.GetSession)
	router.Delete("/sessions/:id", s.DeleteSession)

	router.Post("/sessions/:id/grain", s.BuildGrain)
	router.Get("/sessions/:id/grain/preview", s.PreviewGrain)

	router.Post("/sessions/:id/target", s.DefineTarget)
	router.Get("/sessions/:id/target/distribution", s.TargetDistribution)
	router.Get("/sessions/:id/target/cohorts", s.TargetCohorts)

	router.Post("/sessions/:id/features", s.SetFeatures)
	router.Post("/sessions/:id/missing", s.SetMissingPolicies)

	router.Post("/sessions/:id/assemble", s.AssembleDataset)
	router.Post("/sessions/:id/validate", s.ValidateDataset)
	router.Post("/sessions/:id/export", s.ExportDataset)
}

// loadSession fetches the session or fails the request with 404
func (s *Server) loadSession(c fiber.Ctx) (*session.State, error) {
	state, err := s.deps.Sessions.Get(c.Context(), c.Params("id"))
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil, ErrSessionNotFound
	}

	if err != nil {
		return nil, s.mapError(err)
	}

	return state, nil
}

// saveSession persists the state, mapping a vanished session to 404
func (s *Server) saveSession(c fiber.Ctx, state *session.State) error {
	if err := s.deps.Sessions.Put(c.Context(), state); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return ErrSessionNotFound
		}

		return s.mapError(err)
	}

	return nil
}

// mapError converts infrastructure errors to their HTTP statuses:
// absent tables/columns are 422, unreachable database is 503.
func (s *Server) mapError(err error) error {
	var mismatch *schema.MismatchError
	if errors.As(err, &mismatch) {
		return fiber.NewError(fiber.StatusUnprocessableEntity, mismatch.Error())
	}

	var dataAccess *database.DataAccessError
	if errors.As(err, &dataAccess) {
		s.log.WithError(err).Error("Database unavailable")

		return fiber.NewError(fiber.StatusServiceUnavailable, dataAccess.Error())
	}

	return err
}

// observeStage records stage metrics for one handled request
func (s *Server) observeStage(stage session.Stage, status string, started time.Time) {
	observability.ObserveStage(string(stage), status, s.now().Sub(started).Seconds())
}
