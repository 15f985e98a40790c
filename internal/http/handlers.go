package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/almseed/internal/parse"
	"github.com/fyrsmithlabs/almseed/internal/pipeline"
	"github.com/fyrsmithlabs/almseed/internal/purge"
	"github.com/fyrsmithlabs/almseed/internal/session"
	"github.com/fyrsmithlabs/almseed/internal/synthesis"
	"github.com/fyrsmithlabs/almseed/internal/tracker"
	"github.com/fyrsmithlabs/almseed/internal/workpool"
)

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Sessions: s.service.Store.Len()})
}

func (s *Server) handleCreateSession(c echo.Context) error {
	sess := s.service.Store.Create()
	return c.JSON(http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleGetSession(c echo.Context) error {
	return c.JSON(http.StatusOK, current(c).Snapshot())
}

func (s *Server) handleDeleteSession(c echo.Context) error {
	s.service.Store.Delete(current(c).ID)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleConnect(c echo.Context) error {
	var req ConnectRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url field is required")
	}
	names, err := s.service.Connect(c.Request().Context(), current(c), req.URL, req.Username, req.Password)
	if err != nil {
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, NamesResponse{Names: names})
}

func (s *Server) handleDisconnect(c echo.Context) error {
	s.service.Disconnect(c.Request().Context(), current(c))
	return c.JSON(http.StatusOK, current(c).Snapshot())
}

func (s *Server) handleProjects(c echo.Context) error {
	names, err := current(c).ProjectNames()
	if err != nil {
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, NamesResponse{Names: names})
}

func (s *Server) handleSelectProject(c echo.Context) error {
	var req NameRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	names, err := s.service.SelectProject(c.Request().Context(), current(c), req.Name)
	if err != nil {
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, NamesResponse{Names: names})
}

func (s *Server) handleTrackers(c echo.Context) error {
	names, err := current(c).TrackerNames()
	if err != nil {
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, NamesResponse{Names: names})
}

func (s *Server) handleTrackerItems(c echo.Context) error {
	names, err := s.service.TrackerItems(c.Request().Context(), current(c), c.Param("tracker"))
	if err != nil {
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, NamesResponse{Names: names})
}

func (s *Server) handleSetProduct(c echo.Context) error {
	var req NameRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name field is required")
	}
	current(c).SetProduct(req.Name)
	return c.JSON(http.StatusOK, current(c).Snapshot())
}

func (s *Server) handleTopLevel(c echo.Context) error {
	var req session.TopLevelParams
	if err := s.bind(c, &req); err != nil {
		return err
	}
	res, err := s.service.GenerateTopLevel(c.Request().Context(), current(c), req)
	return s.run(c, res, err)
}

func (s *Server) handleTraceability(c echo.Context) error {
	var req session.TraceabilityParams
	if err := s.bind(c, &req); err != nil {
		return err
	}
	res, err := s.service.GenerateTraceability(c.Request().Context(), current(c), req)
	return s.run(c, res, err)
}

func (s *Server) handleCompliance(c echo.Context) error {
	var req TrackerRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	res, err := s.service.GenerateCompliance(c.Request().Context(), current(c), req.Tracker)
	return s.run(c, res, err)
}

func (s *Server) handleComplianceDownstream(c echo.Context) error {
	var req session.ComplianceDownstreamParams
	if err := s.bind(c, &req); err != nil {
		return err
	}
	res, err := s.service.GenerateComplianceDownstream(c.Request().Context(), current(c), req)
	return s.run(c, res, err)
}

func (s *Server) handleTestSteps(c echo.Context) error {
	var req TrackerRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	res, err := s.service.GenerateTestSteps(c.Request().Context(), current(c), req.Tracker, req.Selection)
	return s.run(c, res, err)
}

func (s *Server) handleTestRun(c echo.Context) error {
	var req session.TestRunParams
	if err := s.bind(c, &req); err != nil {
		return err
	}
	res, err := s.service.GenerateTestRun(c.Request().Context(), current(c), req)
	return s.run(c, res, err)
}

func (s *Server) handleBatch(c echo.Context) error {
	var req BatchRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	res, err := s.service.GenerateBatch(c.Request().Context(), current(c), req.Tracker, req.Count)
	return s.run(c, res, err)
}

func (s *Server) handleUpdateStatuses(c echo.Context) error {
	var req TrackerRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	res, err := s.service.UpdateStatuses(c.Request().Context(), current(c), req.Tracker, req.Selection)
	return s.run(c, res, err)
}

func (s *Server) handleUpdateFields(c echo.Context) error {
	var req TrackerRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	res, err := s.service.UpdateMetadata(c.Request().Context(), current(c), req.Tracker, req.Selection)
	return s.run(c, res, err)
}

func (s *Server) handlePurgeTracker(c echo.Context) error {
	var req TrackerRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	rep, err := s.service.PurgeTracker(c.Request().Context(), current(c), req.Tracker)
	return s.purged(c, rep, err)
}

func (s *Server) handlePurgeProject(c echo.Context) error {
	rep, err := s.service.PurgeProject(c.Request().Context(), current(c))
	return s.purged(c, rep, err)
}

func (s *Server) handlePLMConnect(c echo.Context) error {
	var req ConnectRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if err := s.service.ConnectPLM(c.Request().Context(), current(c), req.URL, req.Username, req.Password); err != nil {
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, current(c).Snapshot())
}

func (s *Server) handlePLMProducts(c echo.Context) error {
	names, err := s.service.PLMProducts(c.Request().Context(), current(c))
	if err != nil {
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, NamesResponse{Names: names})
}

func (s *Server) handlePLMParts(c echo.Context) error {
	var req PartsRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	res, err := s.service.GenerateParts(c.Request().Context(), current(c), req.Tracker, req.Product)
	return s.run(c, res, err)
}

// run writes a pipeline result. Once a pipeline has started the result is
// always returned so callers see what was written before a failure.
func (s *Server) run(c echo.Context, res *pipeline.Result, err error) error {
	if res == nil {
		return s.fail(err)
	}
	if err == nil {
		return c.JSON(http.StatusOK, RunResponse{Result: res})
	}
	s.logger.Warn("pipeline failed", zap.String("pipeline", res.Pipeline), zap.Error(err))
	return c.JSON(statusOf(err), RunResponse{Result: res, Error: err.Error()})
}

func (s *Server) purged(c echo.Context, rep purge.Report, err error) error {
	if err == nil {
		return c.JSON(http.StatusOK, PurgeResponse{Report: rep})
	}
	if rep.Passes == 0 {
		return s.fail(err)
	}
	s.logger.Warn("purge failed", zap.Int("passes", rep.Passes), zap.Error(err))
	return c.JSON(statusOf(err), PurgeResponse{Report: rep, Error: err.Error()})
}

func (s *Server) fail(err error) error {
	return echo.NewHTTPError(statusOf(err), message(err)).SetInternal(err)
}

// statusOf maps an error to the HTTP status reported to the caller.
func statusOf(err error) int {
	var (
		lookup    *session.LookupError
		format    *parse.FormatError
		integrity *pipeline.IntegrityError
		batch     *workpool.BatchError
		connect   *session.ConnectError
	)
	switch {
	case errors.As(err, &lookup):
		return http.StatusNotFound
	case errors.As(err, &connect):
		if errors.Is(err, tracker.ErrAuthentication) {
			return http.StatusUnauthorized
		}
		return http.StatusBadGateway
	case errors.As(err, &format), errors.As(err, &integrity),
		errors.Is(err, pipeline.ErrDistribution), errors.Is(err, pipeline.ErrNoItems):
		return http.StatusUnprocessableEntity
	case session.IsUserError(err):
		return http.StatusConflict
	case errors.As(err, &batch):
		return http.StatusMultiStatus
	case errors.Is(err, synthesis.ErrSynthesis), errors.Is(err, tracker.ErrServer),
		errors.Is(err, tracker.ErrAuthentication):
		return http.StatusBadGateway
	case errors.Is(err, tracker.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tracker.ErrBadRequest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, purge.ErrNoProgress):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// message is the text shown to the caller; connect failures carry a
// remediation hint instead of the raw error.
func message(err error) string {
	var connect *session.ConnectError
	if errors.As(err, &connect) {
		return connect.Remediation
	}
	return err.Error()
}
