package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/pulsewire/harvester/internal/db"
	"github.com/pulsewire/harvester/internal/globaltime"
	"github.com/pulsewire/harvester/internal/ingest"
	"github.com/pulsewire/harvester/internal/quota"
)

const (
	defaultArticleLimit = 50
	maxArticleLimit     = 500
)

// QuotaReporter exposes the current per-provider usage counters.
type QuotaReporter interface {
	Snapshot() []quota.Usage
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	pool       *db.Pool
	controller *ingest.Controller
	quotas     QuotaReporter
	logger     zerolog.Logger
	opts       Options
}

func NewServer(pool *db.Pool, controller *ingest.Controller, quotas QuotaReporter, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8084
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		// Event streams hold the response open well past a normal request.
		writeTimeout = 0
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		pool:       pool,
		controller: controller,
		quotas:     quotas,
		logger:     logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.controller == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.buildEcho()

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("harvester api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("harvester api server stopped")
	return nil
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/quota", s.handleQuota)

	api.POST("/jobs", s.handleSubmitJob)
	api.GET("/jobs", s.handleListJobs)
	api.GET("/jobs/history", s.handleJobHistory)
	api.GET("/jobs/:job_id", s.handleJobDetail)
	api.DELETE("/jobs/:job_id", s.handleCancelJob)
	api.GET("/jobs/:job_id/events", s.handleJobEvents)

	api.GET("/groups", s.handleListGroups)
	api.POST("/groups", s.handleCreateGroup)
	api.GET("/groups/:group_id", s.handleGroupDetail)
	api.PUT("/groups/:group_id", s.handleUpdateGroup)

	api.GET("/articles", s.handleListArticles)

	return e
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service": "harvester",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleQuota(c echo.Context) error {
	if s.quotas == nil {
		return success(c, map[string]any{"items": []quota.Usage{}})
	}
	return success(c, map[string]any{
		"items": s.quotas.Snapshot(),
	})
}

type submitJobRequest struct {
	GroupID      int64 `json:"group_id"`
	LookbackDays int   `json:"lookback_days"`
	MaxArticles  int   `json:"max_articles"`
	DryRun       bool  `json:"dry_run"`
}

func (s *Server) handleSubmitJob(c echo.Context) error {
	var req submitJobRequest
	if err := c.Bind(&req); err != nil {
		return failValidation(c, map[string]string{"body": "must be a JSON object"})
	}
	if req.GroupID <= 0 {
		return failValidation(c, map[string]string{"group_id": "is required"})
	}
	if req.LookbackDays < 0 || req.LookbackDays > 30 {
		return failValidation(c, map[string]string{"lookback_days": "must be between 1 and 30"})
	}
	if req.MaxArticles < 0 {
		return failValidation(c, map[string]string{"max_articles": "must be >= 0"})
	}

	job, err := s.controller.Submit(c.Request().Context(), req.GroupID, ingest.SubmitOptions{
		LookbackDays: req.LookbackDays,
		MaxArticles:  req.MaxArticles,
		DryRun:       req.DryRun,
	})
	if err != nil {
		if errors.Is(err, db.ErrGroupNotFound) {
			return failNotFound(c, "Keyword group not found")
		}
		s.logger.Error().Err(err).Int64("group_id", req.GroupID).Msg("job submission failed")
		return fail(c, http.StatusConflict, err.Error(), nil)
	}

	return successWithStatus(c, http.StatusAccepted, job.Snapshot())
}

func (s *Server) handleListJobs(c echo.Context) error {
	return success(c, map[string]any{
		"items": s.controller.Registry().Snapshots(),
	})
}

func (s *Server) handleJobHistory(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), 20, 1, 200)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	records, err := s.pool.ListRecentJobs(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("query job history failed")
		return internalError(c, "Failed to load job history")
	}
	return success(c, map[string]any{"items": records})
}

func (s *Server) handleJobDetail(c echo.Context) error {
	jobID := strings.TrimSpace(c.Param("job_id"))
	if jobID == "" {
		return failValidation(c, map[string]string{"job_id": "is required"})
	}

	job, err := s.controller.Registry().Get(jobID)
	if err != nil {
		return failNotFound(c, "Job not found")
	}
	return success(c, job.Snapshot())
}

func (s *Server) handleCancelJob(c echo.Context) error {
	jobID := strings.TrimSpace(c.Param("job_id"))
	if jobID == "" {
		return failValidation(c, map[string]string{"job_id": "is required"})
	}

	if err := s.controller.Cancel(jobID); err != nil {
		return failNotFound(c, "Job not found")
	}
	return successWithStatus(c, http.StatusAccepted, map[string]any{
		"job_id":    jobID,
		"cancelled": true,
	})
}

func (s *Server) handleListGroups(c echo.Context) error {
	enabledOnly := strings.EqualFold(strings.TrimSpace(c.QueryParam("enabled")), "true")

	groups, err := s.pool.ListKeywordGroups(c.Request().Context(), enabledOnly)
	if err != nil {
		s.logger.Error().Err(err).Msg("query keyword groups failed")
		return internalError(c, "Failed to load keyword groups")
	}
	return success(c, map[string]any{"items": groups})
}

func (s *Server) handleCreateGroup(c echo.Context) error {
	var input db.KeywordGroupInput
	if err := c.Bind(&input); err != nil {
		return failValidation(c, map[string]string{"body": "must be a JSON object"})
	}

	group, err := s.pool.CreateKeywordGroup(c.Request().Context(), input)
	if err != nil {
		return failValidation(c, map[string]string{"group": err.Error()})
	}
	return successWithStatus(c, http.StatusCreated, group)
}

func (s *Server) handleGroupDetail(c echo.Context) error {
	groupID, err := parseGroupID(c.Param("group_id"))
	if err != nil {
		return failValidation(c, map[string]string{"group_id": err.Error()})
	}

	group, err := s.pool.GetKeywordGroup(c.Request().Context(), groupID)
	if err != nil {
		if errors.Is(err, db.ErrGroupNotFound) {
			return failNotFound(c, "Keyword group not found")
		}
		s.logger.Error().Err(err).Int64("group_id", groupID).Msg("query keyword group failed")
		return internalError(c, "Failed to load keyword group")
	}
	return success(c, group)
}

func (s *Server) handleUpdateGroup(c echo.Context) error {
	groupID, err := parseGroupID(c.Param("group_id"))
	if err != nil {
		return failValidation(c, map[string]string{"group_id": err.Error()})
	}

	var input db.KeywordGroupInput
	if err := c.Bind(&input); err != nil {
		return failValidation(c, map[string]string{"body": "must be a JSON object"})
	}

	group, err := s.pool.UpdateKeywordGroup(c.Request().Context(), groupID, input)
	if err != nil {
		if errors.Is(err, db.ErrGroupNotFound) {
			return failNotFound(c, "Keyword group not found")
		}
		return failValidation(c, map[string]string{"group": err.Error()})
	}
	return success(c, group)
}

func (s *Server) handleListArticles(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultArticleLimit, 1, maxArticleLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	var groupID int64
	if raw := strings.TrimSpace(c.QueryParam("group_id")); raw != "" {
		groupID, err = parseGroupID(raw)
		if err != nil {
			return failValidation(c, map[string]string{"group_id": err.Error()})
		}
	}

	now := globaltime.UTC()
	from := now.AddDate(0, 0, -7)
	if raw := strings.TrimSpace(c.QueryParam("from")); raw != "" {
		parsed, parseErr := time.Parse(time.RFC3339, raw)
		if parseErr != nil {
			return failValidation(c, map[string]string{"from": "must be RFC3339"})
		}
		from = parsed.UTC()
	}

	items, err := s.pool.ListArticles(c.Request().Context(), db.ArticleListOptions{
		GroupID: groupID,
		From:    from,
		To:      now,
		Limit:   limit,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("query articles failed")
		return internalError(c, "Failed to load articles")
	}
	return success(c, map[string]any{"items": items})
}

func parseGroupID(raw string) (int64, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return value, nil
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}
