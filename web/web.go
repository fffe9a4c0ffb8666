// Package web exposes the job-control surface the app UI polls: start,
// status and cancel per integration, plus tool-server config management.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/notiva/notiva-sync/syncer"
	"github.com/notiva/notiva-sync/toolserver"
)

type Config struct {
	Addr    string
	Debug   bool
	Service *Service
	Logger  *zap.Logger
}

func Start(ctx context.Context, cfg Config) error {
	e := echo.New()
	e.Debug = cfg.Debug
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	RegisterHandlers(e, cfg.Service)

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_ = e.Shutdown(shutdownCtx)
	}()

	err := e.Start(cfg.Addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

func RegisterHandlers(e *echo.Echo, svc *Service) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api := e.Group("/api/v1")

	api.POST("/integrations/:id/sync", startSyncHandler(svc))
	api.GET("/integrations/:id/sync", syncStatusHandler(svc))
	api.DELETE("/integrations/:id/sync", cancelSyncHandler(svc))

	api.GET("/servers", listServersHandler(svc))
	api.POST("/servers", createServerHandler(svc))
	api.DELETE("/servers/:id", deleteServerHandler(svc))
	api.POST("/servers/:id/test", testServerHandler(svc))
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type syncStatusResponse struct {
	JobID          string  `json:"job_id"`
	State          string  `json:"state"`
	Cursor         string  `json:"cursor,omitempty"`
	PageCount      int     `json:"page_count"`
	ItemsProcessed int     `json:"items_processed"`
	ItemsFailed    int     `json:"items_failed"`
	Message        string  `json:"message,omitempty"`
	LastError      string  `json:"last_error,omitempty"`
	StartedAt      string  `json:"started_at"`
	FinishedAt     *string `json:"finished_at,omitempty"`
}

func toStatusResponse(job syncer.SyncJob) syncStatusResponse {
	ans := syncStatusResponse{
		JobID:          job.JobID,
		State:          string(job.State),
		Cursor:         job.Cursor,
		PageCount:      job.PageCount,
		ItemsProcessed: job.ItemsProcessed,
		ItemsFailed:    job.ItemsFailed,
		Message:        job.Message,
		LastError:      job.LastError,
		StartedAt:      job.StartedAt.Format(time.RFC3339),
	}

	if job.FinishedAt != nil {
		s := job.FinishedAt.Format(time.RFC3339)
		ans.FinishedAt = &s
	}

	return ans
}

func startSyncHandler(svc *Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		jobID, err := svc.StartSync(c.Request().Context(), c.Param("id"))
		if errors.Is(err, syncer.ErrAlreadyRunning) {
			return c.JSON(http.StatusConflict, apiError{
				Code:    "SYNC_IN_PROGRESS",
				Message: "a sync for this integration is already running",
			})
		}

		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}

		return c.JSON(http.StatusCreated, map[string]string{"job_id": jobID})
	}
}

func syncStatusHandler(svc *Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		job, err := svc.SyncStatus(c.Request().Context(), c.Param("id"))
		if errors.Is(err, syncer.ErrJobNotFound) {
			return c.JSON(http.StatusNotFound, apiError{
				Code:    "NO_SYNC_JOB",
				Message: "no sync job for this integration",
			})
		}

		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}

		return c.JSON(http.StatusOK, toStatusResponse(job))
	}
}

func cancelSyncHandler(svc *Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		accepted, err := svc.CancelSync(c.Request().Context(), c.Param("id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}

		return c.JSON(http.StatusOK, map[string]bool{"accepted": accepted})
	}
}

func listServersHandler(svc *Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		configs, err := svc.ListServers(c.Request().Context())
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}

		if configs == nil {
			configs = []toolserver.ServerConfig{}
		}

		return c.JSON(http.StatusOK, configs)
	}
}

func createServerHandler(svc *Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var cfg toolserver.ServerConfig
		if err := c.Bind(&cfg); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}

		if err := svc.SaveServer(c.Request().Context(), &cfg); err != nil {
			return c.JSON(http.StatusBadRequest, apiError{
				Code:    "INVALID_SERVER_CONFIG",
				Message: err.Error(),
			})
		}

		return c.JSON(http.StatusCreated, cfg)
	}
}

func deleteServerHandler(svc *Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := svc.DeleteServer(c.Request().Context(), c.Param("id"))
		if errors.Is(err, toolserver.ErrConfigNotFound) {
			return c.JSON(http.StatusNotFound, apiError{
				Code:    "SERVER_NOT_FOUND",
				Message: "no such server config",
			})
		}

		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}

		return c.NoContent(http.StatusNoContent)
	}
}

func testServerHandler(svc *Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		info, err := svc.TestServer(c.Request().Context(), c.Param("id"))
		if errors.Is(err, toolserver.ErrConfigNotFound) {
			return c.JSON(http.StatusNotFound, apiError{
				Code:    "SERVER_NOT_FOUND",
				Message: "no such server config",
			})
		}

		if err != nil {
			return c.JSON(http.StatusBadGateway, apiError{
				Code:    "CONNECTION_FAILED",
				Message: err.Error(),
			})
		}

		return c.JSON(http.StatusOK, info)
	}
}
