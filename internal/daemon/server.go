package daemon

import (
	"context"
	"dirmirror/internal/logger"
	"dirmirror/internal/model"
	"dirmirror/internal/repository"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StatusProvider is the running mirror as seen by the API.
type StatusProvider interface {
	Snapshot() model.RunSnapshot
}

type Server struct {
	echo     *echo.Echo
	status   StatusProvider
	histRepo *repository.HistoryRepository
	runRepo  *repository.RunRepository
	port     int
	stopCh   chan struct{}
}

// NewServer exposes status over HTTP on localhost. Both repositories are nil
// when history is disabled.
func NewServer(status StatusProvider, histRepo *repository.HistoryRepository, runRepo *repository.RunRepository, port int) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:     e,
		status:   status,
		histRepo: histRepo,
		runRepo:  runRepo,
		port:     port,
		stopCh:   make(chan struct{}, 1),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/status", s.handleStatus)
	s.echo.GET("/stats", s.handleStats)
	s.echo.GET("/history", s.handleHistory)
	s.echo.GET("/runs", s.handleRuns)
	s.echo.GET("/runs/:id", s.handleRun)
	s.echo.POST("/stop", s.handleStop)
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() {
	go func() {
		addr := "127.0.0.1:" + strconv.Itoa(s.port)
		logger.Log.Info("status server started",
			zap.String("addr", addr))

		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("status server error", zap.Error(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) StopCh() <-chan struct{} {
	return s.stopCh
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.status.Snapshot())
}

type statsResponse struct {
	Run     model.StatsSnapshot `json:"run"`
	History *repository.Stats   `json:"history,omitempty"`
}

func (s *Server) handleStats(c echo.Context) error {
	resp := statsResponse{Run: s.status.Snapshot().Stats}

	if s.histRepo != nil {
		hist, err := s.histRepo.GetStats()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		resp.History = &hist
	}

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHistory(c echo.Context) error {
	if s.histRepo == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "history is disabled"})
	}

	n := 20
	if nStr := c.QueryParam("n"); nStr != "" {
		if parsed, err := strconv.Atoi(nStr); err == nil && parsed > 0 {
			n = parsed
		}
	}

	var (
		histories []model.History
		err       error
	)
	if c.QueryParam("failed") == "true" {
		histories, err = s.histRepo.GetFailed(n)
	} else {
		histories, err = s.histRepo.GetRecent(n)
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, histories)
}

func (s *Server) handleRuns(c echo.Context) error {
	if s.runRepo == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "history is disabled"})
	}

	runs, err := s.runRepo.GetAll()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, runs)
}

func (s *Server) handleRun(c echo.Context) error {
	if s.runRepo == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "history is disabled"})
	}

	run, err := s.runRepo.GetByRunID(c.Param("id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleStop(c echo.Context) error {
	select {
	case s.stopCh <- struct{}{}:
	default:
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "stopping"})
}
