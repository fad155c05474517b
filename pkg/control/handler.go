package control

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/core-tools/hsu-iiswatch/pkg/domain"
	"github.com/core-tools/hsu-iiswatch/pkg/errors"
	"github.com/core-tools/hsu-iiswatch/pkg/logging"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLogLines = 100
	MaxLogLines     = 1000
)

// Lifecycle starts and stops periodic monitoring
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// EnqueueResponse is returned for an accepted control operation
type EnqueueResponse struct {
	OperationID string `json:"operation_id"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

type LogsResponse struct {
	Lines []string `json:"lines"`
}

// Handler serves domain.Contract over HTTP
type Handler struct {
	contract  domain.Contract
	lifecycle Lifecycle
	logger    logging.Logger
}

func NewHandler(contract domain.Contract, lifecycle Lifecycle, logger logging.Logger) *Handler {
	return &Handler{
		contract:  contract,
		lifecycle: lifecycle,
		logger:    logger,
	}
}

// RegisterRoutes mounts the API under /api/v1; metrics may be nil
func RegisterRoutes(e *echo.Echo, handler *Handler, metrics http.Handler) {
	api := e.Group("/api/v1")
	{
		api.GET("/sites", handler.ListSites)
		api.GET("/apppools", handler.ListAppPools)
		api.GET("/operations", handler.ListOperations)
		api.GET("/operations/:id", handler.GetOperation)
		api.GET("/discovery/:kind", handler.Discover)
		api.GET("/stats", handler.Stats)
		api.GET("/logs", handler.RecentLogs)
		api.POST("/refresh", handler.Refresh)
		api.POST("/monitor/start", handler.StartMonitor)
		api.POST("/monitor/stop", handler.StopMonitor)
		api.GET("/:kind/:name", handler.GetEntity)
		api.POST("/:kind/:name/:operation", handler.Enqueue)
	}
	e.GET("/health", handler.Health)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
}

func (h *Handler) ListSites(c echo.Context) error {
	sites, err := h.contract.ListSites(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sites)
}

func (h *Handler) ListAppPools(c echo.Context) error {
	pools, err := h.contract.ListAppPools(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pools)
}

func parseKind(c echo.Context) (domain.EntityKind, error) {
	kind, err := domain.ParseEntityKind(c.Param("kind"))
	if err != nil {
		return "", errors.NewValidationError(fmt.Sprintf("invalid entity kind: %s", c.Param("kind")), err).
			WithContext("valid_kinds", "sites, apppools")
	}
	return kind, nil
}

func (h *Handler) GetEntity(c echo.Context) error {
	kind, err := parseKind(c)
	if err != nil {
		return err
	}
	status, err := h.contract.GetEntity(c.Request().Context(), kind, c.Param("name"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, status)
}

func (h *Handler) Enqueue(c echo.Context) error {
	kind, err := parseKind(c)
	if err != nil {
		return err
	}
	operation, err := domain.ParseOperation(c.Param("operation"))
	if err != nil {
		return errors.NewValidationError(fmt.Sprintf("invalid operation: %s", c.Param("operation")), err).
			WithContext("valid_operations", "start, stop, recycle")
	}

	name := c.Param("name")
	h.logger.Infof("Operation requested, kind: %s, name: %s, operation: %s, remote: %s", kind, name, operation, c.RealIP())

	id, err := h.contract.Enqueue(c.Request().Context(), kind, name, operation)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, EnqueueResponse{OperationID: id})
}

func (h *Handler) ListOperations(c echo.Context) error {
	ops, err := h.contract.ListOperations(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ops)
}

func (h *Handler) GetOperation(c echo.Context) error {
	op, err := h.contract.OperationStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, op)
}

func (h *Handler) Discover(c echo.Context) error {
	kind, err := parseKind(c)
	if err != nil {
		return err
	}
	entities, err := h.contract.Discover(c.Request().Context(), kind)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entities)
}

func (h *Handler) Refresh(c echo.Context) error {
	if err := h.contract.Refresh(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, SuccessResponse{Success: true})
}

func (h *Handler) Stats(c echo.Context) error {
	stats, err := h.contract.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) RecentLogs(c echo.Context) error {
	count := DefaultLogLines
	if raw := c.QueryParam("count"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return errors.NewValidationError(fmt.Sprintf("invalid count: %s", raw), err)
		}
		count = min(parsed, MaxLogLines)
	}

	lines, err := h.contract.RecentLogs(c.Request().Context(), count)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, LogsResponse{Lines: lines})
}

func (h *Handler) StartMonitor(c echo.Context) error {
	if h.lifecycle == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "monitor lifecycle control is not available")
	}
	if err := h.lifecycle.Start(c.Request().Context()); err != nil {
		return err
	}
	h.logger.Infof("Monitor started via API, remote: %s", c.RealIP())
	return c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

func (h *Handler) StopMonitor(c echo.Context) error {
	if h.lifecycle == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "monitor lifecycle control is not available")
	}
	if err := h.lifecycle.Stop(c.Request().Context()); err != nil {
		return err
	}
	h.logger.Infof("Monitor stopped via API, remote: %s", c.RealIP())
	return c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}
