package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/berfenger/solarwatt2mqtt/internal/core/domain"
	"github.com/berfenger/solarwatt2mqtt/pkg/solarwatt"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type snapshotView struct {
	Snapshot          domain.Snapshot `json:"snapshot"`
	HasSnapshot       bool            `json:"has_snapshot"`
	Refreshing        bool            `json:"refreshing"`
	LastUpdateSuccess bool            `json:"last_update_success"`
	LastError         string          `json:"last_error,omitempty"`
}

type errorView struct {
	Error string `json:"error"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)

	api := e.Group("/api")
	api.GET("/snapshot", s.SnapshotHandler)
	api.POST("/refresh", s.RefreshHandler)
	api.GET("/entities", s.EntitiesHandler)
	api.GET("/items/:name", s.ItemHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.entryActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) SnapshotHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.entryActor, domain.GetSnapshotRequest{}, s.requestTimeout).Result()
	if err != nil {
		return c.JSON(http.StatusGatewayTimeout, errorView{Error: err.Error()})
	}
	response, ok := res.(domain.GetSnapshotResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorView{Error: "unexpected response"})
	}
	if response.HasResponseError() {
		return c.JSON(http.StatusServiceUnavailable, errorView{Error: response.GetResponseError().Error()})
	}
	if !response.HasSnapshot {
		return c.JSON(http.StatusServiceUnavailable, errorView{Error: "no snapshot yet"})
	}
	return c.JSON(http.StatusOK, snapshotView{
		Snapshot:          response.Snapshot,
		HasSnapshot:       response.HasSnapshot,
		Refreshing:        response.Refreshing,
		LastUpdateSuccess: response.LastUpdateSuccess,
		LastError:         response.LastError,
	})
}

func (s *Server) RefreshHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.entryActor, domain.RefreshRequest{}, s.requestTimeout).Result()
	if err != nil {
		return c.JSON(http.StatusGatewayTimeout, errorView{Error: err.Error()})
	}
	response, ok := res.(domain.RefreshResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorView{Error: "unexpected response"})
	}
	if response.HasResponseError() {
		return c.JSON(http.StatusBadGateway, errorView{Error: response.GetResponseError().Error()})
	}
	return c.JSON(http.StatusOK, response.Snapshot)
}

func (s *Server) EntitiesHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.entryActor, domain.GetEntitiesRequest{}, s.requestTimeout).Result()
	if err != nil {
		return c.JSON(http.StatusGatewayTimeout, errorView{Error: err.Error()})
	}
	response, ok := res.(domain.GetEntitiesResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorView{Error: "unexpected response"})
	}
	if response.HasResponseError() {
		return c.JSON(http.StatusServiceUnavailable, errorView{Error: response.GetResponseError().Error()})
	}
	entities := response.Entities
	if entities == nil {
		entities = []domain.SensorEntity{}
	}
	return c.JSON(http.StatusOK, entities)
}

func (s *Server) ItemHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.entryActor, domain.FetchItemRequest{Name: c.Param("name")}, s.requestTimeout).Result()
	if err != nil {
		return c.JSON(http.StatusGatewayTimeout, errorView{Error: err.Error()})
	}
	response, ok := res.(domain.FetchItemResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorView{Error: "unexpected response"})
	}
	if response.HasResponseError() {
		var fetchErr *solarwatt.FetchError
		if errors.As(response.GetResponseError(), &fetchErr) && fetchErr.StatusCode == http.StatusNotFound {
			return c.JSON(http.StatusNotFound, errorView{Error: fetchErr.Error()})
		}
		return c.JSON(http.StatusBadGateway, errorView{Error: response.GetResponseError().Error()})
	}
	return c.JSON(http.StatusOK, response.Item)
}
