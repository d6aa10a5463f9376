package httpserver

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/marketpulse/internal/adapter/redis"
	"github.com/pscheid92/marketpulse/internal/broadcast"
	apperrors "github.com/pscheid92/marketpulse/internal/platform/errors"
)

const adminIdentity = "admin"

type statsResponse struct {
	InstanceID     string               `json:"instance_id,omitempty"`
	Local          broadcast.Stats      `json:"local"`
	Instances      []redis.InstanceInfo `json:"instances,omitempty"`
	ClusterTotal   int                  `json:"cluster_connections,omitempty"`
	InstancesError string               `json:"instances_error,omitempty"`
}

type connectionsResponse struct {
	Count       int                        `json:"count"`
	Connections []broadcast.ConnectionInfo `json:"connections"`
}

type marketUpdateRequest struct {
	UpdateType string          `json:"update_type"`
	Data       json.RawMessage `json:"data"`
}

type marketUpdateResponse struct {
	Status    string `json:"status"`
	Delivered int    `json:"delivered"`
}

// registerAdminRoutes mounts the operator endpoints. Without an admin token
// they are not served at all.
func (s *Server) registerAdminRoutes() {
	if s.config.AdminToken == "" {
		slog.Info("ADMIN_TOKEN not set, admin endpoints disabled")
		return
	}

	admin := s.echo.Group("/admin",
		newRateLimiter(adminRateLimit, adminBurst),
		middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			KeyLookup: "header:" + echo.HeaderAuthorization + ":Bearer ",
			Validator: s.validateAdminToken,
			ErrorHandler: func(_ error, _ echo.Context) error {
				return apperrors.UnauthorizedError("admin token required")
			},
		}),
	)

	admin.GET("/stream/stats", s.handleStreamStats)
	admin.GET("/stream/connections", s.handleStreamConnections)
	admin.POST("/stream/market-update", s.handleMarketUpdate, middleware.BodyLimit(adminBodyLimit))
}

func (s *Server) validateAdminToken(key string, c echo.Context) (bool, error) {
	if subtle.ConstantTimeCompare([]byte(key), []byte(s.config.AdminToken)) != 1 {
		return false, nil
	}
	c.Set(identityKey, adminIdentity)
	return true, nil
}

func (s *Server) handleStreamStats(c echo.Context) error {
	resp := statsResponse{
		InstanceID: s.config.InstanceID,
		Local:      s.registry.Stats(),
	}

	if s.instances != nil {
		instances, err := s.instances.Active(c.Request().Context())
		if err != nil {
			slog.WarnContext(c.Request().Context(), "Failed to list instances", "error", err)
			resp.InstancesError = "instance registry unavailable"
		} else {
			resp.Instances = instances
			for _, inst := range instances {
				resp.ClusterTotal += inst.Connections
			}
		}
	}

	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write stats response: %w", err)
	}
	return nil
}

func (s *Server) handleStreamConnections(c echo.Context) error {
	conns := s.registry.Connections()
	if err := c.JSON(http.StatusOK, connectionsResponse{Count: len(conns), Connections: conns}); err != nil {
		return fmt.Errorf("failed to write connections response: %w", err)
	}
	return nil
}

func (s *Server) handleMarketUpdate(c echo.Context) error {
	var req marketUpdateRequest
	if err := c.Bind(&req); err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return WrapHTTPError(httpErr)
		}
		return apperrors.ValidationError("invalid request body")
	}

	if req.UpdateType == "" {
		return apperrors.ValidationError("update_type is required")
	}
	data := bytes.TrimSpace(req.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return apperrors.ValidationError("data is required").WithContext("update_type", req.UpdateType)
	}

	delivered, err := s.market.MarketUpdate(c.Request().Context(), req.UpdateType, data)
	if err != nil {
		return apperrors.InternalError("failed to publish market update", err)
	}

	slog.InfoContext(c.Request().Context(), "Market update published",
		"update_type", req.UpdateType, "delivered", delivered)

	if err := c.JSON(http.StatusAccepted, marketUpdateResponse{Status: "accepted", Delivered: delivered}); err != nil {
		return fmt.Errorf("failed to write market update response: %w", err)
	}
	return nil
}
