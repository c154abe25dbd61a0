// Package api exposes the board over HTTP: task placement and lookup, the
// board view, and realtime transports for space subscribers.
package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"agileflow/internal/domain"
	"agileflow/internal/realtime"
)

const (
	maxBodySize          = 64 << 10
	headerIdempotencyKey = "Idempotency-Key"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, svc TaskService, auth Authenticator, deduper Deduper, hub *realtime.Hub, logger *log.Logger) {
	e.JSONSerializer = JSONSerializer{}

	e.GET("/healthz", healthz())
	e.PATCH("/api/tasks/move", moveTask(svc, auth, deduper, logger))
	e.POST("/api/tasks", createTask(svc, auth))
	e.GET("/api/tasks/:id", getTask(svc, auth))
	e.DELETE("/api/tasks/:id", deleteTask(svc, auth))
	e.GET("/api/tasks/:id/activities", listActivities(svc, auth))
	e.GET("/api/spaces/:spaceId/board", getBoard(svc, auth))
	e.POST("/api/spaces/:spaceId/statuses", createStatus(svc, auth))
	e.GET("/api/spaces/:spaceId/stream", streamSpace(hub, auth))
	e.GET("/realtime", realtimeSocket(hub, auth, logger))
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
	}
}

// decodeBody reads a size limited JSON body, rejecting unknown fields.
func decodeBody(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// actor resolves the calling user, answering 401 when that fails.
func actor(c echo.Context, auth Authenticator) (string, bool) {
	userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		_ = c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return "", false
	}
	return userID, true
}

func moveTask(svc TaskService, auth Authenticator, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		metrics, ctx := newMoveRequestMetrics(c.Request().Context(), logger)
		c.SetRequest(c.Request().WithContext(ctx))
		var failure error
		defer func() {
			metrics.Log(c.Response().Status, failure)
		}()

		authStart := time.Now()
		userID, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			failure = authErr
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: authErr.Error()})
		}

		var req domain.MoveRequest
		if decErr := decodeBody(c, &req); decErr != nil {
			metrics.SetErrorStage("decode")
			failure = decErr
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}

		key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
		if key != "" && deduper != nil {
			metrics.SetIdempotent(true)
			added, dedupErr := deduper.Add(ctx, userID, key)
			if dedupErr != nil {
				metrics.SetErrorStage("dedupe")
				failure = dedupErr
				c.Logger().Error(dedupErr)
				return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "idempotency store unavailable", Retryable: true})
			}
			if !added {
				metrics.SetErrorStage("duplicate")
				return c.JSON(http.StatusConflict, errorResponse{Error: "duplicate request"})
			}
		}

		moveStart := time.Now()
		res, moveErr := svc.Move(ctx, userID, req)
		metrics.ObserveMove(time.Since(moveStart), res.Attempts)
		if moveErr != nil {
			metrics.SetErrorStage("move")
			failure = moveErr
			if key != "" && deduper != nil {
				if rmErr := deduper.Remove(ctx, userID, key); rmErr != nil {
					c.Logger().Errorf("release idempotency key: %v", rmErr)
				}
			}
			return writeError(c, moveErr)
		}
		return c.JSON(http.StatusOK, res.Task)
	}
}

func createTask(svc TaskService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := actor(c, auth)
		if !ok {
			return nil
		}
		var req domain.CreateTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		task, err := svc.Create(c.Request().Context(), userID, req)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, task)
	}
}

func getTask(svc TaskService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, ok := actor(c, auth); !ok {
			return nil
		}
		task, err := svc.Get(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func deleteTask(svc TaskService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, ok := actor(c, auth); !ok {
			return nil
		}
		if err := svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func listActivities(svc TaskService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, ok := actor(c, auth); !ok {
			return nil
		}
		limit := 0
		if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			}
			limit = n
		}
		acts, err := svc.Activities(c.Request().Context(), c.Param("id"), limit)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, acts)
	}
}

func getBoard(svc TaskService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, ok := actor(c, auth); !ok {
			return nil
		}
		cols, err := svc.Board(c.Request().Context(), c.Param("spaceId"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, cols)
	}
}

func createStatus(svc TaskService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, ok := actor(c, auth); !ok {
			return nil
		}
		var req domain.CreateStatusRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		st, err := svc.CreateStatus(c.Request().Context(), c.Param("spaceId"), req)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, st)
	}
}
