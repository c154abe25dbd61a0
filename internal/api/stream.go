package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"agileflow/internal/realtime"
)

// Client messages accepted on the websocket.
const (
	actionJoinSpace  = "join:space"
	actionLeaveSpace = "leave:space"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SocketMessage is sent by websocket clients to manage their subscriptions.
type SocketMessage struct {
	Action  string `json:"action"`
	SpaceID string `json:"spaceId"`
}

// realtimeSocket upgrades to a websocket on which the client joins and leaves
// space topics. Events of joined spaces are written as text frames carrying
// the event envelope.
func realtimeSocket(hub *realtime.Hub, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := authHeaderOrToken(c.Request().Header.Get(echo.HeaderAuthorization), c.QueryParam("token"))
		userID, err := auth.UserIDFromAuthHeader(header)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			logger.WithError(err).Warn("websocket upgrade failed")
			return nil
		}
		defer conn.Close()

		sub := hub.Subscribe()
		defer hub.Remove(sub)
		go writeFrames(conn, sub, logger)

		for {
			var msg SocketMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.WithError(err).WithField("user", userID).Debug("websocket read failed")
				}
				return nil
			}
			if msg.SpaceID == "" {
				continue
			}
			switch msg.Action {
			case actionJoinSpace:
				hub.Join(sub, msg.SpaceID)
			case actionLeaveSpace:
				hub.Leave(sub, msg.SpaceID)
			default:
				logger.WithFields(log.Fields{"user": userID, "action": msg.Action}).Debug("unknown websocket action")
			}
		}
	}
}

// writeFrames is the only writer on conn. It returns once the subscriber is
// removed from the hub, closing the connection so the reader stops too.
func writeFrames(conn *websocket.Conn, sub *realtime.Subscriber, logger *log.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer conn.Close()
	for {
		select {
		case payload, ok := <-sub.C():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.WithError(err).Debug("websocket write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

// streamSpace serves a space's events as server-sent events.
func streamSpace(hub *realtime.Hub, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := authHeaderOrToken(c.Request().Header.Get(echo.HeaderAuthorization), c.QueryParam("token"))
		if _, err := auth.UserIDFromAuthHeader(header); err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}
		spaceID := c.Param("spaceId")
		if spaceID == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "spaceId is required"})
		}

		res := c.Response()
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set(echo.HeaderCacheControl, "no-cache")
		res.Header().Set(echo.HeaderConnection, "keep-alive")
		res.Header().Set("X-Accel-Buffering", "no")
		flusher, ok := res.Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		sub := hub.Subscribe()
		defer hub.Remove(sub)
		hub.Join(sub, spaceID)

		res.WriteHeader(http.StatusOK)
		if _, err := res.Write([]byte(": connected\n\n")); err != nil {
			return err
		}
		flusher.Flush()

		ctx := c.Request().Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case payload, ok := <-sub.C():
				if !ok {
					return nil
				}
				if _, err := res.Write([]byte("data: ")); err != nil {
					return err
				}
				if _, err := res.Write(payload); err != nil {
					return err
				}
				if _, err := res.Write([]byte("\n\n")); err != nil {
					return err
				}
				flusher.Flush()
			}
		}
	}
}
