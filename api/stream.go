package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"admin-approvals/domain"
)

const sseDataPrefix = "data: "

// streamNotifications relays the caller's notification channel as
// server-sent events until the client disconnects.
func streamNotifications(rc *redis.Client, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := identityFrom(c)
		ctx := c.Request().Context()

		sub := rc.Subscribe(ctx, domain.NotificationChannel(id.ActorID))
		defer sub.Close()
		if _, err := sub.Receive(ctx); err != nil {
			setErrorStage(c, "subscribe")
			return writeError(c, logger, err)
		}

		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return writeError(c, logger, echo.NewHTTPError(http.StatusInternalServerError, "stream unsupported"))
		}
		h := c.Response().Header()
		h.Set(echo.HeaderContentType, "text/event-stream")
		h.Set(echo.HeaderCacheControl, "no-cache")
		h.Set(echo.HeaderConnection, "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)
		flusher.Flush()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-ch:
				if !ok {
					return nil
				}
				if _, err := c.Response().Write([]byte(sseDataPrefix + msg.Payload + "\n\n")); err != nil {
					logger.WithError(err).WithField("actor", id.ActorID).Debug("notification stream closed")
					return nil
				}
				flusher.Flush()
			}
		}
	}
}
