package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

const userContextKey = "user"

// RequireUser resolves the bearer token to a stored user and rejects the
// request with 401 otherwise.
func RequireUser(store Storage, auth Authenticator, logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				logger.WithError(err).Debug("rejecting token")
				return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized").SetInternal(err)
			}
			user, err := store.UserByID(c.Request().Context(), userID)
			if err != nil {
				return err
			}
			if user == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
			}
			c.Set(userContextKey, user)
			return next(c)
		}
	}
}

func currentUserFrom(c echo.Context) *domain.User {
	u, _ := c.Get(userContextKey).(*domain.User)
	return u
}

// RequestLogger logs one line per request.
func RequestLogger(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			fields := log.Fields{
				"method":   req.Method,
				"uri":      req.RequestURI,
				"status":   c.Response().Status,
				"total_ms": durationToMillis(time.Since(start)),
			}
			if u := currentUserFrom(c); u != nil {
				fields["user"] = u.ID
			}
			entry := logger.WithFields(fields)
			if c.Response().Status >= http.StatusInternalServerError {
				entry.Error("request")
			} else {
				entry.Debug("request")
			}
			return nil
		}
	}
}

// ErrorHandler renders errors as JSON and logs unexpected ones.
func ErrorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := http.StatusInternalServerError
		var body any = map[string]string{"message": http.StatusText(status)}

		var he *echo.HTTPError
		switch {
		case errors.As(err, &he):
			status = he.Code
			body = map[string]any{"message": he.Message}
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrBoardNotFound):
			status = http.StatusNotFound
			body = map[string]string{"message": err.Error()}
		default:
			logger.WithError(err).WithField("uri", c.Request().RequestURI).Error("unhandled request error")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.WithError(err).Error("write error response")
		}
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
