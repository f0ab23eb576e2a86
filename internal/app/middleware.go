package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	bridge_middleware "github.com/tonkeeper/wsbridge/internal/middleware"
	"golang.org/x/exp/slices"
	"golang.org/x/time/rate"
)

// SkipRateLimitsByToken reports whether the bearer token of the request is one of tokens.
func SkipRateLimitsByToken(request *http.Request, tokens []string) bool {
	if request == nil {
		return false
	}
	authorization := request.Header.Get("Authorization")
	if authorization == "" {
		return false
	}
	token := strings.TrimPrefix(authorization, "Bearer ")
	if slices.Contains(tokens, token) {
		TokenUsageMetric.WithLabelValues(token).Inc()
		return true
	}
	return false
}

// OnlyUpgrades returns a skipper that lets through everything except websocket upgrades on
// path. Requests carrying a bypass token are let through as well.
func OnlyUpgrades(path string, bypassTokens []string) func(c echo.Context) bool {
	return func(c echo.Context) bool {
		return c.Path() != path || !isUpgrade(c.Request()) || SkipRateLimitsByToken(c.Request(), bypassTokens)
	}
}

// StaticUnlessUpgrade serves files from root for plain requests so pages and the socket can
// share a path. Missing files and upgrades fall through to the router.
func StaticUnlessUpgrade(root string) echo.MiddlewareFunc {
	return middleware.StaticWithConfig(middleware.StaticConfig{
		Root: root,
		Skipper: func(c echo.Context) bool {
			return isUpgrade(c.Request())
		},
	})
}

func isUpgrade(req *http.Request) bool {
	return strings.EqualFold(req.Header.Get(echo.HeaderUpgrade), "websocket")
}

// UpgradeRateLimiter limits websocket upgrades per client. rps <= 0 disables the limit.
func UpgradeRateLimiter(rps int, skipper middleware.Skipper) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return rps <= 0 || skipper(c)
		},
		Store: middleware.NewRateLimiterMemoryStore(rate.Limit(rps)),
	})
}

// ConnectionsLimitMiddleware caps simultaneous sockets per client ip. The slot is stored in
// the request context; a handler that keeps a socket open past the request detaches it and
// releases it when the socket closes.
func ConnectionsLimitMiddleware(counter *bridge_middleware.ConnectionsLimiter, skipper func(c echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper(c) {
				return next(c)
			}
			release, err := counter.LeaseConnection(c.Request())
			if err != nil {
				return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
			}
			lease := bridge_middleware.NewLease(release)
			defer lease.ReleaseUnlessDetached()

			req := c.Request()
			c.SetRequest(req.WithContext(bridge_middleware.ContextWithLease(req.Context(), lease)))
			return next(c)
		}
	}
}

// LogrusLoggerMiddleware logs each request through logrus once its handler returns.
// Upgraded requests are logged right after the handshake.
func LogrusLoggerMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			upgrade := isUpgrade(req)

			err := next(c)

			elapsed := time.Since(start)
			res := c.Response()
			fields := logrus.Fields{
				"remote_ip":  c.RealIP(),
				"host":       req.Host,
				"method":     req.Method,
				"uri":        req.RequestURI,
				"status":     res.Status,
				"latency":    elapsed.String(),
				"latency_ms": elapsed.Milliseconds(),
				"bytes_out":  res.Size,
				"websocket":  upgrade,
			}
			if ua := req.UserAgent(); ua != "" {
				fields["user_agent"] = ua
			}
			if origin := req.Header.Get(echo.HeaderOrigin); origin != "" {
				fields["origin"] = origin
			}
			if id := req.Header.Get(echo.HeaderXRequestID); id != "" {
				fields["request_id"] = id
			}
			logrus.WithFields(fields).Info()
			return err
		}
	}
}
