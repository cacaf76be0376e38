package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// CORSConfig holds CORS configuration. An origin of "*" allows any origin.
type CORSConfig struct {
	AllowOrigins  []string
	AllowMethods  []string
	AllowHeaders  []string
	ExposeHeaders []string
	MaxAge        int
}

// CORS returns CORS middleware for the browser frontend. Requests from
// origins outside the list pass through without CORS headers.
func CORS(cfg CORSConfig) echo.MiddlewareFunc {
	anyOrigin := false
	allowed := make(map[string]struct{}, len(cfg.AllowOrigins))
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			anyOrigin = true
			continue
		}
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	methods := strings.Join(cfg.AllowMethods, ", ")
	headers := strings.Join(cfg.AllowHeaders, ", ")
	expose := strings.Join(cfg.ExposeHeaders, ", ")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := c.Response().Header()
			origin := req.Header.Get(echo.HeaderOrigin)
			res.Add(echo.HeaderVary, echo.HeaderOrigin)

			if origin == "" {
				return next(c)
			}
			if _, ok := allowed[origin]; !ok && !anyOrigin {
				return next(c)
			}

			if anyOrigin && len(allowed) == 0 {
				res.Set(echo.HeaderAccessControlAllowOrigin, "*")
			} else {
				res.Set(echo.HeaderAccessControlAllowOrigin, origin)
			}
			if expose != "" {
				res.Set(echo.HeaderAccessControlExposeHeaders, expose)
			}

			// Preflight
			if req.Method == http.MethodOptions && req.Header.Get(echo.HeaderAccessControlRequestMethod) != "" {
				if methods != "" {
					res.Set(echo.HeaderAccessControlAllowMethods, methods)
				}
				if headers != "" {
					res.Set(echo.HeaderAccessControlAllowHeaders, headers)
				}
				if cfg.MaxAge > 0 {
					res.Set(echo.HeaderAccessControlMaxAge, strconv.Itoa(cfg.MaxAge))
				}
				return c.NoContent(http.StatusNoContent)
			}

			return next(c)
		}
	}
}
