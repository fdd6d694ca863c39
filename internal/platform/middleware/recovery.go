package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Recovery turns a handler panic into a 500. Escaping invariant violations
// in the message builder surface here.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				var stack [4096]byte
				n := runtime.Stack(stack[:], false)

				evt := logger.Error().
					Str("request_id", fmt.Sprint(c.Get("request_id"))).
					Str("stack", string(stack[:n]))
				if e, ok := r.(error); ok {
					evt = evt.Err(e)
				} else {
					evt = evt.Str("panic", fmt.Sprint(r))
				}
				evt.Msg("panic recovered")

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}
