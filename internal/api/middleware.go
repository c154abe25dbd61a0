package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// maxInflatedBody caps a decompressed request body. Board requests are small
// JSON documents.
const maxInflatedBody = 1 << 20

// GzipRequestMiddleware lets clients send gzip-encoded JSON. The inflated body
// is capped at maxInflatedBody; a body that is not valid gzip is a 400.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !contentCodings(req.Header.Get(echo.HeaderContentEncoding))["gzip"] {
				return next(c)
			}
			zr, err := gzip.NewReader(req.Body)
			if err != nil {
				_ = req.Body.Close()
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
			}
			req.Body = http.MaxBytesReader(c.Response(), inflated{Reader: zr, raw: req.Body}, maxInflatedBody)
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

func contentCodings(header string) map[string]bool {
	out := map[string]bool{}
	for _, enc := range strings.Split(header, ",") {
		out[strings.ToLower(strings.TrimSpace(enc))] = true
	}
	return out
}

// inflated closes both the gzip stream and the original request body.
type inflated struct {
	*gzip.Reader
	raw io.Closer
}

func (b inflated) Close() error {
	zerr := b.Reader.Close()
	if err := b.raw.Close(); err != nil {
		return err
	}
	return zerr
}
