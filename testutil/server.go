package testutil

import (
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

// RunTestServer starts an HTTP test server with the given routes registered
// and tears it down with the test.
func RunTestServer(t *testing.T, register func(e *echo.Echo)) *httptest.Server {
	e := echo.New()
	e.HideBanner = true
	register(e)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}
