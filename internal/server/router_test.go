package server

import (
	"bytes"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/jinx-bot/jinx-cache/internal/apicache"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	app, err := NewApp(AppOptions{Logger: logger})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	app.Get("/-/ok", func(c fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	app.Get("/-/unlinked", func(c fiber.Ctx) error {
		return fmt.Errorf("lookup: %w", apicache.ErrMissingAPIKey)
	})
	app.Get("/-/panic", func(c fiber.Ctx) error {
		panic("boom")
	})
	return app
}

func TestNewAppRequiresLogger(t *testing.T) {
	if _, err := NewApp(AppOptions{}); err == nil {
		t.Fatalf("expected error without logger")
	}
}

func TestRouterSetsRequestID(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/-/ok", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204 status, got %d", resp.StatusCode)
	}
	if reqID := resp.Header.Get("X-Request-ID"); reqID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func TestRouterMapsCacheErrors(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/-/unlinked", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 status, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"store_not_linked"`)) {
		t.Fatalf("expected store_not_linked error, got %s", string(body))
	}
}

func TestRouterRecoversPanics(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/-/panic", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode < fiber.StatusInternalServerError {
		t.Fatalf("expected 5xx status after panic, got %d", resp.StatusCode)
	}
}

func TestRouterUnknownRoute(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/-/missing", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 status, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"not_found"`)) {
		t.Fatalf("expected not_found error code, got %s", string(body))
	}
}

func TestClassifyErrorDefaultsToBadGateway(t *testing.T) {
	status, code := classifyError(fmt.Errorf("dial tcp: timeout"))
	if status != fiber.StatusBadGateway || code != "upstream_unavailable" {
		t.Fatalf("unexpected classification %d %s", status, code)
	}
	status, _ = classifyError(fmt.Errorf("closing: %w", apicache.ErrClosed))
	if status != fiber.StatusServiceUnavailable {
		t.Fatalf("closed cache should map to 503, got %d", status)
	}
}
