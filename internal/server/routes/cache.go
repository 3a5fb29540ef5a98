package routes

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/jinx-bot/jinx-cache/internal/logging"
)

// CacheAdmin 是管理接口需要的缓存能力，由 *apicache.ApiCache 实现。
type CacheAdmin interface {
	Len() int
	ProductCount() int
	ProductVersionCount() int
	AutocompleteLimit() int
	Clear()
	Bump()
	Register(storeID string)
	Unregister(storeID string)
	ProductNamesWithPrefix(ctx context.Context, storeID, prefix string) ([]string, error)
	ProductVersionNamesWithPrefix(ctx context.Context, storeID, prefix string) ([]string, error)
}

// SettingsStore 是管理接口需要的持久化能力，由 *storage.RedisStore 实现。
type SettingsStore interface {
	GetLowPriorityExpiry(ctx context.Context) (time.Duration, bool, error)
	SetLowPriorityExpiry(ctx context.Context, d time.Duration) error
	SetCredential(ctx context.Context, storeID, apiKey string) error
	DeleteCredential(ctx context.Context, storeID, apiKey string) error
	GetArbitraryCredential(ctx context.Context, storeID string) (string, bool, error)
	DeleteSnapshotRows(ctx context.Context, storeID string) error
}

type statsPayload struct {
	Stores              int   `json:"stores"`
	Products            int   `json:"products"`
	ProductVersions     int   `json:"product_versions"`
	AutocompleteLimit   int   `json:"autocomplete_limit"`
	LowPriorityExpiryMS int64 `json:"low_priority_expiry_ms"`
	LowPriorityExpiry   bool  `json:"low_priority_expiry_set"`
}

type expiryRequest struct {
	Expiry string `json:"expiry"`
}

type linkRequest struct {
	APIKey string `json:"api_key"`
}

// RegisterCacheRoutes 暴露 /-/ 下的缓存诊断与运维接口。
func RegisterCacheRoutes(app *fiber.App, cache CacheAdmin, store SettingsStore, logger logrus.FieldLogger) {
	if app == nil || cache == nil || store == nil {
		return
	}

	app.Get("/-/stats", func(c fiber.Ctx) error {
		expiry, ok, err := store.GetLowPriorityExpiry(c.Context())
		if err != nil {
			return err
		}
		return c.JSON(statsPayload{
			Stores:              cache.Len(),
			Products:            cache.ProductCount(),
			ProductVersions:     cache.ProductVersionCount(),
			AutocompleteLimit:   cache.AutocompleteLimit(),
			LowPriorityExpiryMS: expiry.Milliseconds(),
			LowPriorityExpiry:   ok,
		})
	})

	app.Post("/-/cache/clear", func(c fiber.Ctx) error {
		cache.Clear()
		logger.WithField("action", "admin_clear").Info("cache_cleared")
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Post("/-/cache/bump", func(c fiber.Ctx) error {
		cache.Bump()
		return c.SendStatus(fiber.StatusAccepted)
	})

	app.Put("/-/settings/low-priority-expiry", func(c fiber.Ctx) error {
		var req expiryRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
		}
		expiry, err := time.ParseDuration(strings.TrimSpace(req.Expiry))
		if err != nil || expiry <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_expiry"})
		}
		if err := store.SetLowPriorityExpiry(c.Context(), expiry); err != nil {
			return err
		}
		cache.Bump()
		logger.WithFields(logrus.Fields{
			"action":    "admin_set_expiry",
			"expiry_ms": expiry.Milliseconds(),
		}).Info("low_priority_expiry_updated")
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Put("/-/stores/:id/link", func(c fiber.Ctx) error {
		storeID, req, err := parseLink(c)
		if err != nil {
			return err
		}
		if err := store.SetCredential(c.Context(), storeID, req.APIKey); err != nil {
			return err
		}
		cache.Register(storeID)
		logger.WithFields(logging.StoreFields("admin_link", storeID)).Info("store_linked")
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Delete("/-/stores/:id/link", func(c fiber.Ctx) error {
		storeID, req, err := parseLink(c)
		if err != nil {
			return err
		}
		ctx := c.Context()
		if err := store.DeleteCredential(ctx, storeID, req.APIKey); err != nil {
			return err
		}
		if _, remaining, err := store.GetArbitraryCredential(ctx, storeID); err != nil {
			return err
		} else if remaining {
			return c.SendStatus(fiber.StatusNoContent)
		}

		// 最后一个凭证被移除后 store 不再可刷新，停止预热并清理持久化快照。
		cache.Unregister(storeID)
		if err := store.DeleteSnapshotRows(ctx, storeID); err != nil {
			return err
		}
		logger.WithFields(logging.StoreFields("admin_unlink", storeID)).Info("store_unlinked")
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Get("/-/stores/:id/products", func(c fiber.Ctx) error {
		names, err := cache.ProductNamesWithPrefix(c.Context(), storeParam(c), c.Query("prefix"))
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"names": nonNil(names)})
	})

	app.Get("/-/stores/:id/versions", func(c fiber.Ctx) error {
		names, err := cache.ProductVersionNamesWithPrefix(c.Context(), storeParam(c), c.Query("prefix"))
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"names": nonNil(names)})
	})
}

func parseLink(c fiber.Ctx) (string, linkRequest, error) {
	var req linkRequest
	storeID := strings.TrimSpace(storeParam(c))
	if storeID == "" {
		return "", req, fiber.NewError(fiber.StatusBadRequest)
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil || strings.TrimSpace(req.APIKey) == "" {
		return "", req, fiber.NewError(fiber.StatusBadRequest)
	}
	return storeID, req, nil
}

// storeParam 复制路由中的 store id，保证其在请求结束后仍然有效。
func storeParam(c fiber.Ctx) string {
	return strings.Clone(c.Params("id"))
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
