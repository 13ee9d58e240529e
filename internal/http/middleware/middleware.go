package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	redisStorage "github.com/gofiber/storage/redis/v2"
	"github.com/rs/xid"

	"resume-renderer/internal/config"
	"resume-renderer/internal/infra/logging"
)

// TokenStore is the subset of the token cache the middleware needs.
type TokenStore interface {
	Rater
	Enabled() bool
	Validate(token string) error
}

// NewLimiterStorage returns Redis-backed limiter storage, or in-memory
// storage when Redis is not configured or cannot be initialised.
func NewLimiterStorage(cfg config.Config) (storage fiber.Storage) {
	storage = memoryStorage.New()
	if cfg.Cache.RedisHost == "" {
		return storage
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Error("Redis limiter store init panicked, falling back to memory", "panic", r)
		}
	}()
	storage = redisStorage.New(redisStorage.Config{
		Addrs:    []string{cfg.Cache.RedisHost},
		Database: cfg.Cache.RateLimitDB,
	})
	logging.Info("Using Redis for rate limiting", "addr", cfg.Cache.RedisHost, "db", cfg.Cache.RateLimitDB)
	return storage
}

// Register attaches the global middleware chain to app.
func Register(app *fiber.App, cfg config.Config, store TokenStore, storage fiber.Storage) {
	app.Use(cors.New())

	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	app.Use(healthcheck.New(healthcheck.Config{
		LivenessEndpoint:  "/ops/health",
		ReadinessEndpoint: "/ops/ready",
	}))

	if store != nil && store.Enabled() {
		app.Use(keyauth.New(keyauth.Config{
			KeyLookup:  "header:X-API-Key",
			ContextKey: APIKeyLocal,
			Validator: func(c *fiber.Ctx, key string) (bool, error) {
				if err := store.Validate(key); err != nil {
					return false, err
				}
				return true, nil
			},
			Next: func(c *fiber.Ctx) bool {
				return c.Method() == fiber.MethodOptions || c.Get("X-API-Key") == ""
			},
			// Keys only select a rate tier. Unknown keys are treated as anonymous.
			ErrorHandler: func(c *fiber.Ctx, err error) error {
				if err == nil {
					err = fiber.ErrUnauthorized
				}
				logging.Debug("API key not recognised", "path", c.Path(), "error", err)
				return c.Next()
			},
		}))
		app.Use(TokenRateLimit(cfg, store, storage, NewLimiterCache()))
	}

	if cfg.RateLimiter.EnableUserLimiter || cfg.RateLimiter.UserLimit > 0 {
		app.Use(UserRateLimit(cfg, storage))
	}

	app.Use(RequestLog())
}

// RequestLog logs every incoming request with its request id.
func RequestLog() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.GetRespHeader(fiber.HeaderXRequestID)
		if id == "" {
			id = c.Get(fiber.HeaderXRequestID)
		}
		logging.Info("Incoming request", "method", c.Method(), "path", c.Path(), "request_id", id)
		return c.Next()
	}
}
