package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/transit-pay/transit_pay/internal/accounting"
	"github.com/transit-pay/transit_pay/internal/admin"
	"github.com/transit-pay/transit_pay/internal/assist"
	"github.com/transit-pay/transit_pay/internal/audit"
	"github.com/transit-pay/transit_pay/internal/config"
	"github.com/transit-pay/transit_pay/internal/ledger"
	"github.com/transit-pay/transit_pay/internal/middleware"
	"github.com/transit-pay/transit_pay/internal/validatorapi"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	Store  ledger.Store
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil && d.Store == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLog(d.Logger))

	store := d.Store
	if store == nil {
		if d.DB != nil {
			store = ledger.NewPostgresStore(d.DB)
		} else {
			store = ledger.NewMemory()
		}
	}

	RegisterHealthRoutes(app, d)

	recorder := audit.NewRecorder(store)
	acct := accounting.NewService(store, recorder)
	adminSvc := admin.NewService(store, recorder, admin.Credentials{
		Username:     d.Cfg.AdminUsername,
		PasswordHash: d.Cfg.AdminPasswordHash,
	}, []byte(d.Cfg.AdminTokenSecret))
	adminHandler := admin.NewHandler(adminSvc, acct, store)
	deviceHandler := validatorapi.NewHandler(store, d.Logger).
		WithAntiPassback(d.Cfg.AntiPassback)
	assistant := assist.NewLoggerAssistant(d.Logger)

	api := app.Group("/api")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Passenger-facing place suggestions; advisory, empty on failure.
	api.Get("/assist/suggest", func(c *fiber.Ctx) error {
		suggestions, err := assistant.Suggest(c.UserContext(), c.Query("query"))
		if err != nil || suggestions == nil {
			suggestions = []string{}
		}
		return c.JSON(fiber.Map{"suggestions": suggestions})
	})

	deviceLimiter := middleware.DeviceRateLimit(d.Cache, d.Cfg.DeviceRatePerMin)
	RegisterValidatorRoutes(api, deviceHandler, deviceLimiter)

	var idem fiber.Handler
	if d.Cache != nil {
		idem = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	}
	guard := middleware.AdminAuth(adminSvc, admin.ActorLocal)
	adminLimiter := middleware.AdminRateLimit(d.Cache, d.Cfg.AdminRatePerMin)
	RegisterAdminRoutes(api, adminHandler, assistant, store, adminLimiter, guard, idem)

	return nil
}
