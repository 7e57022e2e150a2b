package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/transit-pay/transit_pay/internal/validatorapi"
)

// RegisterValidatorRoutes wires the device-facing endpoints. The rate
// limiter applies to everything a field device can reach.
func RegisterValidatorRoutes(r fiber.Router, h *validatorapi.Handler, limiter fiber.Handler) {
	validators := r.Group("/validators", limiter)
	validators.Post("/:id/heartbeat", h.Heartbeat)
	validators.Get("/:id/config", h.Config)

	r.Post("/transactions/bulk", limiter, h.Bulk)

	// Passenger app telemetry; unauthenticated by design.
	r.Post("/events/app-open", h.AppOpen)
}
